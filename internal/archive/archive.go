// Package archive copies resolved alerts to S3-compatible object storage.
//
// Objects are snappy-compressed JSON at <prefix>/<yyyy>/<mm>/<id>.json.sz,
// where the year and month come from the observation date. An alert is
// marked archived only after its object is written, so a failed sweep is
// retried on the next run.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/golang/snappy"
	"go.uber.org/zap"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/alert"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/audit"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/breaker"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/metrics"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/store"
)

const (
	// DefaultBatchSize caps the alerts archived by one sweep.
	DefaultBatchSize = 100
	DefaultPrefix    = "climate-alerts"
	DefaultSchedule  = "@hourly"

	contentType     = "application/json"
	contentEncoding = "snappy"
	breakerName     = "s3-archive"
)

// Config configures the archive.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // S3-compatible services (MinIO, etc.)
	// Prefer IAM roles or the AWS_* environment variables over static keys.
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	UsePathStyle    bool
	Schedule        string
	BatchSize       int
	Breaker         breaker.Config
}

// Uploader is the subset of the S3 client the archiver needs.
type Uploader interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client builds an S3 client from cfg using the default AWS credential
// chain unless static keys are set.
func NewS3Client(ctx context.Context, cfg Config) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}
	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// Archiver sweeps resolved alerts from a store into object storage.
type Archiver struct {
	cfg      Config
	store    store.AlertStore
	uploader Uploader
	breaker  *breaker.Breaker
	audit    audit.Logger
	logger   *zap.Logger
	now      func() time.Time
}

// New creates an archiver. A nil audit logger disables auditing.
func New(cfg Config, st store.AlertStore, up Uploader, auditLogger audit.Logger, logger *zap.Logger) (*Archiver, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("archive bucket is required")
	}
	if st == nil || up == nil {
		return nil, errors.New("archive requires a store and an uploader")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if auditLogger == nil {
		auditLogger = audit.NewNopLogger()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		cfg:      cfg,
		store:    st,
		uploader: up,
		breaker:  breaker.New(breakerName, cfg.Breaker, logger),
		audit:    auditLogger,
		logger:   logger.Named("archive"),
		now:      time.Now,
	}, nil
}

// Key returns the object key for a.
func (ar *Archiver) Key(a *alert.Alert) string {
	return ObjectKey(ar.cfg.Prefix, a)
}

// ObjectKey builds <prefix>/<yyyy>/<mm>/<id>.json.sz. Alerts with an
// unparseable date land under "unknown".
func ObjectKey(prefix string, a *alert.Alert) string {
	period := "unknown"
	if d, err := time.Parse("2006-01-02", a.Date); err == nil {
		period = d.Format("2006/01")
	}
	return path.Join(prefix, period, a.ID+".json.sz")
}

// Encode returns the snappy-compressed JSON form of a.
func Encode(a *alert.Alert) ([]byte, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode alert %s: %w", a.ID, err)
	}
	return snappy.Encode(nil, raw), nil
}

// Decode reverses Encode.
func Decode(data []byte) (*alert.Alert, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("decompress archived alert: %w", err)
	}
	var a alert.Alert
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode archived alert: %w", err)
	}
	return &a, nil
}

// Sweep archives up to BatchSize resolved, unarchived alerts. It stops at
// the first upload failure and returns how many were archived before it.
func (ar *Archiver) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	pending, err := ar.store.ListUnarchived(ctx, ar.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list unarchived alerts: %w", err)
	}

	archived := 0
	var sweepErr error
	for _, a := range pending {
		if err := ctx.Err(); err != nil {
			sweepErr = err
			break
		}
		if err := ar.archiveOne(ctx, a); err != nil {
			sweepErr = err
			break
		}
		archived++
	}

	event := audit.NewEvent(audit.EventArchiveCompleted).
		WithAction("sweep").
		WithDuration(time.Since(start)).
		WithMetadata("archived", archived).
		WithMetadata("pending", len(pending))
	if sweepErr != nil {
		event.WithError(sweepErr, "archive_failed")
	} else {
		event.WithResult(audit.ResultSuccess)
	}
	_ = ar.audit.Log(ctx, event)

	if archived > 0 || sweepErr != nil {
		ar.logger.Info("archive sweep finished",
			zap.Int("archived", archived),
			zap.Int("pending", len(pending)),
			zap.Error(sweepErr),
		)
	}
	return archived, sweepErr
}

func (ar *Archiver) archiveOne(ctx context.Context, a *alert.Alert) error {
	body, err := Encode(a)
	if err != nil {
		metrics.ArchivedTotal.WithLabelValues("encode_error").Inc()
		return err
	}
	key := ar.Key(a)
	err = ar.breaker.Execute(ctx, func(ctx context.Context) error {
		_, err := ar.uploader.PutObject(ctx, &s3.PutObjectInput{
			Bucket:          aws.String(ar.cfg.Bucket),
			Key:             aws.String(key),
			Body:            bytes.NewReader(body),
			ContentType:     aws.String(contentType),
			ContentEncoding: aws.String(contentEncoding),
			Metadata: map[string]string{
				"fingerprint": a.Fingerprint,
				"alert-type":  string(a.Type),
			},
		})
		return err
	})
	if err != nil {
		status := "error"
		if errors.Is(err, breaker.ErrOpen) {
			status = "breaker_open"
		}
		metrics.ArchivedTotal.WithLabelValues(status).Inc()
		return fmt.Errorf("upload %s: %w", key, err)
	}

	if err := ar.store.MarkArchived(ctx, a.ID, ar.now()); err != nil {
		metrics.ArchivedTotal.WithLabelValues("mark_error").Inc()
		return fmt.Errorf("mark %s archived: %w", a.ID, err)
	}
	metrics.ArchivedTotal.WithLabelValues("success").Inc()
	ar.logger.Debug("alert archived", zap.String("alert_id", a.ID), zap.String("key", key))
	return nil
}
