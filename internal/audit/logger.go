// Package audit writes an append-only trail of alert decisions and
// lifecycle changes, separate from the application log.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// Detection runs
	LogDetectionCompleted(ctx context.Context, metric string, detected int, duration time.Duration) error
	LogDetectionFailed(ctx context.Context, metric string, err error) error

	// Alert decisions made by the pipeline
	LogAlertCreated(ctx context.Context, alertID, fingerprint, alertType string) error
	LogDuplicateSkipped(ctx context.Context, existingID, fingerprint string) error
	LogAlertVetoed(ctx context.Context, fingerprint, reason string) error
	LogEnrichmentDegraded(ctx context.Context, fingerprint string, err error) error

	// LogTransition records a lifecycle operation. A non-nil err records
	// the rejection instead.
	LogTransition(ctx context.Context, op, alertID, user string, err error) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// FlushInterval bounds how long an event sits in the buffer
	FlushInterval time.Duration
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath:  "logs/audit.log",
		MaxSize:       100, // megabytes
		MaxBackups:    10,
		MaxAge:        30, // days
		Compress:      true,
		FlushInterval: time.Second,
	}
}

const bufferSize = 100

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	rotator     *lumberjack.Logger
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// NewLogger creates a new audit logger. appLogger receives internal errors
// and may be nil.
func NewLogger(config *Config, appLogger *zap.Logger) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AuditLogPath == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if appLogger == nil {
		appLogger = zap.NewNop()
	}
	interval := config.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	rotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	// Audit logs are always INFO level
	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)

	logger := &auditLogger{
		appLogger:   appLogger.Named("audit"),
		auditLogger: zap.New(auditCore),
		rotator:     rotator,
		buffer:      make([]*Event, 0, bufferSize),
		flushTicker: time.NewTicker(interval),
		stopCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)
	if len(l.buffer) >= bufferSize {
		return l.flushLocked()
	}
	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]
	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

func (l *auditLogger) LogDetectionCompleted(ctx context.Context, metric string, detected int, duration time.Duration) error {
	event := NewEvent(EventDetectionCompleted).
		WithMetric(metric).
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithMetadata("alerts_detected", detected).
		WithDescription(fmt.Sprintf("Detection on %s produced %d alert(s)", metric, detected))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogDetectionFailed(ctx context.Context, metric string, err error) error {
	event := NewEvent(EventDetectionFailed).
		WithMetric(metric).
		WithError(err, "detection_error").
		WithDescription(fmt.Sprintf("Detection on %s failed", metric))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogAlertCreated(ctx context.Context, alertID, fingerprint, alertType string) error {
	event := NewEvent(EventAlertCreated).
		WithAlert(alertID, fingerprint).
		WithAction("create").
		WithResult(ResultSuccess).
		WithMetadata("alert_type", alertType).
		WithDescription(fmt.Sprintf("Alert %s created", alertID))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogDuplicateSkipped(ctx context.Context, existingID, fingerprint string) error {
	event := NewEvent(EventAlertDuplicateSkipped).
		WithAlert(existingID, fingerprint).
		WithAction("create").
		WithResult(ResultSkipped).
		WithDescription(fmt.Sprintf("Live alert already exists for fingerprint %s", fingerprint))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogAlertVetoed(ctx context.Context, fingerprint, reason string) error {
	event := NewEvent(EventAlertVetoed).
		WithAlert("", fingerprint).
		WithAction("create").
		WithResult(ResultDenied).
		WithDescription(reason)

	return l.Log(ctx, event)
}

func (l *auditLogger) LogEnrichmentDegraded(ctx context.Context, fingerprint string, err error) error {
	event := NewEvent(EventEnrichmentDegraded).
		WithAlert("", fingerprint).
		WithError(err, "enrichment_unavailable").
		WithDescription("Continuing without AI analysis")

	return l.Log(ctx, event)
}

func (l *auditLogger) LogTransition(ctx context.Context, op, alertID, user string, err error) error {
	var event *Event
	switch {
	case err != nil:
		event = NewEvent(EventAlertTransitionRejected).WithError(err, "invalid_transition")
	case op == "resolve":
		event = NewEvent(EventAlertResolved).WithResult(ResultSuccess)
	default:
		event = NewEvent(EventAlertAcknowledged).WithResult(ResultSuccess)
	}
	event.WithAlert(alertID, "").WithAction(op).WithUser(user)

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}
	return l.auditLogger.Sync()
}

// Close flushes and closes the audit logger. It is safe to call twice.
func (l *auditLogger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.flushTicker.Stop()
		if err = l.Sync(); err != nil {
			return
		}
		err = l.rotator.Close()
	})
	return err
}

type correlationKey struct{}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// GenerateCorrelationID generates a new correlation ID
func GenerateCorrelationID() string {
	return uuid.New().String()
}
