// Package pipeline runs detection over an observation window: score every
// point, classify the anomalies, deduplicate by fingerprint, optionally
// enrich, persist, and return the creation specs.
//
// Deduplication happens twice. FindLive skips known fingerprints cheaply;
// the store's Create is the authority and a duplicate rejection there (a
// concurrent run won the race) is treated the same as a skip.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/alert"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/analytics/ensemble"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/audit"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/classifier"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/enrichment"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/events"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/metrics"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/observation"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/spec"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/store"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/tracing"
)

// DefaultEnrichmentTimeout bounds a single enrichment call.
const DefaultEnrichmentTimeout = 10 * time.Second

// DefaultLocation is stamped on alerts when none is configured.
const DefaultLocation = "Uruguay"

// Config tunes a pipeline.
type Config struct {
	Location          string
	EnrichmentTimeout time.Duration
}

// Request is one detection run.
type Request struct {
	Window        *observation.Window
	UseAIAnalysis bool
}

// Result reports a run. AlertsDetected counts alerts created by this run;
// Specs holds their creation specs in window order.
type Result struct {
	AlertsDetected int             `json:"alerts_detected"`
	Specs          []spec.Envelope `json:"alert_specifications"`
	Alerts         []*alert.Alert  `json:"-"`
	Skipped        int             `json:"duplicates_skipped"`
	Discarded      int             `json:"discarded"`
	Vetoed         int             `json:"vetoed"`
	Pending        []spec.Envelope `json:"pending_specifications,omitempty"`
	Votes          []ensemble.Vote `json:"-"`
}

// IntegrationError reports a failed store write. Spec is the fully built
// specification so the caller can resubmit it; the pipeline never retries.
type IntegrationError struct {
	Fingerprint string
	Spec        spec.Envelope
	Err         error
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("persist alert %s: %v", e.Fingerprint, e.Err)
}

func (e *IntegrationError) Unwrap() error { return e.Err }

// Pipeline wires the scorer, classifier and collaborators together. It
// holds no per-run state and is safe for concurrent use.
type Pipeline struct {
	cfg         Config
	scorer      *ensemble.Scorer
	classifier  *classifier.Classifier
	climatology *classifier.Climatology
	store       store.AlertStore
	enricher    enrichment.Enricher
	publisher   events.Publisher
	audit       audit.Logger
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithEnricher enables AI enrichment for requests that ask for it.
func WithEnricher(e enrichment.Enricher) Option { return func(p *Pipeline) { p.enricher = e } }

// WithPublisher publishes alert.created events.
func WithPublisher(pub events.Publisher) Option { return func(p *Pipeline) { p.publisher = pub } }

func WithAudit(l audit.Logger) Option { return func(p *Pipeline) { p.audit = l } }

func WithLogger(l *zap.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithClimatology sets the long-term norms used for classification.
func WithClimatology(c *classifier.Climatology) Option {
	return func(p *Pipeline) { p.climatology = c }
}

func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

func WithIDGenerator(f func() string) Option { return func(p *Pipeline) { p.newID = f } }

// New builds a pipeline.
func New(cfg Config, scorer *ensemble.Scorer, cls *classifier.Classifier, st store.AlertStore, opts ...Option) (*Pipeline, error) {
	if scorer == nil || cls == nil || st == nil {
		return nil, errors.New("pipeline requires a scorer, a classifier and a store")
	}
	if cfg.Location == "" {
		cfg.Location = DefaultLocation
	}
	if cfg.EnrichmentTimeout <= 0 {
		cfg.EnrichmentTimeout = DefaultEnrichmentTimeout
	}
	p := &Pipeline{
		cfg:        cfg,
		scorer:     scorer,
		classifier: cls,
		store:      st,
		publisher:  events.Nop{},
		audit:      audit.NewNopLogger(),
		logger:     zap.NewNop(),
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("pipeline")
	return p, nil
}

// Classifier exposes the classifier so thresholds can be reloaded.
func (p *Pipeline) Classifier() *classifier.Classifier { return p.classifier }

// Run executes one detection run. A window validation or scoring failure
// aborts the run with no alerts. Store failures do not abort: the
// remaining candidates are still processed, the unsaved specs are returned
// in Result.Pending, and the error joins one *IntegrationError per failure.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Window == nil {
		return nil, &observation.ValidationError{Field: "data", Index: -1, Message: "observation window is required"}
	}
	metric := string(req.Window.Metric())
	ctx, span := tracing.StartSpan(ctx, "pipeline.Run",
		attribute.String("metric", metric),
		attribute.Int("window.size", req.Window.Len()),
		attribute.Bool("use_ai_analysis", req.UseAIAnalysis),
	)
	defer span.End()
	start := time.Now()

	votes, err := p.scorer.ScoreWindow(req.Window)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scoring failed")
		metrics.DetectionRunsTotal.WithLabelValues(metric, "error").Inc()
		_ = p.audit.LogDetectionFailed(ctx, metric, err)
		return nil, fmt.Errorf("score window: %w", err)
	}

	res := &Result{Specs: []spec.Envelope{}, Votes: votes}
	var errs []error
	for i, v := range votes {
		if !v.IsAnomaly {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		metrics.AnomaliesTotal.WithLabelValues(metric, strconv.Itoa(v.VotesTrue)).Inc()
		if err := p.process(ctx, req, i, v, res); err != nil {
			errs = append(errs, err)
		}
	}

	status := "success"
	if len(errs) > 0 {
		status = "integration_error"
		span.SetStatus(codes.Error, "alerts pending")
	}
	elapsed := time.Since(start)
	metrics.DetectionRunsTotal.WithLabelValues(metric, status).Inc()
	metrics.DetectionDuration.WithLabelValues(metric).Observe(elapsed.Seconds())
	span.SetAttributes(attribute.Int("alerts.detected", res.AlertsDetected))
	_ = p.audit.LogDetectionCompleted(ctx, metric, res.AlertsDetected, elapsed)

	p.logger.Info("detection completed",
		zap.String("metric", metric),
		zap.Int("points", req.Window.Len()),
		zap.Int("alerts_detected", res.AlertsDetected),
		zap.Int("duplicates_skipped", res.Skipped),
		zap.Int("discarded", res.Discarded),
		zap.Int("vetoed", res.Vetoed),
		zap.Int("pending", len(res.Pending)),
		zap.Duration("duration", elapsed),
	)
	return res, errors.Join(errs...)
}

// process handles one anomalous point. It returns only integration errors.
func (p *Pipeline) process(ctx context.Context, req Request, i int, v ensemble.Vote, res *Result) error {
	obs := req.Window.At(i)
	norm := p.climatology.NormFor(req.Window, obs)
	cls, ok := p.classifier.Classify(obs, v.AnomalyScore, norm)
	if !ok {
		res.Discarded++
		metrics.DiscardsTotal.WithLabelValues(string(obs.Metric)).Inc()
		return nil
	}

	fp := alert.Fingerprint(obs.Date(), obs.Metric, cls.Type)
	existing, err := p.store.FindLive(ctx, fp)
	switch {
	case err == nil:
		p.skip(ctx, existing.ID, fp, cls.Type)
		res.Skipped++
		return nil
	case !errors.Is(err, store.ErrNotFound):
		// Create below is authoritative; a failed lookup only loses the shortcut.
		p.logger.Warn("live alert lookup failed", zap.String("fingerprint", fp), zap.Error(err))
	}

	now := p.now()
	a := alert.New(p.newID(), obs, cls.Type, cls.Severity, v.AnomalyScore, p.cfg.Location, now)

	var ai *alert.AIAnalysis
	if req.UseAIAnalysis {
		verdict, err := p.enrich(ctx, a, obs, norm)
		switch {
		case err != nil:
			p.logger.Warn("enrichment unavailable, continuing without it",
				zap.String("fingerprint", fp), zap.Error(err))
			_ = p.audit.LogEnrichmentDegraded(ctx, fp, err)
		case !verdict.ShouldCreateAlert:
			res.Vetoed++
			metrics.VetoesTotal.WithLabelValues(string(cls.Type)).Inc()
			_ = p.audit.LogAlertVetoed(ctx, fp, "enrichment advised against creating the alert")
			p.logger.Info("alert vetoed by enrichment", zap.String("fingerprint", fp), zap.String("date", a.Date))
			return nil
		default:
			ai = verdict.Analysis()
			a.AIAnalysis = ai
			a.Recommendations = verdict.Recommendations
			if len(a.Recommendations) == 0 {
				a.Recommendations = alert.DefaultRecommendations(a.Type, a.Severity)
			}
		}
	}

	env := spec.Create(a, ai)
	if err := p.store.Create(ctx, a); err != nil {
		if errors.Is(err, store.ErrDuplicateFingerprint) {
			p.skip(ctx, "", fp, cls.Type)
			res.Skipped++
			return nil
		}
		res.Pending = append(res.Pending, env)
		p.logger.Error("failed to persist alert", zap.String("fingerprint", fp), zap.Error(err))
		return &IntegrationError{Fingerprint: fp, Spec: env, Err: err}
	}

	res.AlertsDetected++
	res.Specs = append(res.Specs, env)
	res.Alerts = append(res.Alerts, a)
	metrics.AlertsCreatedTotal.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
	_ = p.audit.LogAlertCreated(ctx, a.ID, fp, string(a.Type))
	if err := p.publisher.Publish(ctx, events.New(events.TypeAlertCreated, a, now)); err != nil {
		p.logger.Warn("failed to publish alert event", zap.String("alert_id", a.ID), zap.Error(err))
	}
	return nil
}

func (p *Pipeline) skip(ctx context.Context, existingID, fp string, t alert.Type) {
	metrics.DuplicatesSkippedTotal.WithLabelValues(string(t)).Inc()
	_ = p.audit.LogDuplicateSkipped(ctx, existingID, fp)
	p.logger.Debug("live alert exists, skipping", zap.String("fingerprint", fp))
}

// enrich calls the enricher under the configured timeout. Every failure is
// an ErrEnrichmentUnavailable.
func (p *Pipeline) enrich(ctx context.Context, a *alert.Alert, obs observation.Observation, norm classifier.Norm) (*enrichment.Result, error) {
	if p.enricher == nil {
		metrics.EnrichmentRequestsTotal.WithLabelValues("unconfigured").Inc()
		return nil, fmt.Errorf("%w: no enricher configured", enrichment.ErrEnrichmentUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.EnrichmentTimeout)
	defer cancel()

	r, err := p.enricher.Enrich(ctx, enrichment.Request{
		Fingerprint:  a.Fingerprint,
		Value:        obs.Value,
		Metric:       string(obs.Metric),
		Date:         obs.Date(),
		Location:     a.Location,
		AlertType:    string(a.Type),
		Severity:     string(a.Severity),
		AnomalyScore: a.AnomalyScore,
		Context: map[string]interface{}{
			"climatological_mean": norm.Mean,
			"climatological_std":  norm.Std,
			"unit":                obs.Metric.Unit(),
		},
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		metrics.EnrichmentRequestsTotal.WithLabelValues(outcome).Inc()
		if !errors.Is(err, enrichment.ErrEnrichmentUnavailable) {
			err = fmt.Errorf("%w: %w", enrichment.ErrEnrichmentUnavailable, err)
		}
		return nil, err
	}
	return r, nil
}
