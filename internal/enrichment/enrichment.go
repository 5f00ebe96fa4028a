// Package enrichment asks an LLM for a narrative assessment of an alert.
//
// Enrichment is advisory. Any failure (no provider, transport error,
// timeout, unparseable reply) is reported as ErrEnrichmentUnavailable so the
// caller can continue without it. A reply with should_create_alert=false is
// an explicit veto; enrichment never originates an alert.
package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/alert"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/llm/adapter"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/llm/types"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/metrics"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/tracing"
)

// ErrEnrichmentUnavailable wraps every enrichment failure.
var ErrEnrichmentUnavailable = errors.New("enrichment unavailable")

// DefaultCacheSize bounds the result cache.
const DefaultCacheSize = 256

// Request describes the alert candidate to assess.
type Request struct {
	Fingerprint  string                 `json:"-"`
	Value        float64                `json:"value"`
	Metric       string                 `json:"metric"`
	Date         string                 `json:"date"`
	Location     string                 `json:"location"`
	AlertType    string                 `json:"alert_type"`
	Severity     string                 `json:"severity"`
	AnomalyScore float64                `json:"anomaly_score"`
	Context      map[string]interface{} `json:"context,omitempty"`
}

// cacheKey identifies the input the collaborator judges. Empty when the
// request has no fingerprint.
func (r Request) cacheKey() string {
	if r.Fingerprint == "" {
		return ""
	}
	return fmt.Sprintf("%s|%g|%s|%s|%g", r.Fingerprint, r.Value, r.Location, r.Severity, r.AnomalyScore)
}

// Result is the collaborator's assessment.
type Result struct {
	ShouldCreateAlert bool     `json:"should_create_alert"`
	AlertType         string   `json:"alert_type"`
	Severity          string   `json:"severity"`
	Confidence        float64  `json:"confidence"`
	Summary           string   `json:"summary"`
	DetailedAnalysis  string   `json:"detailed_analysis"`
	Recommendations   []string `json:"recommendations"`
}

// Analysis converts the result into the alert's AI analysis block.
func (r *Result) Analysis() *alert.AIAnalysis {
	return &alert.AIAnalysis{
		Confidence:       r.Confidence,
		Summary:          r.Summary,
		DetailedAnalysis: r.DetailedAnalysis,
	}
}

// Enricher assesses alert candidates.
type Enricher interface {
	Enrich(ctx context.Context, req Request) (*Result, error)
}

// LLMEnricher implements Enricher over an LLM adapter. Results are cached
// per assessed input, so a verdict is only replayed for the same reading.
type LLMEnricher struct {
	llm    adapter.LLMAdapter
	cache  *lru.Cache[string, *Result]
	logger *zap.Logger
}

// NewLLMEnricher creates an enricher. cacheSize <= 0 uses DefaultCacheSize.
func NewLLMEnricher(llm adapter.LLMAdapter, cacheSize int, logger *zap.Logger) (*LLMEnricher, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *Result](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create enrichment cache: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMEnricher{llm: llm, cache: cache, logger: logger}, nil
}

// Available reports whether an LLM provider is configured.
func (e *LLMEnricher) Available() bool {
	return e.llm != nil && e.llm.Configured()
}

// Enrich asks the LLM for an assessment. ctx bounds the call.
func (e *LLMEnricher) Enrich(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "enrichment.Enrich",
		attribute.String("alert.fingerprint", req.Fingerprint),
		attribute.String("alert.type", req.AlertType),
	)
	defer span.End()

	key := req.cacheKey()
	if key != "" {
		if cached, ok := e.cache.Get(key); ok {
			metrics.EnrichmentRequestsTotal.WithLabelValues("cached").Inc()
			span.SetAttributes(attribute.Bool("enrichment.cached", true))
			return cached, nil
		}
	}

	if !e.Available() {
		span.SetStatus(codes.Error, "provider not configured")
		return nil, fmt.Errorf("%w: %w", ErrEnrichmentUnavailable, adapter.ErrProviderNotConfigured)
	}

	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnrichmentUnavailable, err)
	}

	start := time.Now()
	text, err := e.llm.Complete(ctx, []types.Message{
		{Role: types.RoleSystem, Content: systemPrompt},
		{Role: types.RoleUser, Content: prompt},
	}, types.Options{JSON: true, Temperature: 0.2, MaxTokens: 1024})
	metrics.EnrichmentDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return nil, fmt.Errorf("%w: %w", ErrEnrichmentUnavailable, err)
	}

	result, err := ParseResult(text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unparseable reply")
		e.logger.Debug("unparseable enrichment reply", zap.String("fingerprint", req.Fingerprint), zap.String("reply", truncate(text, 512)))
		return nil, fmt.Errorf("%w: %w", ErrEnrichmentUnavailable, err)
	}

	span.SetAttributes(
		attribute.Bool("enrichment.should_create_alert", result.ShouldCreateAlert),
		attribute.Float64("enrichment.confidence", result.Confidence),
	)
	if key != "" {
		e.cache.Add(key, result)
	}
	metrics.EnrichmentRequestsTotal.WithLabelValues("success").Inc()
	return result, nil
}

const systemPrompt = "You are a climatologist for the Uruguayan national weather service. " +
	"You review anomalies flagged by a statistical detector and decide whether they warrant a public alert."

func buildPrompt(req Request) (string, error) {
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	return fmt.Sprintf(`Analyze this climate observation for %s and determine if an alert should be created:

Data: %s

Provide your analysis in JSON format with these fields:
{
  "should_create_alert": true/false,
  "alert_type": "heat_wave/cold_snap/extreme_precipitation/drought_indicator",
  "severity": "low/medium/high/critical",
  "summary": "Brief description",
  "detailed_analysis": "Full analysis",
  "recommendations": ["action1", "action2"],
  "confidence": 0.0-1.0
}

Only respond with valid JSON, no other text.`, req.Location, data), nil
}

// rawResult keeps should_create_alert optional so a missing field is not
// mistaken for a veto.
type rawResult struct {
	ShouldCreateAlert *bool    `json:"should_create_alert"`
	AlertType         string   `json:"alert_type"`
	Severity          string   `json:"severity"`
	Confidence        float64  `json:"confidence"`
	Summary           string   `json:"summary"`
	DetailedAnalysis  string   `json:"detailed_analysis"`
	Recommendations   []string `json:"recommendations"`
}

// ParseResult extracts the JSON object from an LLM reply, tolerating
// markdown code fences and surrounding prose. A reply without
// should_create_alert does not veto.
func ParseResult(text string) (*Result, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	var raw rawResult
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}

	r := &Result{
		ShouldCreateAlert: raw.ShouldCreateAlert == nil || *raw.ShouldCreateAlert,
		AlertType:         raw.AlertType,
		Severity:          raw.Severity,
		Confidence:        clamp01(raw.Confidence),
		Summary:           strings.TrimSpace(raw.Summary),
		DetailedAnalysis:  strings.TrimSpace(raw.DetailedAnalysis),
		Recommendations:   alert.CapRecommendations(raw.Recommendations),
	}
	return r, nil
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
