package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/alert"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/auth"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/classifier"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/lifecycle"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/observation"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/pipeline"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/spec"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/store"
)

// DetectRequest is the body of POST /api/alerts/detect.
type DetectRequest struct {
	Data   []observation.RawPoint `json:"data"`
	Metric string                 `json:"metric"`
	// UseAIAnalysis defaults to true when omitted.
	UseAIAnalysis *bool `json:"use_ai_analysis,omitempty"`
}

// ClassifyRequest is the body of POST /api/alerts/classify. Mean and Std
// override the configured norms; Date selects the month for monthly norms.
type ClassifyRequest struct {
	Value        *float64 `json:"value"`
	Metric       string   `json:"metric"`
	Date         string   `json:"date,omitempty"`
	AnomalyScore *float64 `json:"anomaly_score,omitempty"`
	Mean         *float64 `json:"mean,omitempty"`
	Std          *float64 `json:"std,omitempty"`
}

// ClassifyResponse describes how a value would be classified.
type ClassifyResponse struct {
	AlertType   alert.Type      `json:"alert_type,omitempty"`
	Severity    alert.Severity  `json:"severity"`
	Matched     bool            `json:"matched"`
	Description string          `json:"description,omitempty"`
	Norm        classifier.Norm `json:"norm"`
}

// PrioritizedAlert pairs an alert with its triage score.
type PrioritizedAlert struct {
	Alert         *alert.Alert `json:"alert"`
	PriorityScore float64      `json:"priority_score"`
}

// defaultClassifyScore is assumed when a classify request has no score.
const defaultClassifyScore = 0.5

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondStructuredError(w, r, http.StatusRequestEntityTooLarge, APIError{
				Code:    ErrCodeValidation,
				Message: fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit),
			})
			return false
		}
		respondValidation(w, r, "invalid request body: "+err.Error(), nil)
		return false
	}
	return true
}

func parseMetric(s string) (observation.Metric, error) {
	if strings.TrimSpace(s) == "" {
		return observation.MetricTemperature, nil
	}
	return observation.ParseMetric(s)
}

// Detect handles POST /api/alerts/detect.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	var req DetectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	metric, err := parseMetric(req.Metric)
	if err != nil {
		respondValidation(w, r, err.Error(), map[string]string{"field": "metric"})
		return
	}
	window, err := observation.FromRaw(metric, req.Data)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	useAI := req.UseAIAnalysis == nil || *req.UseAIAnalysis

	res, err := h.pipeline.Run(r.Context(), pipeline.Request{Window: window, UseAIAnalysis: useAI})
	if err != nil && res != nil {
		// Partial run: alerts in res.Specs are already saved.
		details := map[string]string{
			"alerts_detected": strconv.Itoa(res.AlertsDetected),
			"pending":         strconv.Itoa(len(res.Pending)),
		}
		var ierr *pipeline.IntegrationError
		switch {
		case errors.As(err, &ierr):
			h.logger.Error("alerts could not be persisted",
				zap.Int("pending", len(res.Pending)), zap.Error(err))
			if interrupted(err) {
				details["interrupted"] = "true"
			}
			respondStructuredError(w, r, http.StatusBadGateway, APIError{
				Code:                  ErrCodeIntegration,
				Message:               "some alerts could not be persisted; resubmit the pending specifications",
				Details:               details,
				AlertSpecifications:   res.Specs,
				PendingSpecifications: res.Pending,
			})
			return
		case interrupted(err):
			h.logger.Warn("detection interrupted",
				zap.Int("alerts_detected", res.AlertsDetected), zap.Error(err))
			respondStructuredError(w, r, http.StatusServiceUnavailable, APIError{
				Code:                ErrCodeInterrupted,
				Message:             "detection was interrupted; alerts listed were saved, rerun to finish the window",
				Details:             details,
				AlertSpecifications: res.Specs,
			})
			return
		}
	}
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// Update handles PUT /api/alerts/update/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req lifecycle.UpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a, err := h.lifecycle.Apply(r.Context(), id, req, auth.Subject(r.Context()))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"alert":                a,
		"update_specification": spec.Update(a),
	})
}

// filterFromQuery reads list filters from the query string.
func filterFromQuery(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	sf := spec.Filter{
		Status:    q.Get("status"),
		Severity:  q.Get("severity"),
		AlertType: q.Get("alert_type"),
		DateFrom:  q.Get("date_from"),
		DateTo:    q.Get("date_to"),
	}
	if v := q.Get("min_anomaly_score"); v != "" {
		score, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return store.Filter{}, fmt.Errorf("invalid min_anomaly_score %q", v)
		}
		sf.MinAnomalyScore = &score
	}
	f, err := store.FilterFromSpec(sf)
	if err != nil {
		return store.Filter{}, err
	}
	if v := q.Get("metric"); v != "" {
		m, err := observation.ParseMetric(v)
		if err != nil {
			return store.Filter{}, err
		}
		f.Metric = m
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return store.Filter{}, fmt.Errorf("invalid limit %q", v)
		}
		f.Limit = n
	}
	return f, nil
}

// List handles GET /api/alerts/list.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		respondValidation(w, r, err.Error(), nil)
		return
	}
	alerts, err := h.store.List(r.Context(), f)
	if err != nil {
		h.logger.Error("list alerts", zap.Error(err))
		respondDomainError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []*alert.Alert{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// Get handles GET /api/alerts/get/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// Search handles POST /api/alerts/search. It returns the platform search
// specification for the filter together with the locally matching alerts.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var sf spec.Filter
	if !decodeBody(w, r, &sf) {
		return
	}
	f, err := store.FilterFromSpec(sf)
	if err != nil {
		respondValidation(w, r, err.Error(), nil)
		return
	}
	alerts, err := h.store.List(r.Context(), f)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []*alert.Alert{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"search_specification": spec.Search(sf),
		"alerts":               alerts,
		"count":                len(alerts),
	})
}

// Summary handles GET /api/alerts/summary. It accepts the list filters.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		respondValidation(w, r, err.Error(), nil)
		return
	}
	alerts, err := h.store.List(r.Context(), f)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, alert.Summarize(alerts))
}

// Prioritize handles GET /api/alerts/prioritize. Resolved alerts are left
// out unless a status filter asks for them.
func (h *Handler) Prioritize(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		respondValidation(w, r, err.Error(), nil)
		return
	}
	alerts, err := h.store.List(r.Context(), f)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	now := h.now()
	live := alerts[:0:0]
	for _, a := range alerts {
		if f.Status == "" && !a.Live() {
			continue
		}
		live = append(live, a)
	}
	ranked := alert.Prioritize(live, now)
	out := make([]PrioritizedAlert, 0, len(ranked))
	for _, a := range ranked {
		out = append(out, PrioritizedAlert{Alert: a, PriorityScore: alert.PriorityScore(a, now)})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"prioritized_alerts": out,
		"count":              len(out),
	})
}

// Classify handles POST /api/alerts/classify. Nothing is persisted.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Value == nil {
		respondValidation(w, r, "value is required", map[string]string{"field": "value"})
		return
	}
	metric, err := parseMetric(req.Metric)
	if err != nil {
		respondValidation(w, r, err.Error(), map[string]string{"field": "metric"})
		return
	}
	ts := h.now().UTC()
	if req.Date != "" {
		if ts, err = observation.ParseTimestamp(req.Date); err != nil {
			respondValidation(w, r, err.Error(), map[string]string{"field": "date"})
			return
		}
	}
	score := defaultClassifyScore
	if req.AnomalyScore != nil {
		score = *req.AnomalyScore
	}
	if score < 0 || score > 1 {
		respondValidation(w, r, "anomaly_score must be between 0 and 1", map[string]string{"field": "anomaly_score"})
		return
	}

	norm, ok := h.climatology.Lookup(metric, ts.Month())
	if req.Mean != nil && req.Std != nil {
		norm, ok = classifier.Norm{Mean: *req.Mean, Std: *req.Std}, true
	}
	if !ok || norm.Std <= 0 {
		respondValidation(w, r, "no climatological norm available: provide mean and std (std > 0)", nil)
		return
	}

	resp := ClassifyResponse{Severity: classifier.SeverityFor(score), Norm: norm}
	if t, matched := h.pipeline.Classifier().TypeFor(metric, *req.Value, norm); matched {
		resp.AlertType = t
		resp.Matched = true
		resp.Description = alert.Describe(t, resp.Severity, *req.Value, metric)
	}
	respondJSON(w, http.StatusOK, resp)
}
