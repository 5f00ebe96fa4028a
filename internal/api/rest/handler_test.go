package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/alert"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/analytics/ensemble"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/api/middleware"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/auth"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/classifier"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/lifecycle"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/observation"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/pipeline"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/store"
)

var fixedNow = time.Date(2024, 2, 20, 12, 0, 0, 0, time.UTC)

type failingStore struct {
	*store.MemoryStore
}

func (s *failingStore) Create(context.Context, *alert.Alert) error {
	return errors.New("platform unavailable")
}

// cancellingStore cancels the request context once an alert is saved.
type cancellingStore struct {
	*store.MemoryStore
	cancel context.CancelFunc
}

func (s *cancellingStore) Create(ctx context.Context, a *alert.Alert) error {
	if err := s.MemoryStore.Create(ctx, a); err != nil {
		return err
	}
	s.cancel()
	return nil
}

func newRouter(t *testing.T, st store.AlertStore, opts ...Option) *mux.Router {
	t.Helper()
	cls, err := classifier.New(classifier.DefaultThresholds(), nil)
	require.NoError(t, err)
	p, err := pipeline.New(pipeline.Config{}, ensemble.NewScorer(ensemble.DefaultConfig()), cls, st,
		pipeline.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	lm := lifecycle.NewManager(st, lifecycle.WithClock(func() time.Time { return fixedNow }))

	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	NewHandler(p, lm, st, opts...).SetupRoutes(router)
	return router
}

func seasonalData(overrides map[int]float64) []map[string]interface{} {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	data := make([]map[string]interface{}, 90)
	for i := range data {
		v := 18 + 4*math.Sin(2*math.Pi*float64(i)/30)
		if o, ok := overrides[i]; ok {
			v = o
		}
		data[i] = map[string]interface{}{"date": start.AddDate(0, 0, i).Format("2006-01-02"), "value": v}
	}
	return data
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeAPIError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var e APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&e))
	return e
}

func seedAlert(t *testing.T, st store.AlertStore, id, date string, typ alert.Type, sev alert.Severity) *alert.Alert {
	t.Helper()
	ts, err := time.Parse(observation.DateLayout, date)
	require.NoError(t, err)
	obs := observation.Observation{Timestamp: ts, Metric: observation.MetricTemperature, Value: 40}
	a := alert.New(id, obs, typ, sev, 0.7, "Uruguay", fixedNow)
	require.NoError(t, st.Create(context.Background(), a))
	return a
}

func TestDetectHeatWave(t *testing.T) {
	st := store.NewMemoryStore()
	router := newRouter(t, st)

	rec := do(t, router, http.MethodPost, "/api/alerts/detect", map[string]interface{}{
		"data":            seasonalData(map[int]float64{14: 41.2}),
		"metric":          "temperature",
		"use_ai_analysis": false,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		AlertsDetected int `json:"alerts_detected"`
		Specs          []struct {
			EntityModel string                 `json:"entity_model"`
			EntityData  map[string]interface{} `json:"entity_data"`
		} `json:"alert_specifications"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, 1, res.AlertsDetected)
	require.Len(t, res.Specs, 1)
	assert.Equal(t, "heat_wave", res.Specs[0].EntityData["alert_type"])
	assert.Equal(t, "active", res.Specs[0].EntityData["status"])

	// a second identical run finds the live alert
	rec = do(t, router, http.MethodPost, "/api/alerts/detect", map[string]interface{}{
		"data":            seasonalData(map[int]float64{14: 41.2}),
		"use_ai_analysis": false,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, 0, res.AlertsDetected)
	assert.NotNil(t, res.Specs)
}

func TestDetectValidation(t *testing.T) {
	router := newRouter(t, store.NewMemoryStore())

	tests := []struct {
		name  string
		body  interface{}
		field string
	}{
		{"empty data", map[string]interface{}{"data": []interface{}{}}, "data"},
		{"bad date", map[string]interface{}{"data": []map[string]interface{}{{"date": "yesterday", "value": 1}}}, "date"},
		{"non numeric value", map[string]interface{}{"data": []map[string]interface{}{{"date": "2024-01-01", "value": "hot"}}}, "value"},
		{"unknown metric", map[string]interface{}{"metric": "wind", "data": seasonalData(nil)}, "metric"},
		{"malformed json", `{"data": [`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/alerts/detect", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			e := decodeAPIError(t, rec)
			assert.Equal(t, ErrCodeValidation, e.Code)
			assert.NotEmpty(t, e.RequestID)
			if tt.field != "" {
				assert.Equal(t, tt.field, e.Details["field"])
			}
		})
	}
}

func TestDetectIntegrationError(t *testing.T) {
	router := newRouter(t, &failingStore{MemoryStore: store.NewMemoryStore()})

	rec := do(t, router, http.MethodPost, "/api/alerts/detect", map[string]interface{}{
		"data":            seasonalData(map[int]float64{44: -3.5}),
		"use_ai_analysis": false,
	})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	e := decodeAPIError(t, rec)
	assert.Equal(t, ErrCodeIntegration, e.Code)
	require.Len(t, e.PendingSpecifications, 1)
	assert.Equal(t, "cold_snap", e.PendingSpecifications[0].EntityData["alert_type"])
	assert.Equal(t, "1", e.Details["pending"])
}

func TestDetectInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := &cancellingStore{MemoryStore: store.NewMemoryStore(), cancel: cancel}
	router := newRouter(t, st)

	body, err := json.Marshal(map[string]interface{}{
		"data":            seasonalData(map[int]float64{14: 41.2, 44: -3.5}),
		"use_ai_analysis": false,
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/alerts/detect", bytes.NewReader(body)).WithContext(ctx)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	e := decodeAPIError(t, rec)
	assert.Equal(t, ErrCodeInterrupted, e.Code)
	assert.Equal(t, "1", e.Details["alerts_detected"])
	require.Len(t, e.AlertSpecifications, 1)
	assert.Equal(t, "heat_wave", e.AlertSpecifications[0].EntityData["alert_type"])

	saved, err := st.List(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

func TestDetectCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	router := newRouter(t, store.NewMemoryStore())

	body, err := json.Marshal(map[string]interface{}{
		"data":            seasonalData(map[int]float64{14: 41.2}),
		"use_ai_analysis": false,
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/alerts/detect", bytes.NewReader(body)).WithContext(ctx)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	e := decodeAPIError(t, rec)
	assert.Equal(t, ErrCodeInterrupted, e.Code)
	assert.Equal(t, "0", e.Details["alerts_detected"])
}

func TestUpdateLifecycle(t *testing.T) {
	st := store.NewMemoryStore()
	router := newRouter(t, st)
	seedAlert(t, st, "a1", "2024-01-15", alert.TypeHeatWave, alert.SeverityHigh)

	// resolving an active alert is rejected and leaves it active
	rec := do(t, router, http.MethodPut, "/api/alerts/update/a1", map[string]interface{}{
		"resolved": true, "resolution_notes": "cooled down",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	e := decodeAPIError(t, rec)
	assert.Equal(t, ErrCodeInvalidTransition, e.Code)
	assert.Equal(t, "active", e.Details["status"])

	rec = do(t, router, http.MethodPut, "/api/alerts/update/a1", map[string]interface{}{"acknowledged": true})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Alert map[string]interface{} `json:"alert"`
		Spec  struct {
			EntityID   string                 `json:"entity_id"`
			EntityData map[string]interface{} `json:"entity_data"`
		} `json:"update_specification"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "acknowledged", body.Alert["status"])
	assert.Equal(t, "a1", body.Spec.EntityID)

	rec = do(t, router, http.MethodPut, "/api/alerts/update/a1", map[string]interface{}{"status": "resolved"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrCodeMissingResolutionNotes, decodeAPIError(t, rec).Code)

	got, err := st.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, alert.StatusAcknowledged, got.Status())

	rec = do(t, router, http.MethodPut, "/api/alerts/update/a1", map[string]interface{}{
		"status": "resolved", "resolution_notes": "temperatures back to normal",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "resolved", body.Alert["status"])
	assert.Equal(t, "temperatures back to normal", body.Alert["resolution_notes"])
}

func TestUpdateErrors(t *testing.T) {
	st := store.NewMemoryStore()
	router := newRouter(t, st)
	seedAlert(t, st, "a1", "2024-01-15", alert.TypeHeatWave, alert.SeverityHigh)

	rec := do(t, router, http.MethodPut, "/api/alerts/update/missing", map[string]interface{}{"acknowledged": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrCodeNotFound, decodeAPIError(t, rec).Code)

	rec = do(t, router, http.MethodPut, "/api/alerts/update/a1", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrCodeValidation, decodeAPIError(t, rec).Code)

	rec = do(t, router, http.MethodPut, "/api/alerts/update/a1", map[string]interface{}{"status": "snoozed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListGetAndFilters(t *testing.T) {
	st := store.NewMemoryStore()
	router := newRouter(t, st)
	seedAlert(t, st, "a1", "2024-01-15", alert.TypeHeatWave, alert.SeverityHigh)
	seedAlert(t, st, "a2", "2024-02-14", alert.TypeColdSnap, alert.SeverityCritical)

	var list struct {
		Alerts []map[string]interface{} `json:"alerts"`
		Count  int                      `json:"count"`
	}
	rec := do(t, router, http.MethodGet, "/api/alerts/list", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Equal(t, 2, list.Count)

	rec = do(t, router, http.MethodGet, "/api/alerts/list?severity=critical", nil)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "a2", list.Alerts[0]["id"])

	rec = do(t, router, http.MethodGet, "/api/alerts/list?date_from=2024-01-15&date_to=2024-01-15", nil)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "a1", list.Alerts[0]["id"])

	for _, q := range []string{"severity=extreme", "min_anomaly_score=high", "date_from=15/01/2024", "limit=-1", "metric=wind"} {
		rec = do(t, router, http.MethodGet, "/api/alerts/list?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec = do(t, router, http.MethodGet, "/api/alerts/get/a2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "cold_snap", got["alert_type"])

	rec = do(t, router, http.MethodGet, "/api/alerts/get/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearch(t *testing.T) {
	st := store.NewMemoryStore()
	router := newRouter(t, st)
	seedAlert(t, st, "a1", "2024-01-15", alert.TypeHeatWave, alert.SeverityHigh)
	seedAlert(t, st, "a2", "2024-02-14", alert.TypeColdSnap, alert.SeverityCritical)

	rec := do(t, router, http.MethodPost, "/api/alerts/search", map[string]interface{}{
		"status": "active", "alert_type": "heat_wave",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		Search struct {
			EntityModel      string `json:"entity_model"`
			SearchConditions struct {
				Type       string        `json:"type"`
				Operator   string        `json:"operator"`
				Conditions []interface{} `json:"conditions"`
			} `json:"search_conditions"`
		} `json:"search_specification"`
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, "climate_alert", res.Search.EntityModel)
	assert.Equal(t, "group", res.Search.SearchConditions.Type)
	assert.Len(t, res.Search.SearchConditions.Conditions, 2)
	assert.Equal(t, 1, res.Count)

	rec = do(t, router, http.MethodPost, "/api/alerts/search", map[string]interface{}{"severity": "apocalyptic"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummaryAndPrioritize(t *testing.T) {
	st := store.NewMemoryStore()
	router := newRouter(t, st)
	seedAlert(t, st, "old-high", "2024-01-15", alert.TypeHeatWave, alert.SeverityHigh)
	seedAlert(t, st, "recent-critical", "2024-02-14", alert.TypeColdSnap, alert.SeverityCritical)
	resolved := seedAlert(t, st, "done", "2024-02-01", alert.TypeHeatWave, alert.SeverityLow)
	require.NoError(t, resolved.Acknowledge(fixedNow))
	require.NoError(t, resolved.Resolve("handled", fixedNow))
	require.NoError(t, st.Update(context.Background(), resolved))

	rec := do(t, router, http.MethodGet, "/api/alerts/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sum alert.Summary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sum))
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 1, sum.CriticalCount)
	assert.Equal(t, 2, sum.ActiveCount)
	assert.Equal(t, 1, sum.ResolvedCount)
	assert.Equal(t, 2, sum.ByType["heat_wave"])

	rec = do(t, router, http.MethodGet, "/api/alerts/prioritize", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pr struct {
		Alerts []struct {
			Alert         map[string]interface{} `json:"alert"`
			PriorityScore float64                `json:"priority_score"`
		} `json:"prioritized_alerts"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&pr))
	require.Len(t, pr.Alerts, 2)
	assert.Equal(t, "recent-critical", pr.Alerts[0].Alert["id"])
	assert.Greater(t, pr.Alerts[0].PriorityScore, pr.Alerts[1].PriorityScore)
}

func TestClassify(t *testing.T) {
	router := newRouter(t, store.NewMemoryStore())

	rec := do(t, router, http.MethodPost, "/api/alerts/classify", map[string]interface{}{
		"value": 41.2, "metric": "temperature", "anomaly_score": 0.95, "mean": 18.0, "std": 3.0,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var res ClassifyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.True(t, res.Matched)
	assert.Equal(t, alert.TypeHeatWave, res.AlertType)
	assert.Equal(t, alert.SeverityCritical, res.Severity)
	assert.Equal(t, "Critical Heat Wave detected: 41.2°C", res.Description)

	rec = do(t, router, http.MethodPost, "/api/alerts/classify", map[string]interface{}{
		"value": 19.0, "mean": 18.0, "std": 3.0,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	res = ClassifyResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.False(t, res.Matched)
	assert.Equal(t, alert.SeverityMedium, res.Severity)

	// no norms configured and none supplied
	rec = do(t, router, http.MethodPost, "/api/alerts/classify", map[string]interface{}{"value": 19.0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/alerts/classify", map[string]interface{}{"metric": "temperature"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassifyUsesClimatology(t *testing.T) {
	clim, err := classifier.ParseClimatology([]byte(`
norms:
  precipitation:
    mean: 3.0
    std: 2.0
`))
	require.NoError(t, err)
	router := newRouter(t, store.NewMemoryStore(), WithClimatology(clim))

	rec := do(t, router, http.MethodPost, "/api/alerts/classify", map[string]interface{}{
		"value": 12.0, "metric": "precipitation", "date": "2024-03-01", "anomaly_score": 0.7,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res ClassifyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, alert.TypeExtremePrecipitation, res.AlertType)
	assert.Equal(t, 3.0, res.Norm.Mean)
}

func TestMutatingRoutesRequireAuth(t *testing.T) {
	const secret = "0123456789abcdef0123"
	st := store.NewMemoryStore()
	router := newRouter(t, st, WithAuth(secret))
	seedAlert(t, st, "a1", "2024-01-15", alert.TypeHeatWave, alert.SeverityHigh)

	rec := do(t, router, http.MethodPut, "/api/alerts/update/a1", map[string]interface{}{"acknowledged": true})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = do(t, router, http.MethodPost, "/api/alerts/detect", map[string]interface{}{"data": seasonalData(nil)})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// reads stay open
	rec = do(t, router, http.MethodGet, "/api/alerts/list", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	tok, err := auth.IssueToken(secret, "forecaster", "operator", time.Minute)
	require.NoError(t, err)
	rec = do(t, router, http.MethodPut, "/api/alerts/update/a1", map[string]interface{}{"acknowledged": true},
		"Authorization", fmt.Sprintf("Bearer %s", tok))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type pingStore struct {
	*store.MemoryStore
	err error
}

func (s *pingStore) Ping(context.Context) error { return s.err }

func TestHealth(t *testing.T) {
	h := NewHealthHandler(store.NewMemoryStore())
	rec := httptest.NewRecorder()
	h.Live(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h = NewHealthHandler(&pingStore{MemoryStore: store.NewMemoryStore(), err: errors.New("db down")})
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
