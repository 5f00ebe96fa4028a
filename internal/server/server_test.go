package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/auth"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/config"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/llm/adapter"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Logging.AuditFile = filepath.Join(t.TempDir(), "audit.log")
	cfg.RateLimit.RequestsPerMinute = 0
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.closeComponents() })
	return s
}

func detectBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	data := make([]map[string]interface{}, 90)
	for i := range data {
		v := 18 + 4*math.Sin(2*math.Pi*float64(i)/30)
		if i == 44 {
			v = -3.5
		}
		data[i] = map[string]interface{}{"date": start.AddDate(0, 0, i).Format("2006-01-02"), "value": v}
	}
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(map[string]interface{}{
		"data": data, "metric": "temperature", "use_ai_analysis": false,
	}))
	return &buf
}

func serve(h http.Handler, method, path string, body *bytes.Buffer, header ...string) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	cfg := testConfig(t)
	cfg.Database.Type = "mysql"
	_, err = New(cfg, WithLogger(zap.NewNop()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.type")
}

func TestProbesAndMetrics(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	h := s.Handler()

	rec := serve(h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(h, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestDetectAndAcknowledge(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	h := s.Handler()

	rec := serve(h, http.MethodPost, "/api/alerts/detect", detectBody(t), "Content-Type", "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res struct {
		AlertsDetected int `json:"alerts_detected"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, 1, res.AlertsDetected)

	rec = serve(h, http.MethodGet, "/api/alerts/list?alert_type=cold_snap", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Alerts []struct {
			ID       string `json:"id"`
			Severity string `json:"severity"`
		} `json:"alerts"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Alerts, 1)
	assert.Equal(t, "critical", list.Alerts[0].Severity)

	rec = serve(h, http.MethodPut, "/api/alerts/update/"+list.Alerts[0].ID,
		bytes.NewBufferString(`{"acknowledged": true}`))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthProtectsMutations(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = "0123456789abcdef0123"
	s := newTestServer(t, cfg)
	h := s.Handler()

	rec := serve(h, http.MethodPost, "/api/alerts/detect", detectBody(t))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := auth.IssueToken(cfg.Auth.JWTSecret, "forecaster", "", time.Minute)
	require.NoError(t, err)
	rec = serve(h, http.MethodPost, "/api/alerts/detect", detectBody(t), "Authorization", "Bearer "+tok)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h, http.MethodGet, "/api/alerts/summary", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApplyConfig(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	next := *config.DefaultConfig()
	next.Classification.HeatSigma = 3.0
	next.Logging.Level = "debug"
	s.applyConfig(next)
	assert.Equal(t, 3.0, s.classifier.Thresholds().HeatSigma)

	bad := next
	bad.Classification.HeatSigma = 0
	s.applyConfig(bad)
	assert.Equal(t, 3.0, s.classifier.Thresholds().HeatSigma)
}

func TestLLMConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Equal(t, adapter.ProviderNone, llmConfig(cfg).Provider)

	cfg.LLM.Provider = "ollama"
	cfg.LLM.Ollama = map[string]interface{}{"base_url": "http://ollama:11434", "model": "mistral"}
	lc := llmConfig(cfg)
	assert.Equal(t, adapter.ProviderOllama, lc.Provider)
	assert.Equal(t, "http://ollama:11434", lc.BaseURL)
	assert.Equal(t, "mistral", lc.Model)
	assert.Empty(t, lc.APIKey)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestStartStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	cfg.Server.GRPCPort = freePort(t)
	s, err := New(cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start())

	url := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	conn, err := grpc.NewClient(fmt.Sprintf("127.0.0.1:%d", cfg.Server.GRPCPort),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: serviceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.False(t, s.IsRunning())
	assert.Error(t, s.Stop(stopCtx))

	// the audit trail records start and shutdown
	data, err := readFile(cfg.Logging.AuditFile)
	require.NoError(t, err)
	assert.True(t, strings.Contains(data, "system.server_started"))
	assert.True(t, strings.Contains(data, "system.server_shutdown"))
}

func TestStartFailsWhenGRPCPortTaken(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	cfg.Server.GRPCPort = taken.Addr().(*net.TCPAddr).Port
	s, err := New(cfg, WithLogger(zap.NewNop()))
	require.NoError(t, err)

	err = s.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gRPC")
	assert.False(t, s.IsRunning())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	assert.Error(t, s.Stop(stopCtx))

	// nothing was left running, so a retry once the port frees up succeeds
	require.NoError(t, taken.Close())
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	require.NoError(t, s.Stop(stopCtx))
	assert.False(t, s.IsRunning())
}

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	return string(b), err
}
