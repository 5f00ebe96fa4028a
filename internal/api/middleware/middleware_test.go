package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestID_Generated(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/alerts/", nil))

	if seen == "" {
		t.Fatal("expected request ID in context")
	}
	if got := rec.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("header %q does not match context %q", got, seen)
	}
}

func TestRequestID_Propagated(t *testing.T) {
	h := RequestID(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("expected abc-123, got %q", got)
	}
}

func TestStructuredLog_CapturesStatus(t *testing.T) {
	r := mux.NewRouter()
	r.Handle("/api/alerts/{id}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	r.Use(StructuredLog(zap.NewNop()))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/alerts/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for small body, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("this body is too large")))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 for large body, got %d", rec.Code)
	}
}

func TestSecureHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecureHeaders(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected nosniff")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("expected DENY")
	}
}

func TestRateLimit_ExemptPaths(t *testing.T) {
	l := NewRateLimiter(1, 1)
	h := l.Middleware(okHandler())
	for i := 0; i < 5; i++ {
		for _, path := range []string{"/health", "/ready", "/metrics"} {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			req.RemoteAddr = "10.0.0.1:1234"
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("%s: expected 200, got %d", path, rec.Code)
			}
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	l := NewRateLimiter(60, 2)
	h := l.Middleware(okHandler())

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/alerts/", nil)
		req.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := do("192.168.1.10"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := do("192.168.1.10")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["code"] != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("expected RATE_LIMIT_EXCEEDED, got %q", body["code"])
	}

	// other clients have their own bucket
	if rec := do("192.168.1.11"); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for a different IP, got %d", rec.Code)
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	h := NewRateLimiter(0, 0).Middleware(okHandler())
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/alerts/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.1.1:999"
	if got := getClientIP(req); got != "10.1.1.1" {
		t.Errorf("expected remote addr, got %q", got)
	}
	req.Header.Set("X-Real-IP", "10.2.2.2")
	if got := getClientIP(req); got != "10.2.2.2" {
		t.Errorf("expected X-Real-IP, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "10.3.3.3, 10.4.4.4")
	if got := getClientIP(req); got != "10.3.3.3" {
		t.Errorf("expected first X-Forwarded-For hop, got %q", got)
	}
}

const testSecret = "0123456789abcdef0123"

func TestRequireAuth(t *testing.T) {
	var subject string
	h := RequireAuth(testSecret, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = auth.Subject(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/alerts/update/a1", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("expected WWW-Authenticate header")
	}

	req := httptest.NewRequest(http.MethodPut, "/api/alerts/update/a1", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}

	tok, err := auth.IssueToken(testSecret, "forecaster", "operator", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	req = httptest.NewRequest(http.MethodPut, "/api/alerts/update/a1", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
	if subject != "forecaster" {
		t.Errorf("expected subject forecaster, got %q", subject)
	}
}

func TestRequireAuth_QueryToken(t *testing.T) {
	tok, err := auth.IssueToken(testSecret, "dashboard", "", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	h := RequireAuth(testSecret, true)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/alerts?token="+tok, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireAuth_Disabled(t *testing.T) {
	rec := httptest.NewRecorder()
	RequireAuth("", false)(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestTracing_PassesThrough(t *testing.T) {
	rec := httptest.NewRecorder()
	Tracing(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/alerts/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
