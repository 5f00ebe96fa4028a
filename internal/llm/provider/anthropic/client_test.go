package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/llm/types"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("test-key", "")
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if client.model != DefaultModel {
		t.Errorf("Expected default model %s, got %s", DefaultModel, client.model)
	}
	if client.baseURL != DefaultBaseURL {
		t.Errorf("Expected default base URL %s, got %s", DefaultBaseURL, client.baseURL)
	}

	if _, err := NewClient("", ""); err == nil {
		t.Error("Expected error for empty API key")
	}
}

func TestComplete(t *testing.T) {
	var got anthRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("anthropic-version") != DefaultAPIVersion {
			t.Errorf("missing version header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","content":[{"type":"text","text":"{\"ok\":"},{"type":"text","text":"true}"}],"stop_reason":"end_turn"}`))
	}))
	defer server.Close()

	client, _ := NewClient("test-key", "claude-test")
	client.SetBaseURL(server.URL + "/")

	text, err := client.Complete(context.Background(), []types.Message{
		{Role: types.RoleSystem, Content: "You are a climatologist."},
		{Role: types.RoleUser, Content: "Assess this."},
	}, types.Options{JSON: true, MaxTokens: 200})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if text != `{"ok":true}` {
		t.Errorf("unexpected text %q", text)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("system message should be lifted out of messages: %+v", got.Messages)
	}
	if !strings.HasPrefix(got.System, "You are a climatologist.") || !strings.Contains(got.System, "JSON") {
		t.Errorf("unexpected system prompt %q", got.System)
	}
	if got.MaxTokens != 200 {
		t.Errorf("expected max_tokens 200, got %d", got.MaxTokens)
	}
}

func TestCompleteAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer server.Close()

	client, _ := NewClient("test-key", "")
	client.SetBaseURL(server.URL)

	_, err := client.Complete(context.Background(), []types.Message{{Role: "user", Content: "hi"}}, types.Options{})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("expected API error 429, got %v", err)
	}
}
