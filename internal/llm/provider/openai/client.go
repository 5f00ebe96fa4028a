// Package openai talks to the OpenAI chat completions API and to any
// OpenAI-compatible endpoint (vLLM, LocalAI, LM Studio) through SetBaseURL.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/llm/types"
)

const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultModel     = "gpt-4o"
	DefaultMaxTokens = 1024
	DefaultTimeout   = 120 * time.Second
)

// Client is an OpenAI chat completions client.
type Client struct {
	apiKey     string
	model      string
	maxTokens  int
	baseURL    string
	httpClient *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// NewClient creates an OpenAI client. An API key is required for the hosted
// API; compatible endpoints use NewCompatibleClient.
func NewClient(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	return newClient(DefaultBaseURL, apiKey, model), nil
}

// NewCompatibleClient targets an OpenAI-compatible endpoint. The key is optional.
func NewCompatibleClient(baseURL, apiKey, model string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required for an OpenAI-compatible endpoint")
	}
	return newClient(strings.TrimRight(baseURL, "/"), apiKey, model), nil
}

func newClient(baseURL, apiKey, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		apiKey:    apiKey,
		model:     model,
		maxTokens: DefaultMaxTokens,
		baseURL:   baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Complete sends the conversation and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, messages []types.Message, opts types.Options) (string, error) {
	req := chatRequest{
		Model:       c.model,
		Messages:    make([]chatMessage, 0, len(messages)),
		MaxTokens:   c.maxTokens,
		Temperature: opts.Temperature,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.JSON {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := c.makeRequest(ctx, "/chat/completions", req)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) makeRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", httpResp.StatusCode, string(body))
	}
	return body, nil
}

// SetBaseURL points the client at a different endpoint.
func (c *Client) SetBaseURL(url string) { c.baseURL = strings.TrimRight(url, "/") }
