package anthropic

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

// Anthropic API constants
const (
	DefaultBaseURL    = "https://api.anthropic.com/v1"
	DefaultModel      = "claude-3-5-sonnet-20241022"
	DefaultMaxTokens  = 1024
	DefaultAPIVersion = "2023-06-01"
	DefaultTimeout    = 120 * time.Second
)

// Client calls the Anthropic messages API.
type Client struct {
	apiKey     string
	model      string
	maxTokens  int
	baseURL    string
	httpClient *http.Client
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type anthRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Messages    []anthMessage `json:"messages"`
	System      string        `json:"system,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type anthResponse struct {
	ID         string         `json:"id"`
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
}

// NewClient creates a new Anthropic client
func NewClient(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		apiKey:    apiKey,
		model:     model,
		maxTokens: DefaultMaxTokens,
		baseURL:   DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Complete sends the conversation and returns the concatenated text blocks.
func (c *Client) Complete(ctx context.Context, messages []types.Message, opts types.Options) (string, error) {
	system, rest := types.SplitSystem(messages)
	if opts.JSON {
		system = strings.TrimSpace(system + "\n\nRespond with a single JSON object and nothing else.")
	}

	req := anthRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Messages:    convertMessages(rest),
		System:      system,
		Temperature: opts.Temperature,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}

	resp, err := c.makeRequest(ctx, req)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty response from Anthropic (stop_reason=%s)", resp.StopReason)
	}
	return text.String(), nil
}

func convertMessages(messages []types.Message) []anthMessage {
	out := make([]anthMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, anthMessage{
			Role:    m.Role,
			Content: []contentBlock{{Type: "text", Text: m.Content}},
		})
	}
	return out
}

func (c *Client) makeRequest(ctx context.Context, req anthRequest) (*anthResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", DefaultAPIVersion)

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

	var resp anthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &resp, nil
}

// SetBaseURL points the client at a different endpoint (proxies, tests).
func (c *Client) SetBaseURL(url string) { c.baseURL = strings.TrimRight(url, "/") }
