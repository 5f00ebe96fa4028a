// Package adapter gives the enrichment service one completion interface over
// every supported LLM provider.
//
// Without a provider or credentials the adapter starts unconfigured rather
// than failing: detection keeps working and enrichment reports itself
// unavailable until an operator supplies a key.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/llm/provider/anthropic"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/llm/provider/gemini"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/llm/provider/ollama"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/llm/provider/openai"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/llm/types"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/metrics"
)

// ProviderType identifies which LLM provider is configured
type ProviderType string

const (
	ProviderGemini    ProviderType = "gemini"
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOllama    ProviderType = "ollama"
	ProviderCustom    ProviderType = "custom" // any OpenAI-compatible endpoint
	ProviderNone      ProviderType = "none"
)

// ErrProviderNotConfigured is returned when a completion is attempted without a configured provider
var ErrProviderNotConfigured = errors.New("LLM provider not configured")

// Config holds LLM provider configuration
type Config struct {
	Provider ProviderType `json:"provider"`
	APIKey   string       `json:"api_key"`  // Gemini/OpenAI/Anthropic
	BaseURL  string       `json:"base_url"` // Ollama/Custom, or a proxy for the hosted APIs
	Model    string       `json:"model"`
}

// LLMAdapter is the unified completion interface.
type LLMAdapter interface {
	Complete(ctx context.Context, messages []types.Message, opts types.Options) (string, error)
	Provider() ProviderType
	Model() string
	Configured() bool
}

type client interface {
	Complete(ctx context.Context, messages []types.Message, opts types.Options) (string, error)
	Model() string
}

type llmAdapterImpl struct {
	provider ProviderType
	client   client
}

// NewLLMAdapter creates an adapter for cfg. A missing provider or missing
// credentials yield an unconfigured adapter, not an error.
func NewLLMAdapter(cfg Config) (LLMAdapter, error) {
	unconfigured := &llmAdapterImpl{provider: ProviderNone}

	var c client
	switch cfg.Provider {
	case "", ProviderNone:
		return unconfigured, nil

	case ProviderGemini:
		if cfg.APIKey == "" {
			return unconfigured, nil
		}
		g, err := gemini.NewClient(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		if cfg.BaseURL != "" {
			g.SetBaseURL(cfg.BaseURL)
		}
		c = g

	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return unconfigured, nil
		}
		o, err := openai.NewClient(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		if cfg.BaseURL != "" {
			o.SetBaseURL(cfg.BaseURL)
		}
		c = o

	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return unconfigured, nil
		}
		a, err := anthropic.NewClient(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create Anthropic client: %w", err)
		}
		if cfg.BaseURL != "" {
			a.SetBaseURL(cfg.BaseURL)
		}
		c = a

	case ProviderOllama:
		c = ollama.NewClient(cfg.BaseURL, cfg.Model)

	case ProviderCustom:
		if cfg.BaseURL == "" {
			return unconfigured, nil
		}
		o, err := openai.NewCompatibleClient(cfg.BaseURL, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create custom client: %w", err)
		}
		c = o

	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}

	return &llmAdapterImpl{provider: cfg.Provider, client: c}, nil
}

func (a *llmAdapterImpl) Provider() ProviderType { return a.provider }

func (a *llmAdapterImpl) Configured() bool { return a.client != nil }

func (a *llmAdapterImpl) Model() string {
	if a.client == nil {
		return ""
	}
	return a.client.Model()
}

// Complete delegates to the provider client and records request metrics.
func (a *llmAdapterImpl) Complete(ctx context.Context, messages []types.Message, opts types.Options) (string, error) {
	if a.client == nil {
		return "", ErrProviderNotConfigured
	}

	start := time.Now()
	resp, err := a.client.Complete(ctx, messages, opts)
	metrics.LLMRequestDuration.WithLabelValues(string(a.provider), a.Model()).Observe(time.Since(start).Seconds())

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.LLMRequestsTotal.WithLabelValues(string(a.provider), a.Model(), status).Inc()

	return resp, err
}
