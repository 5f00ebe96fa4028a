// Package config loads the alert service configuration.
//
// Sources, highest priority first:
//   - environment variables (CLIMATE_* prefix, "." becomes "_", so
//     server.port is CLIMATE_SERVER_PORT), plus the provider key variables
//     OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY and OLLAMA_BASE_URL
//   - the YAML config file (optional)
//   - built-in defaults
//
// Classification thresholds and the log level may be changed while the
// server runs; Watch delivers each valid reload.
package config

import "context"

// Config struct contains all configuration fields
type Config struct {
	Server struct {
		Host     string
		Port     int
		GRPCPort int // 0 disables the gRPC health endpoint
		// Origins allowed for CORS and websocket upgrades. Empty or ["*"]
		// allows any origin.
		AllowedOrigins         []string
		ReadTimeoutSeconds     int
		WriteTimeoutSeconds    int
		ShutdownTimeoutSeconds int
	}

	// Ensemble scorer settings
	Detection struct {
		Contamination          float64
		Seed                   int64
		NumTrees               int
		SubSampleSize          int
		ZScoreThreshold        float64
		MovingAverageWindow    int
		MovingAverageThreshold float64
		Quorum                 int
		Location               string
	}

	// Classification multipliers, in standard deviations from the norm
	Classification struct {
		HeatSigma          float64
		ColdSigma          float64
		PrecipitationSigma float64
		DroughtSigma       float64
		NormsPath          string
	}

	Enrichment struct {
		Enabled        bool
		TimeoutSeconds int
		CacheSize      int
	}

	// LLM provider configuration
	LLM struct {
		Provider  string
		OpenAI    map[string]interface{}
		Anthropic map[string]interface{}
		Ollama    map[string]interface{}
		Gemini    map[string]interface{}
		Custom    map[string]interface{}
	}

	Database struct {
		Type        string
		SQLitePath  string
		PostgresURL string
	}

	// Event fan-out; Kafka is disabled without brokers
	Events struct {
		KafkaBrokers               []string
		KafkaTopic                 string
		BreakerMaxFailures         int
		BreakerResetTimeoutSeconds int
	}

	Archive struct {
		Enabled      bool
		Bucket       string
		Region       string
		Endpoint     string
		Prefix       string
		UsePathStyle bool
		Schedule     string
		BatchSize    int
	}

	Auth struct {
		Enabled   bool
		JWTSecret string
	}

	RateLimit struct {
		RequestsPerMinute int // 0 disables rate limiting
		Burst             int
	}

	Tracing struct {
		Endpoint     string
		SamplingRate float64
	}

	Logging struct {
		Level      string
		Format     string
		File       string
		AuditFile  string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
		Compress   bool
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches the config file and delivers every reload that passes
	// validation.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager. An empty path
// uses defaults and environment variables only.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}
