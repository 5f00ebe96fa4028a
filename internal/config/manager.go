package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	mu         sync.RWMutex
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
	watchOnce  sync.Once
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	if m.configPath != "" {
		m.viper.SetConfigFile(m.configPath)
		m.viper.SetConfigType("yaml")
	}

	m.viper.SetEnvPrefix("CLIMATE")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	if m.configPath != "" {
		if err := m.viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			// A missing file is fine: defaults and env vars still apply.
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	cfg := m.unmarshalConfig()
	applyEnvOverrides(cfg)
	m.set(cfg)
	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

func (m *viperConfigManager) set(cfg *Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	return joinValidation(m.Get(ctx).Validate())
}

func joinValidation(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	var errMsgs []string
	for _, err := range errs {
		errMsgs = append(errMsgs, err.Error())
	}
	return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
}

// Watch watches for configuration changes and reloads. Invalid edits are
// ignored and the previous configuration stays in effect.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	if m.viper == nil || m.configPath == "" {
		return m.watchChan
	}
	m.watchOnce.Do(func() {
		m.viper.OnConfigChange(func(e fsnotify.Event) {
			if ctx.Err() != nil {
				return
			}
			cfg := m.unmarshalConfig()
			applyEnvOverrides(cfg)
			if len(cfg.Validate()) > 0 {
				return
			}
			m.set(cfg)
			// Drop a stale pending update in favour of the newest one.
			select {
			case <-m.watchChan:
			default:
			}
			select {
			case m.watchChan <- *cfg:
			default:
			}
		})
		m.viper.WatchConfig()
	})
	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if m.viper == nil {
		return m.Load(ctx)
	}
	if m.configPath != "" {
		if err := m.viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	cfg := m.unmarshalConfig()
	applyEnvOverrides(cfg)
	m.set(cfg)
	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.host", defaults.Server.Host)
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.grpc_port", defaults.Server.GRPCPort)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)
	m.viper.SetDefault("server.read_timeout_seconds", defaults.Server.ReadTimeoutSeconds)
	m.viper.SetDefault("server.write_timeout_seconds", defaults.Server.WriteTimeoutSeconds)
	m.viper.SetDefault("server.shutdown_timeout_seconds", defaults.Server.ShutdownTimeoutSeconds)

	// Detection defaults
	m.viper.SetDefault("detection.contamination", defaults.Detection.Contamination)
	m.viper.SetDefault("detection.seed", defaults.Detection.Seed)
	m.viper.SetDefault("detection.num_trees", defaults.Detection.NumTrees)
	m.viper.SetDefault("detection.sub_sample_size", defaults.Detection.SubSampleSize)
	m.viper.SetDefault("detection.zscore_threshold", defaults.Detection.ZScoreThreshold)
	m.viper.SetDefault("detection.moving_average_window", defaults.Detection.MovingAverageWindow)
	m.viper.SetDefault("detection.moving_average_threshold", defaults.Detection.MovingAverageThreshold)
	m.viper.SetDefault("detection.quorum", defaults.Detection.Quorum)
	m.viper.SetDefault("detection.location", defaults.Detection.Location)

	// Classification defaults
	m.viper.SetDefault("classification.heat_sigma", defaults.Classification.HeatSigma)
	m.viper.SetDefault("classification.cold_sigma", defaults.Classification.ColdSigma)
	m.viper.SetDefault("classification.precipitation_sigma", defaults.Classification.PrecipitationSigma)
	m.viper.SetDefault("classification.drought_sigma", defaults.Classification.DroughtSigma)
	m.viper.SetDefault("classification.norms_path", defaults.Classification.NormsPath)

	// Enrichment defaults
	m.viper.SetDefault("enrichment.enabled", defaults.Enrichment.Enabled)
	m.viper.SetDefault("enrichment.timeout_seconds", defaults.Enrichment.TimeoutSeconds)
	m.viper.SetDefault("enrichment.cache_size", defaults.Enrichment.CacheSize)

	// LLM defaults
	m.viper.SetDefault("llm.provider", defaults.LLM.Provider)
	m.viper.SetDefault("llm.openai", defaults.LLM.OpenAI)
	m.viper.SetDefault("llm.anthropic", defaults.LLM.Anthropic)
	m.viper.SetDefault("llm.ollama", defaults.LLM.Ollama)
	m.viper.SetDefault("llm.gemini", defaults.LLM.Gemini)
	m.viper.SetDefault("llm.custom", defaults.LLM.Custom)

	// Database defaults
	m.viper.SetDefault("database.type", defaults.Database.Type)
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)
	m.viper.SetDefault("database.postgres_url", defaults.Database.PostgresURL)

	// Events defaults
	m.viper.SetDefault("events.kafka_brokers", defaults.Events.KafkaBrokers)
	m.viper.SetDefault("events.kafka_topic", defaults.Events.KafkaTopic)
	m.viper.SetDefault("events.breaker_max_failures", defaults.Events.BreakerMaxFailures)
	m.viper.SetDefault("events.breaker_reset_timeout_seconds", defaults.Events.BreakerResetTimeoutSeconds)

	// Archive defaults
	m.viper.SetDefault("archive.enabled", defaults.Archive.Enabled)
	m.viper.SetDefault("archive.bucket", defaults.Archive.Bucket)
	m.viper.SetDefault("archive.region", defaults.Archive.Region)
	m.viper.SetDefault("archive.endpoint", defaults.Archive.Endpoint)
	m.viper.SetDefault("archive.prefix", defaults.Archive.Prefix)
	m.viper.SetDefault("archive.use_path_style", defaults.Archive.UsePathStyle)
	m.viper.SetDefault("archive.schedule", defaults.Archive.Schedule)
	m.viper.SetDefault("archive.batch_size", defaults.Archive.BatchSize)

	// Auth defaults
	m.viper.SetDefault("auth.enabled", defaults.Auth.Enabled)
	m.viper.SetDefault("auth.jwt_secret", defaults.Auth.JWTSecret)

	// Rate limit defaults
	m.viper.SetDefault("rate_limit.requests_per_minute", defaults.RateLimit.RequestsPerMinute)
	m.viper.SetDefault("rate_limit.burst", defaults.RateLimit.Burst)

	// Tracing defaults
	m.viper.SetDefault("tracing.endpoint", defaults.Tracing.Endpoint)
	m.viper.SetDefault("tracing.sampling_rate", defaults.Tracing.SamplingRate)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.file", defaults.Logging.File)
	m.viper.SetDefault("logging.audit_file", defaults.Logging.AuditFile)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
	m.viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// unmarshalConfig reads viper's merged view into a fresh Config.
func (m *viperConfigManager) unmarshalConfig() *Config {
	cfg := &Config{}

	// Server
	cfg.Server.Host = m.viper.GetString("server.host")
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.GRPCPort = m.viper.GetInt("server.grpc_port")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")
	cfg.Server.ReadTimeoutSeconds = m.viper.GetInt("server.read_timeout_seconds")
	cfg.Server.WriteTimeoutSeconds = m.viper.GetInt("server.write_timeout_seconds")
	cfg.Server.ShutdownTimeoutSeconds = m.viper.GetInt("server.shutdown_timeout_seconds")

	// Detection
	cfg.Detection.Contamination = m.viper.GetFloat64("detection.contamination")
	cfg.Detection.Seed = m.viper.GetInt64("detection.seed")
	cfg.Detection.NumTrees = m.viper.GetInt("detection.num_trees")
	cfg.Detection.SubSampleSize = m.viper.GetInt("detection.sub_sample_size")
	cfg.Detection.ZScoreThreshold = m.viper.GetFloat64("detection.zscore_threshold")
	cfg.Detection.MovingAverageWindow = m.viper.GetInt("detection.moving_average_window")
	cfg.Detection.MovingAverageThreshold = m.viper.GetFloat64("detection.moving_average_threshold")
	cfg.Detection.Quorum = m.viper.GetInt("detection.quorum")
	cfg.Detection.Location = m.viper.GetString("detection.location")

	// Classification
	cfg.Classification.HeatSigma = m.viper.GetFloat64("classification.heat_sigma")
	cfg.Classification.ColdSigma = m.viper.GetFloat64("classification.cold_sigma")
	cfg.Classification.PrecipitationSigma = m.viper.GetFloat64("classification.precipitation_sigma")
	cfg.Classification.DroughtSigma = m.viper.GetFloat64("classification.drought_sigma")
	cfg.Classification.NormsPath = m.viper.GetString("classification.norms_path")

	// Enrichment
	cfg.Enrichment.Enabled = m.viper.GetBool("enrichment.enabled")
	cfg.Enrichment.TimeoutSeconds = m.viper.GetInt("enrichment.timeout_seconds")
	cfg.Enrichment.CacheSize = m.viper.GetInt("enrichment.cache_size")

	// LLM
	cfg.LLM.Provider = m.viper.GetString("llm.provider")
	cfg.LLM.OpenAI = m.viper.GetStringMap("llm.openai")
	cfg.LLM.Anthropic = m.viper.GetStringMap("llm.anthropic")
	cfg.LLM.Ollama = m.viper.GetStringMap("llm.ollama")
	cfg.LLM.Gemini = m.viper.GetStringMap("llm.gemini")
	cfg.LLM.Custom = m.viper.GetStringMap("llm.custom")

	// Database
	cfg.Database.Type = m.viper.GetString("database.type")
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")
	cfg.Database.PostgresURL = m.viper.GetString("database.postgres_url")

	// Events
	cfg.Events.KafkaBrokers = m.viper.GetStringSlice("events.kafka_brokers")
	cfg.Events.KafkaTopic = m.viper.GetString("events.kafka_topic")
	cfg.Events.BreakerMaxFailures = m.viper.GetInt("events.breaker_max_failures")
	cfg.Events.BreakerResetTimeoutSeconds = m.viper.GetInt("events.breaker_reset_timeout_seconds")

	// Archive
	cfg.Archive.Enabled = m.viper.GetBool("archive.enabled")
	cfg.Archive.Bucket = m.viper.GetString("archive.bucket")
	cfg.Archive.Region = m.viper.GetString("archive.region")
	cfg.Archive.Endpoint = m.viper.GetString("archive.endpoint")
	cfg.Archive.Prefix = m.viper.GetString("archive.prefix")
	cfg.Archive.UsePathStyle = m.viper.GetBool("archive.use_path_style")
	cfg.Archive.Schedule = m.viper.GetString("archive.schedule")
	cfg.Archive.BatchSize = m.viper.GetInt("archive.batch_size")

	// Auth
	cfg.Auth.Enabled = m.viper.GetBool("auth.enabled")
	cfg.Auth.JWTSecret = m.viper.GetString("auth.jwt_secret")

	// Rate limit
	cfg.RateLimit.RequestsPerMinute = m.viper.GetInt("rate_limit.requests_per_minute")
	cfg.RateLimit.Burst = m.viper.GetInt("rate_limit.burst")

	// Tracing
	cfg.Tracing.Endpoint = m.viper.GetString("tracing.endpoint")
	cfg.Tracing.SamplingRate = m.viper.GetFloat64("tracing.sampling_rate")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.File = m.viper.GetString("logging.file")
	cfg.Logging.AuditFile = m.viper.GetString("logging.audit_file")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")
	cfg.Logging.Compress = m.viper.GetBool("logging.compress")

	return cfg
}

// applyEnvOverrides applies the provider credential variables, which carry
// no CLIMATE_ prefix.
func applyEnvOverrides(cfg *Config) {
	setKey := func(m *map[string]interface{}, key, env string) {
		v := os.Getenv(env)
		if v == "" {
			return
		}
		if *m == nil {
			*m = make(map[string]interface{})
		}
		(*m)[key] = v
	}
	setKey(&cfg.LLM.OpenAI, "api_key", "OPENAI_API_KEY")
	setKey(&cfg.LLM.Anthropic, "api_key", "ANTHROPIC_API_KEY")
	setKey(&cfg.LLM.Gemini, "api_key", "GEMINI_API_KEY")
	setKey(&cfg.LLM.Ollama, "base_url", "OLLAMA_BASE_URL")
}

// ProviderSetting returns a string setting from a provider map.
func ProviderSetting(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
