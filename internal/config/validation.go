package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/archive"
)

// minJWTSecretLength is the shortest HMAC secret accepted when auth is on.
const minJWTSecretLength = 16

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		add("server.grpc_port", "grpc_port must be between 0 and 65535, got %d", c.Server.GRPCPort)
	} else if c.Server.GRPCPort != 0 && c.Server.GRPCPort == c.Server.Port {
		add("server.grpc_port", "grpc_port must differ from port %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSeconds < 1 {
		add("server.read_timeout_seconds", "must be at least 1 second, got %d", c.Server.ReadTimeoutSeconds)
	}
	if c.Server.WriteTimeoutSeconds < 1 {
		add("server.write_timeout_seconds", "must be at least 1 second, got %d", c.Server.WriteTimeoutSeconds)
	}

	// Detection
	if c.Detection.Contamination <= 0 || c.Detection.Contamination > 0.5 {
		add("detection.contamination", "contamination must be in (0, 0.5], got %g", c.Detection.Contamination)
	}
	if c.Detection.NumTrees < 1 {
		add("detection.num_trees", "num_trees must be at least 1, got %d", c.Detection.NumTrees)
	}
	if c.Detection.SubSampleSize < 2 {
		add("detection.sub_sample_size", "sub_sample_size must be at least 2, got %d", c.Detection.SubSampleSize)
	}
	if c.Detection.ZScoreThreshold <= 0 {
		add("detection.zscore_threshold", "zscore_threshold must be positive, got %g", c.Detection.ZScoreThreshold)
	}
	if c.Detection.MovingAverageWindow < 2 {
		add("detection.moving_average_window", "moving_average_window must be at least 2, got %d", c.Detection.MovingAverageWindow)
	}
	if c.Detection.MovingAverageThreshold <= 0 {
		add("detection.moving_average_threshold", "moving_average_threshold must be positive, got %g", c.Detection.MovingAverageThreshold)
	}
	if c.Detection.Quorum < 1 || c.Detection.Quorum > 3 {
		add("detection.quorum", "quorum must be between 1 and 3, got %d", c.Detection.Quorum)
	}

	// Classification
	for field, v := range map[string]float64{
		"classification.heat_sigma":          c.Classification.HeatSigma,
		"classification.cold_sigma":          c.Classification.ColdSigma,
		"classification.precipitation_sigma": c.Classification.PrecipitationSigma,
		"classification.drought_sigma":       c.Classification.DroughtSigma,
	} {
		if v <= 0 {
			add(field, "multiplier must be positive, got %g", v)
		}
	}
	if c.Classification.NormsPath != "" {
		if _, err := os.Stat(c.Classification.NormsPath); os.IsNotExist(err) {
			add("classification.norms_path", "norms file does not exist: %s", c.Classification.NormsPath)
		}
	}

	// Enrichment
	if c.Enrichment.TimeoutSeconds < 1 {
		add("enrichment.timeout_seconds", "timeout must be at least 1 second, got %d", c.Enrichment.TimeoutSeconds)
	}
	if c.Enrichment.CacheSize < 0 {
		add("enrichment.cache_size", "cache_size cannot be negative, got %d", c.Enrichment.CacheSize)
	}

	// LLM. Missing credentials are not an error: enrichment reports itself
	// unavailable and detection continues.
	validProviders := map[string]bool{
		"":          true,
		"none":      true,
		"openai":    true,
		"anthropic": true,
		"ollama":    true,
		"gemini":    true,
		"custom":    true,
	}
	if !validProviders[c.LLM.Provider] {
		add("llm.provider", "invalid provider '%s', must be one of: none, openai, anthropic, ollama, gemini, custom", c.LLM.Provider)
	}
	if c.LLM.Provider == "ollama" && ProviderSetting(c.LLM.Ollama, "base_url") == "" {
		add("llm.ollama.base_url", "Ollama base URL is required")
	}

	// Database
	switch c.Database.Type {
	case "memory":
	case "sqlite":
		if c.Database.SQLitePath == "" {
			add("database.sqlite_path", "sqlite_path is required when database type is sqlite")
		}
	case "postgres":
		if c.Database.PostgresURL == "" {
			add("database.postgres_url", "postgres_url is required when database type is postgres")
		}
	default:
		add("database.type", "invalid database type '%s', must be one of: memory, sqlite, postgres", c.Database.Type)
	}

	// Events
	if len(c.Events.KafkaBrokers) > 0 && strings.TrimSpace(c.Events.KafkaTopic) == "" {
		add("events.kafka_topic", "kafka_topic is required when kafka_brokers are set")
	}
	if c.Events.BreakerMaxFailures < 1 {
		add("events.breaker_max_failures", "breaker_max_failures must be at least 1, got %d", c.Events.BreakerMaxFailures)
	}
	if c.Events.BreakerResetTimeoutSeconds < 1 {
		add("events.breaker_reset_timeout_seconds", "must be at least 1 second, got %d", c.Events.BreakerResetTimeoutSeconds)
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			add("archive.bucket", "bucket is required when archive is enabled")
		}
		if err := archive.ValidateSchedule(c.Archive.Schedule); err != nil {
			add("archive.schedule", "%v", err)
		}
		if c.Archive.BatchSize < 1 {
			add("archive.batch_size", "batch_size must be at least 1, got %d", c.Archive.BatchSize)
		}
	}

	// Auth
	if c.Auth.Enabled && len(c.Auth.JWTSecret) < minJWTSecretLength {
		add("auth.jwt_secret", "jwt_secret must be at least %d characters when auth is enabled", minJWTSecretLength)
	}

	// Rate limit
	if c.RateLimit.RequestsPerMinute < 0 {
		add("rate_limit.requests_per_minute", "cannot be negative, got %d", c.RateLimit.RequestsPerMinute)
	}
	if c.RateLimit.RequestsPerMinute > 0 && c.RateLimit.Burst < 1 {
		add("rate_limit.burst", "burst must be at least 1 when rate limiting is on, got %d", c.RateLimit.Burst)
	}

	// Tracing
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate", "sampling_rate must be between 0 and 1, got %g", c.Tracing.SamplingRate)
	}

	// Logging
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		add("logging.level", "invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		add("logging.format", "invalid log format '%s', must be one of: json, console", c.Logging.Format)
	}

	return errs
}
