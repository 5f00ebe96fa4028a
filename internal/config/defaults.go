package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8080
	cfg.Server.GRPCPort = 9090
	cfg.Server.AllowedOrigins = []string{}
	cfg.Server.ReadTimeoutSeconds = 15
	cfg.Server.WriteTimeoutSeconds = 60
	cfg.Server.ShutdownTimeoutSeconds = 30

	// Detection defaults
	cfg.Detection.Contamination = 0.05
	cfg.Detection.Seed = 42
	cfg.Detection.NumTrees = 100
	cfg.Detection.SubSampleSize = 256
	cfg.Detection.ZScoreThreshold = 3.0
	cfg.Detection.MovingAverageWindow = 30
	cfg.Detection.MovingAverageThreshold = 2.0
	cfg.Detection.Quorum = 2
	cfg.Detection.Location = "Uruguay"

	// Classification defaults
	cfg.Classification.HeatSigma = 2.0
	cfg.Classification.ColdSigma = 2.0
	cfg.Classification.PrecipitationSigma = 2.0
	cfg.Classification.DroughtSigma = 1.5
	cfg.Classification.NormsPath = ""

	// Enrichment defaults
	cfg.Enrichment.Enabled = true
	cfg.Enrichment.TimeoutSeconds = 10
	cfg.Enrichment.CacheSize = 256

	// LLM defaults
	cfg.LLM.Provider = "none"
	cfg.LLM.OpenAI = map[string]interface{}{
		"model": "gpt-4o",
	}
	cfg.LLM.Anthropic = map[string]interface{}{
		"model": "claude-3-5-sonnet-20241022",
	}
	cfg.LLM.Ollama = map[string]interface{}{
		"base_url": "http://localhost:11434",
		"model":    "llama3",
	}
	cfg.LLM.Gemini = map[string]interface{}{
		"model": "gemini-1.5-flash",
	}
	cfg.LLM.Custom = map[string]interface{}{
		"base_url": "",
		"model":    "",
	}

	// Database defaults
	cfg.Database.Type = "memory"
	cfg.Database.SQLitePath = "climate-alerts.db"
	cfg.Database.PostgresURL = ""

	// Events defaults
	cfg.Events.KafkaBrokers = []string{}
	cfg.Events.KafkaTopic = "climate-alerts"
	cfg.Events.BreakerMaxFailures = 5
	cfg.Events.BreakerResetTimeoutSeconds = 30

	// Archive defaults
	cfg.Archive.Enabled = false
	cfg.Archive.Region = "us-east-1"
	cfg.Archive.Prefix = "climate-alerts"
	cfg.Archive.Schedule = "@hourly"
	cfg.Archive.BatchSize = 100

	// Auth defaults
	cfg.Auth.Enabled = false

	// Rate limit defaults
	cfg.RateLimit.RequestsPerMinute = 120
	cfg.RateLimit.Burst = 20

	// Tracing defaults
	cfg.Tracing.Endpoint = ""
	cfg.Tracing.SamplingRate = 1.0

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.File = ""
	cfg.Logging.AuditFile = "logs/audit.log"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.Compress = true

	return cfg
}
