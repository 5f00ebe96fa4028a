// Package server wires configuration, the detection pipeline, the alert
// lifecycle and their collaborators into a running process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/analytics/ensemble"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/archive"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/audit"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/breaker"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/classifier"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/config"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/enrichment"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/events"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/lifecycle"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/llm/adapter"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/logging"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/pipeline"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/store"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/tracing"
)

const serviceName = "climate-alerts"

// Server is the climate alert service.
type Server struct {
	cfg     *config.Config
	manager config.ConfigManager

	logger *zap.Logger
	level  zap.AtomicLevel
	audit  audit.Logger

	store       store.AlertStore
	classifier  *classifier.Classifier
	climatology *classifier.Climatology
	pipeline    *pipeline.Pipeline
	lifecycle   *lifecycle.Manager
	hub         *events.Hub
	publisher   events.Publisher
	scheduler   *archive.Scheduler

	httpServer *http.Server
	grpc       *healthServer
	handler    http.Handler

	shutdownTracing func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	running bool
}

// Option customizes a Server.
type Option func(*Server)

// WithConfigManager enables hot reload from the manager's watched file.
func WithConfigManager(m config.ConfigManager) Option {
	return func(s *Server) { s.manager = m }
}

// WithLogger replaces the logger built from the logging section.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server with all components wired together. Nothing
// listens until Start.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{cfg: cfg, ctx: ctx, cancel: cancel, level: zap.NewAtomicLevel()}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initializeComponents(); err != nil {
		s.closeComponents()
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	s.handler = s.routes()
	return s, nil
}

// initializeComponents builds every collaborator from the configuration.
func (s *Server) initializeComponents() error {
	cfg := s.cfg

	// 1. Logging
	if s.logger == nil {
		logger, level, err := logging.New(logging.Config{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			File:       cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		})
		if err != nil {
			return err
		}
		s.logger, s.level = logger, level
	}

	// 2. Audit trail
	s.audit = audit.NewNopLogger()
	if cfg.Logging.AuditFile != "" {
		auditCfg := audit.DefaultConfig()
		auditCfg.AuditLogPath = cfg.Logging.AuditFile
		if cfg.Logging.MaxSizeMB > 0 {
			auditCfg.MaxSize = cfg.Logging.MaxSizeMB
		}
		if cfg.Logging.MaxBackups > 0 {
			auditCfg.MaxBackups = cfg.Logging.MaxBackups
		}
		if cfg.Logging.MaxAgeDays > 0 {
			auditCfg.MaxAge = cfg.Logging.MaxAgeDays
		}
		auditCfg.Compress = cfg.Logging.Compress
		al, err := audit.NewLogger(auditCfg, s.logger)
		if err != nil {
			return fmt.Errorf("audit logger: %w", err)
		}
		s.audit = al
	}

	// 3. Tracing
	shutdown, err := tracing.Init(serviceName, cfg.Tracing.Endpoint, cfg.Tracing.SamplingRate)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	s.shutdownTracing = shutdown

	// 4. Store
	st, err := store.Open(store.Config{
		Type:        cfg.Database.Type,
		SQLitePath:  cfg.Database.SQLitePath,
		PostgresURL: cfg.Database.PostgresURL,
	})
	if err != nil {
		return fmt.Errorf("alert store: %w", err)
	}
	s.store = st

	// 5. Classifier and norms
	cls, err := classifier.New(thresholdsFrom(cfg), s.logger.Named("classifier"))
	if err != nil {
		return err
	}
	s.classifier = cls
	if cfg.Classification.NormsPath != "" {
		clim, err := classifier.LoadClimatology(cfg.Classification.NormsPath)
		if err != nil {
			return err
		}
		s.climatology = clim
	}

	// 6. Event fan-out
	s.hub = events.NewHub(s.ctx, cfg.Server.AllowedOrigins, s.logger)
	publishers := events.Multi{s.hub}
	if len(cfg.Events.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: cfg.Events.KafkaBrokers,
			Topic:   cfg.Events.KafkaTopic,
			Breaker: breakerConfig(cfg),
		}, s.logger)
		if err != nil {
			return fmt.Errorf("kafka publisher: %w", err)
		}
		publishers = append(publishers, kp)
	}
	s.publisher = publishers

	// 7. Pipeline, with enrichment when enabled
	popts := []pipeline.Option{
		pipeline.WithPublisher(s.publisher),
		pipeline.WithAudit(s.audit),
		pipeline.WithLogger(s.logger),
		pipeline.WithClimatology(s.climatology),
	}
	if cfg.Enrichment.Enabled {
		llm, err := adapter.NewLLMAdapter(llmConfig(cfg))
		if err != nil {
			return fmt.Errorf("llm adapter: %w", err)
		}
		enricher, err := enrichment.NewLLMEnricher(llm, cfg.Enrichment.CacheSize, s.logger)
		if err != nil {
			return fmt.Errorf("enricher: %w", err)
		}
		if !enricher.Available() {
			s.logger.Warn("enrichment enabled but no LLM provider is configured; alerts will not be enriched",
				zap.String("provider", cfg.LLM.Provider))
		}
		popts = append(popts, pipeline.WithEnricher(enricher))
	}
	p, err := pipeline.New(pipeline.Config{
		Location:          cfg.Detection.Location,
		EnrichmentTimeout: time.Duration(cfg.Enrichment.TimeoutSeconds) * time.Second,
	}, ensemble.NewScorer(ensembleConfig(cfg)), s.classifier, s.store, popts...)
	if err != nil {
		return err
	}
	s.pipeline = p

	// 8. Lifecycle
	s.lifecycle = lifecycle.NewManager(s.store,
		lifecycle.WithPublisher(s.publisher),
		lifecycle.WithAudit(s.audit),
		lifecycle.WithLogger(s.logger),
	)

	// 9. Archive sweep
	if cfg.Archive.Enabled {
		acfg := archive.Config{
			Bucket:       cfg.Archive.Bucket,
			Region:       cfg.Archive.Region,
			Endpoint:     cfg.Archive.Endpoint,
			Prefix:       cfg.Archive.Prefix,
			UsePathStyle: cfg.Archive.UsePathStyle,
			Schedule:     cfg.Archive.Schedule,
			BatchSize:    cfg.Archive.BatchSize,
			Breaker:      breakerConfig(cfg),
		}
		client, err := archive.NewS3Client(s.ctx, acfg)
		if err != nil {
			return err
		}
		arch, err := archive.New(acfg, s.store, client, s.audit, s.logger)
		if err != nil {
			return err
		}
		sched, err := archive.NewScheduler(acfg.Schedule, arch, 0, s.logger)
		if err != nil {
			return err
		}
		s.scheduler = sched
	}

	// 10. gRPC health
	if cfg.Server.GRPCPort > 0 {
		s.grpc = newHealthServer(cfg.Server.Host, cfg.Server.GRPCPort, s.store, s.logger)
	}
	return nil
}

func thresholdsFrom(cfg *config.Config) classifier.Thresholds {
	return classifier.Thresholds{
		HeatSigma:          cfg.Classification.HeatSigma,
		ColdSigma:          cfg.Classification.ColdSigma,
		PrecipitationSigma: cfg.Classification.PrecipitationSigma,
		DroughtSigma:       cfg.Classification.DroughtSigma,
	}
}

func ensembleConfig(cfg *config.Config) ensemble.Config {
	return ensemble.Config{
		Contamination:          cfg.Detection.Contamination,
		Seed:                   cfg.Detection.Seed,
		NumTrees:               cfg.Detection.NumTrees,
		SubSampleSize:          cfg.Detection.SubSampleSize,
		ZScoreThreshold:        cfg.Detection.ZScoreThreshold,
		MovingAverageWindow:    cfg.Detection.MovingAverageWindow,
		MovingAverageThreshold: cfg.Detection.MovingAverageThreshold,
		Quorum:                 cfg.Detection.Quorum,
	}
}

func breakerConfig(cfg *config.Config) breaker.Config {
	return breaker.Config{
		MaxFailures:  cfg.Events.BreakerMaxFailures,
		ResetTimeout: time.Duration(cfg.Events.BreakerResetTimeoutSeconds) * time.Second,
	}
}

// llmConfig picks the settings map of the selected provider.
func llmConfig(cfg *config.Config) adapter.Config {
	provider := adapter.ProviderType(cfg.LLM.Provider)
	var settings map[string]interface{}
	switch provider {
	case adapter.ProviderOpenAI:
		settings = cfg.LLM.OpenAI
	case adapter.ProviderAnthropic:
		settings = cfg.LLM.Anthropic
	case adapter.ProviderOllama:
		settings = cfg.LLM.Ollama
	case adapter.ProviderGemini:
		settings = cfg.LLM.Gemini
	case adapter.ProviderCustom:
		settings = cfg.LLM.Custom
	case "":
		provider = adapter.ProviderNone
	}
	return adapter.Config{
		Provider: provider,
		APIKey:   config.ProviderSetting(settings, "api_key"),
		BaseURL:  config.ProviderSetting(settings, "base_url"),
		Model:    config.ProviderSetting(settings, "model"),
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start starts the HTTP server, the gRPC health endpoint, the websocket
// hub, the archive schedule and the config watcher.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	cfg := s.cfg
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// The gRPC listener is the only step that can fail, so it binds before
	// any goroutine starts and a failed Start leaves nothing running.
	if s.grpc != nil {
		if err := s.grpc.Start(); err != nil {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return fmt.Errorf("start gRPC health server: %w", err)
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	if s.scheduler != nil {
		s.scheduler.Start()
		s.logger.Info("archive sweep scheduled", zap.Time("next", s.scheduler.Next()))
	}

	if s.manager != nil {
		updates := s.manager.Watch(s.ctx)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.watchConfig(updates)
		}()
	}

	_ = s.audit.Log(s.ctx, audit.NewEvent(audit.EventServerStarted).
		WithResult(audit.ResultSuccess).
		WithMetadata("addr", s.httpServer.Addr).
		WithMetadata("database", cfg.Database.Type).
		WithMetadata("llm_provider", cfg.LLM.Provider))

	s.logger.Info("climate alert server started",
		zap.String("database", cfg.Database.Type),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Bool("enrichment", cfg.Enrichment.Enabled),
		zap.Bool("archive", cfg.Archive.Enabled),
		zap.Bool("auth", cfg.Auth.Enabled),
	)
	return nil
}

// Stop gracefully stops the server within ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping climate alert server")
	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.grpc != nil {
		s.grpc.Stop()
	}
	if s.scheduler != nil {
		if err := s.scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("archive scheduler: %w", err))
		}
	}
	s.hub.Stop()

	_ = s.audit.Log(ctx, audit.NewEvent(audit.EventServerShutdown).WithResult(audit.ResultSuccess))

	s.cancel()
	s.wg.Wait()
	if err := s.closeComponents(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// closeComponents releases what initializeComponents acquired. It is safe
// on a partially initialized server.
func (s *Server) closeComponents() error {
	var errs []error
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit: %w", err))
		}
	}
	if s.shutdownTracing != nil {
		s.shutdownTracing()
	}
	if s.logger != nil {
		_ = s.logger.Sync()
	}
	return errors.Join(errs...)
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
