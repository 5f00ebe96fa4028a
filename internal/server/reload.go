package server

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/audit"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/config"
)

// watchConfig applies reloaded configurations until the channel closes or
// the server stops.
func (s *Server) watchConfig(updates <-chan config.Config) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			s.applyConfig(cfg)
		}
	}
}

// applyConfig hot-applies the settings that can change without a restart:
// classification thresholds and the log level. Everything else needs one.
func (s *Server) applyConfig(cfg config.Config) {
	event := audit.NewEvent(audit.EventConfigReloaded)

	if err := s.classifier.SetThresholds(thresholdsFrom(&cfg)); err != nil {
		s.logger.Warn("reloaded thresholds rejected", zap.Error(err))
		_ = s.audit.Log(s.ctx, event.WithResult(audit.ResultFailure).WithError(err, "invalid_thresholds"))
		return
	}
	if lvl, err := zapcore.ParseLevel(strings.ToLower(cfg.Logging.Level)); err == nil {
		s.level.SetLevel(lvl)
	}

	s.mu.Lock()
	s.cfg.Classification = cfg.Classification
	s.cfg.Logging.Level = cfg.Logging.Level
	s.mu.Unlock()

	t := s.classifier.Thresholds()
	s.logger.Info("configuration reloaded",
		zap.Float64("heat_sigma", t.HeatSigma),
		zap.Float64("cold_sigma", t.ColdSigma),
		zap.Float64("precipitation_sigma", t.PrecipitationSigma),
		zap.Float64("drought_sigma", t.DroughtSigma),
		zap.String("log_level", cfg.Logging.Level),
	)
	_ = s.audit.Log(s.ctx, event.WithResult(audit.ResultSuccess).
		WithMetadata("heat_sigma", t.HeatSigma).
		WithMetadata("cold_sigma", t.ColdSigma).
		WithMetadata("precipitation_sigma", t.PrecipitationSigma).
		WithMetadata("drought_sigma", t.DroughtSigma).
		WithMetadata("log_level", cfg.Logging.Level))
}
