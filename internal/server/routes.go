package server

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/api/middleware"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/api/rest"
)

// routes builds the router and wraps it, innermost first, in rate
// limiting, body limits, security headers, compression, panic recovery,
// CORS and tracing.
func (s *Server) routes() http.Handler {
	cfg := s.cfg
	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.StructuredLog(s.logger.Named("http")))

	health := rest.NewHealthHandler(s.store)
	router.HandleFunc("/health", health.Live).Methods(http.MethodGet)
	router.HandleFunc("/ready", health.Ready).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	wsGuard := middleware.RequireAuth(cfg.Auth.JWTSecret, cfg.Auth.Enabled)
	router.Handle("/ws/alerts", wsGuard(http.HandlerFunc(s.hub.ServeWS))).Methods(http.MethodGet)

	opts := []rest.Option{
		rest.WithLogger(s.logger),
		rest.WithClimatology(s.climatology),
	}
	if cfg.Auth.Enabled {
		opts = append(opts, rest.WithAuth(cfg.Auth.JWTSecret))
	}
	rest.NewHandler(s.pipeline, s.lifecycle, s.store, opts...).SetupRoutes(router)

	var h http.Handler = router
	h = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst).Middleware(h)
	h = middleware.MaxBodySize(middleware.DefaultMaxBodyBytes)(h)
	h = middleware.SecureHeaders(h)
	h = handlers.CompressHandler(h)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(s.logger.Named("recovery"))),
		handlers.PrintRecoveryStack(true),
	)(h)

	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	h = cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader, middleware.TraceIDHeader},
		AllowCredentials: true,
	}).Handler(h)

	return middleware.Tracing(h)
}
