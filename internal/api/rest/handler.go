// Package rest exposes the alert pipeline and lifecycle over HTTP.
package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/api/middleware"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/classifier"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/lifecycle"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/pipeline"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/store"
)

// Handler serves the /api/alerts routes.
type Handler struct {
	pipeline    *pipeline.Pipeline
	lifecycle   *lifecycle.Manager
	store       store.AlertStore
	climatology *classifier.Climatology
	logger      *zap.Logger
	now         func() time.Time

	authEnabled bool
	jwtSecret   string
}

// Option customizes a Handler.
type Option func(*Handler)

// WithClimatology makes the classify route use configured norms.
func WithClimatology(c *classifier.Climatology) Option {
	return func(h *Handler) { h.climatology = c }
}

func WithLogger(l *zap.Logger) Option { return func(h *Handler) { h.logger = l } }

func WithClock(now func() time.Time) Option { return func(h *Handler) { h.now = now } }

// WithAuth requires a bearer token signed with secret on mutating routes.
func WithAuth(secret string) Option {
	return func(h *Handler) {
		h.authEnabled = true
		h.jwtSecret = secret
	}
}

// NewHandler creates a new alert handler.
func NewHandler(p *pipeline.Pipeline, lm *lifecycle.Manager, st store.AlertStore, opts ...Option) *Handler {
	h := &Handler{
		pipeline:  p,
		lifecycle: lm,
		store:     st,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.Named("rest")
	return h
}

// SetupRoutes registers the alert routes on router. Detection and status
// updates sit behind auth when it is enabled; reads and the stateless
// classify and search routes do not.
func (h *Handler) SetupRoutes(router *mux.Router) {
	guard := middleware.RequireAuth(h.jwtSecret, h.authEnabled)

	api := router.PathPrefix("/api/alerts").Subrouter()
	api.Handle("/detect", guard(http.HandlerFunc(h.Detect))).Methods(http.MethodPost)
	api.Handle("/update/{id}", guard(http.HandlerFunc(h.Update))).Methods(http.MethodPut)
	api.HandleFunc("/list", h.List).Methods(http.MethodGet)
	api.HandleFunc("/", h.List).Methods(http.MethodGet)
	api.HandleFunc("/get/{id}", h.Get).Methods(http.MethodGet)
	api.HandleFunc("/search", h.Search).Methods(http.MethodPost)
	api.HandleFunc("/summary", h.Summary).Methods(http.MethodGet)
	api.HandleFunc("/prioritize", h.Prioritize).Methods(http.MethodGet)
	api.HandleFunc("/classify", h.Classify).Methods(http.MethodPost)
}

func itoa(i int) string { return strconv.Itoa(i) }
