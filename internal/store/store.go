// Package store persists alerts and enforces the deduplication invariant:
// at most one live (active or acknowledged) alert per fingerprint.
//
// The pipeline checks FindLive before creating an alert, but that check is
// only an optimization. Concurrent detection runs can both pass it; Create
// is the authority and rejects the loser with ErrDuplicateFingerprint.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/alert"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/observation"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/spec"
)

var (
	ErrNotFound             = errors.New("alert not found")
	ErrAlreadyExists        = errors.New("alert id already exists")
	ErrDuplicateFingerprint = errors.New("a live alert with this fingerprint already exists")

	// ErrInvalidUpdate rejects an update that changes the fingerprint or
	// revives a resolved alert.
	ErrInvalidUpdate = errors.New("invalid alert update")
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// AlertStore is the alert collection.
type AlertStore interface {
	// Create inserts a new alert. It fails with ErrDuplicateFingerprint
	// when a live alert already carries the same fingerprint.
	Create(ctx context.Context, a *alert.Alert) error
	Get(ctx context.Context, id string) (*alert.Alert, error)
	// FindLive returns the live alert for a fingerprint or ErrNotFound.
	FindLive(ctx context.Context, fingerprint string) (*alert.Alert, error)
	List(ctx context.Context, f Filter) ([]*alert.Alert, error)
	// Update replaces the stored alert. Concurrent updates of one alert
	// are not serialized beyond the single write: the last one wins.
	Update(ctx context.Context, a *alert.Alert) error
	// ListUnarchived returns resolved alerts not yet archived, oldest first.
	ListUnarchived(ctx context.Context, limit int) ([]*alert.Alert, error)
	MarkArchived(ctx context.Context, id string, at time.Time) error
	Ping(ctx context.Context) error
	Close() error
}

// Filter selects alerts. Zero fields do not constrain. Date bounds are
// inclusive YYYY-MM-DD strings.
type Filter struct {
	Status          alert.Status
	Severity        alert.Severity
	Type            alert.Type
	Metric          observation.Metric
	MinAnomalyScore *float64
	DateFrom        string
	DateTo          string
	Limit           int
}

// Match reports whether a satisfies the filter.
func (f Filter) Match(a *alert.Alert) bool {
	if f.Status != "" && a.Status() != f.Status {
		return false
	}
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.Metric != "" && a.Metric != f.Metric {
		return false
	}
	if f.MinAnomalyScore != nil && a.AnomalyScore < *f.MinAnomalyScore {
		return false
	}
	if f.DateFrom != "" && a.Date < f.DateFrom {
		return false
	}
	if f.DateTo != "" && a.Date > f.DateTo {
		return false
	}
	return true
}

// FilterFromSpec converts a platform search filter, validating its enums.
func FilterFromSpec(sf spec.Filter) (Filter, error) {
	f := Filter{MinAnomalyScore: sf.MinAnomalyScore}
	if sf.Status != "" {
		st, err := alert.ParseStatus(sf.Status)
		if err != nil {
			return Filter{}, err
		}
		f.Status = st
	}
	if sf.Severity != "" {
		f.Severity = alert.Severity(strings.ToLower(sf.Severity))
		if !f.Severity.Valid() {
			return Filter{}, fmt.Errorf("unknown severity %q", sf.Severity)
		}
	}
	if sf.AlertType != "" {
		f.Type = alert.Type(strings.ToLower(sf.AlertType))
		if !f.Type.Valid() {
			return Filter{}, fmt.Errorf("unknown alert type %q", sf.AlertType)
		}
	}
	for _, d := range []string{sf.DateFrom, sf.DateTo} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(observation.DateLayout, d); err != nil {
			return Filter{}, fmt.Errorf("invalid date %q: expected %s", d, observation.DateLayout)
		}
	}
	f.DateFrom, f.DateTo = sf.DateFrom, sf.DateTo
	return f, nil
}

// Config selects and configures a backend.
type Config struct {
	Type        string
	SQLitePath  string
	PostgresURL string
}

// Open creates the configured store. An empty type means memory.
func Open(cfg Config) (AlertStore, error) {
	switch strings.ToLower(cfg.Type) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = "climate-alerts.db"
		}
		s, err := NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendPostgres:
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("postgres store requires a connection URL")
		}
		s, err := NewPostgresStore(cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}
