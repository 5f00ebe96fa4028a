// Package lifecycle applies acknowledge and resolve operations to stored
// alerts.
//
// Each operation is a read-modify-write against the store. Concurrent
// acknowledges of the same alert are harmless because acknowledging an
// acknowledged alert is a no-op. Concurrent resolves with different notes
// race: both succeed and the store keeps whichever write lands last.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/alert"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/audit"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/events"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/metrics"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/store"
)

const (
	OpAcknowledge = "acknowledge"
	OpResolve     = "resolve"
)

// ErrInvalidRequest reports an update request that names no operation or
// contradicts itself.
var ErrInvalidRequest = errors.New("invalid update request")

// UpdateRequest is the body of a status update. The fields mirror the
// platform's update shape; any of them may select the operation.
type UpdateRequest struct {
	Status          string `json:"status"`
	Acknowledged    *bool  `json:"acknowledged,omitempty"`
	Resolved        *bool  `json:"resolved,omitempty"`
	ResolutionNotes string `json:"resolution_notes,omitempty"`
}

// Target returns the status the request asks for.
func (r UpdateRequest) Target() (alert.Status, error) {
	var target alert.Status
	if strings.TrimSpace(r.Status) != "" {
		s, err := alert.ParseStatus(r.Status)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		target = s
	}

	resolved := r.Resolved != nil && *r.Resolved
	acknowledged := r.Acknowledged != nil && *r.Acknowledged
	switch {
	case resolved:
		if target != "" && target != alert.StatusResolved {
			return "", fmt.Errorf("%w: resolved=true contradicts status %q", ErrInvalidRequest, target)
		}
		return alert.StatusResolved, nil
	case target != "":
		if target == alert.StatusResolved && r.Resolved != nil {
			return "", fmt.Errorf("%w: resolved=false contradicts status %q", ErrInvalidRequest, target)
		}
		return target, nil
	case acknowledged:
		return alert.StatusAcknowledged, nil
	}
	return "", fmt.Errorf("%w: one of status, acknowledged or resolved is required", ErrInvalidRequest)
}

// Manager runs lifecycle operations.
type Manager struct {
	store     store.AlertStore
	publisher events.Publisher
	audit     audit.Logger
	logger    *zap.Logger
	now       func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

func WithPublisher(p events.Publisher) Option { return func(m *Manager) { m.publisher = p } }

func WithAudit(l audit.Logger) Option { return func(m *Manager) { m.audit = l } }

func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.logger = l } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// NewManager creates a manager over st.
func NewManager(st store.AlertStore, opts ...Option) *Manager {
	m := &Manager{
		store:     st,
		publisher: events.Nop{},
		audit:     audit.NewNopLogger(),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("lifecycle")
	return m
}

// Apply dispatches an update request. Asking for "active" succeeds only
// when the alert is still active, since no transition leads back to it.
func (m *Manager) Apply(ctx context.Context, id string, req UpdateRequest, user string) (*alert.Alert, error) {
	target, err := req.Target()
	if err != nil {
		return nil, err
	}
	switch target {
	case alert.StatusAcknowledged:
		return m.Acknowledge(ctx, id, user)
	case alert.StatusResolved:
		return m.Resolve(ctx, id, req.ResolutionNotes, user)
	}

	a, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status() != alert.StatusActive {
		return nil, &alert.TransitionError{Op: "reactivate", From: a.Status(), Err: alert.ErrInvalidTransition}
	}
	return a, nil
}

// Acknowledge moves an active alert to acknowledged. Acknowledging an
// already acknowledged alert returns it unchanged without a write.
func (m *Manager) Acknowledge(ctx context.Context, id, user string) (*alert.Alert, error) {
	return m.transition(ctx, OpAcknowledge, id, user, func(a *alert.Alert, now time.Time) (bool, error) {
		if a.Status() == alert.StatusAcknowledged {
			return false, nil
		}
		return true, a.Acknowledge(now)
	})
}

// Resolve moves an acknowledged alert to resolved with notes. The state
// check precedes the notes check, so resolving an active alert fails with
// ErrInvalidTransition even when notes are missing.
//
// Resolve does not lock the alert. Two callers resolving the same alert
// with different notes both succeed and the last store write wins.
func (m *Manager) Resolve(ctx context.Context, id, notes, user string) (*alert.Alert, error) {
	return m.transition(ctx, OpResolve, id, user, func(a *alert.Alert, now time.Time) (bool, error) {
		return true, a.Resolve(notes, now)
	})
}

func (m *Manager) transition(ctx context.Context, op, id, user string, apply func(*alert.Alert, time.Time) (bool, error)) (*alert.Alert, error) {
	a, err := m.store.Get(ctx, id)
	if err != nil {
		metrics.LifecycleTransitionsTotal.WithLabelValues(op, resultLabel(err)).Inc()
		return nil, err
	}

	now := m.now()
	changed, err := apply(a, now)
	if err == nil && changed {
		err = m.store.Update(ctx, a)
		if errors.Is(err, store.ErrInvalidUpdate) {
			// Another caller resolved the alert between our read and write.
			err = &alert.TransitionError{Op: op, From: alert.StatusResolved, Err: alert.ErrInvalidTransition}
		}
	}

	metrics.LifecycleTransitionsTotal.WithLabelValues(op, resultLabel(err)).Inc()
	if err != nil {
		var te *alert.TransitionError
		if errors.As(err, &te) {
			_ = m.audit.LogTransition(ctx, op, id, user, err)
			m.logger.Info("transition rejected", zap.String("alert_id", id), zap.String("op", op), zap.Error(err))
		} else {
			m.logger.Error("transition failed", zap.String("alert_id", id), zap.String("op", op), zap.Error(err))
		}
		return nil, err
	}
	if !changed {
		return a, nil
	}

	_ = m.audit.LogTransition(ctx, op, id, user, nil)
	m.logger.Info("alert transitioned",
		zap.String("alert_id", id),
		zap.String("op", op),
		zap.String("status", string(a.Status())),
		zap.String("user", user),
	)
	evType := events.TypeAlertAcknowledged
	if op == OpResolve {
		evType = events.TypeAlertResolved
	}
	if err := m.publisher.Publish(ctx, events.New(evType, a, now)); err != nil {
		m.logger.Warn("failed to publish alert event", zap.String("alert_id", id), zap.Error(err))
	}
	return a, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, alert.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, alert.ErrMissingResolutionNotes):
		return "missing_notes"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
