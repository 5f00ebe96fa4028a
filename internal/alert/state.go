package alert

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle status name of an alert.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusActive:
		return StatusActive, nil
	case StatusAcknowledged:
		return StatusAcknowledged, nil
	case StatusResolved:
		return StatusResolved, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// State is one of Active, Acknowledged or Resolved.
type State interface {
	Status() Status
	isState()
}

// Active is the initial state set at creation.
type Active struct{}

// Acknowledged records when a human reviewed the alert.
type Acknowledged struct {
	At time.Time
}

// Resolved is terminal. Notes are always non-empty.
type Resolved struct {
	AcknowledgedAt time.Time
	ResolvedAt     time.Time
	Notes          string
}

func (Active) Status() Status       { return StatusActive }
func (Acknowledged) Status() Status { return StatusAcknowledged }
func (Resolved) Status() Status     { return StatusResolved }

func (Active) isState()       {}
func (Acknowledged) isState() {}
func (Resolved) isState()     {}

// Lifecycle errors.
var (
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrMissingResolutionNotes = errors.New("resolution notes are required")
)

// TransitionError describes a rejected lifecycle operation. It unwraps to
// ErrInvalidTransition or ErrMissingResolutionNotes.
type TransitionError struct {
	Op   string
	From Status
	Err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s alert in status %s: %v", e.Op, e.From, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// Acknowledge moves an active alert to acknowledged. Acknowledging an alert
// that is already acknowledged succeeds without changing it, so retried
// calls are harmless. Resolved alerts cannot be acknowledged.
func (a *Alert) Acknowledge(now time.Time) error {
	switch a.State.(type) {
	case nil, Active:
		a.State = Acknowledged{At: now.UTC()}
		a.UpdatedAt = now.UTC()
		return nil
	case Acknowledged:
		return nil
	default:
		return &TransitionError{Op: "acknowledge", From: a.Status(), Err: ErrInvalidTransition}
	}
}

// Resolve moves an acknowledged alert to resolved with the given notes.
// The state check comes first: resolving an active alert is an invalid
// transition whatever the notes.
func (a *Alert) Resolve(notes string, now time.Time) error {
	ack, ok := a.State.(Acknowledged)
	if !ok {
		return &TransitionError{Op: "resolve", From: a.Status(), Err: ErrInvalidTransition}
	}
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return &TransitionError{Op: "resolve", From: StatusAcknowledged, Err: ErrMissingResolutionNotes}
	}
	a.State = Resolved{AcknowledgedAt: ack.At, ResolvedAt: now.UTC(), Notes: notes}
	a.UpdatedAt = now.UTC()
	return nil
}

// ResolutionNotes returns the notes of a resolved alert.
func (a *Alert) ResolutionNotes() (string, bool) {
	if r, ok := a.State.(Resolved); ok {
		return r.Notes, true
	}
	return "", false
}

// AcknowledgedAt returns when the alert was acknowledged, if it was.
func (a *Alert) AcknowledgedAt() (time.Time, bool) {
	switch s := a.State.(type) {
	case Acknowledged:
		return s.At, true
	case Resolved:
		return s.AcknowledgedAt, true
	}
	return time.Time{}, false
}

// ResolvedAt returns when the alert was resolved, if it was.
func (a *Alert) ResolvedAt() (time.Time, bool) {
	if r, ok := a.State.(Resolved); ok {
		return r.ResolvedAt, true
	}
	return time.Time{}, false
}
