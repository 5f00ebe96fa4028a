// Package events fans alert lifecycle changes out to Kafka and websocket
// clients. Publishing is best-effort: a failing sink never fails the
// operation that produced the event.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/alert"
)

// Type names an alert event.
type Type string

const (
	TypeAlertCreated      Type = "alert.created"
	TypeAlertAcknowledged Type = "alert.acknowledged"
	TypeAlertResolved     Type = "alert.resolved"
)

// Event is published for every create, acknowledge and resolve.
type Event struct {
	Type      Type         `json:"type"`
	Alert     *alert.Alert `json:"alert"`
	Timestamp time.Time    `json:"timestamp"`
}

// New builds an event carrying a copy of a.
func New(t Type, a *alert.Alert, now time.Time) Event {
	return Event{Type: t, Alert: a.Clone(), Timestamp: now.UTC()}
}

// Key is the partitioning key: the alert fingerprint.
func (e Event) Key() string {
	if e.Alert == nil {
		return ""
	}
	return e.Alert.Fingerprint
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Multi publishes to every sink and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
