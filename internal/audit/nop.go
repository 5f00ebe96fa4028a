package audit

import (
	"context"
	"time"
)

// NewNopLogger returns a Logger that discards every event.
func NewNopLogger() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Log(context.Context, *Event) error { return nil }

func (nopLogger) LogDetectionCompleted(context.Context, string, int, time.Duration) error {
	return nil
}

func (nopLogger) LogDetectionFailed(context.Context, string, error) error { return nil }

func (nopLogger) LogAlertCreated(context.Context, string, string, string) error { return nil }

func (nopLogger) LogDuplicateSkipped(context.Context, string, string) error { return nil }

func (nopLogger) LogAlertVetoed(context.Context, string, string) error { return nil }

func (nopLogger) LogEnrichmentDegraded(context.Context, string, error) error { return nil }

func (nopLogger) LogTransition(context.Context, string, string, string, error) error {
	return nil
}

func (nopLogger) Sync() error { return nil }

func (nopLogger) Close() error { return nil }
