// Package breaker is a small circuit breaker guarding best-effort writes to
// external sinks (Kafka, S3).
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/metrics"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var ErrOpen = errors.New("circuit breaker is open; fast-fail")

// Config holds the breaker tunables.
type Config struct {
	MaxFailures  int           // consecutive failures before opening
	ResetTimeout time.Duration // how long to stay open before a trial call
}

// DefaultConfig opens after 5 failures and retries after 30s.
func DefaultConfig() Config {
	return Config{MaxFailures: 5, ResetTimeout: 30 * time.Second}
}

type Breaker struct {
	name   string
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       State
	recentFails int
	openedAt    time.Time
	trialInUse  bool
}

// New creates a closed breaker. Zero config fields take DefaultConfig values.
func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	def := DefaultConfig()
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger.With(zap.String("breaker", name)),
		now:    time.Now,
		state:  Closed,
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(Closed))
	return b
}

// Execute runs op unless the breaker is open. After ResetTimeout one trial
// call is let through (half-open); its outcome closes or reopens the breaker.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := op(ctx)
	if err == nil {
		b.onSuccess()
		return nil
	}
	b.onFailure(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return ErrOpen
		}
		b.setStateLocked(HalfOpen)
		b.trialInUse = true
		return nil
	case HalfOpen:
		if b.trialInUse {
			return ErrOpen
		}
		b.trialInUse = true
	}
	return nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recentFails = 0
	b.trialInUse = false
	if b.state != Closed {
		b.setStateLocked(Closed)
	}
}

func (b *Breaker) onFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recentFails++
	b.trialInUse = false
	b.logger.Warn("operation failed", zap.Int("failures", b.recentFails), zap.Error(err))
	if b.state == HalfOpen || b.recentFails >= b.cfg.MaxFailures {
		b.openedAt = b.now()
		b.setStateLocked(Open)
	}
}

func (b *Breaker) setStateLocked(s State) {
	if b.state == s {
		return
	}
	b.logger.Info("breaker state change", zap.Stringer("from", b.state), zap.Stringer("to", s))
	b.state = s
	metrics.CircuitBreakerState.WithLabelValues(b.name).Set(float64(s))
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }
