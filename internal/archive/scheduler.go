package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule checks a five-field cron expression or descriptor such
// as "@hourly".
func ValidateSchedule(schedule string) error {
	if _, err := scheduleParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %s: %v", schedule, err)
	}
	return nil
}

// Sweeper is what the scheduler runs.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Scheduler runs sweeps on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	timeout time.Duration
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler registers sweeper on schedule. Each run is bounded by
// timeout.
func NewScheduler(schedule string, sweeper Sweeper, timeout time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if err := ValidateSchedule(schedule); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("archive-scheduler")

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(scheduleParser),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		sweeper: sweeper,
		timeout: timeout,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		cancel()
		return nil, fmt.Errorf("schedule archive sweep: %w", err)
	}
	return s, nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	if _, err := s.sweeper.Sweep(ctx); err != nil {
		s.logger.Warn("archive sweep failed", zap.Error(err))
	}
}

// Start begins scheduling in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("archive scheduler started", zap.Time("next_run", s.Next()))
}

// Next returns the next scheduled run, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stop cancels any running sweep and waits for it, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
