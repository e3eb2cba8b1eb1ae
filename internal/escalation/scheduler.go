package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs the sweeper on a fixed interval.
type Scheduler struct {
	sweeper  *Sweeper
	cron     *cron.Cron
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	entry   cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(sweeper *Sweeper, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DiscardLogger),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
	}
}

// Start schedules the sweep. Sweeps stop when ctx is cancelled or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("escalation scheduler already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	entry, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.run)
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	s.entry = entry
	s.cron.Start()
	s.running = true

	s.logger.Info("Escalation scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Stop cancels running sweeps and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cron.Remove(s.entry)
	s.mu.Unlock()

	cancel()
	<-s.cron.Stop().Done()

	s.logger.Info("Escalation scheduler stopped")
}

// RunOnce performs a single sweep outside the schedule.
func (s *Scheduler) RunOnce(ctx context.Context) (SweepResult, error) {
	return s.sweeper.Sweep(ctx, s.now().UTC())
}

func (s *Scheduler) run() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if _, err := s.sweeper.Sweep(ctx, s.now().UTC()); err != nil {
		s.logger.Error("Deadline sweep failed", zap.Error(err))
	}
}
