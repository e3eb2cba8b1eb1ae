package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"studioflow/production-portal/production-portal-backend/internal/payments"
	"studioflow/production-portal/production-portal-backend/internal/projects"
)

// Result counts the rows removed by one purge.
type Result struct {
	projects.PurgeResult
	Payments int64 `json:"payments"`
}

// Purger hard-deletes records whose deletion horizon has passed.
type Purger struct {
	projects projects.Repository
	payments payments.Repository
	schedule string
	cron     *cron.Cron
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
}

func NewPurger(projectRepo projects.Repository, paymentRepo payments.Repository, schedule string, logger *zap.Logger) *Purger {
	if schedule == "" {
		schedule = "@daily"
	}
	return &Purger{
		projects: projectRepo,
		payments: paymentRepo,
		schedule: schedule,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:   logger,
		now:      time.Now,
	}
}

// Purge removes everything that expired before now. Settled payments are
// never removed.
func (p *Purger) Purge(ctx context.Context, now time.Time) (Result, error) {
	var result Result

	pr, err := p.projects.PurgeExpired(ctx, now)
	if err != nil {
		return result, err
	}
	result.PurgeResult = pr

	n, err := p.payments.PurgeExpired(ctx, now)
	if err != nil {
		return result, err
	}
	result.Payments = n

	p.logger.Info("Retention purge finished",
		zap.Int64("projects", result.Projects),
		zap.Int64("work_items", result.WorkItems),
		zap.Int64("corrections", result.Corrections),
		zap.Int64("payments", result.Payments))
	return result, nil
}

// Start schedules the purge.
func (p *Purger) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("retention purger already running")
	}

	_, err := p.cron.AddFunc(p.schedule, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := p.Purge(ctx, p.now().UTC()); err != nil {
			p.logger.Error("Retention purge failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", p.schedule, err)
	}
	p.cron.Start()
	p.running = true

	p.logger.Info("Retention purger started", zap.String("schedule", p.schedule))
	return nil
}

func (p *Purger) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	<-p.cron.Stop().Done()
}
