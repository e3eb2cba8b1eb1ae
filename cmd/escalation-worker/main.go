package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"studioflow/production-portal/production-portal-backend/internal/app"
	"studioflow/production-portal/production-portal-backend/internal/config"
	"studioflow/production-portal/production-portal-backend/pkg/logger"
)

// The worker runs the deadline sweep and the retention purge for
// deployments that keep them out of the API process.
func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	zl, err := logger.New(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("Failed to initialize worker", zap.Error(err))
	}
	defer a.Close()

	if *once {
		a.Dispatcher.Start(ctx)
		res, err := a.Scheduler.RunOnce(ctx)
		if err != nil {
			zl.Error("Sweep failed", zap.Error(err))
			return
		}
		zl.Info("Sweep done", zap.Int("checked", res.Checked), zap.Int("fired", res.Fired))
		return
	}

	if err := a.StartBackground(ctx, true); err != nil {
		zl.Fatal("Failed to start worker", zap.Error(err))
	}
	zl.Info("Escalation worker started", zap.Duration("interval", cfg.Escalation.Interval.Duration))

	<-ctx.Done()
	zl.Info("Escalation worker shutting down")
}
