package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"

	"github.com/hackgods/tenant-booking-engine/internal/app"
	"github.com/hackgods/tenant-booking-engine/internal/booking"
	"github.com/hackgods/tenant-booking-engine/internal/config"
	"github.com/hackgods/tenant-booking-engine/internal/logging"
	"github.com/hackgods/tenant-booking-engine/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("expiry-worker", cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Error("expiry-worker failed", "err", err)
		os.Exit(1)
	}
	logger.Info("expiry-worker stopped")
}

func run(cfg config.Config, logger *slog.Logger) error {
	logger.Info("expiry-worker starting up", "env", cfg.Env, "schedule", cfg.ExpirySchedule, "pending_ttl", cfg.PendingTTL)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(rootCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer deps.Close()

	// The dispatcher outlives rootCtx so queued notifications are flushed before exit.
	dispatcher := notify.NewDispatcher(notify.NewLogSink(logger), cfg.NotifyBuffer, logger)
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(dispatchCtx)
	}()
	defer func() {
		stopDispatch()
		<-dispatchDone
		if n := dispatcher.Dropped(); n > 0 {
			logger.Warn("notifications dropped during run", "count", n)
		}
	}()

	sched := booking.NewScheduler(deps.Store, deps.Locker, booking.SchedulerConfig{
		Policy:   app.Policy(cfg),
		Logger:   logger,
		Notifier: dispatcher,
	})

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.ExpirySchedule, func() {
		runOnce(rootCtx, sched, cfg.PendingTTL, logger)
	}); err != nil {
		return fmt.Errorf("invalid expiry schedule: %w", err)
	}

	// Run once at startup
	runOnce(rootCtx, sched, cfg.PendingTTL, logger)
	c.Start()

	<-rootCtx.Done()
	logger.Info("shutdown signal received, stopping expiry worker")
	<-c.Stop().Done()
	return nil
}

func runOnce(ctx context.Context, sched *booking.Scheduler, ttl time.Duration, logger *slog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := sched.ExpireStalePending(runCtx, start.Add(-ttl))
	if err != nil {
		logger.Error("expiry run error", "err", err)
		return
	}
	logger.Info("expiry run complete", "expired", n, "duration_ms", time.Since(start).Milliseconds())
}
