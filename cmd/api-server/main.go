package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/hackgods/tenant-booking-engine/internal/api"
	"github.com/hackgods/tenant-booking-engine/internal/app"
	"github.com/hackgods/tenant-booking-engine/internal/booking"
	"github.com/hackgods/tenant-booking-engine/internal/config"
	"github.com/hackgods/tenant-booking-engine/internal/logging"
	"github.com/hackgods/tenant-booking-engine/internal/notify"
	"github.com/hackgods/tenant-booking-engine/internal/seed"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("api-server", cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Error("api-server failed", "err", err)
		os.Exit(1)
	}
	logger.Info("api-server stopped")
}

func run(cfg config.Config, logger *slog.Logger) error {
	logger.Info("api-server starting up", "env", cfg.Env, "http_port", cfg.HTTPPort, "store", cfg.StoreDriver, "version", version)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(rootCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer deps.Close()

	if cfg.SeedDemo {
		if err := seedDemo(rootCtx, deps.Store, logger); err != nil {
			return fmt.Errorf("demo seed: %w", err)
		}
	}

	// Notifications
	var sink notify.Sink = notify.NewLogSink(logger)
	checks := deps.Checks
	if cfg.KafkaBrokers != "" {
		kafkaSink, err := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return fmt.Errorf("kafka sink setup: %w", err)
		}
		defer func() {
			if err := kafkaSink.Close(); err != nil {
				logger.Error("error closing kafka writer", "err", err)
			}
		}()
		sink = kafkaSink
		checks = append(checks, api.DependencyCheck{Name: "kafka", Check: notify.ReadyCheck(cfg.KafkaBrokers)})
		logger.Info("publishing booking changes to kafka", "topic", cfg.KafkaTopic)
	}

	dispatcher := notify.NewDispatcher(sink, cfg.NotifyBuffer, logger)
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(dispatchCtx)
	}()

	sched := booking.NewScheduler(deps.Store, deps.Locker, booking.SchedulerConfig{
		Policy:   app.Policy(cfg),
		Logger:   logger,
		Notifier: dispatcher,
	})

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Scheduler: sched,
			Logger:    logger,
			Checks:    checks,
			Env:       cfg.Env,
			Version:   version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	stopDispatch()
	<-dispatchDone
	if n := dispatcher.Dropped(); n > 0 {
		logger.Warn("notifications dropped during run", "count", n)
	}

	return runErr
}

func seedDemo(ctx context.Context, store app.Store, logger *slog.Logger) error {
	res, err := seed.Demo(ctx, store, seed.Options{})
	if err != nil {
		return err
	}
	for _, td := range res.Tenants {
		services := make([]string, len(td.Services))
		for i, svc := range td.Services {
			services[i] = svc.ID.String()
		}
		staff := make([]string, len(td.Staff))
		for i, st := range td.Staff {
			staff[i] = st.ID.String()
		}
		logger.Info("demo tenant seeded",
			"tenant_id", td.Tenant.ID.String(),
			"timezone", td.Tenant.Timezone,
			"service_ids", services,
			"staff_ids", staff,
		)
	}
	if len(res.Customers) > 0 {
		logger.Info("demo customer", "customer_id", res.Customers[0].String())
	}
	return nil
}
