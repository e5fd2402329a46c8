// Package app wires the store, lock and readiness checks shared by the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hackgods/tenant-booking-engine/internal/api"
	"github.com/hackgods/tenant-booking-engine/internal/booking"
	"github.com/hackgods/tenant-booking-engine/internal/config"
	"github.com/hackgods/tenant-booking-engine/internal/db"
	redisclient "github.com/hackgods/tenant-booking-engine/internal/redis"
)

// Store is what the binaries need from a persistence backend.
type Store interface {
	booking.Repository
	booking.CatalogWriter
}

type Deps struct {
	Store  Store
	Locker redisclient.Locker
	Checks []api.DependencyCheck

	closers []func()
}

// Open connects the configured store and lock backend. Close releases them.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Deps, error) {
	d := &Deps{}

	switch cfg.StoreDriver {
	case config.StoreMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		d.Store = booking.NewMemoryStore()
	default:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		d.closers = append(d.closers, pool.Close)
		logger.Info("connected to postgres")

		if err := db.Migrate(ctx, pool); err != nil {
			d.Close()
			return nil, err
		}
		d.Store = booking.NewPgRepository(pool)
		d.Checks = append(d.Checks, api.DependencyCheck{Name: "postgres", Critical: true, Check: pool.Ping})
	}

	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set, staff locks are local to this process")
		d.Locker = redisclient.NewLocalLocker(cfg.LockWait)
		return d, nil
	}

	rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	d.closers = append(d.closers, func() {
		if err := rdb.Close(); err != nil {
			logger.Error("error closing redis", "err", err)
		}
	})
	logger.Info("connected to redis", "addr", cfg.RedisAddr)

	d.Locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
	d.Checks = append(d.Checks, api.DependencyCheck{Name: "redis", Critical: true, Check: redisclient.ReadyCheck(rdb)})
	return d, nil
}

func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// Policy turns the configured time gates into a transition policy.
func Policy(cfg config.Config) booking.TransitionPolicy {
	return booking.TransitionPolicy{
		CompleteRequiresEnd: cfg.CompleteRequiresEnd,
		NoShowRequiresStart: cfg.NoShowRequiresStart,
	}
}
