package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hackgods/tenant-booking-engine/internal/booking"
	"github.com/hackgods/tenant-booking-engine/internal/config"
)

func TestOpen_MemoryStoreWithLocalLocker(t *testing.T) {
	cfg := config.Config{
		StoreDriver: config.StoreMemory,
		LockWait:    time.Second,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps, err := Open(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer deps.Close()

	if _, ok := deps.Store.(*booking.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", deps.Store)
	}
	if deps.Locker == nil {
		t.Fatalf("expected a locker")
	}
	if len(deps.Checks) != 0 {
		t.Fatalf("memory store with local locker should register no checks, got %d", len(deps.Checks))
	}

	ran := false
	err = deps.Locker.WithLock(context.Background(), "staff:test", func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("WithLock ran=%v err=%v", ran, err)
	}
}

func TestPolicy(t *testing.T) {
	got := Policy(config.Config{CompleteRequiresEnd: true, NoShowRequiresStart: false})
	want := booking.TransitionPolicy{CompleteRequiresEnd: true, NoShowRequiresStart: false}
	if got != want {
		t.Fatalf("Policy = %+v, want %+v", got, want)
	}
}
