package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/hackgods/tenant-booking-engine/internal/app"
	"github.com/hackgods/tenant-booking-engine/internal/config"
	"github.com/hackgods/tenant-booking-engine/internal/logging"
	"github.com/hackgods/tenant-booking-engine/internal/seed"
)

type summary struct {
	TenantID  string   `json:"tenant_id"`
	Name      string   `json:"name"`
	Timezone  string   `json:"timezone"`
	Services  []string `json:"service_ids"`
	Staff     []string `json:"staff_ids"`
	Customers []string `json:"customer_ids,omitempty"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewWithWriter(os.Stderr, "seed", cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Error("seed failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	logger.Info("seed starting")

	if cfg.StoreDriver != config.StorePostgres {
		return errors.New("seeding needs STORE_DRIVER=postgres; the memory store does not outlive this process")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deps, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer deps.Close()

	res, err := seed.Demo(ctx, deps.Store, seed.Options{
		Tenants:           getInt("SEED_TENANTS", 1),
		StaffPerTenant:    getInt("SEED_STAFF", 3),
		ServicesPerTenant: getInt("SEED_SERVICES", 3),
		Customers:         getInt("SEED_CUSTOMERS", 20),
	})
	if err != nil {
		return err
	}

	customers := make([]string, len(res.Customers))
	for i, c := range res.Customers {
		customers[i] = c.String()
	}

	out := make([]summary, 0, len(res.Tenants))
	for i, td := range res.Tenants {
		s := summary{TenantID: td.Tenant.ID.String(), Name: td.Tenant.Name, Timezone: td.Tenant.Timezone}
		for _, svc := range td.Services {
			s.Services = append(s.Services, svc.ID.String())
		}
		for _, st := range td.Staff {
			s.Staff = append(s.Staff, st.ID.String())
		}
		if i == 0 {
			s.Customers = customers
		}
		out = append(out, s)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	logger.Info("seed complete", "tenants", len(res.Tenants))
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
