package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	_ "time/tzdata"

	"github.com/hackgods/tenant-booking-engine/internal/api"
	"github.com/hackgods/tenant-booking-engine/internal/app"
	"github.com/hackgods/tenant-booking-engine/internal/booking"
	"github.com/hackgods/tenant-booking-engine/internal/calendar"
	"github.com/hackgods/tenant-booking-engine/internal/config"
	"github.com/hackgods/tenant-booking-engine/internal/logging"
	"github.com/hackgods/tenant-booking-engine/internal/seed"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	CancelRatio  float64
	ConfirmRatio float64
	ReadRatio    float64
	Customers    int
}

// DataPool holds the seeded catalog and the bookings created so far.
type DataPool struct {
	Tenant    booking.Tenant
	Service   booking.Service
	Staff     []booking.StaffID
	Customers []booking.CustomerID
	Date      calendar.Date

	mu       sync.RWMutex
	bookings []string
}

func (dp *DataPool) AddBooking(id string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, id)
}

func (dp *DataPool) RandomBooking(rng *rand.Rand) (string, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return "", false
	}
	return dp.bookings[rng.Intn(len(dp.bookings))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err != nil:
		atomic.AddInt64(&om.Error, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case status < 300:
		atomic.AddInt64(&om.Success, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pick := func(pct int) time.Duration {
		idx := len(latencies) * pct / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return sum / time.Duration(len(latencies)), pick(50), pick(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Slots   OperationMetrics
	Booking OperationMetrics
	Confirm OperationMetrics
	Cancel  OperationMetrics
	Read    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	logger := logging.New("simulate", os.Getenv("LOG_LEVEL"))
	logger.Info("simulator starting")

	violations, err := run(logger)
	if err != nil {
		logger.Error("simulation failed", "err", err)
		os.Exit(1)
	}
	if violations > 0 {
		fmt.Printf("OVERLAP CHECK: %d violations\n", violations)
		os.Exit(2)
	}
	fmt.Println("OVERLAP CHECK: no overlapping active bookings")
}

// run drives the simulation and returns the number of overlapping active bookings found.
func run(logger *slog.Logger) (int, error) {
	baseCfg, err := config.Load()
	if err != nil {
		return 0, fmt.Errorf("config load: %w", err)
	}
	if baseCfg.StoreDriver != config.StorePostgres {
		return 0, errors.New("the simulator seeds through postgres and needs STORE_DRIVER=postgres")
	}

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		return 0, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deps, err := app.Open(ctx, baseCfg, logger)
	if err != nil {
		return 0, fmt.Errorf("startup: %w", err)
	}
	defer deps.Close()

	dataPool, err := prepare(ctx, deps.Store, cfg)
	if err != nil {
		return 0, fmt.Errorf("prepare data: %w", err)
	}
	logger.Info("seeded tenant",
		"tenant_id", dataPool.Tenant.ID.String(),
		"service_id", dataPool.Service.ID.String(),
		"staff", len(dataPool.Staff),
		"date", dataPool.Date.String(),
	)

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	sim.Run(logger)
	sim.PrintReport()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelVerify()
	violations, err := verifyNoOverlaps(verifyCtx, deps.Store, dataPool)
	if err != nil {
		return 0, fmt.Errorf("verification: %w", err)
	}
	return violations, nil
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.2),
		Customers:    getInt("SIM_CUSTOMERS", 200),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ConfirmRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ConfirmRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

// prepare seeds one tenant and picks the next open working day in its zone.
func prepare(ctx context.Context, store app.Store, cfg SimConfig) (*DataPool, error) {
	res, err := seed.Demo(ctx, store, seed.Options{
		Tenants:           1,
		StaffPerTenant:    2,
		ServicesPerTenant: 1,
		Customers:         cfg.Customers,
	})
	if err != nil {
		return nil, err
	}
	td := res.Tenants[0]

	loc, err := td.Tenant.Location()
	if err != nil {
		return nil, err
	}
	date := calendar.DateOf(time.Now(), loc).AddDays(1)
	for date.Weekday() == time.Sunday {
		date = date.AddDays(1)
	}

	dp := &DataPool{
		Tenant:    td.Tenant,
		Service:   td.Services[0],
		Customers: res.Customers,
		Date:      date,
	}
	for _, st := range td.Staff {
		dp.Staff = append(dp.Staff, st.ID)
	}
	return dp, nil
}

func (s *Simulator) Run(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	logger.Info("starting simulation", "duration", s.config.Duration.String(), "workers", s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()

	logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.doTransition(ctx, rng, "cancel", booking.RoleCustomer, &s.metrics.Cancel)
		case r < s.config.BookingRatio+s.config.CancelRatio+s.config.ConfirmRatio:
			s.doTransition(ctx, rng, "confirm", booking.RoleStaff, &s.metrics.Confirm)
		default:
			s.doRead(ctx, rng)
		}
	}
}

func (s *Simulator) tenantURL() string {
	return s.config.APIBaseURL + "/tenants/" + s.pool.Tenant.ID.String()
}

func (s *Simulator) send(ctx context.Context, method, url string, body any, role booking.Role, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("X-Actor-ID", "simulator-"+string(role))
		req.Header.Set("X-Actor-Role", string(role))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	start := time.Now()
	var slots api.SlotsResponse
	url := fmt.Sprintf("%s/services/%s/slots?date=%s", s.tenantURL(), s.pool.Service.ID, s.pool.Date)
	status, err := s.send(ctx, http.MethodGet, url, nil, "", &slots)
	s.metrics.Slots.Record(time.Since(start), status, err)
	if err != nil || len(slots.Slots) == 0 {
		return
	}

	// Crowd onto the earliest slots so requests actually race.
	pick := slots.Slots[rng.Intn(min(3, len(slots.Slots)))]
	req := api.CreateBookingRequest{
		ServiceID:  s.pool.Service.ID.String(),
		CustomerID: s.pool.Customers[rng.Intn(len(s.pool.Customers))].String(),
		Start:      pick.Start,
	}
	if rng.Intn(2) == 0 {
		req.StaffID = pick.StaffID
	}

	start = time.Now()
	var created api.BookingResponse
	status, err = s.send(ctx, http.MethodPost, s.tenantURL()+"/bookings", req, booking.RoleCustomer, &created)
	s.metrics.Booking.Record(time.Since(start), status, err)
	if err == nil && status == http.StatusCreated {
		s.pool.AddBooking(created.ID)
	}
}

func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand, action string, role booking.Role, om *OperationMetrics) {
	id, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	start := time.Now()
	status, err := s.send(ctx, http.MethodPost, s.tenantURL()+"/bookings/"+id+"/"+action, api.TransitionRequest{Reason: "simulated"}, role, nil)
	om.Record(time.Since(start), status, err)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	url := s.tenantURL() + "/bookings/" + id
	if rng.Intn(2) == 0 {
		url += "/events"
	}
	start := time.Now()
	status, err := s.send(ctx, http.MethodGet, url, nil, "", nil)
	s.metrics.Read.Record(time.Since(start), status, err)
}

// verifyNoOverlaps reads the active bookings of the simulated day straight from the
// store and counts pairs closer than the tenant buffer.
func verifyNoOverlaps(ctx context.Context, store app.Store, dp *DataPool) (int, error) {
	loc, err := dp.Tenant.Location()
	if err != nil {
		return 0, err
	}
	from, to := calendar.DayWindow(dp.Date, loc)
	bookings, err := store.ListActiveBookings(ctx, dp.Tenant.ID, dp.Staff, from, to)
	if err != nil {
		return 0, err
	}

	byStaff := map[booking.StaffID][]booking.Booking{}
	for _, b := range bookings {
		byStaff[b.StaffID] = append(byStaff[b.StaffID], b)
	}

	violations := 0
	for _, list := range byStaff {
		for i := range list {
			guard := calendar.ApplyBuffer(list[i].Interval(), dp.Tenant.BookingBufferMinutes)
			for j := i + 1; j < len(list); j++ {
				if guard.Overlaps(list[j].Interval()) {
					violations++
				}
			}
		}
	}
	return violations, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Bookings created: %d\n", len(s.pool.bookings))
	fmt.Println()

	printOperationReport("Slot lookup", &s.metrics.Slots)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read", &s.metrics.Read)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
