package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hackgods/tenant-booking-engine/internal/booking"
)

type RouterConfig struct {
	Scheduler *booking.Scheduler
	Logger    *slog.Logger
	Checks    []DependencyCheck
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{sched: cfg.Scheduler, logger: logger}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(BodyLimitMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/tenants/{tenantID}", func(r chi.Router) {
		r.Get("/services/{serviceID}/slots", h.listSlots)
		r.Get("/customers/{customerID}/bookings", h.listCustomerBookings)

		r.Post("/bookings", h.createBooking)
		r.Get("/bookings/{bookingID}", h.getBooking)
		r.Get("/bookings/{bookingID}/events", h.listEvents)
		r.Post("/bookings/{bookingID}/{action}", h.transition)
	})

	return r
}
