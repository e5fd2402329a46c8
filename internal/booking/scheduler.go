package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hackgods/tenant-booking-engine/internal/calendar"
	redisclient "github.com/hackgods/tenant-booking-engine/internal/redis"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	expiryBatchSize = 500
)

// Notifier receives booking changes after they are committed. Implementations must not
// block the caller.
type Notifier interface {
	BookingChanged(b Booking, ev BookingEvent)
}

type SchedulerConfig struct {
	Policy   TransitionPolicy
	Logger   *slog.Logger
	Notifier Notifier
	Now      func() time.Time
}

// Scheduler is the entry point for availability queries and booking lifecycle changes.
type Scheduler struct {
	repo     Repository
	locker   redisclient.Locker
	ledger   *Ledger
	policy   TransitionPolicy
	logger   *slog.Logger
	notifier Notifier
	now      func() time.Time
}

func NewScheduler(repo Repository, locker redisclient.Locker, cfg SchedulerConfig) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		repo:     repo,
		locker:   locker,
		ledger:   NewLedger(repo),
		policy:   cfg.Policy,
		logger:   cfg.Logger,
		notifier: cfg.Notifier,
		now:      cfg.Now,
	}
}

// GetAvailableSlots lists bookable slots for a service on a date in the tenant's zone.
// It takes no locks; the result is re-validated when a booking is created.
func (s *Scheduler) GetAvailableSlots(ctx context.Context, tenantID TenantID, serviceID ServiceID, date calendar.Date, staffID *StaffID) ([]Slot, error) {
	if date.IsZero() {
		return nil, invalid("date", "is required")
	}
	tenant, svc, err := s.loadTenantService(ctx, tenantID, serviceID)
	if err != nil {
		return nil, err
	}
	if staffID != nil {
		if _, err := s.loadStaff(ctx, tenantID, *staffID); err != nil {
			return nil, err
		}
	}

	plan, err := s.buildPlan(ctx, *tenant, *svc, date, staffID)
	if err != nil {
		return nil, err
	}
	return ResolveSlots(plan), nil
}

type CreateBookingRequest struct {
	TenantID   TenantID
	ServiceID  ServiceID
	StaffID    *StaffID // nil books any available staff member
	CustomerID CustomerID
	Start      time.Time
	Notes      string
	Actor      Actor
}

func (r CreateBookingRequest) validate() error {
	switch {
	case r.TenantID.IsZero():
		return invalid("tenant_id", "is required")
	case r.ServiceID.IsZero():
		return invalid("service_id", "is required")
	case r.CustomerID.IsZero():
		return invalid("customer_id", "is required")
	case r.Start.IsZero():
		return invalid("start", "is required")
	case r.StaffID != nil && r.StaffID.IsZero():
		return invalid("staff_id", "must be a valid id when given")
	}
	return validateActor(r.Actor)
}

// CreateBooking re-validates the requested slot under a per-staff lock and inserts the
// booking with its created event. Without a staff id the lowest-id staff member for
// whom the slot is free is chosen and recorded on the booking.
func (s *Scheduler) CreateBooking(ctx context.Context, req CreateBookingRequest) (*Booking, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	tenant, svc, err := s.loadTenantService(ctx, req.TenantID, req.ServiceID)
	if err != nil {
		return nil, err
	}
	if req.StaffID != nil {
		if _, err := s.loadStaff(ctx, req.TenantID, *req.StaffID); err != nil {
			return nil, err
		}
	}

	loc, err := tenant.Location()
	if err != nil {
		return nil, fmt.Errorf("tenant timezone: %w", err)
	}
	date := calendar.DateOf(req.Start, loc)

	// Unlocked snapshot to pick candidates; each one is checked again under its lock.
	plan, err := s.buildPlan(ctx, *tenant, *svc, date, req.StaffID)
	if err != nil {
		return nil, err
	}
	var candidates []StaffID
	for _, sd := range plan.Staff {
		if CheckSlot(plan, sd, req.Start) {
			candidates = append(candidates, sd.StaffID)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrSlotUnavailable
	}

	var created *Booking
	var createdEvent BookingEvent
	for _, staffID := range candidates {
		err = s.locker.WithLock(ctx, staffLockKey(req.TenantID, staffID), func(lockCtx context.Context) error {
			// Inside the critical section re-check against the current bookings and blocks
			fresh, err := s.buildPlan(lockCtx, *tenant, *svc, date, &staffID)
			if err != nil {
				return err
			}
			if len(fresh.Staff) != 1 || !CheckSlot(fresh, fresh.Staff[0], req.Start) {
				return ErrSlotUnavailable
			}

			now := s.now()
			b := Booking{
				ID:         NewID[bookingKind](),
				TenantID:   req.TenantID,
				ServiceID:  req.ServiceID,
				StaffID:    staffID,
				CustomerID: req.CustomerID,
				Start:      req.Start,
				End:        req.Start.Add(svc.Duration()),
				Status:     InitialStatus(*tenant),
				Notes:      strings.TrimSpace(req.Notes),
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			ev := newEvent(b, EventCreated, "", b.Status, req.Actor, "", now)
			ev.Metadata = map[string]string{
				"service_id":      svc.ID.String(),
				"staff_id":        staffID.String(),
				"start":           b.Start.UTC().Format(time.RFC3339),
				"end":             b.End.UTC().Format(time.RFC3339),
				"staff_selection": staffSelection(req.StaffID),
			}

			guard := bufferBy(b.Interval(), tenant.Buffer())
			out, stored, err := s.repo.CreateBooking(lockCtx, b, ev, guard)
			if err != nil {
				return err
			}
			created, createdEvent = out, stored
			return nil
		})

		if err == nil {
			break
		}
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			err = fmt.Errorf("%w: staff calendar is busy", ErrSlotUnavailable)
		}
		if !errors.Is(err, ErrSlotUnavailable) || req.StaffID != nil {
			return nil, err
		}
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("booking created",
		"booking_id", created.ID.String(),
		"tenant_id", created.TenantID.String(),
		"staff_id", created.StaffID.String(),
		"status", string(created.Status),
	)
	s.notify(*created, createdEvent)
	return created, nil
}

func (s *Scheduler) Confirm(ctx context.Context, tenantID TenantID, id BookingID, actor Actor, reason string) (*Booking, error) {
	return s.transition(ctx, tenantID, id, ActionConfirm, actor, reason)
}

func (s *Scheduler) Cancel(ctx context.Context, tenantID TenantID, id BookingID, actor Actor, reason string) (*Booking, error) {
	return s.transition(ctx, tenantID, id, ActionCancel, actor, reason)
}

func (s *Scheduler) Complete(ctx context.Context, tenantID TenantID, id BookingID, actor Actor, reason string) (*Booking, error) {
	return s.transition(ctx, tenantID, id, ActionComplete, actor, reason)
}

func (s *Scheduler) MarkNoShow(ctx context.Context, tenantID TenantID, id BookingID, actor Actor, reason string) (*Booking, error) {
	return s.transition(ctx, tenantID, id, ActionNoShow, actor, reason)
}

// Apply runs a named action; it is the entry point for callers that route by action.
func (s *Scheduler) Apply(ctx context.Context, tenantID TenantID, id BookingID, action Action, actor Actor, reason string) (*Booking, error) {
	return s.transition(ctx, tenantID, id, action, actor, reason)
}

func (s *Scheduler) transition(ctx context.Context, tenantID TenantID, id BookingID, action Action, actor Actor, reason string) (*Booking, error) {
	b, err := s.repo.GetBooking(ctx, tenantID, id)
	if err != nil {
		return nil, s.wrapLoadErr("load booking", err)
	}

	now := s.now()
	d, err := Decide(*b, action, actor, now, s.policy)
	if err != nil {
		return nil, err
	}

	ev := newEvent(*b, d.Event, d.From, d.To, actor, strings.TrimSpace(reason), now)
	updated, stored, err := s.repo.TransitionBooking(ctx, tenantID, id, d.From, d.To, ev)
	if err != nil {
		if errors.Is(err, errStatusChanged) {
			current := d.From
			if fresh, ferr := s.repo.GetBooking(ctx, tenantID, id); ferr == nil {
				current = fresh.Status
			}
			return nil, &TransitionError{From: current, To: d.To, Reason: "booking changed concurrently"}
		}
		return nil, s.wrapLoadErr("update booking status", err)
	}

	s.logger.Info("booking transitioned",
		"booking_id", id.String(),
		"from", string(d.From),
		"to", string(d.To),
		"actor_id", actor.ID,
	)
	s.notify(*updated, stored)
	return updated, nil
}

func (s *Scheduler) GetBooking(ctx context.Context, tenantID TenantID, id BookingID) (*Booking, error) {
	b, err := s.repo.GetBooking(ctx, tenantID, id)
	if err != nil {
		return nil, s.wrapLoadErr("get booking", err)
	}
	return b, nil
}

// ListEvents returns the booking's ledger after afterSeq (0 for the full history).
func (s *Scheduler) ListEvents(ctx context.Context, tenantID TenantID, id BookingID, afterSeq int64) ([]BookingEvent, error) {
	if _, err := s.GetBooking(ctx, tenantID, id); err != nil {
		return nil, err
	}
	return s.ledger.ListEventsAfter(ctx, tenantID, id, afterSeq)
}

// ListCustomerBookings retrieves a customer's bookings, newest first
func (s *Scheduler) ListCustomerBookings(ctx context.Context, tenantID TenantID, customerID CustomerID, limit, offset int) ([]Booking, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	bookings, err := s.repo.ListBookingsByCustomer(ctx, tenantID, customerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list bookings by customer: %w", err)
	}
	return bookings, nil
}

// ExpireStalePending cancels pending bookings created before cutoff. It is meant to be
// driven by an external schedule and goes through the normal transition table.
func (s *Scheduler) ExpireStalePending(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := s.repo.FindStalePending(ctx, cutoff, expiryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("find stale pending bookings: %w", err)
	}

	actor := Actor{ID: "expiry-worker", Role: RoleSystem}
	expired := 0
	for _, b := range stale {
		_, err := s.Cancel(ctx, b.TenantID, b.ID, actor, "pending booking expired")
		if err != nil {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound) {
				continue
			}
			s.logger.Error("failed to expire booking", "booking_id", b.ID.String(), "err", err)
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *Scheduler) loadTenantService(ctx context.Context, tenantID TenantID, serviceID ServiceID) (*Tenant, *Service, error) {
	tenant, err := s.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, nil, s.wrapLoadErr("load tenant", err)
	}
	svc, err := s.repo.GetService(ctx, tenantID, serviceID)
	if err != nil {
		return nil, nil, s.wrapLoadErr("load service", err)
	}
	if !svc.IsActive {
		return nil, nil, ErrServiceNotFound
	}
	if svc.DurationMinutes <= 0 {
		return nil, nil, invalid("duration", "of the service must be positive")
	}
	return tenant, svc, nil
}

func (s *Scheduler) loadStaff(ctx context.Context, tenantID TenantID, id StaffID) (*Staff, error) {
	st, err := s.repo.GetStaff(ctx, tenantID, id)
	if err != nil {
		return nil, s.wrapLoadErr("load staff", err)
	}
	if !st.IsActive {
		return nil, ErrStaffNotFound
	}
	return st, nil
}

// buildPlan snapshots what slot resolution needs for one date, optionally narrowed to a
// single staff member.
func (s *Scheduler) buildPlan(ctx context.Context, tenant Tenant, svc Service, date calendar.Date, staffID *StaffID) (DayPlan, error) {
	loc, err := tenant.Location()
	if err != nil {
		return DayPlan{}, fmt.Errorf("tenant timezone: %w", err)
	}
	plan := DayPlan{
		Date:     date,
		Location: loc,
		Duration: svc.Duration(),
		Buffer:   tenant.Buffer(),
		Now:      s.now(),
	}

	hours, err := s.repo.GetBusinessHours(ctx, tenant.ID, date.Weekday())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return plan, nil
		}
		return DayPlan{}, fmt.Errorf("load business hours: %w", err)
	}
	plan.Hours = *hours
	if !hours.IsOpen {
		return plan, nil
	}

	rows, err := s.repo.ListStaffAvailability(ctx, tenant.ID, date.Weekday())
	if err != nil {
		return DayPlan{}, fmt.Errorf("load staff availability: %w", err)
	}
	var avail []StaffAvailability
	var ids []StaffID
	for _, a := range rows {
		if !a.IsAvailable || (staffID != nil && a.StaffID != *staffID) {
			continue
		}
		avail = append(avail, a)
		ids = append(ids, a.StaffID)
	}
	if len(avail) == 0 {
		return plan, nil
	}
	sort.Slice(avail, func(i, j int) bool { return avail[i].StaffID.Less(avail[j].StaffID) })

	dayStart, dayEnd := calendar.DayWindow(date, loc)
	from, to := dayStart.Add(-plan.Buffer), dayEnd.Add(plan.Buffer)

	bookings, err := s.repo.ListActiveBookings(ctx, tenant.ID, ids, from, to)
	if err != nil {
		return DayPlan{}, fmt.Errorf("load bookings: %w", err)
	}
	blocks, err := s.repo.ListBlockedSlots(ctx, tenant.ID, from, to)
	if err != nil {
		return DayPlan{}, fmt.Errorf("load blocked slots: %w", err)
	}

	for _, a := range avail {
		plan.Staff = append(plan.Staff, StaffDay{
			StaffID:      a.StaffID,
			Availability: a.Window(),
			Busy:         busyFor(a.StaffID, bookings, blocks),
		})
	}
	return plan, nil
}

// wrapLoadErr keeps domain errors recognisable and adds context to everything else.
func (s *Scheduler) wrapLoadErr(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Scheduler) notify(b Booking, ev BookingEvent) {
	if s.notifier == nil {
		return
	}
	s.notifier.BookingChanged(b, cloneEvent(ev))
}

func staffLockKey(tenantID TenantID, staffID StaffID) string {
	return "staff:" + tenantID.String() + ":" + staffID.String()
}

func staffSelection(requested *StaffID) string {
	if requested == nil {
		return "any"
	}
	return "requested"
}
