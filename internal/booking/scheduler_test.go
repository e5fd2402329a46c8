package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hackgods/tenant-booking-engine/internal/calendar"
	redisclient "github.com/hackgods/tenant-booking-engine/internal/redis"
)

type fixture struct {
	store    *MemoryStore
	sched    *Scheduler
	notifier *recordingNotifier
	tenant   Tenant
	service  Service
	staffA   StaffID
	staffB   StaffID
	customer CustomerID
	now      time.Time
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []BookingEvent
}

func (r *recordingNotifier) BookingChanged(_ Booking, ev BookingEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newFixture(t *testing.T, autoConfirm bool) *fixture {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()

	f := &fixture{
		store:    store,
		notifier: &recordingNotifier{},
		customer: NewID[customerKind](),
		now:      time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC),
	}
	f.tenant = Tenant{
		ID:                   NewID[tenantKind](),
		Name:                 "Salon",
		Timezone:             "UTC",
		AutoConfirmBookings:  autoConfirm,
		BookingBufferMinutes: 15,
	}
	f.service = Service{
		ID:              NewID[serviceKind](),
		TenantID:        f.tenant.ID,
		Name:            "Haircut",
		DurationMinutes: 60,
		Price:           decimal.RequireFromString("45.00"),
		IsActive:        true,
	}
	f.staffA, f.staffB = NewID[staffKind](), NewID[staffKind]()
	if f.staffB.Less(f.staffA) {
		f.staffA, f.staffB = f.staffB, f.staffA
	}

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	must(store.SaveTenant(ctx, f.tenant))
	must(store.SaveService(ctx, f.service))
	for _, id := range []StaffID{f.staffA, f.staffB} {
		must(store.SaveStaff(ctx, Staff{ID: id, TenantID: f.tenant.ID, DisplayName: "Stylist", IsActive: true}))
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		must(store.SaveBusinessHours(ctx, BusinessHours{
			TenantID: f.tenant.ID, Weekday: d,
			Open: calendar.MustTimeOfDay("09:00"), Close: calendar.MustTimeOfDay("17:00"),
			IsOpen: d != time.Sunday,
		}))
		for _, id := range []StaffID{f.staffA, f.staffB} {
			must(store.SaveStaffAvailability(ctx, StaffAvailability{
				TenantID: f.tenant.ID, StaffID: id, Weekday: d,
				Start: calendar.MustTimeOfDay("09:00"), End: calendar.MustTimeOfDay("17:00"),
				IsAvailable: true,
			}))
		}
	}

	f.sched = NewScheduler(store, redisclient.NewLocalLocker(time.Second), SchedulerConfig{
		Policy:   DefaultTransitionPolicy(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Notifier: f.notifier,
		Now:      func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) request(staff *StaffID, start time.Time) CreateBookingRequest {
	return CreateBookingRequest{
		TenantID:   f.tenant.ID,
		ServiceID:  f.service.ID,
		StaffID:    staff,
		CustomerID: f.customer,
		Start:      start,
		Actor:      Actor{ID: f.customer.String(), Role: RoleCustomer},
	}
}

func at(hour, min int) time.Time {
	return time.Date(2025, 3, 3, hour, min, 0, 0, time.UTC)
}

func TestGetAvailableSlots(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	slots, err := f.sched.GetAvailableSlots(ctx, f.tenant.ID, f.service.ID, monday, &f.staffA)
	if err != nil {
		t.Fatalf("GetAvailableSlots: %v", err)
	}
	if len(slots) != 8 {
		t.Fatalf("expected 8 hourly slots, got %d", len(slots))
	}

	all, err := f.sched.GetAvailableSlots(ctx, f.tenant.ID, f.service.ID, monday, nil)
	if err != nil {
		t.Fatalf("GetAvailableSlots: %v", err)
	}
	if len(all) != 16 {
		t.Fatalf("expected 16 slots across two staff, got %d", len(all))
	}

	sunday := calendar.Date{Year: 2025, Month: time.March, Day: 2}
	closed, err := f.sched.GetAvailableSlots(ctx, f.tenant.ID, f.service.ID, sunday, nil)
	if err != nil {
		t.Fatalf("GetAvailableSlots: %v", err)
	}
	if len(closed) != 0 {
		t.Fatalf("expected no slots on a closed day, got %d", len(closed))
	}
}

func TestGetAvailableSlots_NotFound(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	if _, err := f.sched.GetAvailableSlots(ctx, NewID[tenantKind](), f.service.ID, monday, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown tenant: expected ErrNotFound, got %v", err)
	}
	if _, err := f.sched.GetAvailableSlots(ctx, f.tenant.ID, NewID[serviceKind](), monday, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown service: expected ErrNotFound, got %v", err)
	}

	f.service.IsActive = false
	if err := f.store.SaveService(ctx, f.service); err != nil {
		t.Fatalf("save service: %v", err)
	}
	if _, err := f.sched.GetAvailableSlots(ctx, f.tenant.ID, f.service.ID, monday, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("inactive service: expected ErrNotFound, got %v", err)
	}
}

func TestCreateBooking_RemovesSlotAndBuffer(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	b, err := f.sched.CreateBooking(ctx, f.request(&f.staffA, at(10, 0)))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	if b.Status != StatusPending {
		t.Fatalf("expected pending, got %s", b.Status)
	}
	if !b.End.Equal(at(11, 0)) {
		t.Fatalf("expected end 11:00, got %s", b.End)
	}

	slots, err := f.sched.GetAvailableSlots(ctx, f.tenant.ID, f.service.ID, monday, &f.staffA)
	if err != nil {
		t.Fatalf("GetAvailableSlots: %v", err)
	}
	got := startTimes(slots, time.UTC)
	want := []string{"11:15", "12:15", "13:15", "14:15", "15:15"}
	if !equalStrings(got, want) {
		t.Fatalf("slots = %v, want %v", got, want)
	}

	// Inside the buffer of the existing booking.
	if _, err := f.sched.CreateBooking(ctx, f.request(&f.staffA, at(11, 10))); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	// Off the walk grid but clear of the buffer.
	if _, err := f.sched.CreateBooking(ctx, f.request(&f.staffA, at(11, 20))); err != nil {
		t.Fatalf("off-grid start: %v", err)
	}
}

func TestCreateBooking_ConcurrentRequestsForSameSlot(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	const attempts = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes, unavailable int

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := f.request(&f.staffA, at(13, 0))
			req.CustomerID = NewID[customerKind]()
			_, err := f.sched.CreateBooking(ctx, req)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSlotUnavailable):
				unavailable++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || unavailable != attempts-1 {
		t.Fatalf("expected 1 success and %d unavailable, got %d and %d", attempts-1, successes, unavailable)
	}
}

func TestCreateBooking_AnyStaffPicksLowestID(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	first, err := f.sched.CreateBooking(ctx, f.request(nil, at(9, 0)))
	if err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if first.StaffID != f.staffA {
		t.Fatalf("expected lowest staff id, got %s", first.StaffID)
	}
	if first.Status != StatusConfirmed {
		t.Fatalf("auto-confirm tenant: expected confirmed, got %s", first.Status)
	}

	second, err := f.sched.CreateBooking(ctx, f.request(nil, at(9, 0)))
	if err != nil {
		t.Fatalf("second booking: %v", err)
	}
	if second.StaffID != f.staffB {
		t.Fatalf("expected the other staff member, got %s", second.StaffID)
	}

	if _, err := f.sched.CreateBooking(ctx, f.request(nil, at(9, 0))); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable once everyone is booked, got %v", err)
	}
}

func TestCreateBooking_Validation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	req := f.request(&f.staffA, at(10, 0))
	req.CustomerID = CustomerID{}
	if _, err := f.sched.CreateBooking(ctx, req); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing customer: expected ErrValidation, got %v", err)
	}

	req = f.request(&f.staffA, at(10, 0))
	req.Actor = Actor{}
	if _, err := f.sched.CreateBooking(ctx, req); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing actor: expected ErrValidation, got %v", err)
	}

	unknown := NewID[staffKind]()
	if _, err := f.sched.CreateBooking(ctx, f.request(&unknown, at(10, 0))); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown staff: expected ErrNotFound, got %v", err)
	}

	// Sunday is closed and 08:00 is before opening.
	if _, err := f.sched.CreateBooking(ctx, f.request(&f.staffA, time.Date(2025, 3, 2, 13, 0, 0, 0, time.UTC))); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("closed day: expected ErrSlotUnavailable, got %v", err)
	}
	if _, err := f.sched.CreateBooking(ctx, f.request(&f.staffA, at(8, 0))); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("before opening: expected ErrSlotUnavailable, got %v", err)
	}
}

func TestCreateBooking_RespectsBlockedSlot(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	err := f.store.SaveBlockedSlot(ctx, BlockedSlot{
		ID:       NewID[blockedSlotKind](),
		TenantID: f.tenant.ID,
		Start:    at(12, 0),
		End:      at(13, 0),
		Reason:   "staff meeting",
	})
	if err != nil {
		t.Fatalf("save block: %v", err)
	}

	if _, err := f.sched.CreateBooking(ctx, f.request(nil, at(12, 0))); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable inside a tenant-wide block, got %v", err)
	}
}

func TestLifecycle_LedgerAndIdempotentCancel(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	staff := Actor{ID: "staff-1", Role: RoleStaff}

	b, err := f.sched.CreateBooking(ctx, f.request(&f.staffA, at(10, 0)))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	if _, err := f.sched.Confirm(ctx, f.tenant.ID, b.ID, staff, ""); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	cancelled, err := f.sched.Cancel(ctx, f.tenant.ID, b.ID, staff, " customer called ")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	_, err = f.sched.Cancel(ctx, f.tenant.ID, b.ID, staff, "")
	var te *TransitionError
	if !errors.As(err, &te) || te.From != StatusCancelled {
		t.Fatalf("second cancel: expected transition error from cancelled, got %v", err)
	}

	events, err := f.sched.ListEvents(ctx, f.tenant.ID, b.ID, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	wantTypes := []EventType{EventCreated, EventConfirmed, EventCancelled}
	if len(events) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d", len(wantTypes), len(events))
	}
	for i, ev := range events {
		if ev.Type != wantTypes[i] {
			t.Fatalf("event %d: expected %s, got %s", i, wantTypes[i], ev.Type)
		}
		if i > 0 {
			if !ev.OccurredAt.After(events[i-1].OccurredAt) {
				t.Fatalf("event %d timestamp not strictly after previous", i)
			}
			if ev.Seq <= events[i-1].Seq {
				t.Fatalf("event %d sequence not increasing", i)
			}
			if ev.FromStatus != events[i-1].ToStatus {
				t.Fatalf("event %d does not chain from previous status", i)
			}
		}
	}
	if events[0].FromStatus != "" || events[0].ToStatus != StatusPending {
		t.Fatalf("unexpected created event statuses: %+v", events[0])
	}
	if events[2].Reason != "customer called" {
		t.Fatalf("expected trimmed reason, got %q", events[2].Reason)
	}

	tail, err := f.sched.ListEvents(ctx, f.tenant.ID, b.ID, events[0].Seq)
	if err != nil {
		t.Fatalf("ListEvents after cursor: %v", err)
	}
	if len(tail) != 2 || tail[0].Type != EventConfirmed {
		t.Fatalf("unexpected events after cursor: %+v", tail)
	}

	if f.notifier.count() != 3 {
		t.Fatalf("expected 3 notifications, got %d", f.notifier.count())
	}

	// The slot is free again.
	if _, err := f.sched.CreateBooking(ctx, f.request(&f.staffA, at(10, 0))); err != nil {
		t.Fatalf("rebook after cancel: %v", err)
	}
}

func TestTransitions_NotFoundAndRoles(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	if _, err := f.sched.Confirm(ctx, f.tenant.ID, NewID[bookingKind](), Actor{ID: "s", Role: RoleStaff}, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	b, err := f.sched.CreateBooking(ctx, f.request(&f.staffA, at(10, 0)))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	if _, err := f.sched.Confirm(ctx, f.tenant.ID, b.ID, Actor{ID: "c", Role: RoleCustomer}, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("customer confirm: expected ErrInvalidTransition, got %v", err)
	}
	// Another tenant cannot see the booking.
	if _, err := f.sched.GetBooking(ctx, NewID[tenantKind](), b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant read: expected ErrNotFound, got %v", err)
	}

	events, err := f.sched.ListEvents(ctx, f.tenant.ID, b.ID, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("rejected transitions must not write events, got %d", len(events))
	}
}

func TestCompleteAndNoShow(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	staff := Actor{ID: "staff-1", Role: RoleStaff}

	first, err := f.sched.CreateBooking(ctx, f.request(&f.staffA, at(9, 0)))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	second, err := f.sched.CreateBooking(ctx, f.request(&f.staffA, at(14, 0)))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	if _, err := f.sched.MarkNoShow(ctx, f.tenant.ID, second.ID, staff, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("no-show before start: expected ErrInvalidTransition, got %v", err)
	}

	f.now = at(15, 30)
	done, err := f.sched.Complete(ctx, f.tenant.ID, first.ID, staff, "")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	noShow, err := f.sched.MarkNoShow(ctx, f.tenant.ID, second.ID, staff, "")
	if err != nil {
		t.Fatalf("MarkNoShow: %v", err)
	}
	if noShow.Status != StatusNoShow {
		t.Fatalf("expected no_show, got %s", noShow.Status)
	}
}

func TestListCustomerBookings_Paging(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	for _, h := range []int{9, 11, 13} {
		if _, err := f.sched.CreateBooking(ctx, f.request(&f.staffA, at(h, 0))); err != nil {
			t.Fatalf("CreateBooking %d:00: %v", h, err)
		}
	}

	page, err := f.sched.ListCustomerBookings(ctx, f.tenant.ID, f.customer, 2, 0)
	if err != nil {
		t.Fatalf("ListCustomerBookings: %v", err)
	}
	if len(page) != 2 || !page[0].Start.Equal(at(13, 0)) {
		t.Fatalf("unexpected first page: %+v", page)
	}

	rest, err := f.sched.ListCustomerBookings(ctx, f.tenant.ID, f.customer, 2, 2)
	if err != nil {
		t.Fatalf("ListCustomerBookings: %v", err)
	}
	if len(rest) != 1 || !rest[0].Start.Equal(at(9, 0)) {
		t.Fatalf("unexpected second page: %+v", rest)
	}

	all, err := f.sched.ListCustomerBookings(ctx, f.tenant.ID, f.customer, 0, -5)
	if err != nil {
		t.Fatalf("ListCustomerBookings: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("default page: expected 3, got %d", len(all))
	}
}

func TestExpireStalePending(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	stale, err := f.sched.CreateBooking(ctx, f.request(&f.staffA, at(9, 0)))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	confirmed, err := f.sched.CreateBooking(ctx, f.request(&f.staffA, at(11, 0)))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	if _, err := f.sched.Confirm(ctx, f.tenant.ID, confirmed.ID, Actor{ID: "s", Role: RoleStaff}, ""); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	f.now = f.now.Add(time.Hour)
	n, err := f.sched.ExpireStalePending(ctx, f.now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("ExpireStalePending: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired booking, got %d", n)
	}

	got, err := f.sched.GetBooking(ctx, f.tenant.ID, stale.ID)
	if err != nil {
		t.Fatalf("GetBooking: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	events, err := f.sched.ListEvents(ctx, f.tenant.ID, stale.ID, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	last := events[len(events)-1]
	if last.ActorRole != RoleSystem || last.Reason != "pending booking expired" {
		t.Fatalf("unexpected expiry event: %+v", last)
	}
}

func (r *recordingNotifier) snapshot() []BookingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]BookingEvent(nil), r.events...)
}

func TestNotifications_MatchStoredLedger(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	staff := Actor{ID: "staff-1", Role: RoleStaff}

	b, err := f.sched.CreateBooking(ctx, f.request(&f.staffA, at(10, 0)))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	// Same clock reading for both writes, so the store has to bump the second timestamp.
	if _, err := f.sched.Confirm(ctx, f.tenant.ID, b.ID, staff, ""); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	ledger, err := f.sched.ListEvents(ctx, f.tenant.ID, b.ID, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	notified := f.notifier.snapshot()
	if len(notified) != len(ledger) {
		t.Fatalf("expected %d notifications, got %d", len(ledger), len(notified))
	}
	for i := range ledger {
		got, want := notified[i], ledger[i]
		if got.ID != want.ID || got.Seq != want.Seq || !got.OccurredAt.Equal(want.OccurredAt) {
			t.Fatalf("notification %d = (id %s, seq %d, at %s), ledger = (id %s, seq %d, at %s)",
				i, got.ID, got.Seq, got.OccurredAt, want.ID, want.Seq, want.OccurredAt)
		}
		if got.Seq == 0 {
			t.Fatalf("notification %d carries no sequence", i)
		}
	}

	current, err := f.sched.GetBooking(ctx, f.tenant.ID, b.ID)
	if err != nil {
		t.Fatalf("GetBooking: %v", err)
	}
	if !current.UpdatedAt.Equal(ledger[1].OccurredAt) {
		t.Fatalf("updated_at %s does not match confirm event %s", current.UpdatedAt, ledger[1].OccurredAt)
	}
}

func TestTransitions_ConcurrentOnOneBooking(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	staff := Actor{ID: "staff-1", Role: RoleStaff}

	b, err := f.sched.CreateBooking(ctx, f.request(&f.staffA, at(10, 0)))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	const attempts = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := map[Action]int{}

	for i := 0; i < attempts; i++ {
		action := ActionConfirm
		if i%2 == 1 {
			action = ActionCancel
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.sched.Apply(ctx, f.tenant.ID, b.ID, action, staff, "")

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded[action]++
			case errors.Is(err, ErrInvalidTransition):
			default:
				t.Errorf("%s: unexpected error: %v", action, err)
			}
		}()
	}
	wg.Wait()

	if succeeded[ActionConfirm] > 1 || succeeded[ActionCancel] > 1 {
		t.Fatalf("an action applied more than once: %v", succeeded)
	}
	successes := succeeded[ActionConfirm] + succeeded[ActionCancel]
	if successes == 0 {
		t.Fatalf("expected at least one transition to succeed")
	}

	events, err := f.sched.ListEvents(ctx, f.tenant.ID, b.ID, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1+successes {
		t.Fatalf("expected %d events for %d successful transitions, got %d", 1+successes, successes, len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].FromStatus != events[i-1].ToStatus {
			t.Fatalf("event %d does not chain from previous status", i)
		}
	}
}

// interleavingRepo lets another writer change the booking between the scheduler's read
// and its compare-and-swap.
type interleavingRepo struct {
	*MemoryStore
	before func()
}

func (r *interleavingRepo) TransitionBooking(ctx context.Context, tenantID TenantID, id BookingID, from, to BookingStatus, ev BookingEvent) (*Booking, BookingEvent, error) {
	if r.before != nil {
		r.before()
		r.before = nil
	}
	return r.MemoryStore.TransitionBooking(ctx, tenantID, id, from, to, ev)
}

func TestTransitions_LostCompareAndSwap(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	staff := Actor{ID: "staff-1", Role: RoleStaff}

	b, err := f.sched.CreateBooking(ctx, f.request(&f.staffA, at(10, 0)))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	repo := &interleavingRepo{MemoryStore: f.store}
	repo.before = func() {
		ev := newEvent(*b, EventCancelled, StatusPending, StatusCancelled, staff, "", f.now)
		if _, _, err := f.store.TransitionBooking(ctx, f.tenant.ID, b.ID, StatusPending, StatusCancelled, ev); err != nil {
			t.Fatalf("competing cancel: %v", err)
		}
	}
	sched := NewScheduler(repo, redisclient.NewLocalLocker(time.Second), SchedulerConfig{
		Policy:   DefaultTransitionPolicy(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Notifier: f.notifier,
		Now:      func() time.Time { return f.now },
	})
	notifiedBefore := f.notifier.count()

	_, err = sched.Confirm(ctx, f.tenant.ID, b.ID, staff, "")
	var te *TransitionError
	if !errors.As(err, &te) || !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected transition error, got %v", err)
	}
	if te.From != StatusCancelled || te.To != StatusConfirmed {
		t.Fatalf("expected cancelled -> confirmed in error, got %s -> %s", te.From, te.To)
	}

	events, err := f.sched.ListEvents(ctx, f.tenant.ID, b.ID, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 || events[1].Type != EventCancelled {
		t.Fatalf("expected created and cancelled events only, got %+v", events)
	}
	if f.notifier.count() != notifiedBefore {
		t.Fatalf("a lost transition must not notify")
	}
}

func TestMemoryStore_TransitionStatusMismatch(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	b, err := f.sched.CreateBooking(ctx, f.request(&f.staffA, at(10, 0)))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	ev := newEvent(*b, EventCompleted, StatusConfirmed, StatusCompleted, Actor{ID: "s", Role: RoleStaff}, "", f.now)
	if _, _, err := f.store.TransitionBooking(ctx, f.tenant.ID, b.ID, StatusConfirmed, StatusCompleted, ev); !errors.Is(err, errStatusChanged) {
		t.Fatalf("expected errStatusChanged, got %v", err)
	}
	events, err := f.store.ListEvents(ctx, f.tenant.ID, b.ID, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("a failed swap must not append, got %d events", len(events))
	}
}

func TestCreateBooking_ConcurrentOverlappingStarts(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	starts := []time.Time{at(10, 0), at(10, 30)}
	const attempts = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes, unavailable int

	for i := 0; i < attempts; i++ {
		start := starts[i%len(starts)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := f.request(&f.staffA, start)
			req.CustomerID = NewID[customerKind]()
			_, err := f.sched.CreateBooking(ctx, req)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSlotUnavailable):
				unavailable++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || unavailable != attempts-1 {
		t.Fatalf("expected 1 success and %d unavailable, got %d and %d", attempts-1, successes, unavailable)
	}

	active, err := f.store.ListActiveBookings(ctx, f.tenant.ID, []StaffID{f.staffA}, at(9, 0), at(12, 0))
	if err != nil {
		t.Fatalf("ListActiveBookings: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected a single active booking, got %d", len(active))
	}
}
