package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hackgods/tenant-booking-engine/internal/calendar"
)

type weekdayKey struct {
	tenant TenantID
	day    time.Weekday
}

type staffDayKey struct {
	staff StaffID
	day   time.Weekday
}

// MemoryStore keeps everything in process. It backs single-node runs and tests and
// honours the same unit-of-work guarantees as the postgres store.
type MemoryStore struct {
	mu sync.RWMutex

	tenants      map[TenantID]Tenant
	services     map[ServiceID]Service
	staff        map[StaffID]Staff
	hours        map[weekdayKey]BusinessHours
	availability map[staffDayKey]StaffAvailability
	blocks       map[BlockedSlotID]BlockedSlot
	bookings     map[BookingID]Booking
	events       map[BookingID][]BookingEvent
	seq          int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:      make(map[TenantID]Tenant),
		services:     make(map[ServiceID]Service),
		staff:        make(map[StaffID]Staff),
		hours:        make(map[weekdayKey]BusinessHours),
		availability: make(map[staffDayKey]StaffAvailability),
		blocks:       make(map[BlockedSlotID]BlockedSlot),
		bookings:     make(map[BookingID]Booking),
		events:       make(map[BookingID][]BookingEvent),
	}
}

func (m *MemoryStore) SaveTenant(_ context.Context, t Tenant) error {
	if t.ID.IsZero() {
		return invalid("tenant_id", "is required")
	}
	if _, err := t.Location(); err != nil {
		return invalid("timezone", "is not a known IANA zone")
	}
	if t.BookingBufferMinutes < 0 {
		return invalid("booking_buffer_minutes", "must not be negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = t
	return nil
}

func (m *MemoryStore) SaveService(_ context.Context, s Service) error {
	if s.ID.IsZero() {
		return invalid("service_id", "is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[s.ID] = s
	return nil
}

func (m *MemoryStore) SaveStaff(_ context.Context, s Staff) error {
	if s.ID.IsZero() {
		return invalid("staff_id", "is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staff[s.ID] = s
	return nil
}

func (m *MemoryStore) SaveBusinessHours(_ context.Context, h BusinessHours) error {
	if h.IsOpen && !h.Window().Valid() {
		return invalid("business_hours", "close must be after open")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hours[weekdayKey{tenant: h.TenantID, day: h.Weekday}] = h
	return nil
}

func (m *MemoryStore) SaveStaffAvailability(_ context.Context, a StaffAvailability) error {
	if a.IsAvailable && !a.Window().Valid() {
		return invalid("staff_availability", "end must be after start")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.availability[staffDayKey{staff: a.StaffID, day: a.Weekday}] = a
	return nil
}

func (m *MemoryStore) SaveBlockedSlot(_ context.Context, b BlockedSlot) error {
	if !b.Interval().Valid() {
		return invalid("blocked_slot", "end must be after start")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[b.ID] = b
	return nil
}

func (m *MemoryStore) GetTenant(_ context.Context, id TenantID) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return &t, nil
}

func (m *MemoryStore) GetService(_ context.Context, tenantID TenantID, id ServiceID) (*Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.services[id]
	if !ok || s.TenantID != tenantID {
		return nil, ErrServiceNotFound
	}
	return &s, nil
}

func (m *MemoryStore) GetStaff(_ context.Context, tenantID TenantID, id StaffID) (*Staff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.staff[id]
	if !ok || s.TenantID != tenantID {
		return nil, ErrStaffNotFound
	}
	return &s, nil
}

func (m *MemoryStore) GetBusinessHours(_ context.Context, tenantID TenantID, day time.Weekday) (*BusinessHours, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hours[weekdayKey{tenant: tenantID, day: day}]
	if !ok {
		return nil, ErrNotFound
	}
	return &h, nil
}

func (m *MemoryStore) ListStaffAvailability(_ context.Context, tenantID TenantID, day time.Weekday) ([]StaffAvailability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []StaffAvailability
	for k, a := range m.availability {
		if k.day != day || a.TenantID != tenantID {
			continue
		}
		if st, ok := m.staff[a.StaffID]; !ok || !st.IsActive {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StaffID.Less(out[j].StaffID) })
	return out, nil
}

func (m *MemoryStore) ListActiveBookings(_ context.Context, tenantID TenantID, staffIDs []StaffID, from, to time.Time) ([]Booking, error) {
	want := make(map[StaffID]bool, len(staffIDs))
	for _, id := range staffIDs {
		want[id] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Booking
	for _, b := range m.bookings {
		if b.TenantID != tenantID || !want[b.StaffID] || !b.Status.IsActive() {
			continue
		}
		if calendar.Overlaps(b.Start, b.End, from, to) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *MemoryStore) ListBlockedSlots(_ context.Context, tenantID TenantID, from, to time.Time) ([]BlockedSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []BlockedSlot
	for _, bl := range m.blocks {
		if bl.TenantID == tenantID && calendar.Overlaps(bl.Start, bl.End, from, to) {
			out = append(out, bl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *MemoryStore) GetBooking(_ context.Context, tenantID TenantID, id BookingID) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok || b.TenantID != tenantID {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

func (m *MemoryStore) ListBookingsByCustomer(_ context.Context, tenantID TenantID, customerID CustomerID, limit, offset int) ([]Booking, error) {
	m.mu.RLock()
	var all []Booking
	for _, b := range m.bookings {
		if b.TenantID == tenantID && b.CustomerID == customerID {
			all = append(all, b)
		}
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].Start.Equal(all[j].Start) {
			return all[i].Start.After(all[j].Start)
		}
		return all[i].ID.Less(all[j].ID)
	})
	if offset >= len(all) {
		return []Booking{}, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryStore) CreateBooking(_ context.Context, b Booking, ev BookingEvent, guard calendar.Interval) (*Booking, BookingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bookings[b.ID]; exists {
		return nil, BookingEvent{}, invalid("booking_id", "already exists")
	}
	for _, other := range m.bookings {
		if other.TenantID != b.TenantID || other.StaffID != b.StaffID || !other.Status.IsActive() {
			continue
		}
		if guard.Overlaps(other.Interval()) {
			return nil, BookingEvent{}, ErrSlotUnavailable
		}
	}

	m.bookings[b.ID] = b
	stored := m.appendEvent(ev)
	return &b, stored, nil
}

func (m *MemoryStore) TransitionBooking(_ context.Context, tenantID TenantID, id BookingID, from, to BookingStatus, ev BookingEvent) (*Booking, BookingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[id]
	if !ok || b.TenantID != tenantID {
		return nil, BookingEvent{}, ErrBookingNotFound
	}
	if b.Status != from {
		return nil, BookingEvent{}, errStatusChanged
	}

	stored := m.appendEvent(ev)
	b.Status = to
	b.UpdatedAt = stored.OccurredAt
	m.bookings[id] = b
	return &b, stored, nil
}

// appendEvent stores ev and returns it as recorded. It must be called with mu held.
func (m *MemoryStore) appendEvent(ev BookingEvent) BookingEvent {
	history := m.events[ev.BookingID]
	var last time.Time
	if n := len(history); n > 0 {
		last = history[n-1].OccurredAt
	}
	m.seq++
	ev = cloneEvent(ev)
	ev.Seq = m.seq
	ev.OccurredAt = nextEventTime(last, ev.OccurredAt)
	m.events[ev.BookingID] = append(history, ev)
	return cloneEvent(ev)
}

func (m *MemoryStore) ListEvents(_ context.Context, tenantID TenantID, bookingID BookingID, afterSeq int64) ([]BookingEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []BookingEvent{}
	for _, ev := range m.events[bookingID] {
		if ev.TenantID == tenantID && ev.Seq > afterSeq {
			out = append(out, cloneEvent(ev))
		}
	}
	return out, nil
}

func (m *MemoryStore) FindStalePending(_ context.Context, createdBefore time.Time, limit int) ([]Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Booking
	for _, b := range m.bookings {
		if b.Status == StatusPending && b.CreatedAt.Before(createdBefore) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var (
	_ Repository    = (*MemoryStore)(nil)
	_ CatalogWriter = (*MemoryStore)(nil)
)
