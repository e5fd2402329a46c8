package booking

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hackgods/tenant-booking-engine/internal/calendar"
)

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCompleted BookingStatus = "completed"
	StatusCancelled BookingStatus = "cancelled"
	StatusNoShow    BookingStatus = "no_show"
)

// IsTerminal reports whether no further transition may leave s.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// IsActive reports whether a booking in status s occupies its staff member's time.
func (s BookingStatus) IsActive() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s BookingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

var activeStatuses = []BookingStatus{StatusPending, StatusConfirmed}

type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleStaff, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Actor is whoever asked for a change. The engine never authenticates it, it only
// records it on the ledger.
type Actor struct {
	ID   string
	Role Role
}

// Tenant is a read-only snapshot of a business's scheduling settings.
type Tenant struct {
	ID                   TenantID
	Name                 string
	Timezone             string
	AutoConfirmBookings  bool
	BookingBufferMinutes int
	CreatedAt            time.Time
}

func (t Tenant) Location() (*time.Location, error) {
	return calendar.LoadLocation(t.Timezone)
}

func (t Tenant) Buffer() time.Duration {
	return time.Duration(t.BookingBufferMinutes) * time.Minute
}

type BusinessHours struct {
	TenantID TenantID
	Weekday  time.Weekday
	Open     calendar.TimeOfDay
	Close    calendar.TimeOfDay
	IsOpen   bool
}

func (h BusinessHours) Window() calendar.Window {
	return calendar.Window{Open: h.Open, Close: h.Close}
}

type Service struct {
	ID              ServiceID
	TenantID        TenantID
	Name            string
	DurationMinutes int
	Price           decimal.Decimal
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

type Staff struct {
	ID          StaffID
	TenantID    TenantID
	DisplayName string
	IsActive    bool
	CreatedAt   time.Time
}

type StaffAvailability struct {
	TenantID    TenantID
	StaffID     StaffID
	Weekday     time.Weekday
	Start       calendar.TimeOfDay
	End         calendar.TimeOfDay
	IsAvailable bool
}

func (a StaffAvailability) Window() calendar.Window {
	return calendar.Window{Open: a.Start, Close: a.End}
}

// BlockedSlot excludes a window from booking. A nil StaffID blocks the whole tenant.
type BlockedSlot struct {
	ID        BlockedSlotID
	TenantID  TenantID
	StaffID   *StaffID
	Start     time.Time
	End       time.Time
	Reason    string
	CreatedAt time.Time
}

func (b BlockedSlot) Covers(staffID StaffID) bool {
	return b.StaffID == nil || *b.StaffID == staffID
}

func (b BlockedSlot) Interval() calendar.Interval {
	return calendar.Interval{Start: b.Start, End: b.End}
}

type Booking struct {
	ID         BookingID
	TenantID   TenantID
	ServiceID  ServiceID
	StaffID    StaffID
	CustomerID CustomerID
	Start      time.Time
	End        time.Time
	Status     BookingStatus
	Notes      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (b Booking) Interval() calendar.Interval {
	return calendar.Interval{Start: b.Start, End: b.End}
}

type EventType string

const (
	EventCreated   EventType = "created"
	EventConfirmed EventType = "confirmed"
	EventCancelled EventType = "cancelled"
	EventCompleted EventType = "completed"
	EventNoShow    EventType = "no_show"
)

// BookingEvent is one immutable ledger row. Seq is the event's position in the store
// and orders a booking's history.
type BookingEvent struct {
	Seq        int64
	ID         EventID
	BookingID  BookingID
	TenantID   TenantID
	Type       EventType
	ActorID    string
	ActorRole  Role
	FromStatus BookingStatus
	ToStatus   BookingStatus
	Reason     string
	Metadata   map[string]string
	OccurredAt time.Time
}

// Slot is a bookable (staff, start, end) candidate.
type Slot struct {
	Start   time.Time
	End     time.Time
	StaffID StaffID
}
