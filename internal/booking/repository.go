package booking

import (
	"context"
	"time"

	"github.com/hackgods/tenant-booking-engine/internal/calendar"
)

// TenantProvider hands out tenant configuration snapshots.
type TenantProvider interface {
	GetTenant(ctx context.Context, id TenantID) (*Tenant, error)
}

// EventStore is the persistence side of the ledger. It has no update or delete.
type EventStore interface {
	// ListEvents returns the events of bookingID with Seq > afterSeq, oldest first.
	ListEvents(ctx context.Context, tenantID TenantID, bookingID BookingID, afterSeq int64) ([]BookingEvent, error)
}

// Repository contains all store interactions needed by the scheduling service.
type Repository interface {
	TenantProvider
	EventStore

	GetService(ctx context.Context, tenantID TenantID, id ServiceID) (*Service, error)
	GetStaff(ctx context.Context, tenantID TenantID, id StaffID) (*Staff, error)

	// GetBusinessHours returns ErrNotFound when no row exists for the weekday.
	GetBusinessHours(ctx context.Context, tenantID TenantID, day time.Weekday) (*BusinessHours, error)
	// ListStaffAvailability returns the availability rows of active staff for the weekday.
	ListStaffAvailability(ctx context.Context, tenantID TenantID, day time.Weekday) ([]StaffAvailability, error)

	// For conflict checks. Both return rows overlapping [from, to).
	ListActiveBookings(ctx context.Context, tenantID TenantID, staffIDs []StaffID, from, to time.Time) ([]Booking, error)
	ListBlockedSlots(ctx context.Context, tenantID TenantID, from, to time.Time) ([]BlockedSlot, error)

	GetBooking(ctx context.Context, tenantID TenantID, id BookingID) (*Booking, error)
	ListBookingsByCustomer(ctx context.Context, tenantID TenantID, customerID CustomerID, limit, offset int) ([]Booking, error)

	// CreateBooking inserts b together with its created event as one unit. Inside that
	// unit it re-checks that no active booking of b.StaffID overlaps guard and returns
	// ErrSlotUnavailable otherwise. The returned event carries the stored Seq and
	// OccurredAt.
	CreateBooking(ctx context.Context, b Booking, ev BookingEvent, guard calendar.Interval) (*Booking, BookingEvent, error)

	// TransitionBooking moves a booking from `from` to `to` only if its current status
	// is still `from`, appending ev in the same unit. A status mismatch returns
	// errStatusChanged and writes nothing. The returned event is the stored one.
	TransitionBooking(ctx context.Context, tenantID TenantID, id BookingID, from, to BookingStatus, ev BookingEvent) (*Booking, BookingEvent, error)

	// Expiry job
	FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]Booking, error)
}

// CatalogWriter seeds the reference data the engine reads. Tenant administration
// screens own these records; the engine only needs them for seeding and tests.
type CatalogWriter interface {
	SaveTenant(ctx context.Context, t Tenant) error
	SaveService(ctx context.Context, s Service) error
	SaveStaff(ctx context.Context, s Staff) error
	SaveBusinessHours(ctx context.Context, h BusinessHours) error
	SaveStaffAvailability(ctx context.Context, a StaffAvailability) error
	SaveBlockedSlot(ctx context.Context, b BlockedSlot) error
}
