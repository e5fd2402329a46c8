package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hackgods/tenant-booking-engine/internal/calendar"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const bookingColumns = `id, tenant_id, service_id, staff_id, customer_id, start_time, end_time, status, notes, created_at, updated_at`

const eventColumns = `seq, id, booking_id, tenant_id, event_type, actor_id, actor_role, COALESCE(from_status, ''), to_status, reason, metadata, occurred_at`

// Helpers

func scanTenant(row pgx.Row) (*Tenant, error) {
	var t Tenant
	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.Timezone,
		&t.AutoConfirmBookings,
		&t.BookingBufferMinutes,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	return &t, nil
}

func scanService(row pgx.Row) (*Service, error) {
	var s Service
	var price string
	err := row.Scan(
		&s.ID,
		&s.TenantID,
		&s.Name,
		&s.DurationMinutes,
		&price,
		&s.IsActive,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	if s.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse service price: %w", err)
	}
	return &s, nil
}

func scanStaff(row pgx.Row) (*Staff, error) {
	var s Staff
	err := row.Scan(
		&s.ID,
		&s.TenantID,
		&s.DisplayName,
		&s.IsActive,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStaffNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var status string
	err := row.Scan(
		&b.ID,
		&b.TenantID,
		&b.ServiceID,
		&b.StaffID,
		&b.CustomerID,
		&b.Start,
		&b.End,
		&status,
		&b.Notes,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	b.Status = BookingStatus(status)
	return &b, nil
}

func scanEvent(row pgx.Row) (*BookingEvent, error) {
	var ev BookingEvent
	var typ, role, from, to string
	err := row.Scan(
		&ev.Seq,
		&ev.ID,
		&ev.BookingID,
		&ev.TenantID,
		&typ,
		&ev.ActorID,
		&role,
		&from,
		&to,
		&ev.Reason,
		&ev.Metadata,
		&ev.OccurredAt,
	)
	if err != nil {
		return nil, err
	}
	ev.Type = EventType(typ)
	ev.ActorRole = Role(role)
	ev.FromStatus = BookingStatus(from)
	ev.ToStatus = BookingStatus(to)
	return &ev, nil
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	defer rows.Close()

	result := []Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func statusStrings(statuses []BookingStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullableStatus(s BookingStatus) *string {
	if s == "" {
		return nil
	}
	v := string(s)
	return &v
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Catalog

func (r *PgRepository) SaveTenant(ctx context.Context, t Tenant) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tenants (id, name, timezone, auto_confirm_bookings, booking_buffer_minutes, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    timezone = EXCLUDED.timezone,
		    auto_confirm_bookings = EXCLUDED.auto_confirm_bookings,
		    booking_buffer_minutes = EXCLUDED.booking_buffer_minutes
	`, t.ID, t.Name, t.Timezone, t.AutoConfirmBookings, t.BookingBufferMinutes, nullableTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("save tenant: %w", err)
	}
	return nil
}

func (r *PgRepository) SaveService(ctx context.Context, s Service) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO services (id, tenant_id, name, duration_minutes, price, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, COALESCE($7, now()), now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    duration_minutes = EXCLUDED.duration_minutes,
		    price = EXCLUDED.price,
		    is_active = EXCLUDED.is_active,
		    updated_at = now()
	`, s.ID, s.TenantID, s.Name, s.DurationMinutes, s.Price.String(), s.IsActive, nullableTime(s.CreatedAt))
	if err != nil {
		return fmt.Errorf("save service: %w", err)
	}
	return nil
}

func (r *PgRepository) SaveStaff(ctx context.Context, s Staff) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO staff (id, tenant_id, display_name, is_active, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
		ON CONFLICT (id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    is_active = EXCLUDED.is_active
	`, s.ID, s.TenantID, s.DisplayName, s.IsActive, nullableTime(s.CreatedAt))
	if err != nil {
		return fmt.Errorf("save staff: %w", err)
	}
	return nil
}

func (r *PgRepository) SaveBusinessHours(ctx context.Context, h BusinessHours) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO business_hours (tenant_id, weekday, open_min, close_min, is_open)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, weekday) DO UPDATE
		SET open_min = EXCLUDED.open_min,
		    close_min = EXCLUDED.close_min,
		    is_open = EXCLUDED.is_open
	`, h.TenantID, int(h.Weekday), int(h.Open), int(h.Close), h.IsOpen)
	if err != nil {
		return fmt.Errorf("save business hours: %w", err)
	}
	return nil
}

func (r *PgRepository) SaveStaffAvailability(ctx context.Context, a StaffAvailability) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO staff_availability (tenant_id, staff_id, weekday, start_min, end_min, is_available)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (staff_id, weekday) DO UPDATE
		SET start_min = EXCLUDED.start_min,
		    end_min = EXCLUDED.end_min,
		    is_available = EXCLUDED.is_available
	`, a.TenantID, a.StaffID, int(a.Weekday), int(a.Start), int(a.End), a.IsAvailable)
	if err != nil {
		return fmt.Errorf("save staff availability: %w", err)
	}
	return nil
}

func (r *PgRepository) SaveBlockedSlot(ctx context.Context, b BlockedSlot) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO blocked_slots (id, tenant_id, staff_id, start_time, end_time, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
		ON CONFLICT (id) DO NOTHING
	`, b.ID, b.TenantID, b.StaffID, b.Start, b.End, b.Reason, nullableTime(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("save blocked slot: %w", err)
	}
	return nil
}

// Reads

func (r *PgRepository) GetTenant(ctx context.Context, id TenantID) (*Tenant, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, timezone, auto_confirm_bookings, booking_buffer_minutes, created_at
		FROM tenants
		WHERE id = $1
	`, id)
	return scanTenant(row)
}

func (r *PgRepository) GetService(ctx context.Context, tenantID TenantID, id ServiceID) (*Service, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, duration_minutes, price::text, is_active, created_at, updated_at
		FROM services
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	return scanService(row)
}

func (r *PgRepository) GetStaff(ctx context.Context, tenantID TenantID, id StaffID) (*Staff, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, display_name, is_active, created_at
		FROM staff
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	return scanStaff(row)
}

func (r *PgRepository) GetBusinessHours(ctx context.Context, tenantID TenantID, day time.Weekday) (*BusinessHours, error) {
	var open, closing int
	h := BusinessHours{TenantID: tenantID, Weekday: day}
	err := r.pool.QueryRow(ctx, `
		SELECT open_min, close_min, is_open
		FROM business_hours
		WHERE tenant_id = $1 AND weekday = $2
	`, tenantID, int(day)).Scan(&open, &closing, &h.IsOpen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	h.Open, h.Close = calendar.TimeOfDay(open), calendar.TimeOfDay(closing)
	return &h, nil
}

func (r *PgRepository) ListStaffAvailability(ctx context.Context, tenantID TenantID, day time.Weekday) ([]StaffAvailability, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.staff_id, a.start_min, a.end_min, a.is_available
		FROM staff_availability a
		JOIN staff s ON s.id = a.staff_id
		WHERE a.tenant_id = $1
		  AND a.weekday = $2
		  AND s.is_active
		ORDER BY a.staff_id
	`, tenantID, int(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StaffAvailability
	for rows.Next() {
		a := StaffAvailability{TenantID: tenantID, Weekday: day}
		var start, end int
		if err := rows.Scan(&a.StaffID, &start, &end, &a.IsAvailable); err != nil {
			return nil, err
		}
		a.Start, a.End = calendar.TimeOfDay(start), calendar.TimeOfDay(end)
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) ListActiveBookings(ctx context.Context, tenantID TenantID, staffIDs []StaffID, from, to time.Time) ([]Booking, error) {
	if len(staffIDs) == 0 {
		return []Booking{}, nil
	}
	ids := make([]string, len(staffIDs))
	for i, id := range staffIDs {
		ids[i] = id.String()
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE tenant_id = $1
		  AND staff_id = ANY($2::uuid[])
		  AND status = ANY($3::text[])
		  AND start_time < $5
		  AND end_time > $4
		ORDER BY start_time
	`, tenantID, ids, statusStrings(activeStatuses), from, to)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) ListBlockedSlots(ctx context.Context, tenantID TenantID, from, to time.Time) ([]BlockedSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, staff_id, start_time, end_time, reason, created_at
		FROM blocked_slots
		WHERE tenant_id = $1
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BlockedSlot
	for rows.Next() {
		var b BlockedSlot
		if err := rows.Scan(&b.ID, &b.TenantID, &b.StaffID, &b.Start, &b.End, &b.Reason, &b.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) GetBooking(ctx context.Context, tenantID TenantID, id BookingID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	return scanBooking(row)
}

func (r *PgRepository) ListBookingsByCustomer(ctx context.Context, tenantID TenantID, customerID CustomerID, limit, offset int) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE tenant_id = $1 AND customer_id = $2
		ORDER BY start_time DESC, id
		LIMIT $3 OFFSET $4
	`, tenantID, customerID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'pending'
		  AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) ListEvents(ctx context.Context, tenantID TenantID, bookingID BookingID, afterSeq int64) ([]BookingEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM booking_events
		WHERE booking_id = $1 AND tenant_id = $2 AND seq > $3
		ORDER BY seq
	`, bookingID, tenantID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []BookingEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Writes

// CreateBooking serialises inserts per staff member with a transaction scoped advisory
// lock, so the overlap check holds across processes even without the Redis lock.
func (r *PgRepository) CreateBooking(ctx context.Context, b Booking, ev BookingEvent, guard calendar.Interval) (*Booking, BookingEvent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, BookingEvent{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, staffLockKey(b.TenantID, b.StaffID)); err != nil {
		return nil, BookingEvent{}, fmt.Errorf("advisory lock: %w", err)
	}

	var taken bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM bookings
			WHERE tenant_id = $1
			  AND staff_id = $2
			  AND status = ANY($3::text[])
			  AND start_time < $5
			  AND end_time > $4
		)
	`, b.TenantID, b.StaffID, statusStrings(activeStatuses), guard.Start, guard.End).Scan(&taken)
	if err != nil {
		return nil, BookingEvent{}, fmt.Errorf("check overlap: %w", err)
	}
	if taken {
		return nil, BookingEvent{}, ErrSlotUnavailable
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+bookingColumns+`
	`, b.ID, b.TenantID, b.ServiceID, b.StaffID, b.CustomerID, b.Start, b.End, string(b.Status), b.Notes, b.CreatedAt, b.UpdatedAt)
	created, err := scanBooking(row)
	if err != nil {
		return nil, BookingEvent{}, fmt.Errorf("insert booking: %w", err)
	}

	stored, err := insertEvent(ctx, tx, ev)
	if err != nil {
		return nil, BookingEvent{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, BookingEvent{}, fmt.Errorf("commit tx: %w", err)
	}
	return created, stored, nil
}

func (r *PgRepository) TransitionBooking(ctx context.Context, tenantID TenantID, id BookingID, from, to BookingStatus, ev BookingEvent) (*Booking, BookingEvent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, BookingEvent{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = $3,
		    updated_at = $5
		WHERE id = $1
		  AND tenant_id = $2
		  AND status = $4
		RETURNING `+bookingColumns+`
	`, id, tenantID, string(to), string(from), ev.OccurredAt)
	updated, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			// Either the booking is gone or its status moved on; tell them apart.
			var exists bool
			if qerr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1 AND tenant_id = $2)`, id, tenantID).Scan(&exists); qerr != nil {
				return nil, BookingEvent{}, fmt.Errorf("check booking: %w", qerr)
			}
			if exists {
				return nil, BookingEvent{}, errStatusChanged
			}
		}
		return nil, BookingEvent{}, err
	}

	stored, err := insertEvent(ctx, tx, ev)
	if err != nil {
		return nil, BookingEvent{}, err
	}
	if !stored.OccurredAt.Equal(updated.UpdatedAt) {
		if _, err := tx.Exec(ctx, `UPDATE bookings SET updated_at = $3 WHERE id = $1 AND tenant_id = $2`, id, tenantID, stored.OccurredAt); err != nil {
			return nil, BookingEvent{}, fmt.Errorf("touch booking: %w", err)
		}
		updated.UpdatedAt = stored.OccurredAt
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, BookingEvent{}, fmt.Errorf("commit tx: %w", err)
	}
	return updated, stored, nil
}

// insertEvent appends ev, nudging its timestamp past the booking's latest event, and
// returns it with the sequence and timestamp the database recorded.
func insertEvent(ctx context.Context, tx pgx.Tx, ev BookingEvent) (BookingEvent, error) {
	err := tx.QueryRow(ctx, `
		INSERT INTO booking_events (id, booking_id, tenant_id, event_type, actor_id, actor_role, from_status, to_status, reason, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        GREATEST(
		            $11::timestamptz,
		            COALESCE((SELECT max(occurred_at) + interval '1 microsecond' FROM booking_events WHERE booking_id = $2), '-infinity'::timestamptz)
		        ))
		RETURNING seq, occurred_at
	`, ev.ID, ev.BookingID, ev.TenantID, string(ev.Type), ev.ActorID, string(ev.ActorRole),
		nullableStatus(ev.FromStatus), string(ev.ToStatus), ev.Reason, ev.Metadata, ev.OccurredAt).Scan(&ev.Seq, &ev.OccurredAt)
	if err != nil {
		return BookingEvent{}, fmt.Errorf("insert booking event: %w", err)
	}
	return ev, nil
}

var (
	_ Repository    = (*PgRepository)(nil)
	_ CatalogWriter = (*PgRepository)(nil)
)
