package booking

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

type (
	tenantKind      struct{}
	serviceKind     struct{}
	staffKind       struct{}
	customerKind    struct{}
	bookingKind     struct{}
	blockedSlotKind struct{}
	eventKind       struct{}
)

// ID is a uuid tagged with the kind of entity it refers to. IDs of different kinds are
// distinct types, so a StaffID cannot be passed where a CustomerID is expected.
type ID[K any] uuid.UUID

type (
	TenantID      = ID[tenantKind]
	ServiceID     = ID[serviceKind]
	StaffID       = ID[staffKind]
	CustomerID    = ID[customerKind]
	BookingID     = ID[bookingKind]
	BlockedSlotID = ID[blockedSlotKind]
	EventID       = ID[eventKind]
)

// NewID returns a fresh random identifier of kind K.
func NewID[K any]() ID[K] {
	return ID[K](uuid.New())
}

// ParseID parses the canonical uuid form.
func ParseID[K any](s string) (ID[K], error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID[K]{}, err
	}
	return ID[K](u), nil
}

func (id ID[K]) UUID() uuid.UUID {
	return uuid.UUID(id)
}

func (id ID[K]) String() string {
	return uuid.UUID(id).String()
}

func (id ID[K]) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

// Less orders identifiers by their byte representation.
func (id ID[K]) Less(other ID[K]) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

func (id ID[K]) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID[K]) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = ID[K](u)
	return nil
}

// Value implements driver.Valuer so typed ids can be passed straight to pgx.
func (id ID[K]) Value() (driver.Value, error) {
	return id.String(), nil
}

// Scan implements sql.Scanner.
func (id *ID[K]) Scan(src any) error {
	var u uuid.UUID
	if err := u.Scan(src); err != nil {
		return fmt.Errorf("scan id: %w", err)
	}
	*id = ID[K](u)
	return nil
}
