package booking

import (
	"context"
	"fmt"
	"maps"
	"time"
)

// Ledger is the read side of the append-only booking history. Events are only ever
// written by the repository together with the status change they describe.
type Ledger struct {
	store EventStore
}

func NewLedger(store EventStore) *Ledger {
	return &Ledger{store: store}
}

// ListEvents returns the full history of a booking, oldest first.
func (l *Ledger) ListEvents(ctx context.Context, tenantID TenantID, bookingID BookingID) ([]BookingEvent, error) {
	return l.ListEventsAfter(ctx, tenantID, bookingID, 0)
}

// ListEventsAfter resumes a read after the event with sequence afterSeq. Reading again
// with the same cursor yields the same events plus any appended since.
func (l *Ledger) ListEventsAfter(ctx context.Context, tenantID TenantID, bookingID BookingID, afterSeq int64) ([]BookingEvent, error) {
	events, err := l.store.ListEvents(ctx, tenantID, bookingID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("list booking events: %w", err)
	}
	out := make([]BookingEvent, len(events))
	for i, ev := range events {
		out[i] = cloneEvent(ev)
	}
	return out, nil
}

func newEvent(b Booking, typ EventType, from, to BookingStatus, actor Actor, reason string, at time.Time) BookingEvent {
	return BookingEvent{
		ID:         NewID[eventKind](),
		BookingID:  b.ID,
		TenantID:   b.TenantID,
		Type:       typ,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		OccurredAt: at,
	}
}

func cloneEvent(ev BookingEvent) BookingEvent {
	if ev.Metadata != nil {
		ev.Metadata = maps.Clone(ev.Metadata)
	}
	return ev
}

// nextEventTime keeps a booking's event timestamps strictly increasing even when the
// clock reads the same instant twice.
func nextEventTime(last, at time.Time) time.Time {
	at = at.Truncate(time.Microsecond)
	if !last.IsZero() && !at.After(last) {
		return last.Add(time.Microsecond)
	}
	return at
}
