package notify

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hackgods/tenant-booking-engine/internal/booking"
)

const publishTimeout = 5 * time.Second

// Message is one committed booking change.
type Message struct {
	Booking booking.Booking
	Event   booking.BookingEvent
}

// Sink delivers messages somewhere outside the process.
type Sink interface {
	Publish(ctx context.Context, msg Message) error
}

// Dispatcher decouples the booking write path from delivery. BookingChanged never
// blocks: when the queue is full the message is dropped and counted.
type Dispatcher struct {
	queue   chan Message
	sink    Sink
	logger  *slog.Logger
	dropped atomic.Int64
}

func NewDispatcher(sink Sink, buffer int, logger *slog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:  make(chan Message, buffer),
		sink:   sink,
		logger: logger,
	}
}

func (d *Dispatcher) BookingChanged(b booking.Booking, ev booking.BookingEvent) {
	select {
	case d.queue <- Message{Booking: b, Event: ev}:
	default:
		d.dropped.Add(1)
		d.logger.Warn("notification dropped, queue full",
			"booking_id", b.ID.String(),
			"event_type", string(ev.Type),
		)
	}
}

// Dropped reports how many messages were discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run delivers queued messages until ctx is done, then flushes what is left.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.flush(context.WithoutCancel(ctx))
			return
		case msg := <-d.queue:
			d.publish(ctx, msg)
		}
	}
}

func (d *Dispatcher) flush(ctx context.Context) {
	for {
		select {
		case msg := <-d.queue:
			d.publish(ctx, msg)
		default:
			return
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, msg Message) {
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := d.sink.Publish(pubCtx, msg); err != nil {
		d.logger.Error("notification publish failed",
			"booking_id", msg.Booking.ID.String(),
			"event_id", msg.Event.ID.String(),
			"err", err,
		)
	}
}

var _ booking.Notifier = (*Dispatcher)(nil)
