package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// payload is the JSON body published for every booking change.
type payload struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	BookingID  string    `json:"booking_id"`
	TenantID   string    `json:"tenant_id"`
	ServiceID  string    `json:"service_id"`
	StaffID    string    `json:"staff_id"`
	CustomerID string    `json:"customer_id"`
	Status     string    `json:"status"`
	FromStatus string    `json:"from_status,omitempty"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Reason     string    `json:"reason,omitempty"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	OccurredAt time.Time `json:"occurred_at"`
}

func newPayload(msg Message) payload {
	b, ev := msg.Booking, msg.Event
	return payload{
		EventID:    ev.ID.String(),
		EventType:  string(ev.Type),
		BookingID:  b.ID.String(),
		TenantID:   b.TenantID.String(),
		ServiceID:  b.ServiceID.String(),
		StaffID:    b.StaffID.String(),
		CustomerID: b.CustomerID.String(),
		Status:     string(ev.ToStatus),
		FromStatus: string(ev.FromStatus),
		ActorID:    ev.ActorID,
		ActorRole:  string(ev.ActorRole),
		Reason:     ev.Reason,
		Start:      b.Start.UTC(),
		End:        b.End.UTC(),
		OccurredAt: ev.OccurredAt.UTC(),
	}
}

// toKafkaMessage keys by booking id so one booking's events stay ordered on a partition.
func toKafkaMessage(msg Message) (kafka.Message, error) {
	value, err := json.Marshal(newPayload(msg))
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal booking event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(msg.Booking.ID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(msg.Event.ID.String())},
			{Key: "event_type", Value: []byte("booking." + string(msg.Event.Type))},
		},
	}, nil
}

type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers, topic string) (*KafkaSink, error) {
	list := SplitBrokers(brokers)
	if len(list) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	if topic == "" {
		return nil, errors.New("kafka topic not configured")
	}
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  list,
		Topic:    topic,
		Balancer: &kafka.Hash{},
	})
	return &KafkaSink{writer: writer}, nil
}

func (s *KafkaSink) Publish(ctx context.Context, msg Message) error {
	km, err := toKafkaMessage(msg)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// LogSink writes changes to the logger. Used when no broker is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(_ context.Context, msg Message) error {
	s.logger.Info("booking changed",
		"booking_id", msg.Booking.ID.String(),
		"tenant_id", msg.Booking.TenantID.String(),
		"event_type", string(msg.Event.Type),
		"from", string(msg.Event.FromStatus),
		"to", string(msg.Event.ToStatus),
	)
	return nil
}

// ReadyCheck dials the first broker.
func ReadyCheck(brokers string) func(context.Context) error {
	return func(ctx context.Context) error {
		list := SplitBrokers(brokers)
		if len(list) == 0 {
			return errors.New("kafka brokers not configured")
		}
		dialer := kafka.Dialer{Timeout: 2 * time.Second}
		conn, err := dialer.DialContext(ctx, "tcp", list[0])
		if err != nil {
			return err
		}
		_ = conn.Close()
		return nil
	}
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

var (
	_ Sink = (*KafkaSink)(nil)
	_ Sink = (*LogSink)(nil)
)
