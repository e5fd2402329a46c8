package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hackgods/tenant-booking-engine/internal/booking"
)

type CreateBookingRequest struct {
	ServiceID  string    `json:"service_id"`
	StaffID    string    `json:"staff_id,omitempty"`
	CustomerID string    `json:"customer_id"`
	Start      time.Time `json:"start"`
	Notes      string    `json:"notes,omitempty"`
}

type TransitionRequest struct {
	Reason string `json:"reason,omitempty"`
}

type BookingResponse struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	ServiceID  string    `json:"service_id"`
	StaffID    string    `json:"staff_id"`
	CustomerID string    `json:"customer_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Status     string    `json:"status"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type BookingListResponse struct {
	Bookings []BookingResponse `json:"bookings"`
}

type SlotResponse struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	StaffID string    `json:"staff_id"`
}

type SlotsResponse struct {
	Date  string         `json:"date"`
	Slots []SlotResponse `json:"slots"`
}

type EventResponse struct {
	Seq        int64             `json:"seq"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	ActorID    string            `json:"actor_id"`
	ActorRole  string            `json:"actor_role"`
	FromStatus string            `json:"from_status,omitempty"`
	ToStatus   string            `json:"to_status"`
	Reason     string            `json:"reason,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

type EventsResponse struct {
	BookingID string          `json:"booking_id"`
	Events    []EventResponse `json:"events"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toBookingResponse(b *booking.Booking) BookingResponse {
	return BookingResponse{
		ID:         b.ID.String(),
		TenantID:   b.TenantID.String(),
		ServiceID:  b.ServiceID.String(),
		StaffID:    b.StaffID.String(),
		CustomerID: b.CustomerID.String(),
		Start:      b.Start,
		End:        b.End,
		Status:     string(b.Status),
		Notes:      b.Notes,
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
}

func toEventResponse(ev booking.BookingEvent) EventResponse {
	return EventResponse{
		Seq:        ev.Seq,
		ID:         ev.ID.String(),
		Type:       string(ev.Type),
		ActorID:    ev.ActorID,
		ActorRole:  string(ev.ActorRole),
		FromStatus: string(ev.FromStatus),
		ToStatus:   string(ev.ToStatus),
		Reason:     ev.Reason,
		Metadata:   ev.Metadata,
		OccurredAt: ev.OccurredAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
