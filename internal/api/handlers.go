package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/tenant-booking-engine/internal/booking"
	"github.com/hackgods/tenant-booking-engine/internal/calendar"
)

const (
	headerActorID   = "X-Actor-ID"
	headerActorRole = "X-Actor-Role"
)

var actionsByPath = map[string]booking.Action{
	"confirm":  booking.ActionConfirm,
	"cancel":   booking.ActionCancel,
	"complete": booking.ActionComplete,
	"no-show":  booking.ActionNoShow,
}

type handlers struct {
	sched  *booking.Scheduler
	logger *slog.Logger
}

// parseID decodes a typed booking identifier from its text form.
func parseID[T any, P interface {
	*T
	UnmarshalText([]byte) error
}](raw string) (T, bool) {
	var id T
	if err := P(&id).UnmarshalText([]byte(raw)); err != nil {
		return id, false
	}
	return id, true
}

func actorFrom(r *http.Request) booking.Actor {
	return booking.Actor{
		ID:   r.Header.Get(headerActorID),
		Role: booking.Role(r.Header.Get(headerActorRole)),
	}
}

func (h *handlers) tenantID(w http.ResponseWriter, r *http.Request) (booking.TenantID, bool) {
	id, ok := parseID[booking.TenantID](chi.URLParam(r, "tenantID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_tenant_id", "tenantID must be a valid UUID")
	}
	return id, ok
}

func (h *handlers) bookingID(w http.ResponseWriter, r *http.Request) (booking.BookingID, bool) {
	id, ok := parseID[booking.BookingID](chi.URLParam(r, "bookingID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_booking_id", "bookingID must be a valid UUID")
	}
	return id, ok
}

func (h *handlers) listSlots(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	serviceID, ok := parseID[booking.ServiceID](chi.URLParam(r, "serviceID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_service_id", "serviceID must be a valid UUID")
		return
	}
	date, err := calendar.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	var staffID *booking.StaffID
	if raw := r.URL.Query().Get("staff_id"); raw != "" {
		id, ok := parseID[booking.StaffID](raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_staff_id", "staff_id must be a valid UUID")
			return
		}
		staffID = &id
	}

	slots, err := h.sched.GetAvailableSlots(r.Context(), tenantID, serviceID, date, staffID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	resp := SlotsResponse{Date: date.String(), Slots: make([]SlotResponse, len(slots))}
	for i, s := range slots {
		resp.Slots[i] = SlotResponse{Start: s.Start, End: s.End, StaffID: s.StaffID.String()}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) createBooking(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	serviceID, ok := parseID[booking.ServiceID](req.ServiceID)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
		return
	}
	customerID, ok := parseID[booking.CustomerID](req.CustomerID)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_customer_id", "customer_id must be a valid UUID")
		return
	}
	var staffID *booking.StaffID
	if req.StaffID != "" {
		id, ok := parseID[booking.StaffID](req.StaffID)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_staff_id", "staff_id must be a valid UUID")
			return
		}
		staffID = &id
	}

	b, err := h.sched.CreateBooking(r.Context(), booking.CreateBookingRequest{
		TenantID:   tenantID,
		ServiceID:  serviceID,
		StaffID:    staffID,
		CustomerID: customerID,
		Start:      req.Start,
		Notes:      req.Notes,
		Actor:      actorFrom(r),
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBookingResponse(b))
}

func (h *handlers) getBooking(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	id, ok := h.bookingID(w, r)
	if !ok {
		return
	}

	b, err := h.sched.GetBooking(r.Context(), tenantID, id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *handlers) listCustomerBookings(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	customerID, ok := parseID[booking.CustomerID](chi.URLParam(r, "customerID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_customer_id", "customerID must be a valid UUID")
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be an integer")
		return
	}

	bookings, err := h.sched.ListCustomerBookings(r.Context(), tenantID, customerID, limit, offset)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	resp := BookingListResponse{Bookings: make([]BookingResponse, len(bookings))}
	for i := range bookings {
		resp.Bookings[i] = toBookingResponse(&bookings[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) transition(w http.ResponseWriter, r *http.Request) {
	action, ok := actionsByPath[chi.URLParam(r, "action")]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_action", "action must be confirm, cancel, complete or no-show")
		return
	}
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	id, ok := h.bookingID(w, r)
	if !ok {
		return
	}

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	b, err := h.sched.Apply(r.Context(), tenantID, id, action, actorFrom(r), req.Reason)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	id, ok := h.bookingID(w, r)
	if !ok {
		return
	}

	var after int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_after", "after must be a non-negative sequence number")
			return
		}
		after = n
	}

	events, err := h.sched.ListEvents(r.Context(), tenantID, id, after)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	resp := EventsResponse{BookingID: id.String(), Events: make([]EventResponse, len(events))}
	for i, ev := range events {
		resp.Events[i] = toEventResponse(ev)
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func (h *handlers) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var te *booking.TransitionError
	switch {
	case errors.Is(err, booking.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, booking.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.As(err, &te):
		writeError(w, http.StatusConflict, "invalid_transition", te.Error())
	default:
		h.logger.Error("request failed",
			"request_id", GetRequestID(r.Context()),
			"path", r.URL.Path,
			"err", err,
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
