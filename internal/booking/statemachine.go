package booking

import (
	"slices"
	"time"
)

type Action string

const (
	ActionConfirm  Action = "confirm"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
	ActionNoShow   Action = "no_show"
)

// TransitionPolicy holds the time gates on completion and no-show. Staff driven
// completion before the booking ends is allowed unless CompleteRequiresEnd is set.
type TransitionPolicy struct {
	CompleteRequiresEnd bool
	NoShowRequiresStart bool
}

func DefaultTransitionPolicy() TransitionPolicy {
	return TransitionPolicy{
		CompleteRequiresEnd: false,
		NoShowRequiresStart: true,
	}
}

type transitionRule struct {
	from  []BookingStatus
	to    BookingStatus
	roles []Role
	event EventType
}

var staffRoles = []Role{RoleStaff, RoleAdmin, RoleSystem}

var transitionRules = map[Action]transitionRule{
	ActionConfirm: {
		from:  []BookingStatus{StatusPending},
		to:    StatusConfirmed,
		roles: staffRoles,
		event: EventConfirmed,
	},
	ActionCancel: {
		from:  []BookingStatus{StatusPending, StatusConfirmed},
		to:    StatusCancelled,
		roles: []Role{RoleCustomer, RoleStaff, RoleAdmin, RoleSystem},
		event: EventCancelled,
	},
	ActionComplete: {
		from:  []BookingStatus{StatusConfirmed},
		to:    StatusCompleted,
		roles: staffRoles,
		event: EventCompleted,
	},
	ActionNoShow: {
		from:  []BookingStatus{StatusConfirmed},
		to:    StatusNoShow,
		roles: staffRoles,
		event: EventNoShow,
	},
}

// InitialStatus is the status a new booking starts in for tenant t.
func InitialStatus(t Tenant) BookingStatus {
	if t.AutoConfirmBookings {
		return StatusConfirmed
	}
	return StatusPending
}

// Decision is the outcome of a permitted transition.
type Decision struct {
	From  BookingStatus
	To    BookingStatus
	Event EventType
}

// Decide checks action against the transition table for booking b. It never mutates b;
// a rejected transition returns a *TransitionError.
func Decide(b Booking, action Action, actor Actor, now time.Time, policy TransitionPolicy) (Decision, error) {
	rule, ok := transitionRules[action]
	if !ok {
		return Decision{}, invalid("action", "is not a known booking action")
	}
	if err := validateActor(actor); err != nil {
		return Decision{}, err
	}

	reject := func(reason string) (Decision, error) {
		return Decision{}, &TransitionError{From: b.Status, To: rule.to, Reason: reason}
	}

	if !slices.Contains(rule.from, b.Status) {
		if b.Status.IsTerminal() {
			return reject("booking is already " + string(b.Status))
		}
		return reject("")
	}
	if !slices.Contains(rule.roles, actor.Role) {
		return reject("role " + string(actor.Role) + " may not " + string(action))
	}

	switch action {
	case ActionComplete:
		if policy.CompleteRequiresEnd && now.Before(b.End) {
			return reject("booking has not ended yet")
		}
	case ActionNoShow:
		if policy.NoShowRequiresStart && now.Before(b.Start) {
			return reject("booking has not started yet")
		}
	}

	return Decision{From: b.Status, To: rule.to, Event: rule.event}, nil
}

func validateActor(a Actor) error {
	if a.ID == "" {
		return invalid("actor_id", "is required")
	}
	if !a.Role.Valid() {
		return invalid("actor_role", "must be one of customer, staff, admin, system")
	}
	return nil
}
