package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidTimeOfDay = errors.New("invalid time of day")

// TimeOfDay is a wall clock reading in minutes since midnight. 1440 ("24:00") is
// allowed as a closing time.
type TimeOfDay int

const EndOfDay TimeOfDay = 24 * 60

// ParseTimeOfDay parses "HH:MM" (24h clock, two digits each). "24:00" is accepted.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	h, herr := twoDigits(hh)
	m, merr := twoDigits(mm)
	if herr != nil || merr != nil || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	return TimeOfDay(h*60 + m), nil
}

func twoDigits(s string) (int, error) {
	if s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, ErrInvalidTimeOfDay
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), nil
}

func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) Valid() bool {
	return t >= 0 && t <= EndOfDay
}

// On places t on date d in loc. Wall times that do not exist because of a DST jump are
// normalised forward by time.Date.
func (t TimeOfDay) On(d Date, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, int(t)/60, int(t)%60, 0, 0, loc)
}

// Window is a time-of-day range [Open, Close) that repeats every day.
type Window struct {
	Open  TimeOfDay
	Close TimeOfDay
}

func (w Window) Valid() bool {
	return w.Open.Valid() && w.Close.Valid() && w.Open < w.Close
}

func (w Window) String() string {
	return w.Open.String() + "-" + w.Close.String()
}

// Intersect returns the common part of a and b, or false when they do not overlap.
func Intersect(a, b Window) (Window, bool) {
	out := Window{Open: max(a.Open, b.Open), Close: min(a.Close, b.Close)}
	if !out.Valid() {
		return Window{}, false
	}
	return out, true
}

// On resolves the window to absolute instants on date d.
func (w Window) On(d Date, loc *time.Location) Interval {
	return Interval{Start: w.Open.On(d, loc), End: w.Close.On(d, loc)}
}
