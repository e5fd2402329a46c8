package calendar

import (
	"errors"
	"time"
)

var ErrInvalidInterval = errors.New("invalid time interval")

// Interval is a half-open range of instants [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval validates that start is strictly before end.
func NewInterval(start, end time.Time) (Interval, error) {
	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return Interval{}, ErrInvalidInterval
	}
	return Interval{Start: start, End: end}, nil
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) share any instant.
// Touching endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

func (i Interval) Overlaps(o Interval) bool {
	return Overlaps(i.Start, i.End, o.Start, o.End)
}

// Contains reports whether o lies entirely inside i.
func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

func (i Interval) Valid() bool {
	return i.Start.Before(i.End)
}

// ApplyBuffer widens the interval by minutes on both sides.
func ApplyBuffer(i Interval, minutes int) Interval {
	if minutes <= 0 {
		return i
	}
	pad := time.Duration(minutes) * time.Minute
	return Interval{Start: i.Start.Add(-pad), End: i.End.Add(pad)}
}

// Conflicts returns every interval in others that overlaps i.
func Conflicts(i Interval, others []Interval) []Interval {
	var out []Interval
	for _, o := range others {
		if i.Overlaps(o) {
			out = append(out, o)
		}
	}
	return out
}
