package booking

import (
	"sort"
	"time"

	"github.com/hackgods/tenant-booking-engine/internal/calendar"
)

// StaffDay is what the resolver needs to know about one staff member on one date.
type StaffDay struct {
	StaffID      StaffID
	Availability calendar.Window
	// Busy holds the raw intervals of active bookings and of blocked slots covering
	// this staff member or the whole tenant.
	Busy []calendar.Interval
}

// DayPlan is a snapshot of everything slot resolution depends on. Resolution is a pure
// function of it.
type DayPlan struct {
	Date     calendar.Date
	Location *time.Location
	Hours    BusinessHours
	Duration time.Duration
	Buffer   time.Duration
	Now      time.Time
	Staff    []StaffDay
}

// ResolveSlots returns every bookable slot in p, ordered by start then staff id.
func ResolveSlots(p DayPlan) []Slot {
	if !p.Hours.IsOpen || p.Duration <= 0 {
		return []Slot{}
	}

	slots := []Slot{}
	for _, sd := range p.Staff {
		window, ok := p.workingWindow(sd)
		if !ok {
			continue
		}
		for _, start := range walkWindow(window, p.Duration, p.Buffer, sd.Busy, p.Now) {
			slots = append(slots, Slot{Start: start, End: start.Add(p.Duration), StaffID: sd.StaffID})
		}
	}

	sortSlots(slots)
	return slots
}

// CheckSlot re-validates a single candidate start for one staff member using the same
// rules ResolveSlots applies. The start does not need to lie on the walk grid.
func CheckSlot(p DayPlan, sd StaffDay, start time.Time) bool {
	if !p.Hours.IsOpen || p.Duration <= 0 {
		return false
	}
	window, ok := p.workingWindow(sd)
	if !ok {
		return false
	}
	cand := calendar.Interval{Start: start, End: start.Add(p.Duration)}
	if !window.Contains(cand) || start.Before(p.Now) {
		return false
	}
	return len(calendar.Conflicts(bufferBy(cand, p.Buffer), sd.Busy)) == 0
}

func (p DayPlan) workingWindow(sd StaffDay) (calendar.Interval, bool) {
	w, ok := calendar.Intersect(p.Hours.Window(), sd.Availability)
	if !ok {
		return calendar.Interval{}, false
	}
	iv := w.On(p.Date, p.Location)
	return iv, iv.Valid()
}

// walkWindow steps through window in increments of duration. A candidate whose
// buffered interval hits a busy interval is dropped, and the walk resumes at the latest
// conflicting end plus the buffer, the first start that clears it.
func walkWindow(window calendar.Interval, duration, buffer time.Duration, busy []calendar.Interval, now time.Time) []time.Time {
	var starts []time.Time
	cur := window.Start
	for !cur.Add(duration).After(window.End) {
		cand := calendar.Interval{Start: cur, End: cur.Add(duration)}
		if conflicts := calendar.Conflicts(bufferBy(cand, buffer), busy); len(conflicts) > 0 {
			cur = latestEnd(conflicts).Add(buffer)
			continue
		}
		if !cur.Before(now) {
			starts = append(starts, cur)
		}
		cur = cur.Add(duration)
	}
	return starts
}

func bufferBy(i calendar.Interval, buffer time.Duration) calendar.Interval {
	return calendar.ApplyBuffer(i, int(buffer/time.Minute))
}

func latestEnd(ivs []calendar.Interval) time.Time {
	end := ivs[0].End
	for _, iv := range ivs[1:] {
		if iv.End.After(end) {
			end = iv.End
		}
	}
	return end
}

func sortSlots(slots []Slot) {
	sort.SliceStable(slots, func(i, j int) bool {
		if !slots[i].Start.Equal(slots[j].Start) {
			return slots[i].Start.Before(slots[j].Start)
		}
		return slots[i].StaffID.Less(slots[j].StaffID)
	})
}

// busyFor collects the intervals that block staffID from bookings and blocked slots.
func busyFor(staffID StaffID, bookings []Booking, blocks []BlockedSlot) []calendar.Interval {
	var busy []calendar.Interval
	for _, b := range bookings {
		if b.StaffID == staffID && b.Status.IsActive() {
			busy = append(busy, b.Interval())
		}
	}
	for _, bl := range blocks {
		if bl.Covers(staffID) {
			busy = append(busy, bl.Interval())
		}
	}
	return busy
}
