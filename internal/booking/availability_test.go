package booking

import (
	"testing"
	"time"

	"github.com/hackgods/tenant-booking-engine/internal/calendar"
)

func kualaLumpur(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kuala_Lumpur")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

// monday is 2025-03-03.
var monday = calendar.Date{Year: 2025, Month: time.March, Day: 3}

func openHours(open, close string) BusinessHours {
	return BusinessHours{
		Weekday: time.Monday,
		Open:    calendar.MustTimeOfDay(open),
		Close:   calendar.MustTimeOfDay(close),
		IsOpen:  true,
	}
}

func window(open, close string) calendar.Window {
	return calendar.Window{Open: calendar.MustTimeOfDay(open), Close: calendar.MustTimeOfDay(close)}
}

func startTimes(slots []Slot, loc *time.Location) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.Start.In(loc).Format("15:04")
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestResolveSlots_BufferAroundExistingBooking(t *testing.T) {
	loc := kualaLumpur(t)
	staffID := NewID[staffKind]()
	booked := calendar.Interval{
		Start: time.Date(2025, 3, 3, 10, 0, 0, 0, loc),
		End:   time.Date(2025, 3, 3, 11, 0, 0, 0, loc),
	}

	plan := DayPlan{
		Date:     monday,
		Location: loc,
		Hours:    openHours("09:00", "18:00"),
		Duration: time.Hour,
		Buffer:   15 * time.Minute,
		Now:      time.Date(2025, 3, 2, 12, 0, 0, 0, loc),
		Staff: []StaffDay{{
			StaffID:      staffID,
			Availability: window("09:00", "17:00"),
			Busy:         []calendar.Interval{booked},
		}},
	}

	got := startTimes(ResolveSlots(plan), loc)
	want := []string{"11:15", "12:15", "13:15", "14:15", "15:15"}
	if !equalStrings(got, want) {
		t.Fatalf("slots = %v, want %v", got, want)
	}
}

func TestResolveSlots_NoBookingsFillsWindow(t *testing.T) {
	plan := DayPlan{
		Date:     monday,
		Location: time.UTC,
		Hours:    openHours("09:00", "12:00"),
		Duration: time.Hour,
		Now:      time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Staff:    []StaffDay{{StaffID: NewID[staffKind](), Availability: window("00:00", "24:00")}},
	}

	got := startTimes(ResolveSlots(plan), time.UTC)
	want := []string{"09:00", "10:00", "11:00"}
	if !equalStrings(got, want) {
		t.Fatalf("slots = %v, want %v", got, want)
	}
}

func TestResolveSlots_ClosedDay(t *testing.T) {
	plan := DayPlan{
		Date:     monday,
		Location: time.UTC,
		Hours:    BusinessHours{Weekday: time.Monday, IsOpen: false},
		Duration: time.Hour,
		Staff:    []StaffDay{{StaffID: NewID[staffKind](), Availability: window("09:00", "17:00")}},
	}

	slots := ResolveSlots(plan)
	if slots == nil || len(slots) != 0 {
		t.Fatalf("expected empty non-nil result, got %v", slots)
	}
}

func TestResolveSlots_SkipsPastStarts(t *testing.T) {
	plan := DayPlan{
		Date:     monday,
		Location: time.UTC,
		Hours:    openHours("09:00", "13:00"),
		Duration: time.Hour,
		Now:      time.Date(2025, 3, 3, 10, 30, 0, 0, time.UTC),
		Staff:    []StaffDay{{StaffID: NewID[staffKind](), Availability: window("09:00", "13:00")}},
	}

	got := startTimes(ResolveSlots(plan), time.UTC)
	want := []string{"11:00", "12:00"}
	if !equalStrings(got, want) {
		t.Fatalf("slots = %v, want %v", got, want)
	}
}

func TestResolveSlots_DurationLongerThanWindow(t *testing.T) {
	plan := DayPlan{
		Date:     monday,
		Location: time.UTC,
		Hours:    openHours("09:00", "10:00"),
		Duration: 90 * time.Minute,
		Staff:    []StaffDay{{StaffID: NewID[staffKind](), Availability: window("09:00", "17:00")}},
	}

	if slots := ResolveSlots(plan); len(slots) != 0 {
		t.Fatalf("expected no slots, got %v", slots)
	}
}

func TestResolveSlots_OrdersByStartThenStaff(t *testing.T) {
	a, b := NewID[staffKind](), NewID[staffKind]()
	if b.Less(a) {
		a, b = b, a
	}
	plan := DayPlan{
		Date:     monday,
		Location: time.UTC,
		Hours:    openHours("09:00", "11:00"),
		Duration: time.Hour,
		Staff: []StaffDay{
			{StaffID: b, Availability: window("09:00", "11:00")},
			{StaffID: a, Availability: window("09:00", "11:00")},
		},
	}

	slots := ResolveSlots(plan)
	if len(slots) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(slots))
	}
	if slots[0].StaffID != a || slots[1].StaffID != b || !slots[0].Start.Equal(slots[1].Start) {
		t.Fatalf("unexpected ordering: %+v", slots)
	}
	if !slots[1].Start.Before(slots[2].Start) {
		t.Fatalf("slots not ordered by start: %+v", slots)
	}
}

func TestBusyFor_TenantWideBlock(t *testing.T) {
	staffA, staffB := NewID[staffKind](), NewID[staffKind]()
	start := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

	blocks := []BlockedSlot{
		{Start: start, End: start.Add(time.Hour)},
		{StaffID: &staffA, Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour)},
	}
	bookings := []Booking{
		{StaffID: staffB, Status: StatusConfirmed, Start: start.Add(-2 * time.Hour), End: start.Add(-time.Hour)},
		{StaffID: staffB, Status: StatusCancelled, Start: start.Add(4 * time.Hour), End: start.Add(5 * time.Hour)},
	}

	if got := busyFor(staffA, bookings, blocks); len(got) != 2 {
		t.Fatalf("staff A: expected 2 busy intervals, got %v", got)
	}
	if got := busyFor(staffB, bookings, blocks); len(got) != 2 {
		t.Fatalf("staff B: expected booking and tenant block, got %v", got)
	}
}

func TestCheckSlot_OffGridStart(t *testing.T) {
	sd := StaffDay{StaffID: NewID[staffKind](), Availability: window("09:00", "17:00")}
	plan := DayPlan{
		Date:     monday,
		Location: time.UTC,
		Hours:    openHours("09:00", "17:00"),
		Duration: time.Hour,
		Buffer:   15 * time.Minute,
	}

	if !CheckSlot(plan, sd, time.Date(2025, 3, 3, 9, 20, 0, 0, time.UTC)) {
		t.Fatalf("expected off-grid start to be bookable")
	}
	if CheckSlot(plan, sd, time.Date(2025, 3, 3, 16, 30, 0, 0, time.UTC)) {
		t.Fatalf("expected start running past the window to be rejected")
	}

	sd.Busy = []calendar.Interval{{
		Start: time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 3, 11, 0, 0, 0, time.UTC),
	}}
	if CheckSlot(plan, sd, time.Date(2025, 3, 3, 11, 10, 0, 0, time.UTC)) {
		t.Fatalf("expected start inside the buffer to be rejected")
	}
	if !CheckSlot(plan, sd, time.Date(2025, 3, 3, 11, 15, 0, 0, time.UTC)) {
		t.Fatalf("expected start after the buffer to be bookable")
	}
}
