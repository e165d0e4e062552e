package availability

import (
	"testing"
	"time"
)

func day(date string) time.Time {
	d, err := time.ParseInLocation("2006-01-02", date, time.UTC)
	if err != nil {
		panic(err)
	}
	return d
}

func at(date string, hour, min int) time.Time {
	return day(date).Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

func TestResolve_NoBookings(t *testing.T) {
	slots := []Slot{
		{ID: "slot-1", ProviderID: "prov-1", Date: day("2025-09-15"), StartMinute: 840, EndMinute: 900},
	}

	got := Resolve(slots, nil, "")
	entries, ok := got["2025-09-15"]
	if !ok || len(entries) != 1 {
		t.Fatalf("expected one entry for 2025-09-15, got %+v", got)
	}
	e := entries[0]
	if e.Time != "14:00" || e.EndTime != "15:00" || !e.Available || e.BookingID != "" {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestResolve_ActiveBookingBlocks(t *testing.T) {
	slots := []Slot{
		{ID: "slot-1", ProviderID: "prov-1", Date: day("2025-09-15"), StartMinute: 840, EndMinute: 900},
	}
	bookings := []BookingWindow{
		{ID: "book-1", Start: at("2025-09-15", 14, 0), End: at("2025-09-15", 15, 0), Status: "confirmed"},
	}

	got := Resolve(slots, bookings, "")
	e := got["2025-09-15"][0]
	if e.Available {
		t.Fatal("expected slot to be booked")
	}
	if e.BookingID != "book-1" {
		t.Fatalf("expected bookingId book-1, got %q", e.BookingID)
	}
}

func TestResolve_StatusFiltering(t *testing.T) {
	slots := []Slot{
		{ID: "slot-1", ProviderID: "prov-1", Date: day("2025-09-15"), StartMinute: 840, EndMinute: 900},
	}
	tests := []struct {
		status        string
		wantAvailable bool
	}{
		{status: "pending", wantAvailable: false},
		{status: "confirmed", wantAvailable: false},
		{status: "cancelled", wantAvailable: true},
		{status: "completed", wantAvailable: true},
	}
	for _, tc := range tests {
		bookings := []BookingWindow{
			{ID: "book-1", Start: at("2025-09-15", 14, 0), End: at("2025-09-15", 15, 0), Status: tc.status},
		}
		e := Resolve(slots, bookings, "")["2025-09-15"][0]
		if e.Available != tc.wantAvailable {
			t.Errorf("status %q: available = %v, want %v", tc.status, e.Available, tc.wantAvailable)
		}
		if tc.wantAvailable && e.BookingID != "" {
			t.Errorf("status %q: expected no bookingId, got %q", tc.status, e.BookingID)
		}
	}
}

func TestResolve_ServiceScoping(t *testing.T) {
	slots := []Slot{
		{ID: "slot-1", ProviderID: "prov-1", ServiceID: "svc-dj", Date: day("2025-09-15"), StartMinute: 840, EndMinute: 900},
	}
	bookings := []BookingWindow{
		{ID: "book-other", ServiceIDs: []string{"svc-catering"}, Start: at("2025-09-15", 14, 0), End: at("2025-09-15", 15, 0), Status: "confirmed"},
	}

	// A booking for a different service does not block a service-scoped query.
	e := Resolve(slots, bookings, "svc-dj")["2025-09-15"][0]
	if !e.Available {
		t.Fatalf("expected available, blocked by %q", e.BookingID)
	}

	bookings = append(bookings, BookingWindow{
		ID: "book-dj", ServiceIDs: []string{"svc-dj", "svc-lighting"},
		Start: at("2025-09-15", 14, 0), End: at("2025-09-15", 15, 0), Status: "pending",
	})
	e = Resolve(slots, bookings, "svc-dj")["2025-09-15"][0]
	if e.Available || e.BookingID != "book-dj" {
		t.Fatalf("expected block by book-dj, got %+v", e)
	}

	// Without a service filter any active booking blocks.
	e = Resolve(slots, []BookingWindow{bookings[0]}, "")["2025-09-15"][0]
	if e.Available {
		t.Fatal("expected block without service filter")
	}
}

func TestResolve_HalfOpenBoundaries(t *testing.T) {
	slots := []Slot{
		{ID: "slot-1", Date: day("2025-09-15"), StartMinute: 840, EndMinute: 900}, // 14:00
		{ID: "slot-2", Date: day("2025-09-15"), StartMinute: 900, EndMinute: 960}, // 15:00
	}
	bookings := []BookingWindow{
		{ID: "book-1", Start: at("2025-09-15", 14, 0), End: at("2025-09-15", 15, 0), Status: "confirmed"},
	}

	entries := Resolve(slots, bookings, "")["2025-09-15"]
	if entries[0].Available {
		t.Fatal("14:00 starts inside the booking, expected booked")
	}
	if !entries[1].Available {
		t.Fatal("15:00 is the booking's end, expected available")
	}
}

func TestResolve_MidnightSpanningBooking(t *testing.T) {
	slots := []Slot{
		{ID: "slot-1", Date: day("2025-09-16"), StartMinute: 0, EndMinute: 60},   // 00:00 next day
		{ID: "slot-2", Date: day("2025-09-16"), StartMinute: 120, EndMinute: 180}, // 02:00 next day
	}
	bookings := []BookingWindow{
		{ID: "book-1", Start: at("2025-09-15", 22, 0), End: at("2025-09-16", 1, 0), Status: "confirmed"},
	}

	entries := Resolve(slots, bookings, "")["2025-09-16"]
	if entries[0].Available {
		t.Fatal("00:00 falls inside the overnight booking, expected booked")
	}
	if !entries[1].Available {
		t.Fatal("02:00 is past the overnight booking, expected available")
	}
}

func TestResolve_OrderingAndGrouping(t *testing.T) {
	slots := []Slot{
		{ID: "s3", Date: day("2025-09-16"), StartMinute: 600, EndMinute: 660},
		{ID: "s1", Date: day("2025-09-15"), StartMinute: 900, EndMinute: 960},
		{ID: "s2", Date: day("2025-09-15"), StartMinute: 840, EndMinute: 900},
	}

	got := Resolve(slots, nil, "")
	if len(got) != 2 {
		t.Fatalf("expected 2 dates, got %d", len(got))
	}
	first := got["2025-09-15"]
	if len(first) != 2 || first[0].Time != "14:00" || first[1].Time != "15:00" {
		t.Fatalf("entries not ordered by start time: %+v", first)
	}
	if _, ok := got["2025-09-17"]; ok {
		t.Fatal("dates without slots must be absent from the map")
	}
}

func TestCovers(t *testing.T) {
	slots := []Slot{
		{Date: day("2025-09-15"), StartMinute: 540, EndMinute: 720},  // 09:00-12:00
		{Date: day("2025-09-15"), StartMinute: 720, EndMinute: 1020}, // 12:00-17:00, contiguous
		{Date: day("2025-09-16"), StartMinute: 540, EndMinute: 720},
	}
	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  bool
	}{
		{name: "inside single window", start: at("2025-09-15", 10, 0), end: at("2025-09-15", 11, 0), want: true},
		{name: "spans merged windows", start: at("2025-09-15", 11, 0), end: at("2025-09-15", 14, 0), want: true},
		{name: "exact window", start: at("2025-09-15", 9, 0), end: at("2025-09-15", 17, 0), want: true},
		{name: "starts before open", start: at("2025-09-15", 8, 0), end: at("2025-09-15", 10, 0), want: false},
		{name: "runs past close", start: at("2025-09-15", 16, 0), end: at("2025-09-15", 18, 0), want: false},
		{name: "gap across days", start: at("2025-09-15", 16, 0), end: at("2025-09-16", 10, 0), want: false},
		{name: "empty interval", start: at("2025-09-15", 10, 0), end: at("2025-09-15", 10, 0), want: false},
	}
	for _, tc := range tests {
		if got := Covers(slots, tc.start, tc.end); got != tc.want {
			t.Errorf("%s: Covers = %v, want %v", tc.name, got, tc.want)
		}
	}
}
