package availability

import (
	"sort"
	"time"
)

// Slot is a provider's declared open window on one calendar date,
// optionally scoped to a single service (ServiceID empty = provider-wide).
type Slot struct {
	ID          string
	ProviderID  string
	ServiceID   string
	Date        time.Time // midnight UTC of the calendar date
	StartMinute int
	EndMinute   int
}

// BookingWindow is the reserved interval of an existing booking.
// Start/End are full timestamps, so a booking crossing midnight blocks
// slots on every date it touches.
type BookingWindow struct {
	ID         string
	ServiceIDs []string
	Start      time.Time
	End        time.Time
	Status     string
}

// Entry is one time slot in the availability view.
type Entry struct {
	Time      string `json:"time"`
	EndTime   string `json:"endTime"`
	Available bool   `json:"available"`
	BookingID string `json:"bookingId,omitempty"`
}

// Active reports whether a booking with this status still holds its time.
func Active(status string) bool {
	return status == "pending" || status == "confirmed"
}

// Resolve reconciles declared slots against existing bookings and returns
// the availability view keyed by ISO date ("2006-01-02"), each date holding
// its slots ordered by start time. A slot is booked iff an active booking's
// [Start, End) interval contains the slot's start instant; when serviceID is
// given, bookings for other services do not block. Cancelled and completed
// bookings never block.
func Resolve(slots []Slot, bookings []BookingWindow, serviceID string) map[string][]Entry {
	blocking := make([]BookingWindow, 0, len(bookings))
	for _, b := range bookings {
		if !Active(b.Status) {
			continue
		}
		if serviceID != "" && !includesService(b, serviceID) {
			continue
		}
		blocking = append(blocking, b)
	}

	sorted := make([]Slot, len(slots))
	copy(sorted, slots)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].StartMinute < sorted[j].StartMinute
	})

	out := make(map[string][]Entry)
	for _, s := range sorted {
		instant := s.Date.Add(time.Duration(s.StartMinute) * time.Minute)
		entry := Entry{
			Time:      FormatClock(s.StartMinute),
			EndTime:   FormatClock(s.EndMinute),
			Available: true,
		}
		for _, b := range blocking {
			// Half-open containment: booked iff b.Start <= instant < b.End.
			if !instant.Before(b.Start) && instant.Before(b.End) {
				entry.Available = false
				entry.BookingID = b.ID
				break
			}
		}
		key := s.Date.Format("2006-01-02")
		out[key] = append(out[key], entry)
	}
	return out
}

// Covers reports whether [start, end) lies entirely within the union of the
// declared slot windows. Adjacent slots merge, so a booking may span several
// contiguous slots.
func Covers(slots []Slot, start, end time.Time) bool {
	if !end.After(start) {
		return false
	}
	type interval struct {
		start time.Time
		end   time.Time
	}
	windows := make([]interval, 0, len(slots))
	for _, s := range slots {
		ws := s.Date.Add(time.Duration(s.StartMinute) * time.Minute)
		we := s.Date.Add(time.Duration(s.EndMinute) * time.Minute)
		if we.After(ws) {
			windows = append(windows, interval{start: ws, end: we})
		}
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].start.Before(windows[j].start) })

	merged := make([]interval, 0, len(windows))
	for _, w := range windows {
		if n := len(merged); n > 0 && !w.start.After(merged[n-1].end) {
			if w.end.After(merged[n-1].end) {
				merged[n-1].end = w.end
			}
			continue
		}
		merged = append(merged, w)
	}

	for _, w := range merged {
		if !start.Before(w.start) && !end.After(w.end) {
			return true
		}
	}
	return false
}

func includesService(b BookingWindow, serviceID string) bool {
	for _, id := range b.ServiceIDs {
		if id == serviceID {
			return true
		}
	}
	return false
}
