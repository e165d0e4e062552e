package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mounasabet/platform/services/booking-service/internal/availability"
)

type fakeStore struct {
	slots    []availability.Slot
	bookings []availability.BookingWindow
	failRead bool
}

func (f *fakeStore) ListSlots(_ context.Context, providerID, serviceID string, from, to time.Time) ([]availability.Slot, error) {
	if f.failRead {
		return nil, errors.New("storage unavailable")
	}
	var out []availability.Slot
	for _, s := range f.slots {
		if s.ProviderID != providerID {
			continue
		}
		if serviceID != "" && s.ServiceID != serviceID {
			continue
		}
		if s.Date.Before(from) || s.Date.After(to) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) ListActiveWindows(_ context.Context, providerID, serviceID string, from, to time.Time) ([]availability.BookingWindow, error) {
	if f.failRead {
		return nil, errors.New("storage unavailable")
	}
	var out []availability.BookingWindow
	for _, b := range f.bookings {
		if !availability.Active(b.Status) {
			continue
		}
		if b.Start.After(to) || !b.End.After(from) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeStore) UpsertSlot(_ context.Context, slot availability.Slot) error {
	for i, s := range f.slots {
		if s.ProviderID == slot.ProviderID && s.ServiceID == slot.ServiceID &&
			s.Date.Equal(slot.Date) && s.StartMinute == slot.StartMinute {
			f.slots[i] = slot
			return nil
		}
	}
	f.slots = append(f.slots, slot)
	return nil
}

func (f *fakeStore) DeleteSlot(_ context.Context, providerID, serviceID string, date time.Time, startMinute int) error {
	kept := f.slots[:0]
	for _, s := range f.slots {
		if s.ProviderID == providerID && s.ServiceID == serviceID && s.Date.Equal(date) && s.StartMinute == startMinute {
			continue
		}
		kept = append(kept, s)
	}
	f.slots = kept
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func getAvailability(t *testing.T, h *AvailabilityHandler, query string) (int, map[string][]availability.Entry) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/availability?"+query, nil)
	rec := httptest.NewRecorder()
	h.Get(rec, req)
	if rec.Code != http.StatusOK {
		return rec.Code, nil
	}
	var resp struct {
		Availability map[string][]availability.Entry `json:"availability"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	return rec.Code, resp.Availability
}

func TestGetAvailability_FreeSlot(t *testing.T) {
	store := &fakeStore{
		slots: []availability.Slot{
			{ID: "slot-1", ProviderID: "prov-1", Date: day("2025-09-15"), StartMinute: 840, EndMinute: 900},
		},
	}
	h := NewAvailabilityHandler(store, testLogger())

	code, got := getAvailability(t, h, "providerId=prov-1&startDate=2025-09-15&endDate=2025-09-15")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	entries := got["2025-09-15"]
	if len(entries) != 1 || entries[0].Time != "14:00" || !entries[0].Available || entries[0].BookingID != "" {
		t.Fatalf("unexpected availability: %+v", got)
	}
}

func TestGetAvailability_BookedSlot(t *testing.T) {
	store := &fakeStore{
		slots: []availability.Slot{
			{ID: "slot-1", ProviderID: "prov-1", Date: day("2025-09-15"), StartMinute: 840, EndMinute: 900},
		},
		bookings: []availability.BookingWindow{
			{ID: "book-1", Start: at("2025-09-15", 14, 0), End: at("2025-09-15", 15, 0), Status: "confirmed"},
		},
	}
	h := NewAvailabilityHandler(store, testLogger())

	_, got := getAvailability(t, h, "providerId=prov-1&startDate=2025-09-15&endDate=2025-09-15")
	e := got["2025-09-15"][0]
	if e.Available || e.BookingID != "book-1" {
		t.Fatalf("expected booked by book-1, got %+v", e)
	}

	// Cancelling the booking frees the slot again.
	store.bookings[0].Status = "cancelled"
	_, got = getAvailability(t, h, "providerId=prov-1&startDate=2025-09-15&endDate=2025-09-15")
	e = got["2025-09-15"][0]
	if !e.Available || e.BookingID != "" {
		t.Fatalf("expected available after cancellation, got %+v", e)
	}
}

func TestGetAvailability_DefaultsToThirtyDayWindow(t *testing.T) {
	store := &fakeStore{
		slots: []availability.Slot{
			{ID: "in", ProviderID: "prov-1", Date: day("2025-09-20"), StartMinute: 600, EndMinute: 660},
			{ID: "out", ProviderID: "prov-1", Date: day("2025-11-01"), StartMinute: 600, EndMinute: 660},
		},
	}
	h := NewAvailabilityHandler(store, testLogger())
	h.now = func() time.Time { return at("2025-09-15", 8, 30) }

	code, got := getAvailability(t, h, "providerId=prov-1")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if _, ok := got["2025-09-20"]; !ok {
		t.Fatal("slot inside the default window missing")
	}
	if _, ok := got["2025-11-01"]; ok {
		t.Fatal("slot beyond today+30d must not appear")
	}
}

func TestGetAvailability_Validation(t *testing.T) {
	h := NewAvailabilityHandler(&fakeStore{}, testLogger())
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{name: "missing provider", query: "startDate=2025-09-15", want: http.StatusBadRequest},
		{name: "inverted range", query: "providerId=prov-1&startDate=2025-09-20&endDate=2025-09-15", want: http.StatusBadRequest},
		{name: "bad startDate", query: "providerId=prov-1&startDate=15-09-2025", want: http.StatusBadRequest},
		{name: "bad endDate", query: "providerId=prov-1&endDate=tomorrow", want: http.StatusBadRequest},
	}
	for _, tc := range tests {
		code, _ := getAvailability(t, h, tc.query)
		if code != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, code)
		}
	}
}

func TestGetAvailability_StorageErrorIsNotMasked(t *testing.T) {
	h := NewAvailabilityHandler(&fakeStore{failRead: true}, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/availability?providerId=prov-1", nil)
	rec := httptest.NewRecorder()
	h.Get(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
		t.Fatalf("expected error envelope, got %q", rec.Body.String())
	}
}

func setAvailability(t *testing.T, h *AvailabilityHandler, providerID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/providers/availability", strings.NewReader(body))
	if providerID != "" {
		req.Header.Set("X-Provider-Id", providerID)
	}
	rec := httptest.NewRecorder()
	h.Set(rec, req)
	return rec
}

func TestSetAvailability_DeclareThenRead(t *testing.T) {
	store := &fakeStore{}
	h := NewAvailabilityHandler(store, testLogger())

	rec := setAvailability(t, h, "prov-1", `{"date":"2025-09-16","startTime":"10:00","endTime":"11:00"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	_, got := getAvailability(t, h, "providerId=prov-1&startDate=2025-09-16&endDate=2025-09-16")
	entries := got["2025-09-16"]
	if len(entries) != 1 || entries[0].Time != "10:00" || !entries[0].Available {
		t.Fatalf("declared slot not visible: %+v", got)
	}
}

func TestSetAvailability_IdempotentToggle(t *testing.T) {
	store := &fakeStore{}
	h := NewAvailabilityHandler(store, testLogger())
	body := `{"date":"2025-09-16","startTime":"10:00","endTime":"11:00","available":true}`

	setAvailability(t, h, "prov-1", body)
	setAvailability(t, h, "prov-1", body)
	if len(store.slots) != 1 {
		t.Fatalf("expected exactly one slot row, got %d", len(store.slots))
	}

	rec := setAvailability(t, h, "prov-1", `{"date":"2025-09-16","startTime":"10:00","endTime":"11:00","available":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on toggle off, got %d", rec.Code)
	}
	_, got := getAvailability(t, h, "providerId=prov-1&startDate=2025-09-16&endDate=2025-09-16")
	if len(got["2025-09-16"]) != 0 {
		t.Fatalf("expected slot removed, got %+v", got)
	}
}

func TestSetAvailability_Validation(t *testing.T) {
	h := NewAvailabilityHandler(&fakeStore{}, testLogger())
	tests := []struct {
		name     string
		provider string
		body     string
		want     int
	}{
		{name: "missing identity", provider: "", body: `{"date":"2025-09-16","startTime":"10:00","endTime":"11:00"}`, want: http.StatusUnauthorized},
		{name: "bad json", provider: "prov-1", body: `{`, want: http.StatusBadRequest},
		{name: "bad date", provider: "prov-1", body: `{"date":"16/09/2025","startTime":"10:00","endTime":"11:00"}`, want: http.StatusBadRequest},
		{name: "bad startTime", provider: "prov-1", body: `{"date":"2025-09-16","startTime":"10am","endTime":"11:00"}`, want: http.StatusBadRequest},
		{name: "end before start", provider: "prov-1", body: `{"date":"2025-09-16","startTime":"11:00","endTime":"10:00"}`, want: http.StatusBadRequest},
	}
	for _, tc := range tests {
		rec := setAvailability(t, h, tc.provider, tc.body)
		if rec.Code != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
		}
	}
}

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
