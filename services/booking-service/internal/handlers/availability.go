package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mounasabet/platform/libs/httpx"
	"github.com/mounasabet/platform/services/booking-service/internal/availability"
)

// AvailabilityStore is the persistence surface the availability endpoints
// need. Injected so tests run against an in-memory fake.
type AvailabilityStore interface {
	ListSlots(ctx context.Context, providerID, serviceID string, from, to time.Time) ([]availability.Slot, error)
	ListActiveWindows(ctx context.Context, providerID, serviceID string, from, to time.Time) ([]availability.BookingWindow, error)
	UpsertSlot(ctx context.Context, slot availability.Slot) error
	DeleteSlot(ctx context.Context, providerID, serviceID string, date time.Time, startMinute int) error
}

type AvailabilityHandler struct {
	store  AvailabilityStore
	logger *slog.Logger
	now    func() time.Time
}

func NewAvailabilityHandler(store AvailabilityStore, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{store: store, logger: logger, now: time.Now}
}

const defaultWindowDays = 30

type getAvailabilityResponse struct {
	Availability map[string][]availability.Entry `json:"availability"`
}

// Get serves the public availability view. providerId is required;
// startDate/endDate default to a 30 day window beginning today.
func (h *AvailabilityHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	providerID := strings.TrimSpace(r.URL.Query().Get("providerId"))
	if providerID == "" {
		httpx.Error(w, http.StatusBadRequest, "providerId is required")
		return
	}
	serviceID := strings.TrimSpace(r.URL.Query().Get("serviceId"))

	today := h.now().UTC().Truncate(24 * time.Hour)
	startDate := today
	if raw := strings.TrimSpace(r.URL.Query().Get("startDate")); raw != "" {
		d, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, "invalid startDate")
			return
		}
		startDate = d
	}
	endDate := startDate.AddDate(0, 0, defaultWindowDays)
	if raw := strings.TrimSpace(r.URL.Query().Get("endDate")); raw != "" {
		d, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, "invalid endDate")
			return
		}
		endDate = d
	}
	if endDate.Before(startDate) {
		httpx.Error(w, http.StatusBadRequest, "endDate must not precede startDate")
		return
	}

	ctx := r.Context()
	slots, err := h.store.ListSlots(ctx, providerID, serviceID, startDate, endDate)
	if err != nil {
		h.logger.Error("slot lookup failed", "err", err, "provider_id", providerID)
		httpx.Error(w, http.StatusInternalServerError, "failed to load availability")
		return
	}

	// Bookings are fetched over the full range plus a day on each side so
	// windows crossing midnight at the range edges still count.
	windowStart := startDate.AddDate(0, 0, -1)
	windowEnd := endDate.AddDate(0, 0, 2)
	bookings, err := h.store.ListActiveWindows(ctx, providerID, serviceID, windowStart, windowEnd)
	if err != nil {
		h.logger.Error("booking lookup failed", "err", err, "provider_id", providerID)
		httpx.Error(w, http.StatusInternalServerError, "failed to load availability")
		return
	}

	httpx.JSON(w, http.StatusOK, getAvailabilityResponse{
		Availability: availability.Resolve(slots, bookings, serviceID),
	})
}

type setAvailabilityRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	ServiceID string `json:"serviceId"`
	Available *bool  `json:"available"`
}

// Set toggles one declared slot for the authenticated provider. The gateway
// injects X-Provider-Id after verifying the provider role.
func (h *AvailabilityHandler) Set(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	providerID := strings.TrimSpace(r.Header.Get("X-Provider-Id"))
	if providerID == "" {
		httpx.Error(w, http.StatusUnauthorized, "provider identity required")
		return
	}

	var req setAvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}

	date, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(req.Date), time.UTC)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid date")
		return
	}
	startMinute, err := availability.ParseClock(strings.TrimSpace(req.StartTime))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid startTime")
		return
	}
	endMinute, err := availability.ParseClock(strings.TrimSpace(req.EndTime))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid endTime")
		return
	}
	if endMinute <= startMinute {
		httpx.Error(w, http.StatusBadRequest, "endTime must be after startTime")
		return
	}

	serviceID := strings.TrimSpace(req.ServiceID)
	open := true
	if req.Available != nil {
		open = *req.Available
	}

	ctx := r.Context()
	if open {
		err = h.store.UpsertSlot(ctx, availability.Slot{
			ProviderID:  providerID,
			ServiceID:   serviceID,
			Date:        date,
			StartMinute: startMinute,
			EndMinute:   endMinute,
		})
	} else {
		err = h.store.DeleteSlot(ctx, providerID, serviceID, date, startMinute)
	}
	if err != nil {
		h.logger.Error("slot write failed", "err", err, "provider_id", providerID, "open", open)
		httpx.Error(w, http.StatusInternalServerError, "failed to update availability")
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]bool{"success": true})
}
