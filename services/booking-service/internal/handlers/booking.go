package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mounasabet/platform/libs/httpx"
	"github.com/mounasabet/platform/libs/outbox"
	"github.com/mounasabet/platform/services/booking-service/internal/availability"
	"github.com/mounasabet/platform/services/booking-service/internal/directory"
	"github.com/mounasabet/platform/services/booking-service/internal/model"
	"github.com/mounasabet/platform/services/booking-service/internal/storage"
)

type BookingHandler struct {
	repo           *storage.BookingRepository
	slots          *storage.SlotRepository
	dir            *storage.DirectoryRepository
	statusFallback directory.StatusProvider
	outboxRepo     *outbox.Repository
	logger         *slog.Logger
	depositPercent int
}

func NewBookingHandler(repo *storage.BookingRepository, slots *storage.SlotRepository, dir *storage.DirectoryRepository, statusFallback directory.StatusProvider, outboxRepo *outbox.Repository, logger *slog.Logger, depositPercent int) *BookingHandler {
	if depositPercent <= 0 || depositPercent > 100 {
		depositPercent = 20
	}
	return &BookingHandler{
		repo:           repo,
		slots:          slots,
		dir:            dir,
		statusFallback: statusFallback,
		outboxRepo:     outboxRepo,
		logger:         logger,
		depositPercent: depositPercent,
	}
}

type createBookingRequest struct {
	ProviderID       string   `json:"providerId"`
	ServiceIDs       []string `json:"serviceIds"`
	EventType        string   `json:"eventType"`
	GuestCount       int      `json:"guestCount"`
	CustomerName     string   `json:"customerName"`
	CustomerEmail    string   `json:"customerEmail"`
	CustomerPhone    string   `json:"customerPhone"`
	StartTime        string   `json:"startTime"`
	EndTime          string   `json:"endTime"`
	TotalAmountCents int64    `json:"totalAmountCents"`
}

type createBookingResponse struct {
	BookingID    string `json:"bookingId"`
	Status       string `json:"status"`
	DepositCents int64  `json:"depositCents"`
}

type cancelBookingRequest struct {
	BookingID string `json:"bookingId"`
	Reason    string `json:"reason"`
}

type cancelBookingResponse struct {
	BookingID   string `json:"bookingId"`
	Status      string `json:"status"`
	CancelledAt string `json:"cancelledAt"`
}

type bookingItem struct {
	BookingID    string   `json:"bookingId"`
	ProviderID   string   `json:"providerId"`
	ServiceIDs   []string `json:"serviceIds"`
	EventType    string   `json:"eventType,omitempty"`
	GuestCount   int      `json:"guestCount,omitempty"`
	CustomerName string   `json:"customerName"`
	StartTime    string   `json:"startTime"`
	EndTime      string   `json:"endTime"`
	Status       string   `json:"status"`
	DepositCents int64    `json:"depositCents"`
	CancelledAt  string   `json:"cancelledAt,omitempty"`
	CreatedAt    string   `json:"createdAt"`
}

// Create books a provider's time for the authenticated customer. The booking
// starts pending; it confirms once the deposit is paid. Double-booking is
// rejected by the overlap constraint on the bookings table.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	customerID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if customerID == "" {
		httpx.Error(w, http.StatusUnauthorized, "customer identity required")
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}

	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	services := make([]string, 0, len(req.ServiceIDs))
	for _, id := range req.ServiceIDs {
		if id = strings.TrimSpace(id); id != "" {
			services = append(services, id)
		}
	}
	if req.ProviderID == "" || req.CustomerName == "" || len(services) == 0 {
		httpx.Error(w, http.StatusBadRequest, "missing required fields")
		return
	}
	if req.TotalAmountCents < 0 {
		httpx.Error(w, http.StatusBadRequest, "invalid totalAmountCents")
		return
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid startTime")
		return
	}
	endTime, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid endTime")
		return
	}
	if !endTime.After(startTime) {
		httpx.Error(w, http.StatusBadRequest, "endTime must be after startTime")
		return
	}

	ctx := r.Context()
	if ok, err := h.providerAcceptsBookings(ctx, req.ProviderID); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "provider status check failed")
		return
	} else if !ok {
		httpx.Error(w, http.StatusUnprocessableEntity, "provider is not accepting bookings")
		return
	}

	booking := &model.Booking{
		ProviderID:       req.ProviderID,
		CustomerID:       customerID,
		ServiceIDs:       services,
		EventType:        strings.TrimSpace(req.EventType),
		GuestCount:       req.GuestCount,
		CustomerName:     req.CustomerName,
		CustomerEmail:    strings.TrimSpace(req.CustomerEmail),
		CustomerPhone:    strings.TrimSpace(req.CustomerPhone),
		StartTime:        startTime.UTC(),
		EndTime:          endTime.UTC(),
		Status:           "pending",
		TotalAmountCents: req.TotalAmountCents,
		DepositCents:     req.TotalAmountCents * int64(h.depositPercent) / 100,
	}

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, customerID, idempotencyKey)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "failed to lock idempotency key")
			return
		}
		if exists && rec.StatusCode > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponsePayload)
			return
		}
	}

	// The requested interval must fall inside the provider's declared slots.
	declared, err := h.slots.List(ctx, req.ProviderID, "",
		booking.StartTime.Truncate(24*time.Hour).AddDate(0, 0, -1),
		booking.EndTime.Truncate(24*time.Hour).AddDate(0, 0, 1))
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to load availability")
		return
	}
	if !availability.Covers(declared, booking.StartTime, booking.EndTime) {
		if idempotencyKey != "" {
			if h.finalizeIdempotencyError(ctx, tx, customerID, idempotencyKey, http.StatusUnprocessableEntity, "requested time is outside declared availability") {
				_ = tx.Commit(ctx)
				return
			}
		}
		httpx.Error(w, http.StatusUnprocessableEntity, "requested time is outside declared availability")
		return
	}

	id, err := h.repo.Create(ctx, tx, booking)
	if err != nil {
		if storage.IsConflict(err) {
			httpx.Error(w, http.StatusConflict, "time slot already booked")
			return
		}
		h.logger.Error("booking insert failed", "err", err)
		httpx.Error(w, http.StatusInternalServerError, "failed to create booking")
		return
	}

	evtPayload, err := json.Marshal(map[string]any{
		"booking_id":         id,
		"provider_id":        booking.ProviderID,
		"customer_id":        booking.CustomerID,
		"service_ids":        booking.ServiceIDs,
		"customer_name":      booking.CustomerName,
		"customer_email":     booking.CustomerEmail,
		"customer_phone":     booking.CustomerPhone,
		"start_time":         booking.StartTime.Format(time.RFC3339),
		"end_time":           booking.EndTime.Format(time.RFC3339),
		"total_amount_cents": booking.TotalAmountCents,
		"deposit_cents":      booking.DepositCents,
	})
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to build event payload")
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "booking",
		AggregateID:   id,
		EventType:     "booking.created.v1",
		Payload:       evtPayload,
	}); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to write outbox event")
		return
	}

	respBody, err := json.Marshal(createBookingResponse{
		BookingID:    id,
		Status:       booking.Status,
		DepositCents: booking.DepositCents,
	})
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to build response")
		return
	}
	if idempotencyKey != "" {
		if err := h.repo.FinalizeIdempotency(ctx, tx, customerID, idempotencyKey, id, http.StatusCreated, respBody); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "failed to finalize idempotency key")
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to commit")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

// Cancel is reachable by the booking's customer or its provider. Cancelling
// an already-cancelled booking returns the original cancellation.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.BookingID = strings.TrimSpace(req.BookingID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.BookingID == "" {
		httpx.Error(w, http.StatusBadRequest, "bookingId required")
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	booking, err := h.repo.GetForUpdate(ctx, tx, req.BookingID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.Error(w, http.StatusNotFound, "booking not found")
			return
		}
		httpx.Error(w, http.StatusInternalServerError, "failed to load booking")
		return
	}
	if !h.callerOwnsBooking(r, booking) {
		httpx.Error(w, http.StatusForbidden, "forbidden")
		return
	}

	if booking.Status == "cancelled" && booking.CancelledAt != nil {
		httpx.JSON(w, http.StatusOK, cancelBookingResponse{
			BookingID:   booking.ID,
			Status:      "cancelled",
			CancelledAt: booking.CancelledAt.UTC().Format(time.RFC3339),
		})
		return
	}
	if !availability.Active(booking.Status) {
		httpx.Error(w, http.StatusConflict, "booking cannot be cancelled")
		return
	}

	cancelledAt, err := h.repo.Cancel(ctx, tx, booking.ID, req.Reason)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to cancel booking")
		return
	}

	payload, err := json.Marshal(map[string]any{
		"booking_id":     booking.ID,
		"provider_id":    booking.ProviderID,
		"customer_id":    booking.CustomerID,
		"customer_email": booking.CustomerEmail,
		"customer_phone": booking.CustomerPhone,
		"start_time":     booking.StartTime.UTC().Format(time.RFC3339),
		"end_time":       booking.EndTime.UTC().Format(time.RFC3339),
		"cancelled_at":   cancelledAt.UTC().Format(time.RFC3339),
		"reason":         req.Reason,
	})
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to build cancellation event")
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "booking",
		AggregateID:   booking.ID,
		EventType:     "booking.cancelled.v1",
		Payload:       payload,
	}); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to write outbox event")
		return
	}

	if err := tx.Commit(ctx); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to commit")
		return
	}
	httpx.JSON(w, http.StatusOK, cancelBookingResponse{
		BookingID:   booking.ID,
		Status:      "cancelled",
		CancelledAt: cancelledAt.UTC().Format(time.RFC3339),
	})
}

// Complete marks a confirmed booking as delivered. Provider only.
func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	providerID := strings.TrimSpace(r.Header.Get("X-Provider-Id"))
	if providerID == "" {
		httpx.Error(w, http.StatusUnauthorized, "provider identity required")
		return
	}

	var req struct {
		BookingID string `json:"bookingId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.BookingID = strings.TrimSpace(req.BookingID)
	if req.BookingID == "" {
		httpx.Error(w, http.StatusBadRequest, "bookingId required")
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	booking, err := h.repo.GetForUpdate(ctx, tx, req.BookingID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.Error(w, http.StatusNotFound, "booking not found")
			return
		}
		httpx.Error(w, http.StatusInternalServerError, "failed to load booking")
		return
	}
	if booking.ProviderID != providerID {
		httpx.Error(w, http.StatusForbidden, "forbidden")
		return
	}

	changed, err := h.repo.UpdateStatus(ctx, tx, booking.ID, "confirmed", "completed")
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to update booking")
		return
	}
	if !changed {
		httpx.Error(w, http.StatusConflict, "only confirmed bookings can be completed")
		return
	}

	payload, err := json.Marshal(map[string]any{
		"booking_id":  booking.ID,
		"provider_id": booking.ProviderID,
		"customer_id": booking.CustomerID,
		"end_time":    booking.EndTime.UTC().Format(time.RFC3339),
	})
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to build event payload")
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "booking",
		AggregateID:   booking.ID,
		EventType:     "booking.completed.v1",
		Payload:       payload,
	}); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to write outbox event")
		return
	}

	if err := tx.Commit(ctx); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to commit")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"bookingId": booking.ID, "status": "completed"})
}

// ListForCustomer returns the caller's bookings, newest first.
func (h *BookingHandler) ListForCustomer(w http.ResponseWriter, r *http.Request) {
	customerID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if customerID == "" {
		httpx.Error(w, http.StatusUnauthorized, "customer identity required")
		return
	}
	bookings, err := h.repo.ListByCustomer(r.Context(), customerID, parseLimit(r))
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to list bookings")
		return
	}
	httpx.JSON(w, http.StatusOK, toItems(bookings))
}

// ListForProvider returns the provider's booking calendar, newest first.
func (h *BookingHandler) ListForProvider(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	providerID := strings.TrimSpace(r.Header.Get("X-Provider-Id"))
	if providerID == "" {
		httpx.Error(w, http.StatusUnauthorized, "provider identity required")
		return
	}
	bookings, err := h.repo.ListByProvider(r.Context(), providerID, parseLimit(r))
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to list bookings")
		return
	}
	httpx.JSON(w, http.StatusOK, toItems(bookings))
}

// Bookings routes the shared /bookings path by method.
func (h *BookingHandler) Bookings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.Create(w, r)
	case http.MethodGet:
		h.ListForCustomer(w, r)
	default:
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *BookingHandler) providerAcceptsBookings(ctx context.Context, providerID string) (bool, error) {
	entry, found, err := h.dir.Get(ctx, providerID)
	if err != nil {
		return false, err
	}
	if found {
		return entry.Status == "approved", nil
	}
	if h.statusFallback != nil {
		reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		status, err := h.statusFallback.GetProviderStatus(reqCtx, providerID)
		if err != nil {
			h.logger.Warn("provider status fallback failed; allowing booking", "err", err, "provider_id", providerID)
			return true, nil
		}
		return status == "approved", nil
	}
	// No directory entry yet. Declared slots gate bookings anyway, so the
	// cache miss is treated as accepting.
	return true, nil
}

func (h *BookingHandler) callerOwnsBooking(r *http.Request, b model.Booking) bool {
	if userID := strings.TrimSpace(r.Header.Get("X-User-Id")); userID != "" && userID == b.CustomerID {
		return true
	}
	if providerID := strings.TrimSpace(r.Header.Get("X-Provider-Id")); providerID != "" && providerID == b.ProviderID {
		return true
	}
	return false
}

func (h *BookingHandler) finalizeIdempotencyError(ctx context.Context, tx pgx.Tx, customerID, key string, statusCode int, msg string) bool {
	body, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return false
	}
	if err := h.repo.FinalizeIdempotency(ctx, tx, customerID, key, "", statusCode, body); err != nil {
		h.logger.Error("failed to finalize idempotency (error)", "err", err)
		return false
	}
	return true
}

func parseLimit(r *http.Request) int {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	return limit
}

func toItems(bookings []model.Booking) []bookingItem {
	items := make([]bookingItem, 0, len(bookings))
	for _, b := range bookings {
		item := bookingItem{
			BookingID:    b.ID,
			ProviderID:   b.ProviderID,
			ServiceIDs:   b.ServiceIDs,
			EventType:    b.EventType,
			GuestCount:   b.GuestCount,
			CustomerName: b.CustomerName,
			StartTime:    b.StartTime.UTC().Format(time.RFC3339),
			EndTime:      b.EndTime.UTC().Format(time.RFC3339),
			Status:       b.Status,
			DepositCents: b.DepositCents,
			CreatedAt:    b.CreatedAt.UTC().Format(time.RFC3339),
		}
		if b.CancelledAt != nil {
			item.CancelledAt = b.CancelledAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	return items
}
