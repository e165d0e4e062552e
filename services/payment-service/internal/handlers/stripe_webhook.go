package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mounasabet/platform/libs/httpx"
	"github.com/mounasabet/platform/services/payment-service/internal/storage"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeWebhook handles Stripe webhooks (no JWT auth; signature verification is the auth).
// Gateway should expose this path publicly.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.stripeWebhookSecret == "" {
		httpx.Error(w, http.StatusServiceUnavailable, "stripe webhook not configured")
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		httpx.Error(w, http.StatusBadRequest, "missing Stripe-Signature header")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.stripeWebhookSecret, h.stripeWebhookTolerance)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid signature")
		return
	}

	occurredAt := time.Unix(evt.Created, 0).UTC()
	evtType := string(evt.Type)
	h.logger.Info("payment provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
		"occurred_at", occurredAt.Format(time.RFC3339),
	)

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Idempotency: ignore replayed Stripe events.
	if err := h.repo.InsertProviderEvent(ctx, tx, storage.ProviderEvent{
		Provider:        "stripe",
		ProviderEventID: evt.ID,
		EventType:       evtType,
		Payload:         body,
	}); err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			h.logger.Info("payment provider event duplicate ignored", "provider", "stripe", "provider_event_id", evt.ID, "event_type", evtType)
			_ = tx.Commit(ctx)
			httpx.JSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			return
		}
		httpx.Error(w, http.StatusInternalServerError, "failed to record provider event")
		return
	}

	switch evtType {
	case "checkout.session.completed", "checkout.session.expired":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			h.logger.Error("stripe: invalid checkout session payload", "err", err)
			break
		}
		bookingID := strings.TrimSpace(session.Metadata["booking_id"])
		if bookingID == "" {
			h.logger.Warn("stripe: missing booking_id metadata on checkout session", "session_id", session.ID)
			break
		}

		payment, err := h.repo.GetForUpdate(ctx, tx, bookingID)
		if err != nil {
			if storage.IsNotFound(err) {
				h.logger.Warn("stripe: checkout session for unknown booking", "booking_id", bookingID)
				break
			}
			httpx.Error(w, http.StatusInternalServerError, "failed to load payment")
			return
		}

		if evtType == "checkout.session.completed" {
			err = h.markPaid(ctx, tx, payment, occurredAt)
		} else {
			err = h.markExpired(ctx, tx, payment, occurredAt)
		}
		if err != nil {
			h.logger.Error("stripe: failed to apply checkout event", "err", err, "booking_id", bookingID, "event_type", evtType)
			httpx.Error(w, http.StatusInternalServerError, "failed to apply event")
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to commit")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type localWebhookRequest struct {
	EventID    string `json:"event_id"`
	Type       string `json:"type"` // deposit.paid | deposit.expired
	BookingID  string `json:"booking_id"`
	OccurredAt string `json:"occurred_at"`
}

// LocalWebhook gives dev environments without Stripe a way to drive the same
// state machine. The gateway keeps it off public routes.
func (h *Handler) LocalWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req localWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.EventID = strings.TrimSpace(req.EventID)
	req.Type = strings.TrimSpace(req.Type)
	req.BookingID = strings.TrimSpace(req.BookingID)
	req.OccurredAt = strings.TrimSpace(req.OccurredAt)
	if req.EventID == "" || req.BookingID == "" {
		httpx.Error(w, http.StatusBadRequest, "event_id and booking_id are required")
		return
	}
	if req.Type != "deposit.paid" && req.Type != "deposit.expired" {
		httpx.Error(w, http.StatusBadRequest, "unsupported type")
		return
	}
	occurredAt := time.Now().UTC()
	if req.OccurredAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, "invalid occurred_at")
			return
		}
		occurredAt = parsed.UTC()
	}

	payloadRaw, _ := json.Marshal(req)

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.repo.InsertProviderEvent(ctx, tx, storage.ProviderEvent{
		Provider:        "local",
		ProviderEventID: req.EventID,
		EventType:       req.Type,
		Payload:         payloadRaw,
	}); err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			_ = tx.Commit(ctx)
			httpx.JSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			return
		}
		httpx.Error(w, http.StatusInternalServerError, "failed to record provider event")
		return
	}

	payment, err := h.repo.GetForUpdate(ctx, tx, req.BookingID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.Error(w, http.StatusNotFound, "payment not found for booking")
			return
		}
		httpx.Error(w, http.StatusInternalServerError, "failed to load payment")
		return
	}

	if req.Type == "deposit.paid" {
		err = h.markPaid(ctx, tx, payment, occurredAt)
	} else {
		err = h.markExpired(ctx, tx, payment, occurredAt)
	}
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to apply event")
		return
	}

	if err := tx.Commit(ctx); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to commit")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
