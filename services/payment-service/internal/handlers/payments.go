package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mounasabet/platform/libs/httpx"
	"github.com/mounasabet/platform/libs/outbox"
	"github.com/mounasabet/platform/services/payment-service/internal/storage"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
)

type Handler struct {
	repo                   *storage.Repository
	outboxRepo             *outbox.Repository
	logger                 *slog.Logger
	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
	stripeSecretKey        string
	checkoutSuccessURL     string
	checkoutCancelURL      string
}

type Config struct {
	StripeWebhookSecret           string
	StripeWebhookToleranceSeconds int
	StripeSecretKey               string
	CheckoutSuccessURL            string
	CheckoutCancelURL             string
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository, logger *slog.Logger, cfg Config) *Handler {
	tolSeconds := cfg.StripeWebhookToleranceSeconds
	if tolSeconds <= 0 {
		tolSeconds = 300
	}
	return &Handler{
		repo:                   repo,
		outboxRepo:             outboxRepo,
		logger:                 logger,
		stripeWebhookSecret:    strings.TrimSpace(cfg.StripeWebhookSecret),
		stripeWebhookTolerance: time.Duration(tolSeconds) * time.Second,
		stripeSecretKey:        strings.TrimSpace(cfg.StripeSecretKey),
		checkoutSuccessURL:     strings.TrimSpace(cfg.CheckoutSuccessURL),
		checkoutCancelURL:      strings.TrimSpace(cfg.CheckoutCancelURL),
	}
}

type checkoutRequest struct {
	BookingID  string `json:"booking_id"`
	SuccessURL string `json:"success_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
}

// Checkout opens a Stripe checkout session for a booking's deposit. Safe to
// retry: an existing open session is returned instead of creating a new one.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.stripeSecretKey == "" {
		httpx.Error(w, http.StatusNotImplemented, "stripe checkout not configured (STRIPE_SECRET_KEY missing)")
		return
	}

	customerID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if customerID == "" {
		httpx.Error(w, http.StatusUnauthorized, "missing X-User-Id")
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.BookingID = strings.TrimSpace(req.BookingID)
	if req.BookingID == "" {
		httpx.Error(w, http.StatusBadRequest, "booking_id is required")
		return
	}

	successURL := strings.TrimSpace(req.SuccessURL)
	if successURL == "" {
		successURL = h.checkoutSuccessURL
	}
	cancelURL := strings.TrimSpace(req.CancelURL)
	if cancelURL == "" {
		cancelURL = h.checkoutCancelURL
	}
	if successURL == "" || cancelURL == "" {
		httpx.Error(w, http.StatusBadRequest, "success_url and cancel_url are required (or configure default URLs)")
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	payment, err := h.repo.GetForUpdate(ctx, tx, req.BookingID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.Error(w, http.StatusNotFound, "payment not found for booking")
			return
		}
		h.logger.Error("payment lookup failed", "err", err, "booking_id", req.BookingID)
		httpx.Error(w, http.StatusInternalServerError, "failed to load payment")
		return
	}
	if payment.CustomerID != customerID {
		httpx.Error(w, http.StatusForbidden, "forbidden")
		return
	}
	switch payment.Status {
	case "paid":
		httpx.Error(w, http.StatusConflict, "deposit already paid")
		return
	case "checkout_created":
		if payment.CheckoutURL != "" {
			httpx.JSON(w, http.StatusOK, map[string]any{
				"session_id": payment.StripeSessionID,
				"url":        payment.CheckoutURL,
			})
			return
		}
	}
	if payment.DepositCents <= 0 {
		httpx.Error(w, http.StatusConflict, "no deposit due for booking")
		return
	}

	// Stripe uses a global API key. Keep usage limited to this handler call.
	stripe.Key = h.stripeSecretKey

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(payment.BookingID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(payment.Currency),
					UnitAmount: stripe.Int64(payment.DepositCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Booking deposit"),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"booking_id":  payment.BookingID,
			"provider_id": payment.ProviderID,
		},
	}
	if idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key")); idemKey != "" {
		params.IdempotencyKey = stripe.String(idemKey)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		h.logger.Error("stripe checkout session create failed", "err", err, "booking_id", payment.BookingID)
		httpx.Error(w, http.StatusBadGateway, "failed to create checkout session")
		return
	}

	if err := h.repo.AttachCheckoutSession(ctx, tx, payment.BookingID, sess.ID, sess.URL); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to persist checkout session")
		return
	}
	if err := tx.Commit(ctx); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to commit")
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"url":        sess.URL,
	})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	bookingID := strings.TrimSpace(r.URL.Query().Get("booking_id"))
	if bookingID == "" {
		httpx.Error(w, http.StatusBadRequest, "booking_id is required")
		return
	}

	payment, err := h.repo.Get(r.Context(), bookingID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.Error(w, http.StatusNotFound, "payment not found for booking")
			return
		}
		h.logger.Error("payment lookup failed", "err", err, "booking_id", bookingID)
		httpx.Error(w, http.StatusInternalServerError, "failed to load payment")
		return
	}

	callerID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	role := strings.TrimSpace(r.Header.Get("X-Role"))
	if role != "admin" && callerID != "" && callerID != payment.CustomerID {
		httpx.Error(w, http.StatusForbidden, "forbidden")
		return
	}

	resp := map[string]any{
		"booking_id":    payment.BookingID,
		"deposit_cents": payment.DepositCents,
		"currency":      payment.Currency,
		"status":        payment.Status,
		"updated_at":    payment.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if payment.PaidAt != nil {
		resp["paid_at"] = payment.PaidAt.UTC().Format(time.RFC3339)
	}
	if payment.ExpiredAt != nil {
		resp["expired_at"] = payment.ExpiredAt.UTC().Format(time.RFC3339)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// markPaid flips the payment and emits payment.deposit.paid.v1 in the same
// transaction. Already-paid rows emit nothing, so webhook replays stay quiet.
func (h *Handler) markPaid(ctx context.Context, tx pgx.Tx, payment storage.Payment, paidAt time.Time) error {
	changed, err := h.repo.MarkPaid(ctx, tx, payment.BookingID, paidAt)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"booking_id":    payment.BookingID,
		"provider_id":   payment.ProviderID,
		"customer_id":   payment.CustomerID,
		"deposit_cents": payment.DepositCents,
		"paid_at":       paidAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "payment",
		AggregateID:   payment.BookingID,
		EventType:     "payment.deposit.paid.v1",
		Payload:       payload,
	})
}

func (h *Handler) markExpired(ctx context.Context, tx pgx.Tx, payment storage.Payment, expiredAt time.Time) error {
	changed, err := h.repo.MarkExpired(ctx, tx, payment.BookingID, expiredAt)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"booking_id":  payment.BookingID,
		"provider_id": payment.ProviderID,
		"customer_id": payment.CustomerID,
		"expired_at":  expiredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "payment",
		AggregateID:   payment.BookingID,
		EventType:     "payment.deposit.expired.v1",
		Payload:       payload,
	})
}
