package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mounasabet/platform/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

type Payment struct {
	BookingID       string
	ProviderID      string
	CustomerID      string
	DepositCents    int64
	Currency        string
	Status          string
	StripeSessionID string
	CheckoutURL     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PaidAt          *time.Time
	ExpiredAt       *time.Time
}

// CreatePending records the deposit owed for a new booking. Replays of the
// booking event are a no-op.
func (r *Repository) CreatePending(ctx context.Context, p Payment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payments (booking_id, provider_id, customer_id, deposit_cents, currency)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (booking_id) DO NOTHING
	`, p.BookingID, p.ProviderID, p.CustomerID, p.DepositCents, defaultIfEmpty(p.Currency, "usd"))
	return err
}

func (r *Repository) Get(ctx context.Context, bookingID string) (Payment, error) {
	var p Payment
	err := r.pool.QueryRow(ctx, `
		SELECT booking_id::text, provider_id::text, customer_id::text, deposit_cents, currency, status,
		       COALESCE(stripe_session_id, ''), COALESCE(checkout_url, ''),
		       created_at, updated_at, paid_at, expired_at
		FROM payments
		WHERE booking_id = $1
	`, bookingID).Scan(&p.BookingID, &p.ProviderID, &p.CustomerID, &p.DepositCents, &p.Currency, &p.Status,
		&p.StripeSessionID, &p.CheckoutURL, &p.CreatedAt, &p.UpdatedAt, &p.PaidAt, &p.ExpiredAt)
	return p, err
}

func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, bookingID string) (Payment, error) {
	var p Payment
	err := tx.QueryRow(ctx, `
		SELECT booking_id::text, provider_id::text, customer_id::text, deposit_cents, currency, status,
		       COALESCE(stripe_session_id, ''), COALESCE(checkout_url, ''),
		       created_at, updated_at, paid_at, expired_at
		FROM payments
		WHERE booking_id = $1
		FOR UPDATE
	`, bookingID).Scan(&p.BookingID, &p.ProviderID, &p.CustomerID, &p.DepositCents, &p.Currency, &p.Status,
		&p.StripeSessionID, &p.CheckoutURL, &p.CreatedAt, &p.UpdatedAt, &p.PaidAt, &p.ExpiredAt)
	return p, err
}

func (r *Repository) GetBySession(ctx context.Context, tx pgx.Tx, stripeSessionID string) (Payment, error) {
	var p Payment
	err := tx.QueryRow(ctx, `
		SELECT booking_id::text, provider_id::text, customer_id::text, deposit_cents, currency, status,
		       COALESCE(stripe_session_id, ''), COALESCE(checkout_url, ''),
		       created_at, updated_at, paid_at, expired_at
		FROM payments
		WHERE stripe_session_id = $1
		FOR UPDATE
	`, stripeSessionID).Scan(&p.BookingID, &p.ProviderID, &p.CustomerID, &p.DepositCents, &p.Currency, &p.Status,
		&p.StripeSessionID, &p.CheckoutURL, &p.CreatedAt, &p.UpdatedAt, &p.PaidAt, &p.ExpiredAt)
	return p, err
}

func (r *Repository) AttachCheckoutSession(ctx context.Context, tx pgx.Tx, bookingID, stripeSessionID, checkoutURL string) error {
	_, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = 'checkout_created',
		    stripe_session_id = $2,
		    checkout_url = $3,
		    updated_at = now()
		WHERE booking_id = $1
	`, bookingID, nullIfEmpty(stripeSessionID), nullIfEmpty(checkoutURL))
	return err
}

// MarkPaid flips a payment to paid exactly once; a false return means it was
// already paid.
func (r *Repository) MarkPaid(ctx context.Context, tx pgx.Tx, bookingID string, paidAt time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = 'paid',
		    paid_at = $2,
		    updated_at = now()
		WHERE booking_id = $1 AND status <> 'paid'
	`, bookingID, paidAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) MarkExpired(ctx context.Context, tx pgx.Tx, bookingID string, expiredAt time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = 'expired',
		    expired_at = $2,
		    updated_at = now()
		WHERE booking_id = $1 AND status NOT IN ('paid', 'expired')
	`, bookingID, expiredAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

var ErrDuplicateProviderEvent = errors.New("duplicate provider event")

func (r *Repository) InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	var payload any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func defaultIfEmpty(s string, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
