package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mounasabet/platform/libs/db"
	"github.com/mounasabet/platform/services/booking-service/internal/availability"
	"github.com/mounasabet/platform/services/booking-service/internal/model"
)

type BookingRepository struct {
	pool *db.Pool
}

type IdempotencyRecord struct {
	CustomerID      string
	IdempotencyKey  string
	BookingID       string
	StatusCode      int
	ResponsePayload []byte
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *BookingRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, customerID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, customerID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (customer_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (customer_id, idempotency_key) DO NOTHING
	`, customerID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, customerID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *BookingRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, customerID, key, bookingID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET booking_id = $3,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE customer_id = $1 AND idempotency_key = $2
	`, customerID, key, bookingID, statusCode, response)
	return err
}

func (r *BookingRepository) Create(ctx context.Context, tx pgx.Tx, b *model.Booking) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO bookings
			(provider_id, customer_id, service_ids, event_type, guest_count,
			customer_name, customer_email, customer_phone,
			start_time, end_time, status, total_amount_cents, deposit_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`, b.ProviderID, b.CustomerID, b.ServiceIDs, b.EventType, b.GuestCount,
		b.CustomerName, b.CustomerEmail, b.CustomerPhone,
		b.StartTime, b.EndTime, b.Status, b.TotalAmountCents, b.DepositCents).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *BookingRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, bookingID string) (model.Booking, error) {
	row := tx.QueryRow(ctx, selectBooking+`
		WHERE id = $1
		FOR UPDATE
	`, bookingID)
	return scanBooking(row)
}

// UpdateStatus transitions the booking when it is still in fromStatus and
// reports whether the row changed.
func (r *BookingRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, bookingID, fromStatus, toStatus string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET status = $3
		WHERE id = $1 AND status = $2
	`, bookingID, fromStatus, toStatus)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *BookingRepository) Cancel(ctx context.Context, tx pgx.Tx, bookingID, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = $2
		WHERE id = $1
		RETURNING cancelled_at
	`, bookingID, reason).Scan(&cancelledAt)
	return cancelledAt, err
}

// ListActiveWindows returns the reserved intervals of pending and confirmed
// bookings that intersect [from, to), optionally restricted to bookings that
// include serviceID.
func (r *BookingRepository) ListActiveWindows(ctx context.Context, providerID, serviceID string, from, to time.Time) ([]availability.BookingWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, service_ids, start_time, end_time, status
		FROM bookings
		WHERE provider_id = $1
			AND status IN ('pending', 'confirmed')
			AND start_time < $4
			AND end_time > $3
			AND ($2 = '' OR $2 = ANY(service_ids))
		ORDER BY start_time ASC
	`, providerID, serviceID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []availability.BookingWindow
	for rows.Next() {
		var w availability.BookingWindow
		if err := rows.Scan(&w.ID, &w.ServiceIDs, &w.Start, &w.End, &w.Status); err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return windows, nil
}

func (r *BookingRepository) ListByProvider(ctx context.Context, providerID string, limit int) ([]model.Booking, error) {
	return r.list(ctx, `provider_id`, providerID, limit)
}

func (r *BookingRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]model.Booking, error) {
	return r.list(ctx, `customer_id`, customerID, limit)
}

const selectBooking = `
		SELECT id, provider_id, customer_id, service_ids, event_type, guest_count,
			customer_name, customer_email, customer_phone,
			start_time, end_time, status, total_amount_cents, deposit_cents,
			cancelled_at, COALESCE(cancellation_reason, ''), created_at
		FROM bookings`

func (r *BookingRepository) list(ctx context.Context, column, id string, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, selectBooking+`
		WHERE `+column+` = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return bookings, nil
}

func scanBooking(row pgx.Row) (model.Booking, error) {
	var b model.Booking
	var cancelledAt *time.Time
	err := row.Scan(
		&b.ID,
		&b.ProviderID,
		&b.CustomerID,
		&b.ServiceIDs,
		&b.EventType,
		&b.GuestCount,
		&b.CustomerName,
		&b.CustomerEmail,
		&b.CustomerPhone,
		&b.StartTime,
		&b.EndTime,
		&b.Status,
		&b.TotalAmountCents,
		&b.DepositCents,
		&cancelledAt,
		&b.CancelReason,
		&b.CreatedAt,
	)
	if err != nil {
		return model.Booking{}, err
	}
	b.CancelledAt = cancelledAt
	return b, nil
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (r *BookingRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, customerID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT customer_id::text,
			idempotency_key,
			COALESCE(booking_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE customer_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, customerID, key).Scan(
		&rec.CustomerID,
		&rec.IdempotencyKey,
		&rec.BookingID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
