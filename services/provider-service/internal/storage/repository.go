package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
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

type Profile struct {
	ProviderID  string
	DisplayName string
	City        string
	Description string
	Timezone    string
	Status      string
	CreatedAt   time.Time
}

// CreateProfile inserts a pending profile for a newly registered provider.
// Replays of the signup event are a no-op.
func (r *Repository) CreateProfile(ctx context.Context, providerID, displayName string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO provider_profiles (provider_id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (provider_id) DO NOTHING
	`, providerID, displayName)
	return err
}

func (r *Repository) GetProfile(ctx context.Context, providerID string) (Profile, error) {
	var p Profile
	err := r.pool.QueryRow(ctx, `
		SELECT provider_id::text, display_name, city, description, timezone, status, created_at
		FROM provider_profiles
		WHERE provider_id = $1
	`, providerID).Scan(&p.ProviderID, &p.DisplayName, &p.City, &p.Description, &p.Timezone, &p.Status, &p.CreatedAt)
	return p, err
}

func (r *Repository) UpdateProfile(ctx context.Context, providerID, displayName, city, description, timezone string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE provider_profiles
		SET display_name = $2,
			city = $3,
			description = $4,
			timezone = $5,
			updated_at = now()
		WHERE provider_id = $1
	`, providerID, displayName, city, description, timezone)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// SetStatusTx flips moderation status inside the caller's transaction so the
// outbox event commits atomically with the change. Returns the stored profile
// and whether the status actually changed.
func (r *Repository) SetStatusTx(ctx context.Context, tx pgx.Tx, providerID, status string) (Profile, bool, error) {
	var p Profile
	var prev string
	err := tx.QueryRow(ctx, `
		SELECT provider_id::text, display_name, status
		FROM provider_profiles
		WHERE provider_id = $1
		FOR UPDATE
	`, providerID).Scan(&p.ProviderID, &p.DisplayName, &prev)
	if err != nil {
		return Profile{}, false, err
	}
	if prev == status {
		p.Status = prev
		return p, false, nil
	}
	if _, err := tx.Exec(ctx, `
		UPDATE provider_profiles SET status = $2, updated_at = now() WHERE provider_id = $1
	`, providerID, status); err != nil {
		return Profile{}, false, err
	}
	p.Status = status
	return p, true, nil
}

func (r *Repository) ListApprovedProfiles(ctx context.Context, city string, limit int) ([]Profile, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT provider_id::text, display_name, city, description, timezone, status, created_at
		FROM provider_profiles
		WHERE status = 'approved'
			AND ($1 = '' OR city = $1)
		ORDER BY display_name ASC
		LIMIT $2
	`, city, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ProviderID, &p.DisplayName, &p.City, &p.Description, &p.Timezone, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

type Service struct {
	ID           string
	ProviderID   string
	Name         string
	Category     string
	DurationMins int
	PriceCents   int64
	Description  string
	CreatedAt    time.Time
}

func (r *Repository) CreateService(ctx context.Context, providerID, name, category string, durationMinutes int, priceCents int64, description string) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO provider_services (id, provider_id, name, category, duration_minutes, price_cents, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, providerID, name, category, durationMinutes, priceCents, description)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListServices(ctx context.Context, providerID string, limit int) ([]Service, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, provider_id::text, name, category, duration_minutes, price_cents, description, created_at
		FROM provider_services
		WHERE provider_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, providerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		var s Service
		if err := rows.Scan(&s.ID, &s.ProviderID, &s.Name, &s.Category, &s.DurationMins, &s.PriceCents, &s.Description, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) DeleteService(ctx context.Context, providerID, serviceID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM provider_services
		WHERE provider_id = $1 AND id = $2
	`, providerID, serviceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

type Review struct {
	ID         string
	ProviderID string
	CustomerID string
	Rating     int
	Comment    string
	Status     string
	CreatedAt  time.Time
}

func (r *Repository) CreateReview(ctx context.Context, providerID, customerID string, rating int, comment string) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reviews (id, provider_id, customer_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5)
	`, id, providerID, customerID, rating, comment)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListApprovedReviews(ctx context.Context, providerID string, limit int) ([]Review, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, provider_id::text, customer_id::text, rating, comment, status, created_at
		FROM reviews
		WHERE provider_id = $1 AND status = 'approved'
		ORDER BY created_at DESC
		LIMIT $2
	`, providerID, limit)
	if err != nil {
		return nil, err
	}
	return collectReviews(rows)
}

func (r *Repository) ListPendingReviews(ctx context.Context, limit int) ([]Review, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, provider_id::text, customer_id::text, rating, comment, status, created_at
		FROM reviews
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return collectReviews(rows)
}

func collectReviews(rows pgx.Rows) ([]Review, error) {
	defer rows.Close()
	var out []Review
	for rows.Next() {
		var rv Review
		if err := rows.Scan(&rv.ID, &rv.ProviderID, &rv.CustomerID, &rv.Rating, &rv.Comment, &rv.Status, &rv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ModerateReview moves a pending review to approved or rejected. Reviews
// already moderated stay as they are.
func (r *Repository) ModerateReview(ctx context.Context, reviewID, status string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reviews
		SET status = $2
		WHERE id = $1 AND status = 'pending'
	`, reviewID, status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
