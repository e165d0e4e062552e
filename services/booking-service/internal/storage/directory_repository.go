package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/mounasabet/platform/libs/db"
)

// DirectoryRepository is the local cache of provider moderation state,
// kept current by provider.approved/suspended events. Booking enforces
// "no bookings for suspended providers" against this cache instead of
// calling provider-service on every request.
type DirectoryRepository struct {
	pool *db.Pool
}

type ProviderEntry struct {
	ProviderID  string
	DisplayName string
	Status      string // approved, suspended
}

func NewDirectoryRepository(pool *db.Pool) *DirectoryRepository {
	return &DirectoryRepository{pool: pool}
}

func (r *DirectoryRepository) Upsert(ctx context.Context, tx pgx.Tx, entry ProviderEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO provider_directory (provider_id, display_name, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider_id)
		DO UPDATE SET display_name = EXCLUDED.display_name,
			status = EXCLUDED.status,
			updated_at = now()
	`, entry.ProviderID, entry.DisplayName, entry.Status)
	return err
}

// Get returns the cached entry, or found=false when no event for this
// provider has been consumed yet.
func (r *DirectoryRepository) Get(ctx context.Context, providerID string) (ProviderEntry, bool, error) {
	var entry ProviderEntry
	err := r.pool.QueryRow(ctx, `
		SELECT provider_id, display_name, status
		FROM provider_directory
		WHERE provider_id = $1
	`, providerID).Scan(&entry.ProviderID, &entry.DisplayName, &entry.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProviderEntry{}, false, nil
	}
	if err != nil {
		return ProviderEntry{}, false, err
	}
	return entry, true, nil
}
