package storage

import (
	"context"
	"time"

	"github.com/mounasabet/platform/libs/db"
	"github.com/mounasabet/platform/services/booking-service/internal/availability"
)

// SlotRepository persists declared availability slots. Service scoping uses
// an empty service_id for provider-wide slots, so the uniqueness constraint
// (provider_id, service_id, slot_date, start_minute) holds for both shapes.
type SlotRepository struct {
	pool *db.Pool
}

func NewSlotRepository(pool *db.Pool) *SlotRepository {
	return &SlotRepository{pool: pool}
}

func (r *SlotRepository) List(ctx context.Context, providerID, serviceID string, from, to time.Time) ([]availability.Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, service_id, slot_date, start_minute, end_minute
		FROM availability_slots
		WHERE provider_id = $1
			AND ($2 = '' OR service_id = $2)
			AND slot_date >= $3
			AND slot_date <= $4
		ORDER BY slot_date ASC, start_minute ASC
	`, providerID, serviceID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []availability.Slot
	for rows.Next() {
		var s availability.Slot
		if err := rows.Scan(&s.ID, &s.ProviderID, &s.ServiceID, &s.Date, &s.StartMinute, &s.EndMinute); err != nil {
			return nil, err
		}
		s.Date = s.Date.UTC()
		slots = append(slots, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return slots, nil
}

// Upsert declares a slot open. Re-declaring the same provider/service/date/
// start leaves a single row with the latest end time.
func (r *SlotRepository) Upsert(ctx context.Context, s availability.Slot) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO availability_slots (provider_id, service_id, slot_date, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider_id, service_id, slot_date, start_minute)
		DO UPDATE SET end_minute = EXCLUDED.end_minute
	`, s.ProviderID, s.ServiceID, s.Date, s.StartMinute, s.EndMinute)
	return err
}

// Delete removes the slot row for that exact provider/service/date/start.
// Deleting an absent slot is not an error.
func (r *SlotRepository) Delete(ctx context.Context, providerID, serviceID string, date time.Time, startMinute int) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM availability_slots
		WHERE provider_id = $1 AND service_id = $2 AND slot_date = $3 AND start_minute = $4
	`, providerID, serviceID, date, startMinute)
	return err
}
