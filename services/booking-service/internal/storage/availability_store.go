package storage

import (
	"context"
	"time"

	"github.com/mounasabet/platform/services/booking-service/internal/availability"
)

// AvailabilityStore joins the slot and booking repositories behind the
// handler-facing persistence interface.
type AvailabilityStore struct {
	slots    *SlotRepository
	bookings *BookingRepository
}

func NewAvailabilityStore(slots *SlotRepository, bookings *BookingRepository) *AvailabilityStore {
	return &AvailabilityStore{slots: slots, bookings: bookings}
}

func (s *AvailabilityStore) ListSlots(ctx context.Context, providerID, serviceID string, from, to time.Time) ([]availability.Slot, error) {
	return s.slots.List(ctx, providerID, serviceID, from, to)
}

func (s *AvailabilityStore) ListActiveWindows(ctx context.Context, providerID, serviceID string, from, to time.Time) ([]availability.BookingWindow, error) {
	return s.bookings.ListActiveWindows(ctx, providerID, serviceID, from, to)
}

func (s *AvailabilityStore) UpsertSlot(ctx context.Context, slot availability.Slot) error {
	return s.slots.Upsert(ctx, slot)
}

func (s *AvailabilityStore) DeleteSlot(ctx context.Context, providerID, serviceID string, date time.Time, startMinute int) error {
	return s.slots.Delete(ctx, providerID, serviceID, date, startMinute)
}
