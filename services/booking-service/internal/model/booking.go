package model

import "time"

type Booking struct {
	ID               string
	ProviderID       string
	CustomerID       string
	ServiceIDs       []string
	EventType        string
	GuestCount       int
	CustomerName     string
	CustomerEmail    string
	CustomerPhone    string
	StartTime        time.Time
	EndTime          time.Time
	Status           string // pending, confirmed, completed, cancelled
	TotalAmountCents int64
	DepositCents     int64
	CancelledAt      *time.Time
	CancelReason     string
	CreatedAt        time.Time
}
