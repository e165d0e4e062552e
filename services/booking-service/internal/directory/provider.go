package directory

import "context"

// StatusProvider answers moderation-status lookups for providers the local
// directory cache has not seen yet.
type StatusProvider interface {
	GetProviderStatus(ctx context.Context, providerID string) (string, error)
}
