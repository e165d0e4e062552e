//go:build !protogen

package directory

// NewProvider returns nil in builds without generated gRPC stubs; callers
// fall back to the event-fed cache only.
func NewProvider(_ string) (StatusProvider, error) {
	return nil, nil
}
