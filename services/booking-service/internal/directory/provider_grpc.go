//go:build protogen

package directory

import (
	"context"
	"time"

	"github.com/mounasabet/platform/libs/grpcx"
	providerv1 "github.com/mounasabet/platform/protos/gen/provider/v1"
)

type grpcProvider struct {
	client providerv1.ProviderDirectoryServiceClient
}

func NewProvider(addr string) (StatusProvider, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &grpcProvider{client: providerv1.NewProviderDirectoryServiceClient(conn)}, nil
}

func (p *grpcProvider) GetProviderStatus(ctx context.Context, providerID string) (string, error) {
	resp, err := p.client.GetProviderStatus(ctx, &providerv1.ProviderStatusRequest{ProviderId: providerID})
	if err != nil {
		return "", err
	}
	return resp.GetStatus(), nil
}
