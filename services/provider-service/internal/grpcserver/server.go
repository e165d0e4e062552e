//go:build protogen

package grpcserver

import (
	"context"

	"github.com/mounasabet/platform/libs/db"
	providerv1 "github.com/mounasabet/platform/protos/gen/provider/v1"
	"github.com/mounasabet/platform/services/provider-service/internal/storage"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/timestamppb"
)

type server struct {
	providerv1.UnimplementedProviderDirectoryServiceServer
	pool *db.Pool
	repo *storage.Repository
}

func Register(grpcServer *grpc.Server, pool *db.Pool, repo *storage.Repository) {
	providerv1.RegisterProviderDirectoryServiceServer(grpcServer, &server{pool: pool, repo: repo})
}

// GetProviderStatus reports moderation status for booking-service's
// admission check. Unknown providers come back with an empty status so the
// caller can apply its own fallback policy.
func (s *server) GetProviderStatus(ctx context.Context, req *providerv1.ProviderStatusRequest) (*providerv1.ProviderStatusResponse, error) {
	resp := &providerv1.ProviderStatusResponse{ProviderId: req.GetProviderId()}
	if s.repo == nil || req.GetProviderId() == "" {
		return resp, nil
	}

	p, err := s.repo.GetProfile(ctx, req.GetProviderId())
	if err != nil {
		if storage.IsNotFound(err) {
			return resp, nil
		}
		return nil, err
	}
	resp.Status = p.Status
	resp.DisplayName = p.DisplayName
	resp.RegisteredAt = timestamppb.New(p.CreatedAt)
	return resp, nil
}

func (s *server) GetProviderServices(ctx context.Context, req *providerv1.ProviderServicesRequest) (*providerv1.ProviderServicesResponse, error) {
	resp := &providerv1.ProviderServicesResponse{ProviderId: req.GetProviderId()}
	if s.repo == nil || req.GetProviderId() == "" {
		return resp, nil
	}

	services, err := s.repo.ListServices(ctx, req.GetProviderId(), 100)
	if err != nil {
		return nil, err
	}
	for _, svc := range services {
		resp.Services = append(resp.Services, &providerv1.ProviderService{
			Id:              svc.ID,
			Name:            svc.Name,
			Category:        svc.Category,
			DurationMinutes: int32(svc.DurationMins),
			PriceCents:      svc.PriceCents,
			CreatedAt:       timestamppb.New(svc.CreatedAt),
		})
	}
	return resp, nil
}
