package grpc

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/application"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
)

const ServiceName = "viralforge.identity.v1.IdentityInternalService"

type IdentityInternalService interface {
	GetProfile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ValidateSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPublicKeys(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

type IdentityInternalServer struct {
	service *application.Service
}

func NewIdentityInternalServer(service *application.Service) *IdentityInternalServer {
	return &IdentityInternalServer{service: service}
}

// Register installs the identity service and a health service reporting SERVING.
func Register(server *grpc.Server, svc IdentityInternalService) *health.Server {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*IdentityInternalService)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "GetProfile", Handler: unaryHandler("GetProfile", svc.GetProfile)},
			{MethodName: "ValidateSession", Handler: unaryHandler("ValidateSession", svc.ValidateSession)},
			{MethodName: "GetPublicKeys", Handler: unaryHandler("GetPublicKeys", svc.GetPublicKeys)},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "mesh/contracts/proto/identity/v1/identity_internal.proto",
	}, svc)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	return healthServer
}

func (s *IdentityInternalServer) GetProfile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	accountID, err := uuid.Parse(req.GetFields()["account_id"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid account_id")
	}
	profile, err := s.service.GetProfile(ctx, accountID)
	if err != nil {
		return nil, toStatus(ctx, "grpc_get_profile", err)
	}

	fields := map[string]any{
		"account_id": profile.AccountID.String(),
		"email":      profile.Email,
		"role":       string(profile.Role),
		"tier":       string(profile.Tier),
		"status":     string(profile.Status),
	}
	if profile.PasswordChangedAt != nil {
		fields["password_changed_at"] = profile.PasswordChangedAt.UnixMicro()
	}
	return buildStruct(fields)
}

// ValidateSession runs the same reconciliation check as the HTTP auth
// middleware; a refreshed token is returned for the caller to forward.
func (s *IdentityInternalServer) ValidateSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	token := req.GetFields()["token"].GetStringValue()
	if token == "" {
		return nil, status.Error(codes.InvalidArgument, "missing token")
	}
	session, err := s.service.Authorize(ctx, token, req.GetFields()["force_refresh"].GetBoolValue())
	if err != nil {
		return nil, toStatus(ctx, "grpc_validate_session", err)
	}

	claims := session.Claims
	fields := map[string]any{
		"valid":          true,
		"account_id":     claims.AccountID.String(),
		"email":          claims.Email,
		"wallet_address": claims.WalletAddress,
		"role":           string(claims.Role),
		"tier":           string(claims.Tier),
		"status":         string(claims.Status),
		"expires_at":     claims.ExpiresAt.Unix(),
		"refreshed":      session.Refreshed,
		"degraded":       session.Degraded,
	}
	if session.Refreshed {
		fields["token"] = session.Token
	}
	return buildStruct(fields)
}

func (s *IdentityInternalServer) GetPublicKeys(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	keys, err := s.service.PublicJWKs()
	if err != nil {
		return nil, toStatus(ctx, "grpc_get_public_keys", err)
	}
	list := make([]any, 0, len(keys))
	for _, key := range keys {
		list = append(list, key)
	}
	return buildStruct(map[string]any{"keys": list})
}

func buildStruct(fields map[string]any) (*structpb.Struct, error) {
	resp, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func toStatus(ctx context.Context, operation string, err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, domain.ErrInvalidToken),
		errors.Is(err, domain.ErrSessionInvalidated):
		code = codes.Unauthenticated
	case errors.Is(err, domain.ErrAccountDisabled):
		code = codes.PermissionDenied
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrInvalidInput):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		code = codes.Unavailable
	case errors.Is(err, domain.ErrRateLimited):
		code = codes.ResourceExhausted
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}

	level := slog.LevelWarn
	if code == codes.Internal || code == codes.Unavailable {
		level = slog.LevelError
	}
	grpcLogger().Log(ctx, level, "grpc operation failed",
		"operation", operation,
		"outcome", "failure",
		"grpc_code", code.String(),
		"error", err.Error(),
	)
	if code == codes.Internal {
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}

func unaryHandler[Req any](method string, call func(context.Context, *Req) (*structpb.Struct, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*Req)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return call(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}

func grpcLogger() *slog.Logger {
	return slog.Default().With(
		"service", "identity-link-service",
		"module", "grpc",
		"layer", "adapter",
	)
}
