package rpc

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"fpsarena/server/internal/logging"
)

// SharedSecretMetadataKey carries the operator secret on every call.
const SharedSecretMetadataKey = "x-arena-shared-secret"

// ServerOptions returns the interceptors guarding the control service. An
// empty secret leaves the service open, which is only meant for local play.
func ServerOptions(secret string, logger *logging.Logger) []grpc.ServerOption {
	if logger == nil {
		logger = logging.L()
	}
	normalized := strings.TrimSpace(secret)
	if normalized == "" {
		logger.Warn("gRPC authentication disabled")
		return nil
	}
	logger.Info("gRPC shared-secret authentication enabled")
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(newSharedSecretUnaryInterceptor(normalized)),
		grpc.ChainStreamInterceptor(newSharedSecretStreamInterceptor(normalized)),
	}
}

func newSharedSecretUnaryInterceptor(secret string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := checkSharedSecret(ctx, secret); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func newSharedSecretStreamInterceptor(secret string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := checkSharedSecret(ss.Context(), secret); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func checkSharedSecret(ctx context.Context, secret string) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	candidate := extractSharedSecret(md)
	if candidate == "" {
		return status.Error(codes.Unauthenticated, "missing shared secret")
	}
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(secret)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid shared secret")
	}
	return nil
}

func extractSharedSecret(md metadata.MD) string {
	for _, value := range md.Get(SharedSecretMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	for _, value := range md.Get("authorization") {
		if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
			if token := strings.TrimSpace(value[7:]); token != "" {
				return token
			}
		}
	}
	return ""
}

// SharedSecret attaches the operator secret to outgoing calls.
type SharedSecret string

// GetRequestMetadata implements credentials.PerRPCCredentials.
func (s SharedSecret) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{SharedSecretMetadataKey: string(s)}, nil
}

// RequireTransportSecurity allows the secret over plaintext for local tooling.
func (SharedSecret) RequireTransportSecurity() bool { return false }
