package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/coins/internal/identity"
	"github.com/MarkoPoloResearchLab/coins/pkg/ledger"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

var errUnexpectedRequest = errors.New("unexpected request message")

// CreatorMetadataKey carries the caller's PEM certificate, optionally prefixed by serialized MSP bytes.
const CreatorMetadataKey = "x-creator-bin"

// CreatorInterceptor resolves the caller from CreatorMetadataKey into the request context.
// Calls without the key proceed anonymously; operations that need a caller then fail as unauthenticated.
// A presented certificate must chain to a CA trusted by certificates; with a nil verifier
// every presented certificate is rejected.
func CreatorInterceptor(certificates *identity.CertificateVerifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		incoming, _ := metadata.FromIncomingContext(ctx)
		creators := incoming.Get(CreatorMetadataKey)
		if len(creators) == 0 {
			return handler(ctx, request)
		}
		if certificates == nil {
			return nil, mapToGRPCError(fmt.Errorf("%w: creator certificates are not accepted without a CA", ledger.ErrIdentity))
		}
		callerID, err := certificates.Verify([]byte(creators[0]))
		if err != nil {
			return nil, mapToGRPCError(err)
		}
		return handler(identity.WithCaller(ctx, callerID), request)
	}
}

// LoggingInterceptor logs every unary call with its status code and latency.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		response, err := handler(ctx, request)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("elapsed", time.Since(started)),
		}
		if function, _, parseErr := parseLoggedRequest(request); parseErr == nil {
			fields = append(fields, zap.String("function", function))
		}
		if err != nil {
			logger.Warn("grpc call failed", append(fields, zap.Error(err))...)
			return response, err
		}
		logger.Info("grpc call", fields...)
		return response, nil
	}
}

func parseLoggedRequest(request any) (string, []string, error) {
	message, ok := request.(*structpb.Struct)
	if !ok {
		return "", nil, errUnexpectedRequest
	}
	return ParseRequest(message)
}
