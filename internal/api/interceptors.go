package api

import (
	"context"
	"runtime/debug"
	"time"

	"staybook/internal/auth"
	"staybook/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const requestIDMetadataKey = "x-request-id"

// RecoveryUnaryInterceptor turns a handler panic into codes.Internal.
func RecoveryUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().
					Interface("panic", r).
					Str("method", info.FullMethod).
					Bytes("stack", debug.Stack()).
					Msg("grpc handler panicked")
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// LoggingUnaryInterceptor tags each call with a request id, echoes it back in
// the response header and records the outcome.
func LoggingUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := incomingRequestID(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, requestID))

		started := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		metrics.IncGRPC(info.FullMethod, code.String())

		var event *zerolog.Event
		switch code {
		case codes.Internal, codes.Unknown, codes.DataLoss:
			event = logger.Error().Err(err)
		case codes.OK:
			event = logger.Info()
		default:
			event = logger.Warn().Str("error", status.Convert(err).Message())
		}
		event.
			Str("request_id", requestID).
			Str("method", info.FullMethod).
			Str("remote", peerAddr(ctx)).
			Str("code", code.String()).
			Dur("duration", time.Since(started)).
			Msg("grpc request")
		return resp, err
	}
}

func incomingRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if id := first(md.Get(requestIDMetadataKey)); id != "" {
			return id
		}
	}
	return uuid.NewString()
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

// ActorUnaryInterceptor attaches the caller from an optional bearer token in
// the authorization metadata. A present but invalid token is rejected.
func ActorUnaryInterceptor(verifier *auth.Verifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		header := first(md.Get("authorization"))
		if header == "" || verifier == nil {
			return handler(ctx, req)
		}
		actor, err := verifier.VerifyHeader(header)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(auth.WithActor(ctx, actor), req)
	}
}
