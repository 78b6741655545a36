package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"staybook/internal/config"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	permReadAvailability  = "read:availability"
	permWriteAvailability = "write:availability"
	permReadBookings      = "read:bookings"
	permWriteBookings     = "write:bookings"
	permWriteProperties   = "write:properties"
	permAdmin             = "admin"
	clientKeyUnknown      = "unknown"
)

var (
	errMissingAPIKey    = errors.New("missing api key headers")
	errInvalidAPIKey    = errors.New("invalid api key")
	errPermissionDenied = errors.New("permission denied")
	errRateLimited      = errors.New("rate limit exceeded")
)

// gatewayAuth checks partner API keys and applies per-key rate limits. It
// identifies the integration, not the end user; end users carry a JWT.
type gatewayAuth struct {
	enabled     bool
	headerKey   string
	headerExtra string
	clients     map[string]config.APIClientKey
	limiter     *rateLimiter
}

func newGatewayAuth(cfg config.APIConfig) *gatewayAuth {
	clients := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		clients[k.Key] = k
	}
	headerKey := strings.ToLower(strings.TrimSpace(cfg.Auth.HeaderAPIKey))
	if headerKey == "" {
		headerKey = "x-api-key"
	}
	headerExtra := strings.ToLower(strings.TrimSpace(cfg.Auth.HeaderExtra))
	if headerExtra == "" {
		headerExtra = "x-api-extra"
	}
	return &gatewayAuth{
		enabled:     cfg.Auth.Enabled && len(clients) > 0,
		headerKey:   headerKey,
		headerExtra: headerExtra,
		clients:     clients,
		limiter:     newRateLimiter(cfg.RateLimit),
	}
}

func (a *gatewayAuth) check(apiKey, extra, required string) error {
	if apiKey == "" {
		return errMissingAPIKey
	}
	client, ok := a.clients[apiKey]
	if !ok {
		return errInvalidAPIKey
	}
	if client.Extra != "" && subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return errInvalidAPIKey
	}
	if required == "" || len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		p = strings.TrimSpace(p)
		if p == required || p == permAdmin {
			return nil
		}
	}
	return errPermissionDenied
}

// Wrap guards HTTP routes.
func (a *gatewayAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := strings.TrimSpace(r.Header.Get(a.headerKey))
		if a.enabled {
			extra := strings.TrimSpace(r.Header.Get(a.headerExtra))
			if err := a.check(apiKey, extra, requiredPermissionHTTP(r)); err != nil {
				code := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					code = http.StatusForbidden
				}
				writeJSON(w, code, ErrorBody{Error: err.Error(), Code: "GATEWAY_AUTH"})
				return
			}
		}

		key := apiKey
		if key == "" {
			key = remoteHost(r.RemoteAddr)
		}
		if !a.limiter.allow(key) {
			writeJSON(w, http.StatusTooManyRequests, ErrorBody{Error: errRateLimited.Error(), Code: "RATE_LIMITED", Retryable: true})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requiredPermissionHTTP(r *http.Request) string {
	path := strings.TrimSuffix(r.URL.Path, "/")
	read := r.Method == http.MethodGet || r.Method == http.MethodHead
	switch {
	case strings.HasPrefix(path, "/api/v1/admin"):
		return permAdmin
	case strings.HasSuffix(path, "/availability"):
		return permReadAvailability
	case strings.Contains(path, "/overrides"):
		if read {
			return permReadAvailability
		}
		return permWriteAvailability
	case strings.HasPrefix(path, "/api/v1/bookings"), strings.HasSuffix(path, "/bookings"), strings.HasSuffix(path, "/export"):
		if read {
			return permReadBookings
		}
		return permWriteBookings
	case strings.HasPrefix(path, "/api/v1/properties"):
		if read {
			return permReadAvailability
		}
		return permWriteProperties
	}
	return ""
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if addr != "" {
		return addr
	}
	return clientKeyUnknown
}

// Unary guards gRPC methods with the same keys and limits.
func (a *gatewayAuth) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		apiKey := first(md.Get(a.headerKey))
		if a.enabled {
			if err := a.check(apiKey, first(md.Get(a.headerExtra)), requiredPermissionGRPC(info.FullMethod)); err != nil {
				if errors.Is(err, errPermissionDenied) {
					return nil, status.Error(codes.PermissionDenied, err.Error())
				}
				return nil, status.Error(codes.Unauthenticated, err.Error())
			}
		}

		key := apiKey
		if key == "" {
			key = remoteHost(peerAddr(ctx))
		}
		if !a.limiter.allow(key) {
			return nil, status.Error(codes.ResourceExhausted, errRateLimited.Error())
		}
		return handler(ctx, req)
	}
}

func requiredPermissionGRPC(fullMethod string) string {
	switch fullMethod {
	case methodResolveRange:
		return permReadAvailability
	case methodGetBooking:
		return permReadBookings
	}
	return ""
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}
