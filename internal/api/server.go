package api

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"staybook/internal/auth"
	"staybook/internal/config"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

const grpcStopTimeout = 10 * time.Second

// GRPCServer hosts the partner availability service and the standard
// health service.
type GRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	log      zerolog.Logger
}

func NewGRPCServer(cfg config.APIConfig, lis net.Listener, svc *PartnerService, verifier *auth.Verifier, logger *zerolog.Logger) (*GRPCServer, error) {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "grpc").Logger()
	}

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			RecoveryUnaryInterceptor(&log),
			LoggingUnaryInterceptor(&log),
			newGatewayAuth(cfg).Unary(),
			ActorUnaryInterceptor(verifier),
		),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              2 * time.Minute,
			Timeout:           20 * time.Second,
		}),
	}
	if cfg.GRPC.TLS.Enabled {
		creds, err := serverCredentials(cfg.GRPC.TLS)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(creds))
	}

	srv := grpc.NewServer(opts...)
	srv.RegisterService(&availabilityServiceDesc, svc)

	hs := health.NewServer()
	hs.SetServingStatus(availabilityServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	return &GRPCServer{server: srv, health: hs, listener: lis, log: log}, nil
}

// Listen binds the configured gRPC port on all interfaces.
func Listen(cfg config.APIConfig) (net.Listener, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		return nil, fmt.Errorf("grpc listen on port %d: %w", cfg.GRPC.Port, err)
	}
	return lis, nil
}

func serverCredentials(cfg config.APITLSConfig) (credentials.TransportCredentials, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, errors.New("grpc tls: cert_file and key_file are required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("grpc tls: load key pair: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}

	if cfg.RequireClientCert {
		pool, err := loadCertPool(cfg.ClientCAFile)
		if err != nil {
			return nil, err
		}
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
		tlsCfg.ClientCAs = pool
	}
	return credentials.NewTLS(tlsCfg), nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, errors.New("grpc tls: client_ca_file is required for client certificates")
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("grpc tls: read client ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("grpc tls: no certificates in %s", path)
	}
	return pool, nil
}

func (s *GRPCServer) Addr() string {
	return s.listener.Addr().String()
}

func (s *GRPCServer) Serve() error {
	s.log.Info().Str("addr", s.Addr()).Msg("gRPC API listening")
	return s.server.Serve(s.listener)
}

// Shutdown marks the server NOT_SERVING, then drains in-flight calls. It
// stops hard once ctx ends or grpcStopTimeout passes.
func (s *GRPCServer) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(grpcStopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return
	case <-ctx.Done():
	case <-timer.C:
	}
	s.log.Warn().Msg("gRPC drain timed out, forcing stop")
	s.server.Stop()
}
