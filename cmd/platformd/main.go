package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/glinharesb/platform-go/internal/audit"
	"github.com/glinharesb/platform-go/internal/config"
	"github.com/glinharesb/platform-go/internal/interceptor"
	"github.com/glinharesb/platform-go/internal/platform"
	"github.com/glinharesb/platform-go/internal/server"
	"github.com/glinharesb/platform-go/internal/wire"
)

func main() {
	cfg := config.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	auditLogger := audit.NewLogger(cfg.AuditBuffer, os.Stdout)
	defer auditLogger.Close()

	p, err := platform.Open(cfg.Backend, cfg, auditLogger)
	if err != nil {
		slog.Error("open platform", "backend", cfg.Backend, "error", err)
		os.Exit(1)
	}
	defer p.Close()
	if cfg.DataDir != "" {
		slog.Info("using persistent key store", "path", cfg.DataDir)
	} else {
		slog.Info("using in-memory key store")
	}

	limiter := interceptor.NewLimiter(cfg.RateLimitRPS)
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			interceptor.RecoveryUnary(),
			interceptor.LoggingUnary(),
			limiter.Unary(),
			interceptor.AuthUnary(cfg.AuthToken, "/"+healthpb.Health_ServiceDesc.ServiceName+"/"),
		),
		grpc.ChainStreamInterceptor(
			interceptor.RecoveryStream(),
			interceptor.LoggingStream(),
			limiter.Stream(),
			interceptor.AuthStream(cfg.AuthToken, "/"+healthpb.Health_ServiceDesc.ServiceName+"/"),
		),
	}
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			slog.Error("load tls", "error", err)
			os.Exit(1)
		}
		opts = append(opts, grpc.Creds(creds))
	}
	srv := grpc.NewServer(opts...)

	wire.RegisterSecureElementServer(srv, server.NewSecureElementServer(p.HSM, auditLogger))
	wire.RegisterKeyManagementServer(srv, server.NewKeyManagementServer(p.Keys))
	wire.RegisterSigningServer(srv, server.NewSigningServer(p.Keys, p.Signer))
	wire.RegisterStorageServer(srv, server.NewStorageServer(p.Storage, p.Sealer, auditLogger))
	wire.RegisterAuditServer(srv, server.NewAuditServer(auditLogger))

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	for _, svc := range []string{
		wire.SecureElementService,
		wire.KeyManagementService,
		wire.SigningService,
		wire.StorageService,
		wire.AuditService,
	} {
		healthSrv.SetServingStatus(svc, healthpb.HealthCheckResponse_SERVING)
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		slog.Error("listen", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("server starting", "addr", cfg.GRPCAddr, "backend", p.Backend, "tls", cfg.TLSCert != "")
		if err := srv.Serve(lis); err != nil {
			slog.Error("serve", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	healthSrv.Shutdown()

	// Graceful shutdown with 10s timeout
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		slog.Warn("graceful shutdown timed out, forcing stop")
		srv.Stop()
	}
}
