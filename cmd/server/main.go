// Command lexchat-server runs the chat HTTP API, the live presence endpoint and the
// presence gRPC service.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/and161185/lexchat/internal/auth"
	"github.com/and161185/lexchat/internal/config"
	"github.com/and161185/lexchat/internal/limiter"
	"github.com/and161185/lexchat/internal/logging"
	"github.com/and161185/lexchat/internal/migrate"
	"github.com/and161185/lexchat/internal/presence"
	"github.com/and161185/lexchat/internal/repository/postgres"
	grpcserver "github.com/and161185/lexchat/internal/server/grpc"
	httpserver "github.com/and161185/lexchat/internal/server/http"
	"github.com/and161185/lexchat/internal/service"
	"github.com/and161185/lexchat/internal/transport/ws"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	cfgPath := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("http", cfg.HTTP.Addr),
		zap.String("grpc", cfg.GRPC.Addr),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Database.Migrate {
		if err := migrate.Up(ctx, cfg.Database.DSN, logger); err != nil {
			return err
		}
	}

	db, err := postgres.New(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	// Repositories
	users := postgres.NewUserRepo(db)
	contacts := postgres.NewContactRepo(db)
	messages := postgres.NewMessageRepo(db)

	// Presence
	registry := presence.NewRegistry()
	relay := presence.NewRelay(registry, logger)

	// Services
	tokens := auth.NewManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.AccessTTL)
	lim := limiter.NewPG(db.Pool, cfg.Auth.LoginPolicy())
	authSvc := service.NewAuthService(users, tokens, lim)
	contactSvc := service.NewContactService(contacts)
	messageSvc := service.NewMessageService(messages, contacts, relay, logger)

	mode, err := limiter.ParseMode(cfg.Presence.LimitMode)
	if err != nil {
		return err
	}
	httpSrv := httpserver.New(httpserver.Deps{
		Auth:     authSvc,
		Contacts: contactSvc,
		Messages: messageSvc,
		Tokens:   tokens,
		Relay:    relay,
		Transport: ws.Config{
			ReadTimeout:     cfg.Transport.ReadTimeout,
			WriteTimeout:    cfg.Transport.WriteTimeout,
			PingInterval:    cfg.Transport.PingInterval,
			SendBuffer:      cfg.Transport.SendBuffer,
			MaxMessageBytes: cfg.Transport.MaxMessageBytes,
		},
		Live: httpserver.LiveOptions{
			EchoToSender:    cfg.Presence.EchoToSender,
			RequireToken:    cfg.Presence.RequireToken,
			MaxConnsPerUser: cfg.Presence.MaxConnsPerUser,
			LimitMode:       mode,
			AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		},
		Log: logger,
	})

	// gRPC server with interceptors; TLS when a key pair is configured
	var extra []grpc.ServerOption
	if cfg.GRPC.TLSCert != "" && cfg.GRPC.TLSKey != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.GRPC.TLSCert, cfg.GRPC.TLSKey)
		if err != nil {
			return err
		}
		extra = append(extra, grpc.Creds(creds))
	} else {
		logger.Warn("gRPC without TLS")
	}
	gs, hs := grpcserver.NewGRPCServer(grpcserver.New(registry), grpcserver.Options{
		Tokens:     tokens,
		Log:        logger,
		Reflection: cfg.GRPC.Reflection,
		Extra:      extra,
	})

	httpLis, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return err
	}
	grpcLis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		_ = httpLis.Close()
		return err
	}

	errCh := make(chan error, 2)
	go func() { errCh <- httpSrv.Serve(ctx, httpLis) }()
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPC.Addr))
		errCh <- gs.Serve(grpcLis)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	// graceful shutdown
	hs.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		gs.Stop()
	}

	if serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
		return serveErr
	}
	return nil
}
