package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"metachat/chat-relay/internal/config"
	grpcServer "metachat/chat-relay/internal/grpc"
	"metachat/chat-relay/internal/httpapi"
	"metachat/chat-relay/internal/relay"
	"metachat/chat-relay/internal/repository"
	"metachat/chat-relay/internal/service"

	pb "github.com/kegazani/metachat-proto/chat"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := config.NewLogger(cfg.Logging)
	if logger.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	chatRepo, userRepo, closeStore, err := openStore(cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	if err := chatRepo.InitializeTables(); err != nil {
		logger.Fatalf("Failed to initialize database tables: %v", err)
	}

	chatService := service.NewChatService(chatRepo, userRepo, logger)
	userService := service.NewUserService(userRepo, logger)

	chatRelay := relay.New(chatService, logger, relay.Options{
		MaxContentLength: cfg.Relay.MaxContentLength,
		EventTimeout:     cfg.Relay.EventTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	grpcSrv := grpc.NewServer()
	pb.RegisterChatServiceServer(grpcSrv, grpcServer.NewChatServer(chatService, chatRelay, logger))
	if cfg.GRPC.ReflectionEnabled {
		reflection.Register(grpcSrv)
		logger.Info("gRPC reflection enabled")
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Address(),
		Handler:           httpapi.NewServer(ctx, chatRelay, chatService, userService, logger, cfg.Relay.SendBuffer).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.Server.Address())
		if err != nil {
			return err
		}
		logger.Infof("Starting gRPC server on %s", cfg.Server.Address())
		return grpcSrv.Serve(lis)
	})

	g.Go(func() error {
		logger.Infof("Starting HTTP server on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GRPC.ShutdownTimeout)
		defer cancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("HTTP server shutdown")
		}
		stopGRPC(shutdownCtx, grpcSrv, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Server stopped with error")
	}

	logger.Info("Server exited")
}

func openStore(cfg config.DatabaseConfig, logger *logrus.Logger) (repository.ChatRepository, repository.UserRepository, func(), error) {
	if cfg.Driver == "memory" {
		logger.Warn("Using in-memory store, data will not survive a restart")
		store := repository.NewMemoryStore()
		return store, store, func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, nil, nil, err
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	logger.Info("Connected to PostgreSQL database")

	return repository.NewChatRepository(db), repository.NewUserRepository(db), func() { db.Close() }, nil
}

func stopGRPC(ctx context.Context, s *grpc.Server, logger *logrus.Logger) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("gRPC server exited gracefully")
	case <-ctx.Done():
		s.Stop()
		logger.Info("gRPC server shutdown timeout")
	}
}
