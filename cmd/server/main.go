package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/taskhub/chat-service/internal/auth"
	"github.com/taskhub/chat-service/internal/config"
	"github.com/taskhub/chat-service/internal/db"
	"github.com/taskhub/chat-service/internal/httpapi"
	"github.com/taskhub/chat-service/internal/logging"
	"github.com/taskhub/chat-service/internal/message"
	"github.com/taskhub/chat-service/internal/store/rabbitmq"
	"github.com/taskhub/chat-service/internal/store/redisstore"
	"github.com/taskhub/chat-service/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional; env vars override)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		logger.Fatal("database connect failed", zap.Error(err))
	}

	var cache message.UnreadCache
	if cfg.Redis.Addr != "" {
		store, err := redisstore.New(cfg.Redis)
		if err != nil {
			logger.Fatal("redis connect failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		defer func() { _ = store.Close() }()
		cache = store
		logger.Info("unread cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	var events message.EventPublisher
	if cfg.Rabbit.URL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.Rabbit.URL, cfg.Rabbit.Queue)
		if err != nil {
			logger.Fatal("rabbit connect failed", zap.Error(err))
		}
		defer func() { _ = pub.Close() }()
		events = pub
		logger.Info("message events enabled", zap.String("queue", cfg.Rabbit.Queue))
	}

	svc := message.NewService(message.NewRepo(gdb), cache, events, cfg.MaxContentLen, logger)
	verifier := auth.NewVerifier(cfg.JWTSecret)
	registry := ws.NewRegistry()
	channel := ws.NewHandler(verifier, registry, svc, cfg.AllowedOrigins, logger)

	router := httpapi.NewRouter(svc, verifier, channel, cfg.AllowedOrigins, logger)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down", zap.Duration("grace", cfg.ShutdownGracePeriod))
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
	}
	logger.Info("server stopped")
}
