package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ollama-chat-relay/backend/internal/auth"
	"ollama-chat-relay/backend/internal/ollama"
	"ollama-chat-relay/backend/internal/store"
	"ollama-chat-relay/backend/internal/ws"
	"ollama-chat-relay/backend/pkg/config"
	"ollama-chat-relay/backend/pkg/health"
	"ollama-chat-relay/backend/pkg/logger"
	"ollama-chat-relay/backend/pkg/observability"
	"ollama-chat-relay/backend/pkg/router"
	"ollama-chat-relay/backend/pkg/secrets"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	godotenv.Load()

	// Initialize structured logger
	logConfig := logger.DefaultConfig()
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		logConfig.Level = level
	}
	logConfig.JSON = os.Getenv("LOG_FORMAT") != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("starting chat relay", "version", os.Getenv("APP_VERSION"))

	// Secrets manager supplies the token marker (Vault when enabled, env otherwise)
	if err := secrets.Init(log); err != nil {
		log.LogError(err, "failed to initialize secrets manager")
		os.Exit(1)
	}

	cfg := config.New()
	cfg.Auth.TokenSecret = secrets.GetSecretWithDefault(context.Background(), "AUTH_TOKEN_SECRET", cfg.Auth.TokenSecret)

	// Observability
	shutdownTracing := observability.SetupTracing("chat-relay", log)
	defer shutdownTracing()

	metrics, meterProvider, err := observability.SetupMetrics("chat-relay", ":2112", log)
	if err != nil {
		log.LogError(err, "failed to initialize metrics")
		os.Exit(1)
	}
	defer meterProvider.Shutdown(context.Background())

	// Core collaborators
	authSvc := auth.NewService(cfg, log)
	inferer := ollama.NewClient(cfg, log)
	sessions := store.NewSessionRegistry()
	conversations := store.NewConversationStore()

	// Health checks
	checker := health.NewChecker(log, 30*time.Second)
	checker.RegisterCheck("ollama", func() (health.Status, string, error) {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Ollama.ProbeTimeout)
		defer cancel()
		if _, err := inferer.ListModels(ctx); err != nil {
			return health.StatusDegraded, "inference backend unreachable", err
		}
		return health.StatusUp, "inference backend responding", nil
	})
	checker.Start()
	defer checker.Stop()

	// WebSocket hub
	hub := ws.NewHub(authSvc, inferer, sessions, conversations, cfg, metrics, log)
	go hub.Run()

	// HTTP router
	r := router.New(cfg, log, hub, authSvc, inferer, sessions, checker)
	r.SetupRoutes()

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r.Engine,
	}

	go func() {
		log.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogError(err, "server failed to start")
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.LogError(err, "forced shutdown")
	}

	log.Info("server exited")
}
