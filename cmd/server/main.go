// CSIRT Assistant - voice incident-response demo server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/csirt-labs/internal/agent"
	"github.com/ashureev/csirt-labs/internal/api"
	"github.com/ashureev/csirt-labs/internal/config"
	"github.com/ashureev/csirt-labs/internal/container"
	"github.com/ashureev/csirt-labs/internal/identity"
	"github.com/ashureev/csirt-labs/internal/metrics"
	"github.com/ashureev/csirt-labs/internal/middleware"
	"github.com/ashureev/csirt-labs/internal/probe"
	"github.com/ashureev/csirt-labs/internal/responder"
	"github.com/ashureev/csirt-labs/internal/session"
	"github.com/ashureev/csirt-labs/internal/speech"
	"github.com/ashureev/csirt-labs/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// "server healthcheck" probes a running instance over gRPC, for container HEALTHCHECK use.
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(runHealthcheck(cfg))
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "in_container", config.IsContainer())

	m := metrics.New()

	// Assistant and speech share one OpenAI client.
	if !cfg.AIEnabled() {
		slog.Warn("OPENAI_API_KEY not set; assistant replies and speech will fail until it is configured")
	}
	oa := agent.NewAPIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	assistant := agent.NewService(
		agent.NewOpenAIClient(oa, cfg.OpenAI.ChatModel, logger),
		cfg.ContextWindow,
		logger,
	)
	speechService := speech.NewOpenAI(oa, speech.OpenAIConfig{
		TTSModel: cfg.Speech.TTSModel,
		Voice:    cfg.Speech.TTSVoice,
		Format:   cfg.Speech.TTSFormat,
		STTModel: cfg.Speech.STTModel,
		Language: cfg.Speech.STTLanguage,
	})
	bridge := speech.NewBridge(speechService, speechService, speech.Config{
		TTSTimeout: cfg.Speech.TTSTimeout,
		STTTimeout: cfg.Speech.STTTimeout,
		Format:     cfg.Speech.TTSFormat,
	}, logger, m)
	slog.Info("Speech bridge initialized", "service", speechService.String())

	// Terminal isolation is optional.
	var isolator container.Isolator = container.NoopIsolator{}
	var healthChecks []api.HealthCheck
	if cfg.TerminalContainer != "" {
		docker, err := container.NewDockerIsolator(cfg.TerminalContainer)
		if err != nil {
			slog.Error("Failed to initialize terminal isolator", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := docker.Close(); closeErr != nil {
				slog.Error("Failed to close Docker client", "error", closeErr)
			}
		}()
		isolator = docker
		healthChecks = append(healthChecks, api.HealthCheck{Name: "terminal", Check: docker.Check})
		slog.Info("Terminal isolation enabled", "container", cfg.TerminalContainer)
	} else {
		slog.Info("Terminal isolation disabled (TERMINAL_CONTAINER not set)")
	}

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Warn("failed to close conversation logger", "error", closeErr)
		}
	}()

	registry := session.NewRegistry(session.Deps{
		Responder:          responder.New(assistant, bridge, cfg.SynthesisConcurrency, logger, m),
		Speech:             bridge,
		Isolator:           isolator,
		Conversation:       conversationLogger,
		Metrics:            m,
		Logger:             logger,
		PlaybackErrorDelay: cfg.Playback.ErrorDelay,
		PlaybackAckTimeout: cfg.Playback.AckTimeout,
		PlaybackRate:       cfg.Playback.Rate,
	}, cfg.SessionTTL)

	rateLimiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer rateLimiter.Close()

	handler := api.NewHandler(api.Options{
		Sessions: registry,
		Credentials: identity.Credentials{
			Username: cfg.Login.Username,
			Password: cfg.Login.Password,
		},
		RateLimiter:        rateLimiter,
		Metrics:            m,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		IsDevelopment:      cfg.IsDevelopment(),
		Logger:             logger,
	})
	healthHandler := api.NewHealthHandler(registry, 5*time.Second, healthChecks...)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	origins := []string{"*"}
	if cfg.FrontendURL != "" {
		origins = append(origins, strings.TrimRight(cfg.FrontendURL, "/"))
	}
	r.Use(middleware.CORS(origins))

	healthHandler.RegisterHealth(r)
	handler.RegisterRoutes(r)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry.StartSweeper(ctx)

	var healthServer *probe.Server
	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			slog.Error("Failed to listen for gRPC health", "addr", cfg.GRPCHealthAddr, "error", err)
			os.Exit(1)
		}
		healthServer = probe.NewServer(logger)
		go func() {
			if err := healthServer.Serve(lis); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()
	if healthServer != nil {
		healthServer.SetServing(true)
	}

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")
	if healthServer != nil {
		healthServer.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	registry.Close(shutdownCtx)

	slog.Info("Server stopped successfully")
}

func runHealthcheck(cfg *config.Config) int {
	if cfg.GRPCHealthAddr == "" {
		slog.Error("GRPC_HEALTH_ADDR is not set")
		return 1
	}
	addr := cfg.GRPCHealthAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := probe.Check(ctx, addr); err != nil {
		slog.Error("Health check failed", "error", err)
		return 1
	}
	return 0
}
