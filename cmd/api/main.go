// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/threadline-ai/chat-gateway/internal/config"
	"github.com/threadline-ai/chat-gateway/internal/handler"
	"github.com/threadline-ai/chat-gateway/internal/llm"
	"github.com/threadline-ai/chat-gateway/internal/middleware"
	natsclient "github.com/threadline-ai/chat-gateway/internal/nats"
	"github.com/threadline-ai/chat-gateway/internal/service"
	"github.com/threadline-ai/chat-gateway/internal/store"
	"github.com/threadline-ai/chat-gateway/pkg/logger"
	"github.com/threadline-ai/chat-gateway/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Infow("starting chat gateway")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-gateway", cfg.TracingEndpoint)
		if err != nil {
			log.Warnw("failed to initialize tracing", "error", err)
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Select persistence backend
	repo, cleanup, err := buildRepository(ctx, cfg, log)
	if err != nil {
		log.Errorw("failed to initialize persistence", "backend", cfg.Persistence, "error", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	stores := store.NewManager(repo, log)
	log.Infow("persistence ready", "backend", stores.Backend())

	// Initialize LLM client
	llmClient, err := buildLLMClient(cfg)
	if err != nil {
		log.Errorw("failed to create completion client", "provider", cfg.DefaultProvider, "error", err)
		os.Exit(1)
	}
	log.Infow("completion client ready", "provider", llmClient.Name())

	// Initialize services
	chatSvc := service.NewChatService(stores, llmClient, cfg.DefaultModel, cfg.MaxTokens, log)
	syncSvc := service.NewSynchronizer(stores)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(stores)
	threadHandler := handler.NewThreadHandler(stores, syncSvc, log)
	messageHandler := handler.NewMessageHandler(stores, chatSvc, cfg.MaxMessageBytes, log)
	streamHandler := handler.NewStreamHandler(chatSvc, cfg.MaxMessageBytes, log)
	sessionHandler := handler.NewSessionHandler(syncSvc, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RequireScope("chat"))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/session", sessionHandler.Resolve)

		r.Route("/threads", func(r chi.Router) {
			r.Post("/", threadHandler.Create)
			r.Get("/", threadHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", threadHandler.Get)
				r.Put("/", threadHandler.Rename)
				r.Delete("/", threadHandler.Delete)
				r.Post("/select", threadHandler.Select)

				// Messages
				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)
				r.Delete("/messages/{messageID}", messageHandler.Delete)

				// Streaming
				r.Post("/stream", streamHandler.Stream)
				r.Post("/stream/abort", streamHandler.Abort)
			})
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Infow("server listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Infow("server stopped")
}

// buildRepository constructs the thread persistence backend named by
// PERSISTENCE. The returned cleanup closes backend connections, and may be
// nil.
func buildRepository(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.Repository, func(), error) {
	switch cfg.Persistence {
	case "redis":
		repo := store.NewRedisRepository(cfg.RedisAddr, cfg.RedisDB)
		return repo, func() { repo.Close() }, nil

	case "nats":
		natsClient, err := natsclient.Connect(natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		repo, err := store.NewNATSRepository(ctx, natsClient)
		if err != nil {
			natsClient.Close()
			return nil, nil, err
		}
		return repo, func() { natsClient.Close() }, nil

	case "memory":
		return store.NewMemoryRepository(), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown persistence backend %q", cfg.Persistence)
	}
}

func buildLLMClient(cfg *config.Config) (llm.Client, error) {
	switch llm.Provider(cfg.DefaultProvider) {
	case llm.ProviderAnthropic:
		return llm.NewAnthropicClient(cfg.AnthropicAPIKey)
	default:
		return llm.NewOpenAIClientWithBaseURL(cfg.OpenAIAPIKey, cfg.CompletionBaseURL)
	}
}
