package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tattoostencil/studio/internal/api"
	"github.com/tattoostencil/studio/internal/auth"
	"github.com/tattoostencil/studio/internal/config"
	"github.com/tattoostencil/studio/internal/core"
	"github.com/tattoostencil/studio/internal/logging"
	"github.com/tattoostencil/studio/internal/metrics"
	"github.com/tattoostencil/studio/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Setup logging
	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	if cfg.Debug() {
		logger.Debug("Service starting in DEBUG mode")
	}

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbStore.Close()

	m := metrics.New()

	uploads, err := core.NewUploadService(dbStore, cfg.UploadDir, logger)
	if err != nil {
		logger.Fatal("Failed to initialize uploads", zap.Error(err))
	}

	// Chat needs OpenAI; prompt help falls back to Gemini when only that key is set.
	var (
		streamer  core.ChatStreamer
		assistant core.PromptAssistant
	)
	if cfg.ChatEnabled() {
		llm := core.NewLLMService(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		streamer, assistant = llm, llm
	} else {
		logger.Warn("OPENAI_API_KEY not set, chat is disabled")
		if cfg.GeminiAPIKey != "" {
			gemini, err := core.NewGeminiService(context.Background(), cfg.GeminiAPIKey, logger)
			if err != nil {
				logger.Fatal("Failed to initialize Gemini client", zap.Error(err))
			}
			defer gemini.Close()
			assistant = gemini
		}
	}

	model, err := core.NewReplicateModel(cfg.ReplicateAPIToken)
	if err != nil {
		logger.Fatal("Failed to initialize image model", zap.Error(err))
	}

	var payments *core.PaymentService
	if cfg.PaymentsEnabled() {
		payments = core.NewPaymentService(dbStore, core.NewStripeBilling(cfg.StripeSecretKey), cfg.StripeWebhookSecret, m, logger)
	} else {
		logger.Warn("Stripe keys not set, payments are disabled")
	}

	apiHandler := api.NewAPIHandler(api.Services{
		Users:       core.NewUserService(dbStore),
		Uploads:     uploads,
		Chat:        core.NewChatService(dbStore, uploads, streamer, assistant, m, logger),
		Generations: core.NewGenerationService(dbStore, uploads, model, assistant, core.DefaultRetryConfig(), m, logger),
		Payments:    payments,
		DB:          dbStore,
	}, auth.NewVerifier(cfg.JWTSecret), cfg.PublicBaseURL, logger)

	stopCleanup := make(chan struct{})
	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	limiter.StartCleanup(5*time.Minute, stopCleanup)

	router := api.NewRouter(apiHandler, api.RouterConfig{
		UploadDir: uploads.Dir(),
		Metrics:   m,
		Limiter:   limiter,
		Logger:    logger,
	})

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// Generation waits on the image model; chat streams clear this deadline.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Starting server", zap.String("addr", serverAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Could not listen", zap.String("addr", serverAddr), zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")
	close(stopCleanup)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting gracefully")
}
