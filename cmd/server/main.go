package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-backend/internal/config"
	"github.com/stemsi/trivia-backend/internal/database"
	"github.com/stemsi/trivia-backend/internal/handler"
	"github.com/stemsi/trivia-backend/internal/logger"
	"github.com/stemsi/trivia-backend/internal/middleware"
	"github.com/stemsi/trivia-backend/internal/repository"
	"github.com/stemsi/trivia-backend/internal/router"
	"github.com/stemsi/trivia-backend/internal/service"
	"github.com/stemsi/trivia-backend/internal/trivia"
	"github.com/stemsi/trivia-backend/internal/validator"
	"github.com/stemsi/trivia-backend/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Trivia Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	store := repository.NewPostgresStore(pool)
	userRepo := repository.NewUserRepository(pool)
	statsRepo := repository.NewStatsRepository(pool)

	// ─── Trivia Provider ───────────────────────────────────────────────
	triviaClient := trivia.NewClient(&http.Client{Timeout: cfg.ProviderTimeout}, cfg.TriviaBaseURL)
	categories := trivia.NewCategoryCache(triviaClient, rdb, cfg.CategoryCacheTTL, log)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, userRepo)
	quizService := service.NewQuizService(
		store,
		triviaClient,
		categories,
		statsRepo,
		service.NewRedisNotifier(rdb, log),
		service.QuizOptions{
			SessionTTL:        cfg.SessionTTL,
			ProviderTimeout:   cfg.ProviderTimeout,
			VerifySyncAnswers: cfg.SyncVerifyAnswers,
		},
		log,
	)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:   handler.NewAuthHandler(authService, log),
		Quiz:   handler.NewQuizHandler(quizService, log),
		WS:     handler.NewWSHandler(rdb, quizService, log, cfg.AllowedOrigins, cfg.RequestTimeout),
		Health: handler.NewHealthHandler(pool, rdb, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	statsWorker := worker.NewStatsWorker(statsRepo, rdb, log)
	expiryWorker := worker.NewExpiryWorker(store, cfg.ExpirySweepInterval, log)
	startLimiter := middleware.NewRateLimiter(cfg.StartRateLimit, time.Minute)

	workers.Add(3)
	go func() { defer workers.Done(); statsWorker.Start(workerCtx) }()
	go func() { defer workers.Done(); expiryWorker.Start(workerCtx) }()
	go func() { defer workers.Done(); startLimiter.Run(workerCtx.Done()) }()

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load the category list BEFORE accepting traffic.
	if _, err := categories.List(ctx); err != nil {
		log.Warn().Err(err).Msg("Category prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg, startLimiter)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for the stats batch to flush.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
