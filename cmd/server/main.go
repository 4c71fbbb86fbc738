package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/config"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/db"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/engine"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/handler"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/middleware"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/provider"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/repository"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/router"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/service"
)

func main() {
	cfg := config.Load()
	middleware.InitLogger(cfg.LogLevel, "bookguard-go")
	log := middleware.Logger

	policy, err := config.LoadPolicy(cfg.RatingPolicyFile)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid rating policy")
	}

	providers, err := buildProviders(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid moderation model configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Runs live in Postgres when configured, otherwise in process memory.
	var (
		pool  *pgxpool.Pool
		store service.RunStore
	)
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, middleware.Component("db"))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		store = repository.NewRunRepo(pool)
	} else {
		log.Warn().Msg("DATABASE_URL not set, runs are kept in memory")
		store = service.NewMemoryStore()
	}

	cache := service.NewCacheService(cfg.RedisURL, log)
	defer cache.Close()
	cache.OnLookup = handler.ObserveCacheLookup

	registry := service.NewRunRegistry(store, cache, log)
	svc := service.NewModerationService(providers, registry, policy, log)
	svc.OnRun = handler.ObserveRun

	worker := service.NewRecheckWorker(svc, cfg.RecheckBatchWindow, log)
	worker.Start(ctx)

	handler.InitMetrics(pool, worker.Pending)

	app := fiber.New(fiber.Config{
		AppName:      "BookGuard API",
		ServerHeader: "BookGuard",
		BodyLimit:    32 << 20,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.ProviderTimeout + 30*time.Second,
	})

	stopLimiters := router.Setup(app, &router.Handlers{
		Health:     handler.NewHealthHandler(pool, cache.Client(), svc.Models),
		Moderation: handler.NewModerationHandler(svc, worker),
		Ratings:    handler.NewRatingsHandler(policy, engine.Normalizer{Strict: cfg.StrictCategories}),
		Stats:      handler.NewStatsHandler(registry),
	}, cfg.CORSOriginList())
	defer stopLimiters()

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown")
		}
	}()

	log.Info().
		Str("port", cfg.Port).
		Str("env", cfg.Environment).
		Strs("models", svc.Models()).
		Msg("BookGuard backend starting")

	if err := app.Listen(":"+cfg.Port, fiber.ListenConfig{DisableStartupMessage: true}); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("server stopped")
	}

	// Flush queued re-checks before the stores close.
	stop()
	worker.Wait()
}

func buildProviders(cfg *config.Config) ([]provider.Provider, error) {
	specs, err := cfg.ModelSpecs()
	if err != nil {
		return nil, err
	}
	opts := provider.Options{
		BaseURL:          cfg.OpenAIBaseURL,
		APIKey:           cfg.OpenAIAPIKey,
		Timeout:          cfg.ProviderTimeout,
		Concurrency:      cfg.ClassifyConcurrency,
		StrictCategories: cfg.StrictCategories,
	}

	providers := make([]provider.Provider, 0, len(specs))
	for _, spec := range specs {
		strategy, err := provider.ParseStrategy(spec.Strategy)
		if err != nil {
			return nil, err
		}
		p, err := provider.New(spec.Name, strategy, opts)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}
