package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/mochiface/backend/internal/auth"
	"github.com/mochiface/backend/internal/cache"
	"github.com/mochiface/backend/internal/config"
	"github.com/mochiface/backend/internal/dashboard"
	"github.com/mochiface/backend/internal/database"
	"github.com/mochiface/backend/internal/execution"
	"github.com/mochiface/backend/internal/generation"
	"github.com/mochiface/backend/internal/jobs"
	"github.com/mochiface/backend/internal/ledger"
	"github.com/mochiface/backend/internal/middleware"
	"github.com/mochiface/backend/internal/provider"
	"github.com/mochiface/backend/internal/rewards"
	"github.com/mochiface/backend/internal/router"
	"github.com/mochiface/backend/internal/storage"
	"github.com/mochiface/backend/internal/uploads"
	"github.com/mochiface/backend/internal/validation"
)

// shutdownGrace bounds how long in-flight requests and generations may run
// after a termination signal.
const shutdownGrace = 30 * time.Second

type stores struct {
	ledger  ledger.Store
	jobs    jobs.Store
	proofs  rewards.Store
	users   auth.Store
	pgxPool *pgxpool.Pool
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		slog.Error("Unable to open stores", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	if st.pgxPool != nil {
		defer st.pgxPool.Close()
	}

	ledgerSvc := ledger.NewService(st.ledger)

	objects, err := openObjectStore(ctx, cfg)
	if err != nil {
		slog.Error("Unable to open result storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}

	// Provider: without an API key every generation returns the placeholder.
	var client provider.Client
	if cfg.Provider.APIKey != "" {
		client = provider.NewHTTPClient(cfg.Provider.Endpoint, cfg.Provider.APIKey, cfg.Provider.RPS, &http.Client{})
	} else {
		slog.Warn("PROVIDER_API_KEY not set, generations will return placeholder images")
	}
	adapter := provider.NewAdapter(client, provider.Options{
		Timeout:       cfg.Provider.Timeout,
		MaxRetries:    cfg.MaxRetries(),
		BaseDelay:     cfg.Provider.RetryDelay,
		SlowThreshold: cfg.Provider.SlowThreshold,
	}, logger)
	fetcher := provider.NewFetcher(objects, provider.FetcherOptions{
		MaxRetries:           cfg.MaxRetries(),
		BaseDelay:            cfg.Provider.RetryDelay,
		MaxBytes:             cfg.Provider.MaxImageBytes,
		PlaceholderOnFailure: cfg.Profile == config.ProfileConstrained,
	}, logger)

	orch := generation.NewOrchestrator(generation.Deps{
		Jobs:      st.jobs,
		Ledger:    ledgerSvc,
		Cache:     openCache(cfg, logger),
		Generator: adapter,
		Fetcher:   fetcher,
		Results:   objects,
	}, generation.Options{
		Cost:            cfg.Generation.Cost,
		Watchdog:        cfg.Generation.Watchdog,
		RefundOnFailure: cfg.Generation.RefundOnFailure,
	}, logger)

	stopWorkers, err := startDispatcher(ctx, cfg, st, orch, logger)
	if err != nil {
		slog.Error("Unable to start generation workers", "queue_driver", cfg.Generation.QueueDriver, "error", err)
		os.Exit(1)
	}

	sweeper, err := orch.StartSweeper(cfg.Generation.SweepSchedule)
	if err != nil {
		slog.Error("Unable to schedule stale job sweeper", "error", err)
		os.Exit(1)
	}

	// Rewards
	signer, err := rewards.NewHMACSigner(cfg.Rewards.SigningSecret)
	if err != nil {
		slog.Error("Invalid reward signing secret", "error", err)
		os.Exit(1)
	}
	rewardSvc := rewards.NewService(st.proofs, signer, ledgerSvc, cfg.Rewards.ProofTTL, logger)

	// Auth
	authSvc := auth.NewService(st.users, ledgerSvc, cfg.JWTSecret, cfg.Generation.SignupBonus, logger)

	validator, err := validation.New()
	if err != nil {
		slog.Error("Request schema compilation failed", "error", err)
		os.Exit(1)
	}

	apiV1Router := router.New(router.Handlers{
		Auth:       auth.NewHandler(authSvc, logger),
		Account:    dashboard.NewHandler(authSvc, ledgerSvc, st.jobs, logger),
		Ledger:     ledger.NewHandler(ledgerSvc, logger),
		Rewards:    rewards.NewHandler(rewardSvc, int(cfg.Rewards.ProofTTL/time.Second), logger),
		Generation: generation.NewHandler(orch, logger),
		Uploads:    uploads.NewHandler(objects, cfg.Provider.MaxImageBytes, logger),
	}, router.Middlewares{
		RequireUser: middleware.RequireUser(authSvc),
		CreditCheck: middleware.CreditCheck(ledgerSvc, func(style string) bool {
			_, ok := provider.LookupStyle(style)
			return ok
		}, cfg.Generation.Cost),
		Validate: func(schema string) router.Middleware {
			return middleware.ValidateJSON(validator, schema)
		},
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(apiV1Router)

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr, "profile", cfg.Profile, "store", cfg.StoreDriver, "queue", cfg.Generation.QueueDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown", "error", err)
	}
	<-sweeper.Stop().Done()
	if err := stopWorkers(shutdownCtx); err != nil {
		slog.Error("Worker shutdown", "error", err)
	}
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StoreDriver == config.DriverMemory {
		slog.Warn("Using in-memory stores, data is lost on restart")
		return &stores{
			ledger: ledger.NewMemoryStore(),
			jobs:   jobs.NewMemoryStore(),
			proofs: rewards.NewMemoryStore(),
			users:  auth.NewMemoryStore(),
		}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	n, err := database.Migrate(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	slog.Info("Schema migrations applied", "count", n)

	return &stores{
		ledger:  ledger.NewRepository(pool),
		jobs:    jobs.NewRepository(pool),
		proofs:  rewards.NewRepository(pool),
		users:   auth.NewRepository(pool),
		pgxPool: pool,
	}, nil
}

func openObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	httpDL := storage.NewHTTPDownloader(cfg.Provider.Timeout, cfg.Provider.MaxImageBytes)
	if cfg.Storage.Driver == config.StorageDriverMemory {
		return storage.NewMemoryStore(cfg.Storage.Bucket, httpDL), nil
	}
	return storage.NewS3Store(ctx, storage.S3Config{
		Bucket:          cfg.Storage.Bucket,
		Region:          cfg.Storage.Region,
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
	}, httpDL)
}

func openCache(cfg *config.Config, logger *slog.Logger) cache.Cache {
	if !cfg.CacheEnabled() {
		return cache.Disabled{}
	}
	if cfg.Cache.Driver == config.CacheDriverRedis {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		return cache.NewRedisCache(rdb, cfg.Cache.TTL, 1000, logger)
	}
	return cache.NewMemoryCache(cfg.Cache.TTL, cfg.Cache.MaxBytes, logger)
}

// startDispatcher wires the orchestrator to its executor and returns a
// function that drains it.
func startDispatcher(ctx context.Context, cfg *config.Config, st *stores, orch *generation.Orchestrator, logger *slog.Logger) (func(context.Context) error, error) {
	if cfg.Generation.QueueDriver == config.QueueDriverPool {
		pool := execution.NewPool(cfg.Generation.Workers, cfg.Generation.QueueSize, logger)
		orch.SetDispatcher(execution.NewPoolDispatcher(pool, orch, cfg.Generation.EnqueueTimeout))
		return pool.Shutdown, nil
	}

	migrator, err := rivermigrate.New(riverpgxv5.New(st.pgxPool), nil)
	if err != nil {
		return nil, err
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return nil, err
	}
	slog.Info("River migrations applied")

	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewGenerateWorker(orch, cfg.Generation.Watchdog))

	riverClient, err := river.NewClient(riverpgxv5.New(st.pgxPool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.Generation.Workers},
		},
		Workers:      workers,
		ErrorHandler: execution.NewErrorHandler(logger),
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	orch.SetDispatcher(execution.NewRiverDispatcher(riverClient))

	if err := riverClient.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, err
	}
	return riverClient.Stop, nil
}
