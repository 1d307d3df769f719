package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/x402arcade/backend/internal/admin"
	"github.com/x402arcade/backend/internal/api"
	"github.com/x402arcade/backend/internal/api/handlers"
	"github.com/x402arcade/backend/internal/config"
	"github.com/x402arcade/backend/internal/database"
	"github.com/x402arcade/backend/internal/game"
	"github.com/x402arcade/backend/internal/leaderboard"
	"github.com/x402arcade/backend/internal/logger"
	"github.com/x402arcade/backend/internal/middleware"
	"github.com/x402arcade/backend/internal/migrations"
	"github.com/x402arcade/backend/internal/payment"
	"github.com/x402arcade/backend/internal/redis"
	"github.com/x402arcade/backend/internal/scheduler"
	"github.com/x402arcade/backend/internal/store"
	"github.com/x402arcade/backend/internal/store/redisstore"
	"github.com/x402arcade/backend/internal/store/sqlstore"
	"github.com/x402arcade/backend/internal/ws"
	"golang.org/x/sync/errgroup"
)

const (
	healthInterval       = time.Minute
	shutdownTimeout      = 15 * time.Second
	facilitatorIdleConns = 16
)

func main() {
	// Initialize configuration
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogOutput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("Server exited with error")
	}
	log.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	if cfg.ArcadeWalletAddress == "" {
		return errors.New("ARCADE_WALLET_ADDRESS is required")
	}
	clock := clockwork.NewRealClock()

	// Redis backs the payment lock, rate limiting, health cache and live updates
	rdb, err := redis.Connect(ctx, cfg.RedisURL, log)
	if err != nil {
		return err
	}
	defer rdb.Close()

	stores, err := openStores(cfg, rdb, clock, log)
	if err != nil {
		return err
	}
	defer func() {
		if stores.Close != nil {
			if err := stores.Close(); err != nil {
				log.WithError(err).Warn("Failed to close storage backend")
			}
		}
	}()

	// One pooled transport for every facilitator call
	paymentClient := payment.NewClient(cfg, log, payment.WithHTTPClient(&http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: facilitatorIdleConns,
			IdleConnTimeout:     90 * time.Second,
		},
	}))
	healthChecker := payment.NewHealthChecker(paymentClient, rdb, clock)
	cache := leaderboard.NewCache(stores.Leaderboard, leaderboard.Config{
		Size: cfg.LeaderboardCacheSize,
		TTL:  cfg.LeaderboardCacheTTL,
		TopN: cfg.LeaderboardTopN,
	}, clock, log)

	hub := ws.NewHub(log)

	service := game.NewService(game.Deps{
		Sessions:    stores.Sessions,
		Leaderboard: stores.Leaderboard,
		Pools:       stores.Pools,
		Nonces:      stores.Nonces,
		Settler:     paymentClient,
		Lock:        payment.NewPendingLock(rdb, cfg.PendingPaymentTTL),
		Validator:   game.BoundsValidator{},
		Cache:       cache,
		Events:      ws.NewPublisher(rdb),
		Clock:       clock,
		Log:         log,
	}, game.Options{
		ArcadeWallet:        cfg.ArcadeWalletAddress,
		PrizePoolPercentage: cfg.PrizePoolPercentage,
		SessionTimeout:      cfg.SessionTimeout,
	})

	schedules, err := parseSchedules(cfg)
	if err != nil {
		return err
	}
	jobs := &scheduler.Jobs{
		Sessions:       stores.Sessions,
		Leaderboard:    stores.Leaderboard,
		Pools:          stores.Pools,
		Nonces:         stores.Nonces,
		Cache:          cache,
		SessionMaxAge:  cfg.SessionMaxAge,
		NonceRetention: cfg.NonceRetention,
		Clock:          clock,
		Log:            log,
	}
	sched := scheduler.New(jobs.Definitions(schedules), cfg.JobHistorySize, clock, log)

	// Set up Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestLogger(log), gin.Recovery())

	pings := map[string]handlers.Pinger{
		"storage": stores.Ping,
		"redis":   func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}

	api.SetupRoutes(router, api.Router{
		Deps: handlers.Deps{
			Config:      cfg,
			Games:       service,
			Leaderboard: cache,
			Ranks:       stores.Leaderboard,
			Pools:       stores.Pools,
			Scheduler:   sched,
			Health:      healthChecker,
			Pings:       pings,
			Auth:        admin.NewAuthenticator(cfg, clock),
			Clock:       clock,
			Log:         log,
		},
		Hub:         hub,
		PlayLimiter: middleware.NewRateLimiter(rdb, "play", cfg.PaymentRateLimit, cfg.PaymentRateWindow, log),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := hub.Subscribe(ctx, rdb); err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		healthChecker.Run(gctx, healthInterval)
		return nil
	})
	g.Go(func() error {
		log.WithFields(logrus.Fields{"port": cfg.Port, "storage": cfg.StorageBackend}).Info("Starting x402 arcade server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sched.Stop(); err != nil {
			log.WithError(err).Warn("Scheduler did not stop cleanly")
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// openStores selects the storage backend named by STORAGE_BACKEND.
func openStores(cfg *config.Config, rdb goredis.UniversalClient, clock clockwork.Clock, log *logrus.Logger) (store.Stores, error) {
	opts := store.Options{SessionTimeout: cfg.SessionTimeout}

	switch cfg.StorageBackend {
	case "redis":
		log.Info("Using Redis storage backend")
		stores := redisstore.New(rdb, clock, opts, log)
		stores.Close = nil // shared client is closed by run
		return stores, nil

	case "postgres", "sqlite":
		var (
			db  *sqlx.DB
			err error
		)
		if cfg.StorageBackend == "postgres" {
			db, err = database.Connect(cfg.DatabaseURL)
		} else {
			db, err = database.ConnectSQLite(cfg.SQLitePath)
		}
		if err != nil {
			return store.Stores{}, fmt.Errorf("failed to connect to %s: %w", cfg.StorageBackend, err)
		}

		// SQLite is always migrated; it has no external migration step
		if cfg.MigrateOnStart || cfg.StorageBackend == "sqlite" {
			log.WithField("dialect", cfg.StorageBackend).Info("Running DB migrations on startup")
			if err := migrations.Run(db, log); err != nil {
				_ = db.Close()
				return store.Stores{}, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		log.WithField("dialect", cfg.StorageBackend).Info("Using SQL storage backend")
		return sqlstore.New(db, clock, opts, log), nil

	default:
		return store.Stores{}, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
}

func parseSchedules(cfg *config.Config) (scheduler.Schedules, error) {
	var s scheduler.Schedules
	var err error
	if s.PrizeFinalization, err = scheduler.ParseSchedule(cfg.PrizeFinalizationSchedule); err != nil {
		return s, fmt.Errorf("PRIZE_FINALIZATION_SCHEDULE: %w", err)
	}
	if s.LeaderboardRefresh, err = scheduler.ParseSchedule(cfg.LeaderboardRefreshSchedule); err != nil {
		return s, fmt.Errorf("LEADERBOARD_REFRESH_SCHEDULE: %w", err)
	}
	if s.SessionCleanup, err = scheduler.ParseSchedule(cfg.SessionCleanupSchedule); err != nil {
		return s, fmt.Errorf("SESSION_CLEANUP_SCHEDULE: %w", err)
	}
	return s, nil
}
