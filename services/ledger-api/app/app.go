package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coinledger/coinledger/pkg"
	"github.com/coinledger/coinledger/pkg/cache"
	"github.com/coinledger/coinledger/pkg/currency"
	"github.com/coinledger/coinledger/pkg/database"
	middleware "github.com/coinledger/coinledger/pkg/middlewares"
	"github.com/coinledger/coinledger/pkg/repositories"
	"github.com/coinledger/coinledger/services/ledger-api/configs"
	"github.com/coinledger/coinledger/services/ledger-api/internal/handlers"
	"github.com/coinledger/coinledger/services/ledger-api/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewApp wires dependencies, builds the Gin engine, and returns an *http.Server and a cleanup func.
// It reads configuration from environment variables via configs.Load.
func NewApp(ctx context.Context, logger *zap.Logger) (*http.Server, func(), error) {
	// Load config
	cfg, err := configs.Load(logger)
	if err != nil {
		return nil, nil, err
	}

	// Initialize postgres db
	dbConfig := database.Config{
		PrimaryDSN: cfg.PrimaryDbAddr,
		ReadDSNs:   []string{cfg.ReplicaDbAddr},
		MaxConns:   cfg.MaxDbCons,
		MinConns:   cfg.MinDbCons,
	}
	db, disconnect, err := database.New(ctx, logger, dbConfig)
	if err != nil {
		return nil, nil, err
	}

	// Run migrations on primary
	if err := database.RunMigrations(logger, cfg.PrimaryDbAddr); err != nil {
		disconnect()
		return nil, nil, err
	}

	// Redis is optional; without it, rate limiting is instance-local.
	var redisClient *redis.Client
	redisCloser := func() {}
	if cfg.RedisAddr != "" {
		redisClient, redisCloser, err = cache.New(ctx, cache.Config{Addr: cfg.RedisAddr})
		if err != nil {
			disconnect()
			return nil, nil, err
		}
	}

	// Currency registry and its atomic holder for runtime reloads
	registry := currency.Load(logger, cfg.Currencies, cfg.CurrencyOrder)
	holder := currency.NewHolder(registry)
	balanceCache := cache.NewBalanceCache(cfg.CacheMaxAccounts)

	// Setup dependencies
	accountRepo := repositories.NewAccountRepository()
	balanceRepo := repositories.NewBalanceRepository()
	txRepo := repositories.NewTransactionRepository()

	publisher := services.NewEventPublisher(logger, ctx, cfg)
	ledgerService := services.NewLedgerService(logger, db, holder, balanceCache, accountRepo, balanceRepo, txRepo, publisher)

	pendingStore := services.NewPendingStore(cfg.PendingTransferTTL)
	limiter := pkg.NewDistributedLimiter(redisClient, "global:transfer_rate",
		cfg.TransferRate, cfg.TransferBurst, time.Minute, logger)
	transferService := services.NewTransferService(logger, holder, ledgerService, pendingStore, limiter)

	leaderboardService := services.NewLeaderboardService(logger, db, holder, ledgerService, accountRepo, balanceRepo, cfg.LeaderboardPageSize)

	snapshotService := services.NewSnapshotService(logger, db, accountRepo, balanceRepo, txRepo,
		pendingStore, cfg.SnapshotDir, cfg.SnapshotSchedule, cfg.SnapshotKeep, cfg.SnapshotEnabled)
	snapshotService.Start()

	adminService := services.NewAdminService(logger, holder, balanceCache, pendingStore, func() (map[string]currency.Config, []string, error) {
		reloaded, err := configs.Load(logger)
		if err != nil {
			return nil, nil, err
		}
		return reloaded.Currencies, reloaded.CurrencyOrder, nil
	})

	baseHandler := handlers.NewBaseHandler(logger)
	accountHandler := handlers.NewAccountHandler(logger, ledgerService)
	balanceHandler := handlers.NewBalanceHandler(logger, ledgerService)
	transferHandler := handlers.NewTransferHandler(logger, transferService)
	leaderboardHandler := handlers.NewLeaderboardHandler(logger, leaderboardService)
	currencyHandler := handlers.NewCurrencyHandler(logger, adminService)
	adminHandler := handlers.NewAdminHandler(logger, adminService, snapshotService)

	// Router
	r := gin.Default()

	api := r.Group("/api/v1")
	api.Use(middleware.TraceID())
	api.Use(middleware.Metrics())

	accountHandler.RegisterRoutes(api)
	balanceHandler.RegisterRoutes(api)
	transferHandler.RegisterRoutes(api)
	leaderboardHandler.RegisterRoutes(api)
	currencyHandler.RegisterRoutes(api)
	adminHandler.RegisterRoutes(api)
	baseHandler.RegisterRoutes(r)

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	cleanup := func() {
		// stop scheduled jobs first so no snapshot races the pool close
		snapshotService.Stop()
		// close db pools
		disconnect()
		// close redis and kafka producer
		redisCloser()
		publisher.Close()
	}

	return srv, cleanup, nil
}
