package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/wager-lobby/internal/api"
	"github.com/ayo6706/wager-lobby/internal/clock"
	"github.com/ayo6706/wager-lobby/internal/config"
	"github.com/ayo6706/wager-lobby/internal/db"
	"github.com/ayo6706/wager-lobby/internal/events"
	"github.com/ayo6706/wager-lobby/internal/idempotency"
	"github.com/ayo6706/wager-lobby/internal/identity"
	"github.com/ayo6706/wager-lobby/internal/observability"
	"github.com/ayo6706/wager-lobby/internal/oracle"
	"github.com/ayo6706/wager-lobby/internal/repository"
	"github.com/ayo6706/wager-lobby/internal/repository/memory"
	"github.com/ayo6706/wager-lobby/internal/repository/postgres"
	"github.com/ayo6706/wager-lobby/internal/repository/sqlite"
	"github.com/ayo6706/wager-lobby/internal/service"
	"github.com/ayo6706/wager-lobby/internal/worker"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server, oracle subscriber and background workers,
// blocking until shutdown.
func Run(cfg *config.Config) error {
	logger, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("store ready", zap.String("type", cfg.StorageType))

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	var (
		publisher events.Publisher = events.Nop{}
		js        jetstream.JetStream
	)
	if cfg.NATSURL != "" {
		nc, stream, err := events.Connect(cfg.NATSURL)
		if err != nil {
			return err
		}
		defer nc.Drain()
		if err := events.EnsureStreams(ctx, stream); err != nil {
			return fmt.Errorf("ensure streams: %w", err)
		}
		js = stream
		publisher = events.NewJetStreamPublisher(js)
	}

	c := clock.New()
	directory := identity.NewDirectory(redisClient)
	ledger := service.NewLedgerService(store, c)
	registry := service.NewMatchRegistry(store, ledger, c).
		WithReadyCheck(cfg.ReadyCheckEnabled).
		WithEventPublisher(publisher)
	if cfg.RequireVerifiedIdentity {
		registry = registry.WithIdentityVerifier(directory)
	}
	settlement := service.NewSettlementCoordinator(store, ledger, c).WithEventPublisher(publisher)
	deposits := service.NewDepositService(store, ledger, cfg.FundingIPNSecret, cfg.FundingSkipSignature)
	reconciliation := service.NewReconciliationService(store)
	adapter := oracle.NewAdapter(settlement, registry, directory, oracle.Config{
		HMACKey:      cfg.OracleHMACKey,
		ServerSecret: cfg.GameServerSecret,
	})

	if js != nil {
		subscriber := oracle.NewSubscriber(js, adapter)
		if err := subscriber.Start(ctx); err != nil {
			return fmt.Errorf("start oracle subscriber: %w", err)
		}
		defer subscriber.Stop()
		logger.Info("oracle subscriber started", zap.String("subject", events.ResultsSubject))
	}

	settlementWorker := worker.NewSettlementWorker(settlement).
		WithPollInterval(cfg.SettlementPollInterval).
		WithBatchSize(cfg.SettlementBatchSize)
	stopSettlement := settlementWorker.Run(ctx)
	logger.Info("settlement worker started", zap.Duration("interval", cfg.SettlementPollInterval), zap.Int("batch", cfg.SettlementBatchSize))

	reconciliationWorker := worker.NewReconciliationWorker(reconciliation).WithInterval(cfg.ReconciliationInterval)
	stopReconciliation := reconciliationWorker.Run(ctx)
	logger.Info("reconciliation worker started", zap.Duration("interval", cfg.ReconciliationInterval))

	router := api.NewRouter(cfg, logger, store, idempotency.NewStore(redisClient, cfg.IdempotencyTTL), redisClient, api.Services{
		Ledger:         ledger,
		Registry:       registry,
		Settlement:     settlement,
		Deposits:       deposits,
		Reconciliation: reconciliation,
		Oracle:         adapter,
		Identities:     directory,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	stopSettlement()
	stopReconciliation()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.StorageType {
	case config.StorageMemory:
		return memory.New(), nil
	case config.StorageSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return s, nil
	default:
		if cfg.AutoMigrate {
			if err := db.Migrate(cfg.DatabaseURL); err != nil {
				return nil, fmt.Errorf("migrate database: %w", err)
			}
		}
		pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		return postgres.New(pool), nil
	}
}

// NewLogger builds a production zap logger at the given level.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
