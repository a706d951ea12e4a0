package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/example/agentcash/internal/codes"
	"github.com/example/agentcash/internal/config"
	"github.com/example/agentcash/internal/directory"
	"github.com/example/agentcash/internal/gateway"
	"github.com/example/agentcash/internal/ledger"
	"github.com/example/agentcash/internal/notify"
	"github.com/example/agentcash/internal/phone"
	"github.com/example/agentcash/internal/request"
)

// The sweeper is the background half of the system: it expires stale
// requests, re-folds agent balances against the transaction log, backfills
// settlement legs lost to crashes, and finalizes gateway transactions the
// API gave up polling on.
func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	journal, err := request.OpenJournal(cfg.JournalPath)
	if err != nil {
		logger.Error("failed to open transition journal", "error", err, "path", cfg.JournalPath)
		os.Exit(1)
	}
	defer journal.Close()

	normalizer, err := phone.NewBuilder().
		CountryCode(cfg.PhoneCountryCode).
		TrunkPrefix(cfg.PhoneTrunkPrefix).
		Build()
	if err != nil {
		logger.Error("invalid phone normalizer configuration", "error", err)
		os.Exit(1)
	}

	dirStore := directory.NewPostgresStore(pool)
	ledgerStore := ledger.NewPostgresStore(pool)

	policy := ledger.Policy{Rate: cfg.CommissionRate, Floor: cfg.CommissionFloor}
	reconciler := ledger.NewReconciler(ledgerStore, dirStore, policy, cfg.DriftTolerance, logger)

	ledgerSvc := ledger.NewService(ledger.ServiceConfig{
		Store:      ledgerStore,
		Reconciler: reconciler,
		Directory:  dirStore,
		Gateway:    gateway.NewHTTPClient(cfg.GatewayBaseURL, cfg.GatewayTimeout),
		Normalizer: normalizer,
		Policy:     policy,
		Poll: gateway.PollOptions{
			MaxAttempts: cfg.GatewayPollMaxAttempts,
			Interval:    cfg.GatewayPollInterval,
		},
		Logger: logger,
	})

	requestSvc := request.NewService(request.ServiceConfig{
		Store:     request.NewPostgresStore(pool),
		Directory: dirStore,
		Ledger:    ledgerSvc,
		Codes:     codes.NewStore(redisClient),
		Notifier:  notify.Noop{},
		Journal:   journal,
		TTL:       cfg.RequestTTL,
		MinAmount: cfg.AmountMin,
		MaxAmount: cfg.AmountMax,
		Logger:    logger,
	})

	sweep := func(ctx context.Context) {
		if _, err := requestSvc.Sweep(ctx); err != nil {
			logger.Error("sweep failed", "error", err)
		}
	}

	reconcile := func(ctx context.Context) {
		if healed, err := reconciler.ReconcileAgents(ctx); err != nil {
			logger.Error("agent reconciliation failed", "error", err)
		} else if healed > 0 {
			logger.Info("healed drifted agent balances", "count", healed)
		}
		if created, err := reconciler.BackfillSettlements(ctx); err != nil {
			logger.Error("settlement backfill failed", "error", err)
		} else if created > 0 {
			logger.Info("backfilled settlement transactions", "count", created)
		}
		if finalized, err := ledgerSvc.VerifyPendingGateway(ctx, cfg.GatewayVerifyMaxAge); err != nil {
			logger.Error("gateway verification failed", "error", err)
		} else if finalized > 0 {
			logger.Info("finalized stale gateway transactions", "count", finalized)
		}
	}

	logger.Info("sweeper running",
		"sweep_interval", cfg.SweepInterval.String(),
		"reconcile_interval", cfg.ReconcileInterval.String(),
		"env", cfg.Environment,
	)

	// One pass up front so a fresh deploy catches up immediately.
	sweep(ctx)
	reconcile(ctx)

	sweepTick := time.NewTicker(cfg.SweepInterval)
	defer sweepTick.Stop()
	reconcileTick := time.NewTicker(cfg.ReconcileInterval)
	defer reconcileTick.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("sweeper shutting down")
			return
		case <-sweepTick.C:
			sweep(ctx)
		case <-reconcileTick.C:
			reconcile(ctx)
		}
	}
}
