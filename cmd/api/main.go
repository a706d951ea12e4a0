package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/example/agentcash/internal/api"
	"github.com/example/agentcash/internal/codes"
	"github.com/example/agentcash/internal/config"
	"github.com/example/agentcash/internal/directory"
	"github.com/example/agentcash/internal/gateway"
	"github.com/example/agentcash/internal/ledger"
	"github.com/example/agentcash/internal/matching"
	"github.com/example/agentcash/internal/notify"
	"github.com/example/agentcash/internal/phone"
	"github.com/example/agentcash/internal/request"
	"github.com/example/agentcash/internal/security"
	"github.com/example/agentcash/pkg/audit"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	allowlist, err := security.ParseAllowlist(cfg.IPAllowlist)
	if err != nil {
		logger.Error("invalid IP_ALLOWLIST", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer asynqClient.Close()

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

	if cfg.GatewayBaseURL == "" {
		logger.Warn("GATEWAY_BASE_URL is unset; deposits and withdrawals will fail")
	}
	gatewayClient := gateway.NewHTTPClient(cfg.GatewayBaseURL, cfg.GatewayTimeout)

	dirStore := directory.NewPostgresStore(pool)
	ledgerStore := ledger.NewPostgresStore(pool)

	policy := ledger.Policy{Rate: cfg.CommissionRate, Floor: cfg.CommissionFloor}
	reconciler := ledger.NewReconciler(ledgerStore, dirStore, policy, cfg.DriftTolerance, logger)

	ledgerSvc := ledger.NewService(ledger.ServiceConfig{
		Store:      ledgerStore,
		Reconciler: reconciler,
		Directory:  dirStore,
		Gateway:    gatewayClient,
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
		Notifier:  notify.NewEnqueuer(asynqClient),
		Journal:   journal,
		TTL:       cfg.RequestTTL,
		MinAmount: cfg.AmountMin,
		MaxAmount: cfg.AmountMax,
		Logger:    logger,
	})

	engine := matching.NewEngine(dirStore, ledgerSvc, requestSvc, cfg.SearchRadiusKm)

	rateLimiter := &security.RedisTokenBucket{
		Redis:      redisClient,
		Prefix:     "agentcash_api",
		Capacity:   cfg.RateLimitBurst,
		RefillRate: float64(cfg.RateLimitRPS),
	}

	router, err := api.NewRouter(api.Dependencies{
		Logger:       logger,
		Requests:     requestSvc,
		Matcher:      engine,
		Ledger:       ledgerSvc,
		Auditor:      audit.NewChain(),
		RateLimiter:  rateLimiter,
		IPAllowlist:  allowlist,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	if err != nil {
		logger.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		logger.Error("failed to listen", "error", err)
		os.Exit(1)
	}

	tlsCfg := security.TLSConfig{
		CertFile:     cfg.TLSCertFile,
		KeyFile:      cfg.TLSKeyFile,
		ClientCAFile: cfg.TLSClientCAFile,
	}
	if tlsCfg.Enabled() {
		serverTLS, err := security.LoadServerTLSConfig(tlsCfg)
		if err != nil {
			logger.Error("failed to load TLS config", "error", err)
			os.Exit(1)
		}
		srv.TLSConfig = serverTLS
		ln = tls.NewListener(ln, serverTLS)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Info("agentcash api listening", "addr", cfg.HTTPAddr, "tls", tlsCfg.Enabled(), "env", cfg.Environment)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
