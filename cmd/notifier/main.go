package main

import (
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/example/agentcash/internal/config"
	"github.com/example/agentcash/internal/notify"
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

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		asynq.Config{
			Concurrency: 10,
			Queues:      map[string]int{notify.QueueName: 1},
		},
	)

	logger.Info("notifier running", "queue", notify.QueueName, "redis", cfg.RedisAddr, "env", cfg.Environment)

	// Run blocks until SIGINT or SIGTERM and drains in-flight tasks.
	if err := srv.Run(notify.NewMux(logger)); err != nil {
		logger.Error("notifier stopped", "error", err)
		os.Exit(1)
	}
}
