package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/attaboy/payment-orchestrator/internal/app"
	"github.com/attaboy/payment-orchestrator/internal/infra"
	"github.com/attaboy/payment-orchestrator/internal/webhook"
)

const providerEventsTopic = "payment.provider-events.v1"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("webhook consumer failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("webhook-consumer connected to postgres")

	redisClient, err := infra.NewRedisClient(cfg.RedisURL, logger)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	paymentSvc := app.BuildService(cfg, pool, redisClient, logger)

	reader := infra.NewKafkaConsumer(cfg.KafkaBrokers, providerEventsTopic, cfg.KafkaProviderEventsGroupID, cfg.KafkaEnabled, logger)
	defer reader.Close()

	consumer := webhook.NewConsumer(reader, redisClient, paymentSvc, logger)

	logger.Info("webhook-consumer starting", "topic", providerEventsTopic, "group_id", cfg.KafkaProviderEventsGroupID)
	if err := consumer.Run(ctx); err != nil {
		return fmt.Errorf("consumer run: %w", err)
	}

	logger.Info("webhook-consumer shutting down")
	return nil
}
