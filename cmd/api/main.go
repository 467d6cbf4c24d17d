package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/attaboy/payment-orchestrator/internal/app"
	"github.com/attaboy/payment-orchestrator/internal/infra"
	"github.com/attaboy/payment-orchestrator/internal/repository"
	"github.com/attaboy/payment-orchestrator/internal/timeout"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server failed", "error", err)
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
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("connected to postgres")

	redisClient, err := infra.NewRedisClient(cfg.RedisURL, logger)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()
	logger.Info("connected to redis")

	paymentSvc := app.BuildService(cfg, pool, redisClient, logger)
	ingress := app.BuildIngress(cfg, pool, redisClient, logger)

	router := app.NewRouter(app.RouterDeps{
		Pool:    pool,
		Redis:   redisClient,
		Logger:  logger,
		Config:  cfg,
		Service: paymentSvc,
		Ingress: ingress,
	})

	addr := fmt.Sprintf(":%d", cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	paymentRepo := repository.NewPaymentRepository()
	sweeper := timeout.NewSweeper(pool, paymentRepo, paymentSvc, logger)
	listener := timeout.NewListener(redisClient, paymentSvc, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("api server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return listener.Run(gctx)
	})

	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		logger.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
