package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/social-dispatch/internal/app"
	"github.com/kursadbilgin/social-dispatch/internal/config"
	"github.com/kursadbilgin/social-dispatch/internal/handler"
	"github.com/kursadbilgin/social-dispatch/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/social-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/social-dispatch/internal/observability"
	"github.com/kursadbilgin/social-dispatch/internal/repository"
	"github.com/kursadbilgin/social-dispatch/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}
	defer postgresql.Close(db) //nolint:errcheck

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	backend, err := app.NewQueueBackend(cfg, rdb, logger)
	if err != nil {
		logger.Fatal("queue initialization failed", zap.Error(err))
	}
	defer backend.Close() //nolint:errcheck

	defaults, err := app.DefaultPlatforms(cfg)
	if err != nil {
		logger.Fatal("invalid platform configuration", zap.Error(err))
	}

	registry, err := app.NewPlatformRegistry(cfg, logger)
	if err != nil {
		logger.Fatal("platform adapter initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	publisher, err := service.NewPublishService(
		repository.NewGormPostRepo(db),
		registry,
		defaults,
		logger.Named("publish"),
	)
	if err != nil {
		logger.Fatal("publish service initialization failed", zap.Error(err))
	}
	publisher.SetMetrics(metrics)

	worker, err := app.NewWorkerService(cfg, publisher, backend.Consumer, rdb, metrics, logger.Named("worker"))
	if err != nil {
		logger.Fatal("worker initialization failed", zap.Error(err))
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("social-dispatch worker started",
			zap.String("queue", cfg.QueueName),
			zap.String("queueBackend", cfg.QueueBackend),
			zap.Int("concurrency", cfg.WorkerConcurrency),
			zap.Int("rateLimitMax", cfg.RateLimitMax),
			zap.Duration("rateLimitWindow", cfg.RateLimitWindow()),
		)
		return worker.Start(groupCtx)
	})

	if cfg.WorkerMetricsPort > 0 {
		ops := fiber.New(fiber.Config{DisableStartupMessage: true})
		ops.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
		handler.RegisterHealthRoutes(ops, map[string]handler.HealthCheck{
			"postgres": func(ctx context.Context) error { return postgresql.Ping(ctx, db) },
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})

		g.Go(func() error {
			return ops.Listen(fmt.Sprintf(":%d", cfg.WorkerMetricsPort))
		})
		g.Go(func() error {
			<-groupCtx.Done()
			return ops.ShutdownWithTimeout(shutdownTimeout)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
	}
	logger.Info("worker drained")
}
