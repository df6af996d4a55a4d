package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/social-dispatch/internal/app"
	"github.com/kursadbilgin/social-dispatch/internal/config"
	"github.com/kursadbilgin/social-dispatch/internal/handler"
	"github.com/kursadbilgin/social-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/social-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/social-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/social-dispatch/internal/observability"
	"github.com/kursadbilgin/social-dispatch/internal/repository"
	"github.com/kursadbilgin/social-dispatch/internal/service"
	"github.com/kursadbilgin/social-dispatch/internal/transport"
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

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

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

	postService, err := service.NewPostService(
		repository.NewGormPostRepo(db),
		backend.Publisher,
		backend.Inspector,
		cfg.JobAttempts,
		defaults,
		logger.Named("posts"),
	)
	if err != nil {
		logger.Fatal("post service initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	server := fiber.New(fiber.Config{
		AppName:               "social-dispatch-api",
		ErrorHandler:          transport.ErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		DisableStartupMessage: true,
	})
	server.Use(recover.New())
	server.Use(requestid.New())
	server.Use(cors.New(cors.Config{AllowOrigins: cfg.FrontendURL}))
	server.Use(metrics.HTTPMiddleware())

	server.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(server, map[string]handler.HealthCheck{
		"postgres": func(ctx context.Context) error { return postgresql.Ping(ctx, db) },
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	if err := handler.RegisterPostRoutes(server, postService); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("social-dispatch api started",
			zap.Int("port", cfg.APIPort),
			zap.String("queueBackend", cfg.QueueBackend),
		)
		return server.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down api")
		return server.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		logger.Error("api stopped with error", zap.Error(err))
	}
}
