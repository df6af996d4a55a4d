package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/social-dispatch/internal/config"
	"github.com/kursadbilgin/social-dispatch/internal/domain"
	infraredis "github.com/kursadbilgin/social-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/social-dispatch/internal/observability"
	"github.com/kursadbilgin/social-dispatch/internal/provider"
	"github.com/kursadbilgin/social-dispatch/internal/queue"
	"github.com/kursadbilgin/social-dispatch/internal/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// QueueBackend bundles the publisher, consumer and inspector of the
// configured queue implementation.
type QueueBackend struct {
	Publisher queue.Publisher
	Consumer  queue.Consumer
	Inspector queue.Inspector

	closers []func() error
}

func (b *QueueBackend) Close() error {
	if b == nil {
		return nil
	}
	var errs []error
	for _, c := range b.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func RetryPolicy(cfg *config.Config) queue.RetryPolicy {
	policy := queue.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.JobAttempts
	policy.BaseDelay = cfg.JobBackoff()
	return policy
}

// NewQueueBackend builds the queue selected by QUEUE_BACKEND. Job history
// always lives in Redis.
func NewQueueBackend(cfg *config.Config, rdb *redis.Client, logger *zap.Logger) (*QueueBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	history := queue.NewHistory(rdb, cfg.QueueName, cfg.QueueKeepCompleted, cfg.QueueKeepFailed)

	switch cfg.QueueBackend {
	case config.QueueBackendRabbitMQ:
		client, err := queue.NewRabbitMQ(cfg.RabbitMQURL, cfg.QueueName)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		publisher := queue.NewRabbitMQPublisher(client, history)
		consumer := queue.NewRabbitMQConsumer(client, RetryPolicy(cfg), history, cfg.JobTimeout(), logger.Named("queue"))
		return &QueueBackend{
			Publisher: publisher,
			Consumer:  consumer,
			Inspector: publisher,
			closers:   []func() error{client.Close},
		}, nil
	default:
		q, err := queue.NewRedisQueue(rdb, queue.RedisQueueConfig{
			Name:       cfg.QueueName,
			Policy:     RetryPolicy(cfg),
			JobTimeout: cfg.JobTimeout(),
		}, history, logger.Named("queue"))
		if err != nil {
			return nil, fmt.Errorf("redis queue initialization failed: %w", err)
		}
		return &QueueBackend{
			Publisher: q,
			Consumer:  q,
			Inspector: q,
			closers:   []func() error{q.Close},
		}, nil
	}
}

// NewPlatformRegistry builds one guarded adapter per platform. Adapters
// with missing credentials are still registered and report a failed outcome.
func NewPlatformRegistry(cfg *config.Config, logger *zap.Logger) (*provider.Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	guard := func(p domain.Platform) *provider.Guard {
		gc := provider.DefaultGuardConfig()
		gc.RPS = cfg.PlatformRPS
		return provider.NewGuard(p.String(), gc, logger.Named("guard"))
	}

	facebook, err := provider.NewFacebookAdapter(provider.FacebookConfig{
		PageID:       cfg.FacebookPageID,
		AccessToken:  cfg.FacebookAccessToken,
		GraphVersion: cfg.FacebookGraphVersion,
		BaseURL:      cfg.FacebookAPIURL,
		Timeout:      cfg.PlatformTimeout(),
	}, guard(domain.PlatformFacebook))
	if err != nil {
		return nil, err
	}

	linkedInCfg := provider.LinkedInConfig{
		AccessToken: cfg.LinkedInAccessToken,
		PersonURN:   cfg.LinkedInPersonURN,
		OrgID:       cfg.LinkedInOrgID,
		BaseURL:     cfg.LinkedInAPIURL,
		Timeout:     cfg.PlatformTimeout(),
	}
	linkedIn, err := provider.NewLinkedInAdapter(linkedInCfg, domain.PlatformLinkedIn, guard(domain.PlatformLinkedIn))
	if err != nil {
		return nil, err
	}
	linkedInPage, err := provider.NewLinkedInAdapter(linkedInCfg, domain.PlatformLinkedInPage, guard(domain.PlatformLinkedInPage))
	if err != nil {
		return nil, err
	}

	telegram, err := provider.NewTelegramAdapter(provider.TelegramConfig{
		BotToken: cfg.TelegramBotToken,
		ChatID:   cfg.TelegramChatID,
		BaseURL:  cfg.TelegramAPIURL,
		Timeout:  cfg.PlatformTimeout(),
	}, guard(domain.PlatformTelegram))
	if err != nil {
		return nil, err
	}

	return provider.NewRegistry(facebook, linkedIn, linkedInPage, telegram), nil
}

// DefaultPlatforms parses DEFAULT_PLATFORMS.
func DefaultPlatforms(cfg *config.Config) ([]domain.Platform, error) {
	platforms, err := domain.ParsePlatforms(cfg.DefaultPlatformList())
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_PLATFORMS: %w", err)
	}
	if len(platforms) == 0 {
		return nil, fmt.Errorf("DEFAULT_PLATFORMS must name at least one platform")
	}
	return platforms, nil
}

// PostLockTTL bounds how long a post lock may outlive a dead worker. The
// holder may wait a full rate limit window before its cycle starts.
func PostLockTTL(cfg *config.Config) time.Duration {
	return cfg.RateLimitWindow() + cfg.JobTimeout() + time.Minute
}

// NewWorkerService wires the shared rate limiter and the per-post lock into
// a worker. The lock is always on: other worker processes may consume the
// same queue even when this one runs a single loop.
func NewWorkerService(
	cfg *config.Config,
	runner service.CycleRunner,
	consumer queue.Consumer,
	rdb *redis.Client,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*service.WorkerService, error) {
	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitMax, cfg.RateLimitWindow())
	if err != nil {
		return nil, fmt.Errorf("rate limiter initialization failed: %w", err)
	}
	locker, err := infraredis.NewPostLocker(rdb, PostLockTTL(cfg))
	if err != nil {
		return nil, fmt.Errorf("post locker initialization failed: %w", err)
	}

	worker, err := service.NewWorkerService(runner, consumer, limiter, cfg.QueueName, cfg.WorkerConcurrency, logger)
	if err != nil {
		return nil, err
	}
	worker.SetMetrics(metrics)
	worker.SetLocker(locker)
	return worker, nil
}
