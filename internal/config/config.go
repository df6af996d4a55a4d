package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	QueueBackendRedis    = "redis"
	QueueBackendRabbitMQ = "rabbitmq"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	QueueBackend       string `env:"QUEUE_BACKEND,default=redis"`
	RabbitMQURL        string `env:"RABBITMQ_URL"`
	QueueName          string `env:"QUEUE_NAME,default=post-publish"`
	JobAttempts        int    `env:"JOB_ATTEMPTS,default=3"`
	JobBackoffMS       int    `env:"JOB_BACKOFF_MS,default=2000"`
	JobTimeoutSec      int    `env:"JOB_TIMEOUT_SEC,default=120"`
	QueueKeepCompleted int    `env:"QUEUE_KEEP_COMPLETED,default=100"`
	QueueKeepFailed    int    `env:"QUEUE_KEEP_FAILED,default=50"`
	RateLimitMax       int    `env:"RATE_LIMIT_MAX,default=5"`
	RateLimitWindowMS  int    `env:"RATE_LIMIT_WINDOW_MS,default=60000"`
	WorkerConcurrency  int    `env:"WORKER_CONCURRENCY,default=1"`
	DefaultPlatforms   string `env:"DEFAULT_PLATFORMS,default=facebook|linkedin|telegram"`

	APIPort           int    `env:"API_PORT,default=5000"`
	WorkerMetricsPort int    `env:"WORKER_METRICS_PORT,default=9091"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
	FrontendURL       string `env:"FRONTEND_URL,default=*"`

	FacebookPageID       string `env:"FACEBOOK_PAGE_ID"`
	FacebookAccessToken  string `env:"FACEBOOK_ACCESS_TOKEN"`
	FacebookGraphVersion string `env:"FACEBOOK_GRAPH_VERSION,default=v25.0"`
	FacebookAPIURL       string `env:"FACEBOOK_API_URL,default=https://graph.facebook.com"`

	LinkedInAccessToken string `env:"LINKEDIN_ACCESS_TOKEN"`
	LinkedInPersonURN   string `env:"LINKEDIN_PERSON_URN"`
	LinkedInOrgID       string `env:"LINKEDIN_ORG_ID"`
	LinkedInAPIURL      string `env:"LINKEDIN_API_URL,default=https://api.linkedin.com/v2"`

	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `env:"TELEGRAM_CHAT_ID"`
	TelegramAPIURL   string `env:"TELEGRAM_API_URL,default=https://api.telegram.org"`

	PlatformTimeoutSec int     `env:"PLATFORM_TIMEOUT_SEC,default=30"`
	PlatformRPS        float64 `env:"PLATFORM_RPS,default=1"`
}

// Load reads an optional .env file and then the process environment.
// Variables already present in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.QueueBackend = strings.ToLower(strings.TrimSpace(c.QueueBackend))
	switch c.QueueBackend {
	case QueueBackendRedis:
	case QueueBackendRabbitMQ:
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			return errors.New("RABBITMQ_URL is required when QUEUE_BACKEND=rabbitmq")
		}
	default:
		return fmt.Errorf("unsupported QUEUE_BACKEND %q", c.QueueBackend)
	}

	if c.JobAttempts < 1 {
		return fmt.Errorf("JOB_ATTEMPTS must be at least 1, got %d", c.JobAttempts)
	}
	if c.RateLimitMax < 1 || c.RateLimitWindowMS < 1 {
		return errors.New("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW_MS must be positive")
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.WorkerConcurrency)
	}
	return nil
}

// DefaultPlatformList splits DEFAULT_PLATFORMS on '|' or ','.
func (c *Config) DefaultPlatformList() []string {
	fields := strings.FieldsFunc(c.DefaultPlatforms, func(r rune) bool {
		return r == '|' || r == ','
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (c *Config) JobBackoff() time.Duration {
	return time.Duration(c.JobBackoffMS) * time.Millisecond
}

func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSec) * time.Second
}

func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMS) * time.Millisecond
}

func (c *Config) PlatformTimeout() time.Duration {
	return time.Duration(c.PlatformTimeoutSec) * time.Second
}
