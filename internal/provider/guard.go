package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type GuardConfig struct {
	// RPS is the client side request budget; zero disables throttling.
	RPS   float64
	Burst int
	// ConsecutiveFailures of transient errors that open the breaker.
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		RPS:                 1,
		Burst:               1,
		ConsecutiveFailures: 5,
		OpenTimeout:         time.Minute,
	}
}

// Guard throttles and circuit-breaks the outbound calls of one platform.
// Permanent failures such as bad credentials or rejected content do not
// count against the breaker.
type Guard struct {
	name    string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[map[string]any]
}

func NewGuard(name string, cfg GuardConfig, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultGuardConfig().ConsecutiveFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultGuardConfig().OpenTimeout
	}

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	threshold := cfg.ConsecutiveFailures
	breaker := gobreaker.NewCircuitBreaker[map[string]any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("platform circuit breaker state changed",
				zap.String("platform", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Guard{
		name:    name,
		limiter: rate.NewLimiter(limit, burst),
		breaker: breaker,
	}
}

// Execute runs fn under the limiter and breaker. A nil Guard runs fn directly.
func (g *Guard) Execute(ctx context.Context, fn func(ctx context.Context) (map[string]any, error)) (map[string]any, error) {
	if g == nil {
		return fn(ctx)
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &PlatformError{
			Platform:  g.name,
			Message:   fmt.Sprintf("%s rate limit wait aborted", g.name),
			Transient: true,
			Cause:     err,
		}
	}

	body, err := g.breaker.Execute(func() (map[string]any, error) {
		return fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &PlatformError{
			Platform:  g.name,
			Message:   fmt.Sprintf("%s is temporarily unavailable (circuit open)", g.name),
			Transient: true,
			Cause:     err,
		}
	}
	return body, err
}

func (g *Guard) State() gobreaker.State {
	if g == nil {
		return gobreaker.StateClosed
	}
	return g.breaker.State()
}
