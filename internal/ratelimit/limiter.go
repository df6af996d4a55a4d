package ratelimit

import "context"

// RateLimiter throttles publish cycles per key. One key is shared by every
// worker consuming the same queue, so the limit holds across processes.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
