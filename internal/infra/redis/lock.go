package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const defaultLockTTL = 5 * time.Minute

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// PostLocker serializes publish cycles of the same post across workers.
type PostLocker struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewPostLocker(client *goredis.Client, ttl time.Duration) (*PostLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &PostLocker{client: client, ttl: ttl}, nil
}

// Acquire takes the post's lock. ok is false when another worker holds it.
// release only deletes the lock while this holder still owns it.
func (l *PostLocker) Acquire(ctx context.Context, postID string) (release func(context.Context) error, ok bool, err error) {
	key := "lock:post:" + postID
	token := uuid.NewString()

	err = l.client.SetArgs(ctx, key, token, goredis.SetArgs{Mode: "NX", TTL: l.ttl}).Err()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock for post %q: %w", postID, err)
	}

	release = func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("failed to release lock for post %q: %w", postID, err)
		}
		return nil
	}
	return release, true, nil
}
