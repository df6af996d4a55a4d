package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kursadbilgin/social-dispatch/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestQueue(t *testing.T) (*RedisQueue, *testClock) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	q, err := NewRedisQueue(rdb, RedisQueueConfig{
		Name:       "post-publish",
		Policy:     RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: time.Minute},
		JobTimeout: time.Second,
	}, NewHistory(rdb, "post-publish", 2, 2), nil)
	require.NoError(t, err)

	clock := &testClock{now: time.UnixMilli(1_700_000_000_000)}
	q.now = clock.Now
	return q, clock
}

func enqueue(t *testing.T, q *RedisQueue, postID string) PublishJob {
	t.Helper()

	job := NewPublishJob(postID, []domain.Platform{domain.PlatformTelegram}, 3, time.Now())
	require.NoError(t, q.Publish(context.Background(), job))
	return job
}

func TestRedisQueueCompletesJob(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx := context.Background()
	job := enqueue(t, q, "p1")

	var seen PublishJob
	processed, err := q.processNext(ctx, func(ctx context.Context, j PublishJob) Result {
		seen = j
		return Complete()
	})
	require.NoError(t, err)
	require.True(t, processed)

	assert.Equal(t, job.JobID, seen.JobID)
	assert.Equal(t, 1, seen.Attempts)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Completed: 1}, stats)

	recent, err := q.Recent(ctx, JobStateCompleted, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, job.JobID, recent[0].Job.JobID)
}

func TestRedisQueueProcessesInFIFOOrder(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	first := enqueue(t, q, "p1")
	second := enqueue(t, q, "p2")

	var order []string
	handler := func(ctx context.Context, j PublishJob) Result {
		order = append(order, j.JobID)
		return Complete()
	}
	for i := 0; i < 2; i++ {
		_, err := q.processNext(context.Background(), handler)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{first.JobID, second.JobID}, order)
}

func TestRedisQueueRetriesWithBackoffThenFails(t *testing.T) {
	t.Parallel()

	q, clock := newTestQueue(t)
	ctx := context.Background()
	enqueue(t, q, "p1")

	attempts := 0
	handler := func(ctx context.Context, j PublishJob) Result {
		attempts++
		return Retry("all platforms failed")
	}

	processed, err := q.processNext(ctx, handler)
	require.NoError(t, err)
	require.True(t, processed)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Delayed)

	// Not yet due.
	clock.now = clock.now.Add(time.Second)
	processed, err = q.processNext(ctx, handler)
	require.NoError(t, err)
	assert.False(t, processed)

	clock.now = clock.now.Add(time.Second)
	processed, err = q.processNext(ctx, handler)
	require.NoError(t, err)
	require.True(t, processed)

	clock.now = clock.now.Add(4 * time.Second)
	processed, err = q.processNext(ctx, handler)
	require.NoError(t, err)
	require.True(t, processed)

	assert.Equal(t, 3, attempts)

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Failed: 1}, stats)

	failed, err := q.Recent(ctx, JobStateFailed, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].Job.Attempts)
	assert.Equal(t, "all platforms failed", failed[0].Reason)
}

func TestRedisQueueFailIsNotRetried(t *testing.T) {
	t.Parallel()

	q, clock := newTestQueue(t)
	ctx := context.Background()
	enqueue(t, q, "missing")

	calls := 0
	handler := func(ctx context.Context, j PublishJob) Result {
		calls++
		return Fail("post not found")
	}

	_, err := q.processNext(ctx, handler)
	require.NoError(t, err)

	clock.now = clock.now.Add(time.Hour)
	processed, err := q.processNext(ctx, handler)
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Equal(t, 1, calls)
}

// abandonLease claims the next job and lets its lease expire, as a worker
// killed mid-cycle would.
func abandonLease(t *testing.T, q *RedisQueue, clock *testClock) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, q.promoteDue(ctx))
	_, _, err := q.claim(ctx)
	require.NoError(t, err)
	clock.now = clock.now.Add(q.cfg.JobTimeout + leaseGrace + time.Millisecond)
}

func TestRedisQueueRecoversExpiredLease(t *testing.T) {
	t.Parallel()

	q, clock := newTestQueue(t)
	ctx := context.Background()
	job := enqueue(t, q, "p1")

	_, _, err := q.claim(ctx)
	require.NoError(t, err)

	processed, err := q.processNext(ctx, func(ctx context.Context, j PublishJob) Result { return Complete() })
	require.NoError(t, err)
	assert.False(t, processed, "leased job must not be redelivered before the lease expires")

	clock.now = clock.now.Add(q.cfg.JobTimeout + leaseGrace + time.Millisecond)
	var seen PublishJob
	processed, err = q.processNext(ctx, func(ctx context.Context, j PublishJob) Result {
		seen = j
		return Complete()
	})
	require.NoError(t, err)
	require.True(t, processed)
	assert.Equal(t, job.JobID, seen.JobID)
	assert.Equal(t, 2, seen.Attempts, "the lost delivery counts as an attempt")

	deliveries, err := q.client.HLen(ctx, q.deliveriesKey).Result()
	require.NoError(t, err)
	assert.Zero(t, deliveries, "settled payloads drop their delivery count")
}

func TestRedisQueueLostDeliveriesHonorCeiling(t *testing.T) {
	t.Parallel()

	q, clock := newTestQueue(t)
	ctx := context.Background()
	job := enqueue(t, q, "p1")

	for i := 0; i < job.MaxAttempts; i++ {
		abandonLease(t, q, clock)
	}

	calls := 0
	processed, err := q.processNext(ctx, func(ctx context.Context, j PublishJob) Result {
		calls++
		return Complete()
	})
	require.NoError(t, err)
	require.True(t, processed)
	assert.Zero(t, calls, "a job past its ceiling must not run again")

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Failed: 1}, stats)

	failed, err := q.Recent(ctx, JobStateFailed, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, job.JobID, failed[0].Job.JobID)
	assert.Equal(t, job.MaxAttempts, failed[0].Job.Attempts)
	assert.Equal(t, "attempts exhausted by lost deliveries", failed[0].Reason)
}

func TestRedisQueueLostDeliveryThenRetryReachesCeiling(t *testing.T) {
	t.Parallel()

	q, clock := newTestQueue(t)
	ctx := context.Background()
	enqueue(t, q, "p1")

	abandonLease(t, q, clock)

	var attemptsSeen []int
	handler := func(ctx context.Context, j PublishJob) Result {
		attemptsSeen = append(attemptsSeen, j.Attempts)
		return Retry("all platforms failed")
	}

	for i := 0; i < 5; i++ {
		clock.now = clock.now.Add(time.Minute)
		_, err := q.processNext(ctx, handler)
		require.NoError(t, err)
	}

	assert.Equal(t, []int{2, 3}, attemptsSeen)
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Failed: 1}, stats)
}

func TestRedisQueueDeferDoesNotConsumeAttempt(t *testing.T) {
	t.Parallel()

	q, clock := newTestQueue(t)
	ctx := context.Background()
	enqueue(t, q, "p1")

	var attemptsSeen []int
	deferred := false
	handler := func(ctx context.Context, j PublishJob) Result {
		attemptsSeen = append(attemptsSeen, j.Attempts)
		if !deferred {
			deferred = true
			return Defer(time.Second, "post locked")
		}
		return Complete()
	}

	_, err := q.processNext(ctx, handler)
	require.NoError(t, err)
	clock.now = clock.now.Add(time.Second)
	_, err = q.processNext(ctx, handler)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 1}, attemptsSeen)
}

func TestRedisQueueHandlerPanicIsRetried(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx := context.Background()
	enqueue(t, q, "p1")

	processed, err := q.processNext(ctx, func(ctx context.Context, j PublishJob) Result {
		panic("boom")
	})
	require.NoError(t, err)
	require.True(t, processed)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Delayed)
	assert.Equal(t, int64(0), stats.Active)
}

func TestRedisQueueHistoryIsCapped(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx := context.Background()
	for _, id := range []string{"p1", "p2", "p3"} {
		enqueue(t, q, id)
	}
	for i := 0; i < 3; i++ {
		_, err := q.processNext(ctx, func(ctx context.Context, j PublishJob) Result { return Complete() })
		require.NoError(t, err)
	}

	recent, err := q.Recent(ctx, JobStateCompleted, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "p3", recent[0].Job.PostID, "newest first")
}

func TestRedisQueueHandlerContextSurvivesShutdown(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	enqueue(t, q, "p1")

	ctx, cancel := context.WithCancel(context.Background())
	var handlerErr error
	processed, err := q.processNext(ctx, func(jobCtx context.Context, j PublishJob) Result {
		cancel()
		handlerErr = jobCtx.Err()
		return Complete()
	})
	require.NoError(t, err)
	require.True(t, processed)
	assert.NoError(t, handlerErr, "in-flight job keeps running after consumer shutdown")

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestRedisQueueConsumeStopsOnCancel(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	q.cfg.PollInterval = 10 * time.Millisecond
	q.now = time.Now
	enqueue(t, q, "p1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, func(ctx context.Context, j PublishJob) Result {
			cancel()
			return Complete()
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not stop after cancel")
	}
}
