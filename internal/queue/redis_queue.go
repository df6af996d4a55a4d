package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultJobTimeout   = 2 * time.Minute
	leaseGrace          = 30 * time.Second
	promoteBatchSize    = 100
)

// claimScript pops the oldest waiting job, leases it in the active set until
// ARGV[1] (unix millis) and counts the delivery in the hash KEYS[3]. A payload
// re-queued after an expired lease keeps its count, so lost deliveries still
// use up attempts.
var claimScript = redis.NewScript(`
local item = redis.call('RPOP', KEYS[1])
if not item then
	return false
end
redis.call('ZADD', KEYS[2], ARGV[1], item)
local deliveries = redis.call('HINCRBY', KEYS[3], item, 1)
return {item, deliveries}
`)

// promoteScript moves every member of the sorted set KEYS[1] scored at or
// below ARGV[1] onto the wait list KEYS[2]. It serves both delayed jobs and
// expired active leases.
var promoteScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, item in ipairs(items) do
	redis.call('ZREM', KEYS[1], item)
	redis.call('LPUSH', KEYS[2], item)
end
return #items
`)

type RedisQueueConfig struct {
	Name         string
	Policy       RetryPolicy
	JobTimeout   time.Duration
	PollInterval time.Duration
}

// RedisQueue is a durable job queue on Redis: a wait list, an active set
// leased per job and a delayed set for backoff. Jobs whose lease expires
// (worker crash) go back to the wait list, so delivery is at-least-once.
type RedisQueue struct {
	client  *redis.Client
	cfg     RedisQueueConfig
	history *History
	logger  *zap.Logger
	now     func() time.Time

	waitKey       string
	activeKey     string
	delayedKey    string
	deliveriesKey string
}

func NewRedisQueue(client *redis.Client, cfg RedisQueueConfig, history *History, logger *zap.Logger) (*RedisQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if history == nil {
		return nil, fmt.Errorf("job history is required")
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	cfg.Policy = cfg.Policy.normalized()
	if logger == nil {
		logger = zap.NewNop()
	}

	prefix := "queue:" + cfg.Name
	return &RedisQueue{
		client:     client,
		cfg:        cfg,
		history:    history,
		logger:     logger,
		now:        time.Now,
		waitKey:       prefix + ":wait",
		activeKey:     prefix + ":active",
		delayedKey:    prefix + ":delayed",
		deliveriesKey: prefix + ":deliveries",
	}, nil
}

func (q *RedisQueue) Publish(ctx context.Context, job PublishJob) error {
	if q == nil || q.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid publish job: %w", err)
	}

	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.waitKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job %q: %w", job.JobID, err)
	}
	return nil
}

// Consume runs one job at a time until ctx is canceled. A job already
// running when ctx is canceled is finished under a detached context bounded
// by the job timeout.
func (q *RedisQueue) Consume(ctx context.Context, handler Handler) error {
	if q == nil || q.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if handler == nil {
		return fmt.Errorf("job handler is required")
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		processed, err := q.processNext(ctx, handler)
		if err != nil && ctx.Err() == nil {
			q.logger.Error("queue poll failed", zap.String("queue", q.cfg.Name), zap.Error(err))
		}
		if processed && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(q.cfg.PollInterval):
		}
	}
}

// processNext promotes due jobs, claims one and settles it. It reports
// whether a job was handled.
func (q *RedisQueue) processNext(ctx context.Context, handler Handler) (bool, error) {
	if err := q.promoteDue(ctx); err != nil {
		return false, err
	}

	raw, deliveries, err := q.claim(ctx)
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	settleCtx := context.WithoutCancel(ctx)
	job, err := decodeJob([]byte(raw))
	if err != nil {
		q.logger.Warn("dropping invalid job payload", zap.String("queue", q.cfg.Name), zap.Error(err))
		return true, q.settle(settleCtx, raw, Settlement{Action: SettleFailed, Job: job, Reason: err.Error()})
	}

	job.Attempts += deliveries
	if q.cfg.Policy.Exhausted(job) {
		q.logger.Warn("failing job after lost deliveries",
			zap.String("jobId", job.JobID),
			zap.Int("deliveries", deliveries),
		)
		return true, q.settle(settleCtx, raw, q.cfg.Policy.Abandon(job))
	}

	res := q.run(ctx, job, handler)
	settlement := q.cfg.Policy.Settle(job, res)
	return true, q.settle(settleCtx, raw, settlement)
}

// claim leases the next waiting payload and returns how many times that
// payload has been delivered, this delivery included. It returns redis.Nil
// when the wait list is empty.
func (q *RedisQueue) claim(ctx context.Context) (string, int, error) {
	leaseUntil := q.now().Add(q.cfg.JobTimeout + leaseGrace).UnixMilli()
	keys := []string{q.waitKey, q.activeKey, q.deliveriesKey}
	reply, err := claimScript.Run(ctx, q.client, keys, leaseUntil).Slice()
	if errors.Is(err, redis.Nil) {
		return "", 0, redis.Nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to claim job: %w", err)
	}
	if len(reply) != 2 {
		return "", 0, fmt.Errorf("failed to claim job: unexpected reply %v", reply)
	}
	raw, ok := reply[0].(string)
	if !ok {
		return "", 0, fmt.Errorf("failed to claim job: unexpected payload type %T", reply[0])
	}
	deliveries, ok := reply[1].(int64)
	if !ok || deliveries < 1 {
		return "", 0, fmt.Errorf("failed to claim job: unexpected delivery count %v", reply[1])
	}
	return raw, int(deliveries), nil
}

func (q *RedisQueue) run(ctx context.Context, job PublishJob, handler Handler) (res Result) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.cfg.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("job handler panicked",
				zap.String("jobId", job.JobID),
				zap.Any("panic", r),
			)
			res = Retry(fmt.Sprintf("handler panic: %v", r))
		}
	}()

	return handler(jobCtx, job)
}

func (q *RedisQueue) settle(ctx context.Context, raw string, s Settlement) error {
	var payload []byte
	if s.Action == SettleScheduled {
		var err error
		if payload, err = encodeJob(s.Job); err != nil {
			return err
		}
	}

	finishedAt := q.now().UTC()
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.activeKey, raw)
		pipe.HDel(ctx, q.deliveriesKey, raw)
		switch s.Action {
		case SettleScheduled:
			readyAt := q.now().Add(s.Delay).UnixMilli()
			pipe.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(readyAt), Member: payload})
			return nil
		case SettleCompleted:
			return q.history.append(ctx, pipe, JobRecord{Job: s.Job, State: JobStateCompleted, Reason: s.Reason, FinishedAt: finishedAt})
		default:
			return q.history.append(ctx, pipe, JobRecord{Job: s.Job, State: JobStateFailed, Reason: s.Reason, FinishedAt: finishedAt})
		}
	})
	if err != nil {
		return fmt.Errorf("failed to settle job %q: %w", s.Job.JobID, err)
	}
	return nil
}

// promoteDue moves due delayed jobs and expired leases back to the wait list.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	for _, key := range []string{q.delayedKey, q.activeKey} {
		n, err := promoteScript.Run(ctx, q.client, []string{key, q.waitKey}, now, promoteBatchSize).Int()
		if err != nil {
			return fmt.Errorf("failed to promote jobs from %s: %w", key, err)
		}
		if n > 0 && key == q.activeKey {
			q.logger.Warn("re-queued jobs with expired lease", zap.String("queue", q.cfg.Name), zap.Int("count", n))
		}
	}
	return nil
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, q.waitKey)
	active := pipe.ZCard(ctx, q.activeKey)
	delayed := pipe.ZCard(ctx, q.delayedKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}

	completed, failed, err := q.history.Counts(ctx)
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed,
		Failed:    failed,
	}, nil
}

func (q *RedisQueue) Recent(ctx context.Context, state JobState, limit int) ([]JobRecord, error) {
	return q.history.Recent(ctx, state, limit)
}

// Close is a no-op; the Redis client is owned by the caller.
func (q *RedisQueue) Close() error {
	return nil
}
