package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/social-dispatch/internal/domain"
	"github.com/kursadbilgin/social-dispatch/internal/observability"
	"github.com/kursadbilgin/social-dispatch/internal/queue"
	"github.com/kursadbilgin/social-dispatch/internal/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1
	lockBusyDelay        = 5 * time.Second
)

// CycleRunner executes one publish cycle for a post.
type CycleRunner interface {
	RunCycle(ctx context.Context, postID string, platforms []domain.Platform) (*CycleReport, error)
}

// PostLocker grants exclusive access to a post across worker processes.
type PostLocker interface {
	Acquire(ctx context.Context, postID string) (release func(context.Context) error, ok bool, err error)
}

type WorkerService struct {
	runner      CycleRunner
	consumer    queue.Consumer
	rateLimiter ratelimit.RateLimiter
	rateKey     string
	locker      PostLocker
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

func NewWorkerService(
	runner CycleRunner,
	consumer queue.Consumer,
	rateLimiter ratelimit.RateLimiter,
	rateKey string,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if runner == nil {
		return nil, fmt.Errorf("cycle runner is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("queue consumer is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		runner:      runner,
		consumer:    consumer,
		rateLimiter: rateLimiter,
		rateKey:     rateKey,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// SetLocker enables per-post serialization, needed once more than one job
// can be in flight.
func (s *WorkerService) SetLocker(locker PostLocker) {
	if s == nil {
		return
	}
	s.locker = locker
}

// Start consumes publish jobs until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started", zap.Int("workerId", workerID))

			err := s.consumer.Consume(groupCtx, s.processJob)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processJob(ctx context.Context, job queue.PublishJob) queue.Result {
	ctx = observability.WithJobID(ctx, job.JobID)
	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("postId", job.PostID),
		zap.Int("attempt", job.Attempts),
		zap.Int("maxAttempts", job.MaxAttempts),
	)

	res := s.handle(ctx, logger, job)
	s.metrics.IncJobProcessed(res.Disposition.String())
	if res.Disposition == queue.DispositionRetry && job.Attempts < job.MaxAttempts {
		s.metrics.IncRetryScheduled()
	}
	return res
}

func (s *WorkerService) handle(ctx context.Context, logger *zap.Logger, job queue.PublishJob) queue.Result {
	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, job.PostID)
		if err != nil {
			logger.Warn("failed to acquire post lock", zap.Error(err))
			return queue.Retry(fmt.Sprintf("failed to acquire post lock: %v", err))
		}
		if !ok {
			logger.Info("post is locked by another worker, deferring")
			return queue.Defer(lockBusyDelay, "post is being published by another worker")
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("failed to release post lock", zap.Error(err))
			}
		}()
	}

	// After the lock, so a job deferred on a busy post keeps its slot.
	if s.rateLimiter != nil {
		if err := s.rateLimiter.Wait(ctx, s.rateKey); err != nil {
			logger.Warn("rate limiter wait failed", zap.Error(err))
			return queue.Defer(time.Second, fmt.Sprintf("rate limiter wait failed: %v", err))
		}
	}

	s.metrics.IncWorkerInFlight()
	defer s.metrics.DecWorkerInFlight()

	report, err := s.runner.RunCycle(ctx, job.PostID, job.Platforms)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			logger.Warn("post not found, dropping job")
			return queue.Fail("post not found")
		case errors.Is(err, domain.ErrValidation):
			logger.Warn("job cannot be published", zap.Error(err))
			return queue.Fail(err.Error())
		case report != nil && report.Result != domain.CycleTotalFailure:
			// Some platform already has the post; running the cycle again
			// would publish it twice.
			logger.Error("publish cycle reached platforms but was not recorded",
				zap.String("result", report.Result.String()),
				zap.Error(err),
			)
			return queue.Fail(err.Error())
		}
		logger.Error("publish cycle failed", zap.Error(err))
		return queue.Retry(err.Error())
	}

	switch report.Result {
	case domain.CycleFullSuccess, domain.CyclePartialFailure:
		return queue.Complete()
	default:
		return queue.Retry(fmt.Sprintf("all %d platforms failed", len(report.Outcomes)))
	}
}
