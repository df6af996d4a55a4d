package service

import (
	"context"
	"sync"

	"github.com/kursadbilgin/social-dispatch/internal/domain"
	"github.com/kursadbilgin/social-dispatch/internal/provider"
	"github.com/kursadbilgin/social-dispatch/internal/queue"
	"github.com/kursadbilgin/social-dispatch/internal/repository"
)

type fakePostRepo struct {
	createFn        func(ctx context.Context, p *domain.Post) error
	getByIDFn       func(ctx context.Context, id string) (*domain.Post, error)
	getWithLogsFn   func(ctx context.Context, id string) (*domain.PostWithLogs, error)
	listFn          func(ctx context.Context, params repository.ListParams) ([]domain.Post, int64, error)
	deleteFn        func(ctx context.Context, id string) error
	updateStatusFn  func(ctx context.Context, id string, status domain.PostStatus) error
	resetForRetryFn func(ctx context.Context, id string, platforms []domain.Platform) (*domain.Post, error)
	recordCycleFn   func(ctx context.Context, postID string, logs []domain.PublishAttemptLog, status domain.PostStatus) error
}

func (f *fakePostRepo) Create(ctx context.Context, p *domain.Post) error {
	if f.createFn != nil {
		return f.createFn(ctx, p)
	}
	return nil
}

func (f *fakePostRepo) GetByID(ctx context.Context, id string) (*domain.Post, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakePostRepo) GetWithLogs(ctx context.Context, id string) (*domain.PostWithLogs, error) {
	if f.getWithLogsFn != nil {
		return f.getWithLogsFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakePostRepo) List(ctx context.Context, params repository.ListParams) ([]domain.Post, int64, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (f *fakePostRepo) Delete(ctx context.Context, id string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	return nil
}

func (f *fakePostRepo) UpdateStatus(ctx context.Context, id string, status domain.PostStatus) error {
	if f.updateStatusFn != nil {
		return f.updateStatusFn(ctx, id, status)
	}
	return nil
}

func (f *fakePostRepo) ResetForRetry(ctx context.Context, id string, platforms []domain.Platform) (*domain.Post, error) {
	if f.resetForRetryFn != nil {
		return f.resetForRetryFn(ctx, id, platforms)
	}
	return nil, domain.ErrNotFound
}

func (f *fakePostRepo) RecordCycle(ctx context.Context, postID string, logs []domain.PublishAttemptLog, status domain.PostStatus) error {
	if f.recordCycleFn != nil {
		return f.recordCycleFn(ctx, postID, logs, status)
	}
	return nil
}

type fakePlatformPublisher struct {
	publishFn func(ctx context.Context, platform domain.Platform, content provider.Content) domain.PublishOutcome
}

func (f *fakePlatformPublisher) Publish(ctx context.Context, platform domain.Platform, content provider.Content) domain.PublishOutcome {
	return f.publishFn(ctx, platform, content)
}

type fakePublisher struct {
	mu        sync.Mutex
	publishFn func(ctx context.Context, job queue.PublishJob) error
	jobs      []queue.PublishJob
}

func (f *fakePublisher) Publish(ctx context.Context, job queue.PublishJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishFn != nil {
		if err := f.publishFn(ctx, job); err != nil {
			return err
		}
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) published() []queue.PublishJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.PublishJob(nil), f.jobs...)
}

type fakeInspector struct {
	statsFn  func(ctx context.Context) (queue.Stats, error)
	recentFn func(ctx context.Context, state queue.JobState, limit int) ([]queue.JobRecord, error)
}

func (f *fakeInspector) Stats(ctx context.Context) (queue.Stats, error) {
	if f.statsFn != nil {
		return f.statsFn(ctx)
	}
	return queue.Stats{}, nil
}

func (f *fakeInspector) Recent(ctx context.Context, state queue.JobState, limit int) ([]queue.JobRecord, error) {
	if f.recentFn != nil {
		return f.recentFn(ctx, state, limit)
	}
	return nil, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, key string) (bool, error)
	waitFn  func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, key)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, handler queue.Handler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, handler queue.Handler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type fakeRunner struct {
	runCycleFn func(ctx context.Context, postID string, platforms []domain.Platform) (*CycleReport, error)
}

func (f *fakeRunner) RunCycle(ctx context.Context, postID string, platforms []domain.Platform) (*CycleReport, error) {
	return f.runCycleFn(ctx, postID, platforms)
}

type fakeLocker struct {
	acquireFn func(ctx context.Context, postID string) (func(context.Context) error, bool, error)
}

func (f *fakeLocker) Acquire(ctx context.Context, postID string) (func(context.Context) error, bool, error) {
	return f.acquireFn(ctx, postID)
}
