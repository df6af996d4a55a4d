package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/social-dispatch/internal/domain"
	"github.com/kursadbilgin/social-dispatch/internal/observability"
	"github.com/kursadbilgin/social-dispatch/internal/queue"
	"github.com/kursadbilgin/social-dispatch/internal/repository"
	"go.uber.org/zap"
)

const defaultRecentJobs = 20

type CreatePostInput struct {
	Title          string
	Content        string
	ImageURL       *string
	Platforms      []string
	LinkedInTarget string
}

type RetryPostInput struct {
	Platforms      []string
	LinkedInTarget string
}

// PostService is the submission surface: it stores posts and hands publish
// work to the queue without waiting for it.
type PostService struct {
	posts            repository.PostRepository
	publisher        queue.Publisher
	inspector        queue.Inspector
	maxAttempts      int
	defaultPlatforms []domain.Platform
	logger           *zap.Logger
	now              func() time.Time
}

func NewPostService(
	posts repository.PostRepository,
	publisher queue.Publisher,
	inspector queue.Inspector,
	maxAttempts int,
	defaultPlatforms []domain.Platform,
	logger *zap.Logger,
) (*PostService, error) {
	if posts == nil {
		return nil, fmt.Errorf("post repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("queue publisher is required")
	}
	if maxAttempts < 1 {
		maxAttempts = queue.DefaultRetryPolicy().MaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PostService{
		posts:            posts,
		publisher:        publisher,
		inspector:        inspector,
		maxAttempts:      maxAttempts,
		defaultPlatforms: append([]domain.Platform(nil), defaultPlatforms...),
		logger:           logger,
		now:              time.Now,
	}, nil
}

// Create stores a pending post and enqueues its first publish cycle.
func (s *PostService) Create(ctx context.Context, in CreatePostInput) (*domain.Post, error) {
	platforms, err := resolvePlatforms(in.Platforms, in.LinkedInTarget, s.defaultPlatforms)
	if err != nil {
		return nil, err
	}

	post := &domain.Post{
		Title:     strings.TrimSpace(in.Title),
		Content:   in.Content,
		ImageURL:  normalizeImageURL(in.ImageURL),
		Status:    domain.PostStatusPending,
		Platforms: platforms,
	}
	if err := post.Validate(); err != nil {
		return nil, err
	}

	if err := s.posts.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	if err := s.enqueue(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

func (s *PostService) Get(ctx context.Context, id string) (*domain.PostWithLogs, error) {
	return s.posts.GetWithLogs(ctx, id)
}

func (s *PostService) List(ctx context.Context, params repository.ListParams) ([]domain.Post, int64, error) {
	return s.posts.List(ctx, params)
}

func (s *PostService) Delete(ctx context.Context, id string) error {
	return s.posts.Delete(ctx, id)
}

// Retry re-enqueues a failed post. Posts in any other status are rejected
// with domain.ErrConflict and nothing is enqueued.
func (s *PostService) Retry(ctx context.Context, id string, in RetryPostInput) (*domain.Post, error) {
	var stored []domain.Platform
	if len(in.Platforms) == 0 && strings.TrimSpace(in.LinkedInTarget) != "" {
		current, err := s.posts.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		stored = current.Platforms
	}

	platforms, err := resolvePlatforms(in.Platforms, in.LinkedInTarget, stored)
	if err != nil {
		return nil, err
	}

	post, err := s.posts.ResetForRetry(ctx, id, platforms)
	if err != nil {
		return nil, err
	}
	if len(post.Platforms) == 0 {
		post.Platforms = append([]domain.Platform(nil), s.defaultPlatforms...)
	}

	if err := s.enqueue(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

func (s *PostService) QueueStats(ctx context.Context) (queue.Stats, error) {
	if s.inspector == nil {
		return queue.Stats{}, fmt.Errorf("queue inspection is not available")
	}
	return s.inspector.Stats(ctx)
}

func (s *PostService) RecentJobs(ctx context.Context, state string, limit int) ([]queue.JobRecord, error) {
	if s.inspector == nil {
		return nil, fmt.Errorf("queue inspection is not available")
	}
	if strings.TrimSpace(state) == "" {
		state = string(queue.JobStateFailed)
	}
	jobState, err := queue.ParseJobState(strings.ToLower(strings.TrimSpace(state)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if limit <= 0 {
		limit = defaultRecentJobs
	}
	return s.inspector.Recent(ctx, jobState, limit)
}

// enqueue publishes the job; on failure the post is marked failed so the
// caller can retry it.
func (s *PostService) enqueue(ctx context.Context, post *domain.Post) error {
	job := queue.NewPublishJob(post.ID, post.Platforms, s.maxAttempts, s.now())
	logger := observability.WithContextLogger(s.logger, ctx)
	if err := s.publisher.Publish(ctx, job); err != nil {
		logger.Error("failed to enqueue publish job",
			zap.String("postId", post.ID),
			zap.String("jobId", job.JobID),
			zap.Error(err),
		)
		if updateErr := s.posts.UpdateStatus(context.WithoutCancel(ctx), post.ID, domain.PostStatusFailed); updateErr != nil {
			logger.Error("failed to mark post as failed after enqueue error",
				zap.String("postId", post.ID),
				zap.Error(updateErr),
			)
			return fmt.Errorf("failed to enqueue publish job: %w (failed to mark as failed: %v)", err, updateErr)
		}
		post.Status = domain.PostStatusFailed
		return fmt.Errorf("failed to enqueue publish job: %w", err)
	}

	logger.Info("publish job enqueued",
		zap.String("postId", post.ID),
		zap.String("jobId", job.JobID),
		zap.Strings("platforms", platformStrings(post.Platforms)),
	)
	return nil
}

// resolvePlatforms parses the requested selection, falling back when it is
// empty, and expands "linkedin" per linkedInTarget.
func resolvePlatforms(values []string, linkedInTarget string, fallback []domain.Platform) ([]domain.Platform, error) {
	platforms, err := domain.ParsePlatforms(values)
	if err != nil {
		return nil, err
	}
	if len(platforms) == 0 {
		platforms = append([]domain.Platform(nil), fallback...)
	}
	if strings.TrimSpace(linkedInTarget) == "" {
		return platforms, nil
	}
	target, err := domain.ParseLinkedInTargetFromString(linkedInTarget)
	if err != nil {
		return nil, err
	}
	return domain.ApplyLinkedInTarget(platforms, target), nil
}

func normalizeImageURL(u *string) *string {
	if u == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*u)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func platformStrings(platforms []domain.Platform) []string {
	out := make([]string, 0, len(platforms))
	for _, p := range platforms {
		out = append(out, p.String())
	}
	return out
}
