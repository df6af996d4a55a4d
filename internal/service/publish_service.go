package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/social-dispatch/internal/domain"
	"github.com/kursadbilgin/social-dispatch/internal/observability"
	"github.com/kursadbilgin/social-dispatch/internal/provider"
	"github.com/kursadbilgin/social-dispatch/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRecordAttempts = 3
	defaultRecordBackoff  = 500 * time.Millisecond
)

// ErrCycleNotRecorded means the platforms were called but the outcome could
// not be stored. RunCycle still returns the report in that case.
var ErrCycleNotRecorded = errors.New("publish cycle not recorded")

// PlatformPublisher dispatches content to a single platform.
type PlatformPublisher interface {
	Publish(ctx context.Context, platform domain.Platform, content provider.Content) domain.PublishOutcome
}

// CycleReport summarizes one publish cycle of a post.
type CycleReport struct {
	PostID   string
	Result   domain.CycleResult
	Outcomes []domain.PublishOutcome
}

// PublishService runs publish cycles: one concurrent call per selected
// platform, followed by a single write of the logs and the aggregate status.
type PublishService struct {
	posts            repository.PostRepository
	platforms        PlatformPublisher
	defaultPlatforms []domain.Platform
	logger           *zap.Logger
	metrics          *observability.Metrics
	now              func() time.Time
	recordAttempts   int
	recordBackoff    time.Duration
}

func NewPublishService(
	posts repository.PostRepository,
	platforms PlatformPublisher,
	defaultPlatforms []domain.Platform,
	logger *zap.Logger,
) (*PublishService, error) {
	if posts == nil {
		return nil, fmt.Errorf("post repository is required")
	}
	if platforms == nil {
		return nil, fmt.Errorf("platform publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PublishService{
		posts:            posts,
		platforms:        platforms,
		defaultPlatforms: append([]domain.Platform(nil), defaultPlatforms...),
		logger:           logger,
		now:              time.Now,
		recordAttempts:   defaultRecordAttempts,
		recordBackoff:    defaultRecordBackoff,
	}, nil
}

func (s *PublishService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// RunCycle publishes the post to the effective platform set and persists the
// outcome. A missing post returns domain.ErrNotFound. When the platforms were
// reached but the write keeps failing, the report is returned together with
// an ErrCycleNotRecorded error.
func (s *PublishService) RunCycle(ctx context.Context, postID string, platforms []domain.Platform) (*CycleReport, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}

	targets := s.effectivePlatforms(platforms, post.Platforms)
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no platforms selected for post %s", domain.ErrValidation, postID)
	}

	logger := observability.WithContextLogger(s.logger, ctx).With(zap.String("postId", postID))
	content := provider.ContentFromPost(post)
	outcomes := s.fanOut(ctx, logger, targets, content)

	result := domain.AggregateOutcomes(outcomes)
	logs := make([]domain.PublishAttemptLog, 0, len(outcomes))
	createdAt := s.now().UTC()
	for _, outcome := range outcomes {
		l := domain.LogFromOutcome(postID, outcome)
		l.CreatedAt = createdAt
		logs = append(logs, l)
	}

	report := &CycleReport{
		PostID:   postID,
		Result:   result,
		Outcomes: outcomes,
	}
	s.metrics.IncCycle(result.String())

	if err := s.record(ctx, logger, postID, logs, result.PostStatus()); err != nil {
		return report, fmt.Errorf("%w: %w", ErrCycleNotRecorded, err)
	}

	logger.Info("publish cycle finished",
		zap.String("result", result.String()),
		zap.Int("platforms", len(outcomes)),
	)
	return report, nil
}

// record retries only the write, never the platform calls. A missing post
// is not retried.
func (s *PublishService) record(
	ctx context.Context,
	logger *zap.Logger,
	postID string,
	logs []domain.PublishAttemptLog,
	status domain.PostStatus,
) error {
	attempts := max(s.recordAttempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = s.posts.RecordCycle(ctx, postID, logs, status)
		if err == nil || errors.Is(err, domain.ErrNotFound) || attempt == attempts {
			break
		}

		logger.Warn("failed to record publish cycle, retrying write",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(s.recordBackoff * time.Duration(attempt)):
		}
	}
	return err
}

// fanOut waits for every adapter. A failing platform never cancels the others.
func (s *PublishService) fanOut(
	ctx context.Context,
	logger *zap.Logger,
	targets []domain.Platform,
	content provider.Content,
) []domain.PublishOutcome {
	outcomes := make([]domain.PublishOutcome, len(targets))

	var g errgroup.Group
	for i, platform := range targets {
		g.Go(func() error {
			start := s.now()
			outcome := s.publishOne(ctx, platform, content)
			s.metrics.ObservePlatformPublish(string(platform), outcome.Success, s.now().Sub(start))

			if outcome.Success {
				logger.Info("platform publish succeeded", zap.String("platform", string(platform)))
			} else {
				logger.Warn("platform publish failed",
					zap.String("platform", string(platform)),
					zap.String("error", outcome.Error),
				)
			}
			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (s *PublishService) publishOne(ctx context.Context, platform domain.Platform, content provider.Content) (outcome domain.PublishOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = domain.FailedOutcome(platform, fmt.Sprintf("adapter panic: %v", r), nil)
		}
	}()

	outcome = s.platforms.Publish(ctx, platform, content)
	if outcome.Platform == "" {
		outcome.Platform = platform
	}
	if !outcome.Success && outcome.Error == "" {
		outcome.Error = "unknown error"
	}
	return outcome
}

func (s *PublishService) effectivePlatforms(requested, stored []domain.Platform) []domain.Platform {
	switch {
	case len(requested) > 0:
		return requested
	case len(stored) > 0:
		return stored
	default:
		return s.defaultPlatforms
	}
}
