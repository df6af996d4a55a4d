package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/kursadbilgin/social-dispatch/internal/domain"
)

// PublishJob is the queue payload asking the worker to run one publish
// cycle for a post. Attempts counts deliveries already made.
type PublishJob struct {
	JobID       string            `json:"jobId"`
	PostID      string            `json:"postId"`
	Platforms   []domain.Platform `json:"platforms,omitempty"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"maxAttempts"`
	EnqueuedAt  time.Time         `json:"enqueuedAt"`
}

func NewPublishJob(postID string, platforms []domain.Platform, maxAttempts int, now time.Time) PublishJob {
	return PublishJob{
		JobID:       NewJobID(postID, now),
		PostID:      postID,
		Platforms:   platforms,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  now.UTC(),
	}
}

// NewJobID builds publish-<postId>-<unixMillis>-<rand>. Repeat submissions
// of the same post always get distinct ids.
func NewJobID(postID string, now time.Time) string {
	suffix, _, _ := strings.Cut(uuid.NewString(), "-")
	return fmt.Sprintf("publish-%s-%d-%s", postID, now.UnixMilli(), suffix)
}

func (j PublishJob) Validate() error {
	if strings.TrimSpace(j.JobID) == "" {
		return fmt.Errorf("jobId is required")
	}
	if strings.TrimSpace(j.PostID) == "" {
		return fmt.Errorf("postId is required")
	}
	if j.MaxAttempts < 1 {
		return fmt.Errorf("maxAttempts must be at least 1")
	}
	for _, p := range j.Platforms {
		if !p.IsValid() {
			return fmt.Errorf("invalid platform %q", p)
		}
	}
	return nil
}

func encodeJob(job PublishJob) ([]byte, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal publish job: %w", err)
	}
	return payload, nil
}

func decodeJob(payload []byte) (PublishJob, error) {
	var job PublishJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return PublishJob{}, fmt.Errorf("invalid job payload: %w", err)
	}
	if err := job.Validate(); err != nil {
		return job, fmt.Errorf("invalid job payload: %w", err)
	}
	return job, nil
}
