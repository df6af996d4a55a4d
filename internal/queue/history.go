package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultKeepCompleted = 100
	DefaultKeepFailed    = 50
)

type JobState string

const (
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

func ParseJobState(s string) (JobState, error) {
	switch JobState(s) {
	case JobStateCompleted, JobStateFailed:
		return JobState(s), nil
	}
	return "", fmt.Errorf("invalid job state %q", s)
}

// JobRecord is a finished job kept for inspection.
type JobRecord struct {
	Job        PublishJob `json:"job"`
	State      JobState   `json:"state"`
	Reason     string     `json:"reason,omitempty"`
	FinishedAt time.Time  `json:"finishedAt"`
}

// History keeps the most recent finished jobs in capped Redis lists,
// newest first.
type History struct {
	client        redis.Cmdable
	prefix        string
	keepCompleted int64
	keepFailed    int64
}

func NewHistory(client redis.Cmdable, queueName string, keepCompleted, keepFailed int) *History {
	if keepCompleted < 1 {
		keepCompleted = DefaultKeepCompleted
	}
	if keepFailed < 1 {
		keepFailed = DefaultKeepFailed
	}
	return &History{
		client:        client,
		prefix:        "queue:" + queueName,
		keepCompleted: int64(keepCompleted),
		keepFailed:    int64(keepFailed),
	}
}

func (h *History) key(state JobState) string {
	return h.prefix + ":" + string(state)
}

func (h *History) limit(state JobState) int64 {
	if state == JobStateCompleted {
		return h.keepCompleted
	}
	return h.keepFailed
}

// Record stores rec and trims the list to its cap.
func (h *History) Record(ctx context.Context, rec JobRecord) error {
	_, err := h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return h.append(ctx, pipe, rec)
	})
	if err != nil {
		return fmt.Errorf("failed to record %s job %q: %w", rec.State, rec.Job.JobID, err)
	}
	return nil
}

func (h *History) append(ctx context.Context, pipe redis.Pipeliner, rec JobRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal job record: %w", err)
	}
	key := h.key(rec.State)
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, h.limit(rec.State)-1)
	return nil
}

func (h *History) Recent(ctx context.Context, state JobState, limit int) ([]JobRecord, error) {
	if limit < 1 || int64(limit) > h.limit(state) {
		limit = int(h.limit(state))
	}

	raw, err := h.client.LRange(ctx, h.key(state), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", state, err)
	}

	records := make([]JobRecord, 0, len(raw))
	for _, item := range raw {
		var rec JobRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (h *History) Counts(ctx context.Context) (completed int64, failed int64, err error) {
	pipe := h.client.Pipeline()
	completedCmd := pipe.LLen(ctx, h.key(JobStateCompleted))
	failedCmd := pipe.LLen(ctx, h.key(JobStateFailed))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to count job history: %w", err)
	}
	return completedCmd.Val(), failedCmd.Val(), nil
}
