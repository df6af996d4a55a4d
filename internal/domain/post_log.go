package domain

import "time"

// LogStatus is the outcome of a single platform attempt.
type LogStatus string

const (
	LogStatusSuccess LogStatus = "success"
	LogStatusFailed  LogStatus = "failed"
)

func (s LogStatus) String() string { return string(s) }

// PublishAttemptLog records one adapter invocation within a publish cycle.
type PublishAttemptLog struct {
	ID        string
	PostID    string
	Platform  Platform
	Status    LogStatus
	Response  map[string]any
	Error     *string
	CreatedAt time.Time
}

// LogFromOutcome maps an adapter outcome onto the row persisted for it.
func LogFromOutcome(postID string, outcome PublishOutcome) PublishAttemptLog {
	log := PublishAttemptLog{
		PostID:   postID,
		Platform: outcome.Platform,
		Status:   LogStatusFailed,
		Response: outcome.Response,
	}
	if outcome.Success {
		log.Status = LogStatusSuccess
		return log
	}

	msg := outcome.Error
	if msg == "" {
		msg = "unknown error"
	}
	log.Error = &msg
	return log
}
