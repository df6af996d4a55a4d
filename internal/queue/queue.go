package queue

import (
	"context"
	"time"
)

// Publisher enqueues publish jobs.
type Publisher interface {
	Publish(ctx context.Context, job PublishJob) error
	Close() error
}

// Handler processes one job and tells the queue what to do with it.
type Handler func(ctx context.Context, job PublishJob) Result

// Consumer delivers jobs to a handler until ctx is canceled.
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// Inspector exposes queue depth and recently finished jobs.
type Inspector interface {
	Stats(ctx context.Context) (Stats, error)
	Recent(ctx context.Context, state JobState, limit int) ([]JobRecord, error)
}

type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Disposition is the handler's verdict on a job.
type Disposition int

const (
	// DispositionComplete acknowledges the job.
	DispositionComplete Disposition = iota
	// DispositionRetry consumes an attempt and reschedules with backoff, or
	// fails the job once attempts are exhausted.
	DispositionRetry
	// DispositionFail moves the job to the failed set without retrying.
	DispositionFail
	// DispositionDefer reschedules without consuming an attempt.
	DispositionDefer
)

func (d Disposition) String() string {
	switch d {
	case DispositionComplete:
		return "complete"
	case DispositionRetry:
		return "retry"
	case DispositionFail:
		return "fail"
	case DispositionDefer:
		return "defer"
	default:
		return "unknown"
	}
}

type Result struct {
	Disposition Disposition
	Reason      string
	// Delay applies to DispositionDefer only.
	Delay time.Duration
}

func Complete() Result { return Result{Disposition: DispositionComplete} }

func Retry(reason string) Result { return Result{Disposition: DispositionRetry, Reason: reason} }

func Fail(reason string) Result { return Result{Disposition: DispositionFail, Reason: reason} }

func Defer(delay time.Duration, reason string) Result {
	return Result{Disposition: DispositionDefer, Reason: reason, Delay: delay}
}

const defaultDeferDelay = time.Second

// RetryQueueName returns the broker queue holding jobs waiting for backoff.
func RetryQueueName(name string) string {
	return name + ".retry"
}

// DeadQueueName returns the broker queue receiving exhausted or failed jobs.
func DeadQueueName(name string) string {
	return name + ".dead"
}
