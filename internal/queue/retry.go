package queue

import (
	"math/rand"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
	DefaultMaxDelay    = 60 * time.Second
)

// RetryPolicy is exponential backoff: BaseDelay, 2*BaseDelay, 4*BaseDelay...
// capped at MaxDelay, plus up to MaxJitter of random delay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxJitter   time.Duration

	randIntn func(n int) int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.randIntn == nil {
		p.randIntn = rand.Intn
	}
	return p
}

// Delay returns the wait before the attempt following attemptNumber.
func (p RetryPolicy) Delay(attemptNumber int) time.Duration {
	p = p.normalized()
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := p.BaseDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.MaxJitter > 0 {
		jitterMillis := p.randIntn(int(p.MaxJitter/time.Millisecond) + 1)
		delay += time.Duration(jitterMillis) * time.Millisecond
	}
	return delay
}

// SettleAction is what a backend does with a job after its handler returns.
type SettleAction int

const (
	SettleCompleted SettleAction = iota
	SettleScheduled
	SettleFailed
)

type Settlement struct {
	Action SettleAction
	// Job is the payload to store: the rescheduled job for SettleScheduled,
	// the finished job otherwise.
	Job    PublishJob
	Delay  time.Duration
	Reason string
}

func (p RetryPolicy) maxAttemptsFor(job PublishJob) int {
	if job.MaxAttempts > 0 {
		return job.MaxAttempts
	}
	return p.normalized().MaxAttempts
}

// Exhausted reports whether job.Attempts, which counts lost deliveries too,
// is already past the ceiling. Such a job must not run again.
func (p RetryPolicy) Exhausted(job PublishJob) bool {
	return job.Attempts > p.maxAttemptsFor(job)
}

// Abandon fails a job whose earlier deliveries were lost (worker crash or
// expired lease) until the ceiling was used up.
func (p RetryPolicy) Abandon(job PublishJob) Settlement {
	job.Attempts = p.maxAttemptsFor(job)
	return Settlement{Action: SettleFailed, Job: job, Reason: "attempts exhausted by lost deliveries"}
}

// Settle decides a job's fate. job.Attempts must already include the
// delivery that produced res.
func (p RetryPolicy) Settle(job PublishJob, res Result) Settlement {
	maxAttempts := p.maxAttemptsFor(job)

	switch res.Disposition {
	case DispositionComplete:
		return Settlement{Action: SettleCompleted, Job: job, Reason: res.Reason}
	case DispositionDefer:
		next := job
		if next.Attempts > 0 {
			next.Attempts--
		}
		delay := res.Delay
		if delay <= 0 {
			delay = defaultDeferDelay
		}
		return Settlement{Action: SettleScheduled, Job: next, Delay: delay, Reason: res.Reason}
	case DispositionRetry:
		if job.Attempts < maxAttempts {
			return Settlement{Action: SettleScheduled, Job: job, Delay: p.Delay(job.Attempts), Reason: res.Reason}
		}
		reason := res.Reason
		if reason == "" {
			reason = "attempts exhausted"
		}
		return Settlement{Action: SettleFailed, Job: job, Reason: reason}
	default:
		return Settlement{Action: SettleFailed, Job: job, Reason: res.Reason}
	}
}
