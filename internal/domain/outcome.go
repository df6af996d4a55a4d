package domain

// PublishOutcome is the normalized result of one adapter invocation.
type PublishOutcome struct {
	Platform Platform
	Success  bool
	Response map[string]any
	Error    string
}

func SucceededOutcome(platform Platform, response map[string]any) PublishOutcome {
	return PublishOutcome{
		Platform: platform,
		Success:  true,
		Response: response,
	}
}

func FailedOutcome(platform Platform, message string, response map[string]any) PublishOutcome {
	if message == "" {
		message = "unknown error"
	}
	return PublishOutcome{
		Platform: platform,
		Success:  false,
		Response: response,
		Error:    message,
	}
}

// CycleResult aggregates the outcomes of one publish cycle.
type CycleResult int

const (
	CycleTotalFailure CycleResult = iota
	CyclePartialFailure
	CycleFullSuccess
)

func (r CycleResult) String() string {
	switch r {
	case CycleFullSuccess:
		return "full_success"
	case CyclePartialFailure:
		return "partial_failure"
	default:
		return "total_failure"
	}
}

// PostStatus is the aggregate status persisted on the post.
func (r CycleResult) PostStatus() PostStatus {
	if r == CycleFullSuccess {
		return PostStatusPublished
	}
	return PostStatusFailed
}

// AggregateOutcomes classifies a cycle. An empty cycle published nothing and
// counts as a total failure.
func AggregateOutcomes(outcomes []PublishOutcome) CycleResult {
	succeeded := 0
	for _, o := range outcomes {
		if o.Success {
			succeeded++
		}
	}

	switch {
	case len(outcomes) == 0 || succeeded == 0:
		return CycleTotalFailure
	case succeeded == len(outcomes):
		return CycleFullSuccess
	default:
		return CyclePartialFailure
	}
}
