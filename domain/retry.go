package domain

import (
	"time"

	"sync-engine/errors"
)

// RetryPolicy is a pure decision function: no clocks, no sleeping.
// The scheduler owns the actual delay.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

type RetryDecision struct {
	Retry bool
	Delay time.Duration
}

// Decide maps (attempt count, failure) to a retry decision with
// exponential backoff: BaseDelay * 2^attempt, capped at MaxDelay.
// Non-retryable failures and exhausted budgets stop immediately.
func (p RetryPolicy) Decide(attempt int, err error) RetryDecision {
	if attempt >= p.MaxRetries {
		return RetryDecision{}
	}
	if !errors.Retryable(err) {
		return RetryDecision{}
	}
	delay := p.BaseDelay
	for i := 0; i < attempt && delay < p.MaxDelay; i++ {
		delay *= 2
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return RetryDecision{Retry: true, Delay: delay}
}
