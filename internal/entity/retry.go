package entity

import "time"

const (
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 10 * time.Second
	DefaultBackoffCap  = 300 * time.Second
)

type RetryPolicy struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// FailTransition is the state a failed event moves to.
type FailTransition struct {
	RetryCount int
	Terminal   bool
	Delay      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  DefaultMaxRetries,
		BackoffBase: DefaultBackoffBase,
		BackoffCap:  DefaultBackoffCap,
	}
}

// Backoff returns min(cap, base * 2^retryCount).
func (p RetryPolicy) Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	delay := p.BackoffBase
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= p.BackoffCap {
			return p.BackoffCap
		}
	}

	if delay > p.BackoffCap {
		return p.BackoffCap
	}

	return delay
}

// Next computes the transition for an event that failed at retryCount.
func (p RetryPolicy) Next(retryCount int, permanent bool) FailTransition {
	next := retryCount + 1

	if permanent || next >= p.MaxRetries {
		return FailTransition{RetryCount: next, Terminal: true}
	}

	return FailTransition{
		RetryCount: next,
		Delay:      p.Backoff(next),
	}
}
