package queue

import (
	"time"

	"github.com/andreyxaxa/Event-Queue/internal/entity"
)

type Option func(*Queue)

func Lease(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.lease = d
		}
	}
}

func RetryPolicy(p entity.RetryPolicy) Option {
	return func(q *Queue) {
		if p.MaxRetries > 0 {
			q.policy.MaxRetries = p.MaxRetries
		}
		if p.BackoffBase > 0 {
			q.policy.BackoffBase = p.BackoffBase
		}
		if p.BackoffCap > 0 {
			q.policy.BackoffCap = p.BackoffCap
		}
	}
}
