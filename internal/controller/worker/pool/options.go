package pool

import "time"

type Option func(*Pool)

func Size(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.size = n
		}
	}
}

func PollInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// IdleWarnAfter is the silence after which a health check logs a worker as idle.
func IdleWarnAfter(d time.Duration) Option {
	return func(p *Pool) {
		p.idleWarnAfter = d
	}
}

func StopTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.stopTimeout = d
		}
	}
}

func WithObserver(o Observer) Option {
	return func(p *Pool) {
		if o != nil {
			p.observer = o
		}
	}
}

// InstanceID prefixes worker ids, "<instance>-worker-<i>".
func InstanceID(id string) Option {
	return func(p *Pool) {
		if id != "" {
			p.instanceID = id
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}
