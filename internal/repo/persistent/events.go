package persistent

import (
	"time"
)

const (
	// Table
	eventsTable = "events"

	// Columns
	idColumn                = "id"
	eventTypeColumn         = "event_type"
	payloadColumn           = "payload"
	statusColumn            = "status"
	visibilityTimeoutColumn = "visibility_timeout"
	claimedByColumn         = "claimed_by"
	retryCountColumn        = "retry_count"
	errorMessageColumn      = "error_message"
	createdAtColumn         = "created_at"
	processedAtColumn       = "processed_at"
)

var eventColumns = []string{
	idColumn,
	eventTypeColumn,
	payloadColumn,
	statusColumn,
	visibilityTimeoutColumn,
	claimedByColumn,
	retryCountColumn,
	errorMessageColumn,
	createdAtColumn,
	processedAtColumn,
}

const (
	_defaultClaimAttempts = 8
	_defaultRedisPrefix   = "eq"
	_redisScanBatch       = 32
)

// Options of the stores that emulate skip-locked claiming with compare-and-swap.
type storeOptions struct {
	now           func() time.Time
	claimAttempts int
	prefix        string
}

type StoreOption func(*storeOptions)

// WithClock replaces time.Now as the store clock.
func WithClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) {
		o.now = now
	}
}

// WithClaimAttempts bounds how many lost compare-and-swap races one Claim tolerates.
func WithClaimAttempts(n int) StoreOption {
	return func(o *storeOptions) {
		if n > 0 {
			o.claimAttempts = n
		}
	}
}

// WithKeyPrefix sets the redis key namespace.
func WithKeyPrefix(prefix string) StoreOption {
	return func(o *storeOptions) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

func newStoreOptions(opts []StoreOption) storeOptions {
	o := storeOptions{
		now:           time.Now,
		claimAttempts: _defaultClaimAttempts,
		prefix:        _defaultRedisPrefix,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

func strPtr(s string) *string {
	return &s
}
