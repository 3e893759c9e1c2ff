package engine

import "time"

// Config controls the poll/dispatch/execute engine. Every field except
// NameCacheSize maps directly to internal/config.AgendaConfig; the app layer
// parses durations there and hands this struct to New.
type Config struct {
	Enabled bool

	// WorkerID identifies this process's leases. Jobs claimed by one worker
	// are invisible to ClaimNext calls from any other until the lease
	// expires or is explicitly released.
	WorkerID string

	// ProcessEvery is how often the poller checks the store for due jobs
	// when nothing has nudged it to wake early.
	ProcessEvery time.Duration

	// DefaultLockLifetime bounds how long a claimed job may run before
	// another worker is allowed to reclaim it.
	DefaultLockLifetime time.Duration

	// MaxConcurrency caps total in-flight job executions across all names.
	MaxConcurrency int

	// DefaultConcurrency caps in-flight executions of any one job name.
	DefaultConcurrency int

	// LockLimit caps how many jobs this worker may hold claimed (running or
	// queued for a permit) at once; ClaimNext is not attempted above it.
	// nil means "not set, default to MaxConcurrency"; a non-nil pointer to
	// 0 means "unbounded" — those are deliberately distinct, so this must
	// stay a pointer rather than a plain int.
	LockLimit *int

	// BatchSize is the max number of jobs claimed per poll iteration.
	BatchSize int

	// MaxRetryCount caps retries: once a job's fail count reaches it, the
	// job is not rescheduled. 0 (the default) means retry indefinitely.
	MaxRetryCount int

	// NameCacheSize bounds the number of distinct job names the
	// per-name permit pool remembers; least-recently-used names are
	// evicted rather than let the map grow without bound.
	NameCacheSize int
}

// withDefaults fills in the fixed defaults for any zero-valued field,
// mirroring the teacher's own engine.New floor-setting.
func (c Config) withDefaults() Config {
	if c.ProcessEvery <= 0 {
		c.ProcessEvery = 5 * time.Second
	}
	if c.DefaultLockLifetime <= 0 {
		c.DefaultLockLifetime = 10 * time.Minute
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 20
	}
	if c.DefaultConcurrency <= 0 {
		c.DefaultConcurrency = 5
	}
	if c.LockLimit == nil {
		limit := c.MaxConcurrency
		c.LockLimit = &limit
	}
	if c.BatchSize <= 0 {
		if limit := *c.LockLimit; limit > 0 {
			c.BatchSize = limit
		} else {
			c.BatchSize = c.MaxConcurrency
		}
	}
	if c.NameCacheSize <= 0 {
		c.NameCacheSize = 4096
	}
	return c
}

// lockLimit reports the effective cap: 0 means unbounded.
func (c Config) lockLimit() int {
	if c.LockLimit == nil {
		return c.MaxConcurrency
	}
	return *c.LockLimit
}

// retryDelay computes the backoff before a failed job's next attempt:
// 10s * 2^(attempt-1), capped at 10 minutes.
func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	const (
		base     = 10 * time.Second
		maxDelay = 10 * time.Minute
	)
	// Cap the exponent itself so the shift never overflows before the
	// duration comparison would have capped it anyway.
	if attempt > 10 {
		return maxDelay
	}
	d := base << (attempt - 1)
	if d > maxDelay || d <= 0 {
		return maxDelay
	}
	return d
}

// pollBackoff computes the poller's own retry delay after a store failure:
// 1s, 2s, 4s, ... capped at 60s.
func pollBackoff(consecutiveFailures int) time.Duration {
	if consecutiveFailures < 1 {
		consecutiveFailures = 1
	}
	const maxDelay = 60 * time.Second
	if consecutiveFailures > 6 {
		return maxDelay
	}
	d := time.Second << (consecutiveFailures - 1)
	if d > maxDelay {
		return maxDelay
	}
	return d
}
