// Package agenda contains the persistent job scheduler: the job/spec data
// model, the atomic claim/lock protocol, the poller/dispatcher/worker-pool
// engine, and the fluent builder used to describe scheduled work.
package agenda

import "time"

// JobType distinguishes "one definition per name" jobs from "many rows per
// name" jobs.
type JobType int

const (
	// Normal jobs allow multiple documents per name, optionally deduplicated
	// by UniqueKey.
	Normal JobType = iota
	// Single jobs are name-unique: saving again updates the existing row.
	Single
)

func (t JobType) String() string {
	switch t {
	case Single:
		return "SINGLE"
	default:
		return "NORMAL"
	}
}

// ShouldReschedule reports whether a job of this type is a candidate for
// automatic rescheduling by RepeatInterval once it finishes. Both job types
// reschedule identically today; the method exists (mirroring
// original_source's JobType.shouldReschedule()) as the single place that
// would change if a job type were ever added that opts out.
func (t JobType) ShouldReschedule() bool { return true }

// Priority is a signed ordering hint; higher runs first among simultaneously
// due jobs. The named levels mirror the reference implementation's enum.
type Priority int

const (
	PriorityLowest  Priority = -20
	PriorityLow     Priority = -10
	PriorityNormal  Priority = 0
	PriorityHigh    Priority = 10
	PriorityHighest Priority = 20
)

// JobSpec is the immutable, in-memory build artifact produced by a
// JobBuilder. Saving a JobSpec persists (inserts or upserts) it as a
// ScheduledJob.
type JobSpec struct {
	Name string
	Type JobType

	UniqueKey string
	Unique    map[string]any

	NextRunAt *time.Time

	RepeatInterval string
	RepeatTimezone string

	Priority Priority

	Data map[string]any
}

// ScheduledJob is the persisted document: a JobSpec plus store-assigned and
// lifecycle fields.
type ScheduledJob struct {
	ID string
	JobSpec

	LockedAt  *time.Time
	LockUntil *time.Time
	LockedBy  string

	LastRunAt      *time.Time
	LastFinishedAt *time.Time

	FailCount int
	FailedAt  *time.Time
}

// IsDue reports whether the job is due at t: it has a next-run time that has
// arrived.
func (j *ScheduledJob) IsDue(t time.Time) bool {
	return j.NextRunAt != nil && !j.NextRunAt.After(t)
}

// IsClaimable reports whether the job is due and not currently under an
// unexpired lease.
func (j *ScheduledJob) IsClaimable(t time.Time) bool {
	if !j.IsDue(t) {
		return false
	}
	return j.LockUntil == nil || !j.LockUntil.After(t)
}

// PersistResult reports what Save actually did.
type PersistResult int

const (
	Created PersistResult = iota
	Updated
	NoOp
)

func (r PersistResult) String() string {
	switch r {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "noop"
	}
}

// CancelMode selects how Cancel disposes of matched jobs.
type CancelMode int

const (
	// Disable clears scheduling fields but keeps the document.
	Disable CancelMode = iota
	// Delete removes the document outright.
	Delete
)

// CancelOptions configures Cancel. The zero value is Disable with no cap.
type CancelOptions struct {
	Mode  CancelMode
	Limit int
}

// DefaultCancelOptions mirrors original_source's CancelOptions.defaults():
// Disable mode, effectively unlimited.
func DefaultCancelOptions() CancelOptions {
	return CancelOptions{Mode: Disable, Limit: int(^uint(0) >> 1)}
}

// CancelQuery selects jobs for Cancel. At least one field must be set.
type CancelQuery struct {
	Name      string
	UniqueKey string
	Unique    map[string]any
}

// IsEmpty reports whether the query carries no selector at all. A blank
// string is treated as "not set", matching original_source's CancelQuery
// normalization.
func (q CancelQuery) IsEmpty() bool {
	return q.Name == "" && q.UniqueKey == "" && len(q.Unique) == 0
}

// CancelResult reports the effect of a Cancel call.
type CancelResult struct {
	Matched  int
	Modified int
	Deleted  int
}

// HasEffect reports whether the call changed anything.
func (r CancelResult) HasEffect() bool { return r.Modified > 0 || r.Deleted > 0 }
