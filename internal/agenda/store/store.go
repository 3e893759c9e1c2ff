// Package store persists ScheduledJobs and implements the atomic
// claim/lock protocol the engine's poller relies on.
package store

import (
	"context"
	"strings"
	"time"

	"agenda4go/internal/agenda"

	logx "agenda4go/pkg/logx"

	"github.com/cockroachdb/errors"
)

// Config selects and configures a Store backend.
//
// Driver values:
//   - "sqlite": modernc.org/sqlite, single-file, single-writer
//   - "postgres": gorm.io/driver/postgres + lib/pq
type Config struct {
	Driver      string
	Path        string // sqlite only
	DSN         string // postgres only
	BusyTimeout time.Duration
}

// Store is the persistence API the engine and builder depend on.
type Store interface {
	// Save inserts or upserts spec, per its Type/UniqueKey, and reports
	// which of the two (or neither, for an unchanged upsert) happened.
	Save(ctx context.Context, spec *agenda.JobSpec) (*agenda.ScheduledJob, agenda.PersistResult, error)

	// ClaimNext atomically finds the earliest-due job (higher priority first
	// among equal due times) due at or before dueBefore (the poller's
	// current window end, which may be later than now) and locks it to
	// workerID until lockUntil. now is used only to
	// decide whether a previously claimed job's lease has actually expired
	// (lock_until <= now); it must never be confused with dueBefore, or a
	// wide window would let this worker steal leases that have not expired
	// yet. Returns (nil, nil) when no job is claimable.
	ClaimNext(ctx context.Context, workerID string, lockUntil, now, dueBefore time.Time) (*agenda.ScheduledJob, error)

	// Extend pushes an in-progress job's lease forward, without which a
	// long-running handler would be reclaimed by another worker.
	Extend(ctx context.Context, id, lockedBy string, lockUntil time.Time) error

	// Release drops a job's lease without recording a run outcome. The
	// engine itself does not call it: a job left unfinished at shutdown
	// keeps its lease until lock_until passes.
	Release(ctx context.Context, id, lockedBy string) error

	// MarkSuccess records a successful run, clears the lease, and sets the
	// next run time (nil means "does not repeat"). The update is guarded on
	// {id, locked_by=lockedBy}: a worker whose lease was already reclaimed
	// by another worker gets agenda.ErrLeaseLost instead of overwriting the
	// new owner's in-flight state.
	MarkSuccess(ctx context.Context, id, lockedBy string, finishedAt time.Time, nextRunAt *time.Time) error

	// MarkFailure records a failed run, clears the lease, bumps fail count,
	// and sets the next run time computed by the retry schedule (nil means
	// "give up"). Guarded the same way as MarkSuccess.
	MarkFailure(ctx context.Context, id, lockedBy string, finishedAt time.Time, nextRunAt *time.Time, failCount int) error

	// Cancel disables or deletes jobs matching query, per opts. An empty
	// query fails with agenda.ErrInvalidArgument.
	Cancel(ctx context.Context, query agenda.CancelQuery, opts agenda.CancelOptions) (agenda.CancelResult, error)

	// Get fetches a single job by id, for diagnostics and tests.
	Get(ctx context.Context, id string) (*agenda.ScheduledJob, error)

	Close() error
}

// Open dispatches to the configured backend, mirroring the teacher's own
// storage.Open driver switch.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql":
		return openPostgres(ctx, cfg, log)
	case "":
		return nil, errors.Mark(errors.Newf("storage.driver is required"), agenda.ErrInvalidArgument)
	default:
		return nil, errors.Mark(errors.Newf("unknown storage driver: %q", driver), agenda.ErrInvalidArgument)
	}
}
