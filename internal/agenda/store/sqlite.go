package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"agenda4go/internal/agenda"

	logx "agenda4go/pkg/logx"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_migrations.sql
var sqliteMigrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.Mark(errors.Newf("storage.path is required for the sqlite driver"), agenda.ErrInvalidArgument)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create sqlite data directory")
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite database")
	}
	// A single writer at a time; BEGIN IMMEDIATE serializes claims, so
	// allowing more open connections would just queue behind the same lock.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds())); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "set sqlite busy_timeout")
		}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "enable sqlite WAL mode")
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous = NORMAL"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set sqlite synchronous mode")
	}

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := sqliteMigrationsFS.ReadFile("sqlite_migrations.sql")
	if err != nil {
		return errors.Wrap(err, "read sqlite migrations")
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return errors.Wrap(err, "apply sqlite migrations")
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

const sqliteSelectColumns = `id, name, type, unique_key, unique_json, next_run_at, repeat_interval,
	repeat_timezone, priority, data_json, locked_at, lock_until, locked_by,
	last_run_at, last_finished_at, fail_count, failed_at`

func scanRow(scanner interface {
	Scan(dest ...any) error
}) (*row, error) {
	var r row
	var nextRunAt, lockedAt, lockUntil, lastRunAt, lastFinishedAt, failedAt sql.NullInt64
	var lockedBy, uniqueKey sql.NullString

	if err := scanner.Scan(
		&r.ID, &r.Name, &r.Type, &uniqueKey, &r.UniqueJSON, &nextRunAt, &r.RepeatInterval,
		&r.RepeatTimezone, &r.Priority, &r.DataJSON, &lockedAt, &lockUntil, &lockedBy,
		&lastRunAt, &lastFinishedAt, &r.FailCount, &failedAt,
	); err != nil {
		return nil, err
	}

	r.NextRunAt = millisToTime(nextRunAt)
	r.LockedAt = millisToTime(lockedAt)
	r.LockUntil = millisToTime(lockUntil)
	r.LastRunAt = millisToTime(lastRunAt)
	r.LastFinishedAt = millisToTime(lastFinishedAt)
	r.FailedAt = millisToTime(failedAt)
	if lockedBy.Valid {
		r.LockedBy = lockedBy.String
	}
	if uniqueKey.Valid {
		r.UniqueKey = uniqueKey.String
	}
	return &r, nil
}

func millisToTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func timeToMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func (s *sqliteStore) Save(ctx context.Context, spec *agenda.JobSpec) (*agenda.ScheduledJob, agenda.PersistResult, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, agenda.NoOp, errors.Wrap(err, "acquire sqlite connection")
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, agenda.NoOp, errors.Wrap(err, "begin immediate")
	}
	rollback := func(err error) error {
		_, _ = conn.ExecContext(ctx, "ROLLBACK")
		return err
	}

	existing, err := s.findMatch(ctx, conn, spec)
	if err != nil {
		return nil, agenda.NoOp, rollback(err)
	}

	if existing == nil {
		id := uuid.NewString()
		r, err := rowFromSpec(id, spec)
		if err != nil {
			return nil, agenda.NoOp, rollback(err)
		}
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO scheduled_jobs(id, name, type, unique_key, unique_json, next_run_at,
				repeat_interval, repeat_timezone, priority, data_json, fail_count)
			VALUES (?,?,?,?,?,?,?,?,?,?,0)`,
			r.ID, r.Name, r.Type, nullStr(r.UniqueKey), r.UniqueJSON, timeToMillis(r.NextRunAt),
			r.RepeatInterval, r.RepeatTimezone, r.Priority, r.DataJSON,
		); err != nil {
			return nil, agenda.NoOp, rollback(errors.Wrapf(err, "insert job %q", spec.Name))
		}
		if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
			return nil, agenda.NoOp, errors.Wrap(err, "commit insert")
		}
		job, err := r.toJob()
		return job, agenda.Created, err
	}

	if unchanged(existing, spec) {
		if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
			return nil, agenda.NoOp, errors.Wrap(err, "commit no-op")
		}
		job, err := existing.toJob()
		return job, agenda.NoOp, err
	}

	r, err := rowFromSpec(existing.ID, spec)
	if err != nil {
		return nil, agenda.NoOp, rollback(err)
	}
	if _, err := conn.ExecContext(ctx, `
		UPDATE scheduled_jobs SET unique_key=?, unique_json=?, next_run_at=?, repeat_interval=?,
			repeat_timezone=?, priority=?, data_json=? WHERE id=?`,
		nullStr(r.UniqueKey), r.UniqueJSON, timeToMillis(r.NextRunAt), r.RepeatInterval,
		r.RepeatTimezone, r.Priority, r.DataJSON, r.ID,
	); err != nil {
		return nil, agenda.NoOp, rollback(errors.Wrapf(err, "update job %q", spec.Name))
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, agenda.NoOp, errors.Wrap(err, "commit update")
	}
	job, err := r.toJob()
	return job, agenda.Updated, err
}

// findMatch looks up the row Save should upsert onto: by unique key when
// set, else by name among Single-type rows for Single-type jobs, else nil
// (Normal jobs with no unique key always insert).
func (s *sqliteStore) findMatch(ctx context.Context, conn *sql.Conn, spec *agenda.JobSpec) (*row, error) {
	var query string
	var args []any
	switch {
	case spec.UniqueKey != "":
		query = `SELECT ` + sqliteSelectColumns + ` FROM scheduled_jobs WHERE unique_key = ? LIMIT 1`
		args = []any{spec.UniqueKey}
	case spec.Type == agenda.Single:
		query = `SELECT ` + sqliteSelectColumns + ` FROM scheduled_jobs WHERE name = ? AND type = ? LIMIT 1`
		args = []any{spec.Name, int(agenda.Single)}
	default:
		return nil, nil
	}

	r, err := scanRow(conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "look up existing job %q", spec.Name)
	}
	return r, nil
}

func (s *sqliteStore) ClaimNext(ctx context.Context, workerID string, lockUntil, now, dueBefore time.Time) (*agenda.ScheduledJob, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire sqlite connection")
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, errors.Wrap(err, "begin immediate")
	}
	rollback := func(err error) (*agenda.ScheduledJob, error) {
		_, _ = conn.ExecContext(ctx, "ROLLBACK")
		return nil, err
	}

	r, err := scanRow(conn.QueryRowContext(ctx, `
		SELECT `+sqliteSelectColumns+` FROM scheduled_jobs
		WHERE next_run_at <= ? AND (lock_until IS NULL OR lock_until <= ?)
		ORDER BY next_run_at ASC, priority DESC LIMIT 1`,
		dueBefore.UnixMilli(), now.UnixMilli()))
	if errors.Is(err, sql.ErrNoRows) {
		if _, cerr := conn.ExecContext(ctx, "COMMIT"); cerr != nil {
			return nil, errors.Wrap(cerr, "commit empty claim")
		}
		return nil, nil
	}
	if err != nil {
		return rollback(errors.Wrap(err, "select claimable job"))
	}

	if _, err := conn.ExecContext(ctx,
		`UPDATE scheduled_jobs SET locked_by=?, locked_at=?, lock_until=? WHERE id=?`,
		workerID, now.UnixMilli(), lockUntil.UnixMilli(), r.ID,
	); err != nil {
		return rollback(errors.Wrapf(err, "claim job %q", r.ID))
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, errors.Wrap(err, "commit claim")
	}

	r.LockedBy = workerID
	r.LockedAt = &now
	r.LockUntil = &lockUntil
	return r.toJob()
}

func (s *sqliteStore) Extend(ctx context.Context, id, lockedBy string, lockUntil time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET lock_until=? WHERE id=? AND locked_by=?`,
		lockUntil.UnixMilli(), id, lockedBy)
	if err != nil {
		return errors.Wrapf(err, "extend lease on job %q", id)
	}
	return checkLeaseAffected(res, id)
}

func (s *sqliteStore) Release(ctx context.Context, id, lockedBy string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET locked_by=NULL, locked_at=NULL, lock_until=NULL WHERE id=? AND locked_by=?`,
		id, lockedBy)
	if err != nil {
		return errors.Wrapf(err, "release lease on job %q", id)
	}
	return nil
}

func (s *sqliteStore) MarkSuccess(ctx context.Context, id, lockedBy string, finishedAt time.Time, nextRunAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET locked_by=NULL, locked_at=NULL, lock_until=NULL,
			last_run_at=?, last_finished_at=?, next_run_at=?, fail_count=0, failed_at=NULL
		WHERE id=? AND locked_by=?`,
		finishedAt.UnixMilli(), finishedAt.UnixMilli(), timeToMillis(nextRunAt), id, lockedBy)
	if err != nil {
		return errors.Wrapf(err, "mark job %q successful", id)
	}
	return checkLeaseAffected(res, id)
}

func (s *sqliteStore) MarkFailure(ctx context.Context, id, lockedBy string, finishedAt time.Time, nextRunAt *time.Time, failCount int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET locked_by=NULL, locked_at=NULL, lock_until=NULL,
			last_run_at=?, last_finished_at=?, next_run_at=?, fail_count=?, failed_at=?
		WHERE id=? AND locked_by=?`,
		finishedAt.UnixMilli(), finishedAt.UnixMilli(), timeToMillis(nextRunAt), failCount, finishedAt.UnixMilli(), id, lockedBy)
	if err != nil {
		return errors.Wrapf(err, "mark job %q failed", id)
	}
	return checkLeaseAffected(res, id)
}

func (s *sqliteStore) Cancel(ctx context.Context, query agenda.CancelQuery, opts agenda.CancelOptions) (agenda.CancelResult, error) {
	if query.IsEmpty() {
		return agenda.CancelResult{}, errors.Mark(errors.Newf("cancel query has no selector"), agenda.ErrInvalidArgument)
	}
	where, args, err := buildCancelWhere("sqlite", query)
	if err != nil {
		return agenda.CancelResult{}, err
	}
	if opts.Limit <= 0 {
		opts.Limit = agenda.DefaultCancelOptions().Limit
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM scheduled_jobs WHERE `+where+` ORDER BY next_run_at ASC, priority DESC LIMIT ?`,
		append(args, opts.Limit)...)
	if err != nil {
		return agenda.CancelResult{}, errors.Wrap(err, "select jobs to cancel")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return agenda.CancelResult{}, errors.Wrap(err, "scan cancel candidate")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return agenda.CancelResult{}, err
	}

	result := agenda.CancelResult{Matched: len(ids)}
	for _, id := range ids {
		switch opts.Mode {
		case agenda.Delete:
			if _, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id=?`, id); err != nil {
				return result, errors.Wrapf(err, "delete job %q", id)
			}
			result.Deleted++
		default:
			// Clear the lease fields too: a job disabled while a worker
			// still holds a live lock must not let that worker's later
			// MarkSuccess/MarkFailure (guarded only by locked_by) silently
			// repopulate next_run_at and un-disable it.
			if _, err := s.db.ExecContext(ctx, `
				UPDATE scheduled_jobs SET next_run_at=NULL, repeat_interval='', repeat_timezone='',
					locked_at=NULL, lock_until=NULL, locked_by=NULL
				WHERE id=?`, id); err != nil {
				return result, errors.Wrapf(err, "disable job %q", id)
			}
			result.Modified++
		}
	}
	return result, nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*agenda.ScheduledJob, error) {
	r, err := scanRow(s.db.QueryRowContext(ctx, `SELECT `+sqliteSelectColumns+` FROM scheduled_jobs WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get job %q", id)
	}
	return r.toJob()
}

func checkLeaseAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "check rows affected")
	}
	if n == 0 {
		return errors.Mark(errors.Newf("lease on job %q was already lost", id), agenda.ErrLeaseLost)
	}
	return nil
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
