package store

import (
	"context"
	"time"

	"agenda4go/internal/agenda"

	logx "agenda4go/pkg/logx"

	cockroacherrors "github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// pgJobRow is the GORM model for the postgres backend. It mirrors row's
// shape column-for-column but carries the gorm tags AutoMigrate needs;
// jsonb columns hold the same JSON bytes the sqlite backend stores as BLOB.
type pgJobRow struct {
	ID             string `gorm:"column:id;primaryKey"`
	Name           string `gorm:"column:name;not null;index"`
	Type           int    `gorm:"column:type;not null;default:0"`
	UniqueKey      string `gorm:"column:unique_key"`
	UniqueJSON     []byte `gorm:"column:unique_json;type:jsonb"`
	NextRunAt      *time.Time `gorm:"column:next_run_at"`
	RepeatInterval string `gorm:"column:repeat_interval;not null;default:''"`
	RepeatTimezone string `gorm:"column:repeat_timezone;not null;default:''"`
	Priority       int    `gorm:"column:priority;not null;default:0"`
	DataJSON       []byte `gorm:"column:data_json;type:jsonb;not null;default:'{}'"`

	LockedAt  *time.Time `gorm:"column:locked_at"`
	LockUntil *time.Time `gorm:"column:lock_until"`
	LockedBy  string     `gorm:"column:locked_by"`

	LastRunAt      *time.Time `gorm:"column:last_run_at"`
	LastFinishedAt *time.Time `gorm:"column:last_finished_at"`
	FailCount      int        `gorm:"column:fail_count;not null;default:0"`
	FailedAt       *time.Time `gorm:"column:failed_at"`
}

func (pgJobRow) TableName() string { return "scheduled_jobs" }

func (p *pgJobRow) toRow() *row {
	return &row{
		ID: p.ID, Name: p.Name, Type: p.Type, UniqueKey: p.UniqueKey, UniqueJSON: p.UniqueJSON,
		NextRunAt: p.NextRunAt, RepeatInterval: p.RepeatInterval, RepeatTimezone: p.RepeatTimezone,
		Priority: p.Priority, DataJSON: p.DataJSON,
		LockedAt: p.LockedAt, LockUntil: p.LockUntil, LockedBy: p.LockedBy,
		LastRunAt: p.LastRunAt, LastFinishedAt: p.LastFinishedAt,
		FailCount: p.FailCount, FailedAt: p.FailedAt,
	}
}

func pgRowFrom(r *row) pgJobRow {
	return pgJobRow{
		ID: r.ID, Name: r.Name, Type: r.Type, UniqueKey: r.UniqueKey, UniqueJSON: r.UniqueJSON,
		NextRunAt: r.NextRunAt, RepeatInterval: r.RepeatInterval, RepeatTimezone: r.RepeatTimezone,
		Priority: r.Priority, DataJSON: r.DataJSON,
	}
}

type postgresStore struct {
	db  *gorm.DB
	log logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if cfg.DSN == "" {
		return nil, cockroacherrors.Mark(cockroacherrors.Newf("storage.dsn is required for the postgres driver"), agenda.ErrInvalidArgument)
	}
	gdb, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, cockroacherrors.Wrap(err, "open postgres database")
	}
	gdb = gdb.WithContext(ctx)

	if err := gdb.AutoMigrate(&pgJobRow{}); err != nil {
		return nil, cockroacherrors.Wrap(err, "auto-migrate scheduled_jobs")
	}
	stmts := []string{
		`create unique index if not exists uq_scheduled_jobs_unique_key on scheduled_jobs(unique_key) where unique_key is not null and unique_key <> ''`,
		`create index if not exists idx_scheduled_jobs_claim on scheduled_jobs(next_run_at, priority)`,
		`create index if not exists idx_scheduled_jobs_lock_until on scheduled_jobs(lock_until)`,
	}
	for _, stmt := range stmts {
		if err := gdb.Exec(stmt).Error; err != nil {
			return nil, cockroacherrors.Wrapf(err, "create index: %s", stmt)
		}
	}

	return &postgresStore{db: gdb, log: log}, nil
}

func (s *postgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *postgresStore) Save(ctx context.Context, spec *agenda.JobSpec) (*agenda.ScheduledJob, agenda.PersistResult, error) {
	var job *agenda.ScheduledJob
	var result agenda.PersistResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing pgJobRow
		var findErr error
		switch {
		case spec.UniqueKey != "":
			findErr = tx.Raw(`SELECT * FROM scheduled_jobs WHERE unique_key = ? FOR UPDATE`, spec.UniqueKey).Scan(&existing).Error
		case spec.Type == agenda.Single:
			findErr = tx.Raw(`SELECT * FROM scheduled_jobs WHERE name = ? AND type = ? FOR UPDATE`, spec.Name, int(agenda.Single)).Scan(&existing).Error
		}
		if findErr != nil {
			return cockroacherrors.Wrapf(findErr, "look up existing job %q", spec.Name)
		}

		if existing.ID == "" {
			r, err := rowFromSpec(uuid.NewString(), spec)
			if err != nil {
				return err
			}
			newRow := pgRowFrom(r)
			if err := tx.Create(&newRow).Error; err != nil {
				return cockroacherrors.Wrapf(err, "insert job %q", spec.Name)
			}
			job, err = r.toJob()
			result = agenda.Created
			return err
		}

		existingRow := existing.toRow()
		if unchanged(existingRow, spec) {
			var err error
			job, err = existingRow.toJob()
			result = agenda.NoOp
			return err
		}

		r, err := rowFromSpec(existing.ID, spec)
		if err != nil {
			return err
		}
		if err := tx.Model(&pgJobRow{}).Where("id = ?", existing.ID).Updates(map[string]any{
			"unique_key":      r.UniqueKey,
			"unique_json":     r.UniqueJSON,
			"next_run_at":     r.NextRunAt,
			"repeat_interval": r.RepeatInterval,
			"repeat_timezone": r.RepeatTimezone,
			"priority":        r.Priority,
			"data_json":       r.DataJSON,
		}).Error; err != nil {
			return cockroacherrors.Wrapf(err, "update job %q", spec.Name)
		}
		job, err = r.toJob()
		result = agenda.Updated
		return err
	})
	if err != nil {
		return nil, agenda.NoOp, err
	}
	return job, result, nil
}

func (s *postgresStore) ClaimNext(ctx context.Context, workerID string, lockUntil, now, dueBefore time.Time) (*agenda.ScheduledJob, error) {
	var claimed pgJobRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Raw(`
			WITH cte AS (
				SELECT id FROM scheduled_jobs
				WHERE next_run_at <= ? AND (lock_until IS NULL OR lock_until <= ?)
				ORDER BY next_run_at ASC, priority DESC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			UPDATE scheduled_jobs
			SET locked_by = ?, locked_at = ?, lock_until = ?
			WHERE id IN (SELECT id FROM cte)
			RETURNING *`,
			dueBefore, now, workerID, now, lockUntil).Scan(&claimed).Error
	})
	if err != nil {
		return nil, cockroacherrors.Wrap(err, "claim next job")
	}
	if claimed.ID == "" {
		return nil, nil
	}
	return claimed.toRow().toJob()
}

func (s *postgresStore) Extend(ctx context.Context, id, lockedBy string, lockUntil time.Time) error {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE scheduled_jobs SET lock_until = ? WHERE id = ? AND locked_by = ?`, lockUntil, id, lockedBy)
	if res.Error != nil {
		return cockroacherrors.Wrapf(res.Error, "extend lease on job %q", id)
	}
	if res.RowsAffected == 0 {
		return cockroacherrors.Mark(cockroacherrors.Newf("lease on job %q was already lost", id), agenda.ErrLeaseLost)
	}
	return nil
}

func (s *postgresStore) Release(ctx context.Context, id, lockedBy string) error {
	err := s.db.WithContext(ctx).Exec(
		`UPDATE scheduled_jobs SET locked_by = NULL, locked_at = NULL, lock_until = NULL WHERE id = ? AND locked_by = ?`,
		id, lockedBy).Error
	if err != nil {
		return cockroacherrors.Wrapf(err, "release lease on job %q", id)
	}
	return nil
}

func (s *postgresStore) MarkSuccess(ctx context.Context, id, lockedBy string, finishedAt time.Time, nextRunAt *time.Time) error {
	res := s.db.WithContext(ctx).Exec(`
		UPDATE scheduled_jobs SET locked_by = NULL, locked_at = NULL, lock_until = NULL,
			last_run_at = ?, last_finished_at = ?, next_run_at = ?, fail_count = 0, failed_at = NULL
		WHERE id = ? AND locked_by = ?`, finishedAt, finishedAt, nextRunAt, id, lockedBy)
	if res.Error != nil {
		return cockroacherrors.Wrapf(res.Error, "mark job %q successful", id)
	}
	if res.RowsAffected == 0 {
		return cockroacherrors.Mark(cockroacherrors.Newf("lease on job %q was already lost", id), agenda.ErrLeaseLost)
	}
	return nil
}

func (s *postgresStore) MarkFailure(ctx context.Context, id, lockedBy string, finishedAt time.Time, nextRunAt *time.Time, failCount int) error {
	res := s.db.WithContext(ctx).Exec(`
		UPDATE scheduled_jobs SET locked_by = NULL, locked_at = NULL, lock_until = NULL,
			last_run_at = ?, last_finished_at = ?, next_run_at = ?, fail_count = ?, failed_at = ?
		WHERE id = ? AND locked_by = ?`, finishedAt, finishedAt, nextRunAt, failCount, finishedAt, id, lockedBy)
	if res.Error != nil {
		return cockroacherrors.Wrapf(res.Error, "mark job %q failed", id)
	}
	if res.RowsAffected == 0 {
		return cockroacherrors.Mark(cockroacherrors.Newf("lease on job %q was already lost", id), agenda.ErrLeaseLost)
	}
	return nil
}

func (s *postgresStore) Cancel(ctx context.Context, query agenda.CancelQuery, opts agenda.CancelOptions) (agenda.CancelResult, error) {
	if query.IsEmpty() {
		return agenda.CancelResult{}, cockroacherrors.Mark(cockroacherrors.Newf("cancel query has no selector"), agenda.ErrInvalidArgument)
	}
	where, args, err := buildCancelWhere("postgres", query)
	if err != nil {
		return agenda.CancelResult{}, err
	}
	if opts.Limit <= 0 {
		opts.Limit = agenda.DefaultCancelOptions().Limit
	}

	var ids []string
	err = s.db.WithContext(ctx).Raw(
		`SELECT id FROM scheduled_jobs WHERE `+where+` ORDER BY next_run_at ASC, priority DESC LIMIT ?`, append(args, opts.Limit)...,
	).Scan(&ids).Error
	if err != nil {
		return agenda.CancelResult{}, cockroacherrors.Wrap(err, "select jobs to cancel")
	}

	result := agenda.CancelResult{Matched: len(ids)}
	for _, id := range ids {
		switch opts.Mode {
		case agenda.Delete:
			if err := s.db.WithContext(ctx).Exec(`DELETE FROM scheduled_jobs WHERE id = ?`, id).Error; err != nil {
				return result, cockroacherrors.Wrapf(err, "delete job %q", id)
			}
			result.Deleted++
		default:
			// Clear the lease fields too: a job disabled while a worker
			// still holds a live lock must not let that worker's later
			// MarkSuccess/MarkFailure (guarded only by locked_by) silently
			// repopulate next_run_at and un-disable it.
			if err := s.db.WithContext(ctx).Exec(`
				UPDATE scheduled_jobs SET next_run_at = NULL, repeat_interval = '', repeat_timezone = '',
					locked_at = NULL, lock_until = NULL, locked_by = NULL
				WHERE id = ?`, id).Error; err != nil {
				return result, cockroacherrors.Wrapf(err, "disable job %q", id)
			}
			result.Modified++
		}
	}
	return result, nil
}

func (s *postgresStore) Get(ctx context.Context, id string) (*agenda.ScheduledJob, error) {
	var r pgJobRow
	if err := s.db.WithContext(ctx).Raw(`SELECT * FROM scheduled_jobs WHERE id = ?`, id).Scan(&r).Error; err != nil {
		return nil, cockroacherrors.Wrapf(err, "get job %q", id)
	}
	if r.ID == "" {
		return nil, nil
	}
	return r.toRow().toJob()
}
