package store

import (
	"encoding/json"
	"time"

	"agenda4go/internal/agenda"

	"github.com/cockroachdb/errors"
)

// row is the backend-agnostic shape both the sqlite and postgres drivers
// marshal a ScheduledJob into and out of. JSON columns (data, unique) are
// carried as raw bytes here; each driver decides jsonb vs TEXT at the
// column-type level.
type row struct {
	ID             string
	Name           string
	Type           int
	UniqueKey      string
	UniqueJSON     []byte
	NextRunAt      *time.Time
	RepeatInterval string
	RepeatTimezone string
	Priority       int
	DataJSON       []byte

	LockedAt  *time.Time
	LockUntil *time.Time
	LockedBy  string

	LastRunAt      *time.Time
	LastFinishedAt *time.Time
	FailCount      int
	FailedAt       *time.Time
}

func rowFromSpec(id string, spec *agenda.JobSpec) (*row, error) {
	dataJSON, err := json.Marshal(spec.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "encode job %q data", spec.Name)
	}
	var uniqueJSON []byte
	if len(spec.Unique) > 0 {
		uniqueJSON, err = json.Marshal(spec.Unique)
		if err != nil {
			return nil, errors.Wrapf(err, "encode job %q unique fields", spec.Name)
		}
	}
	return &row{
		ID:             id,
		Name:           spec.Name,
		Type:           int(spec.Type),
		UniqueKey:      spec.UniqueKey,
		UniqueJSON:     uniqueJSON,
		NextRunAt:      spec.NextRunAt,
		RepeatInterval: spec.RepeatInterval,
		RepeatTimezone: spec.RepeatTimezone,
		Priority:       int(spec.Priority),
		DataJSON:       dataJSON,
	}, nil
}

func (r *row) toJob() (*agenda.ScheduledJob, error) {
	data := map[string]any{}
	if len(r.DataJSON) > 0 {
		if err := json.Unmarshal(r.DataJSON, &data); err != nil {
			return nil, errors.Wrapf(err, "decode job %q data", r.Name)
		}
	}
	var unique map[string]any
	if len(r.UniqueJSON) > 0 {
		if err := json.Unmarshal(r.UniqueJSON, &unique); err != nil {
			return nil, errors.Wrapf(err, "decode job %q unique fields", r.Name)
		}
	}
	return &agenda.ScheduledJob{
		ID: r.ID,
		JobSpec: agenda.JobSpec{
			Name:           r.Name,
			Type:           agenda.JobType(r.Type),
			UniqueKey:      r.UniqueKey,
			Unique:         unique,
			NextRunAt:      r.NextRunAt,
			RepeatInterval: r.RepeatInterval,
			RepeatTimezone: r.RepeatTimezone,
			Priority:       agenda.Priority(r.Priority),
			Data:           data,
		},
		LockedAt:       r.LockedAt,
		LockUntil:      r.LockUntil,
		LockedBy:       r.LockedBy,
		LastRunAt:      r.LastRunAt,
		LastFinishedAt: r.LastFinishedAt,
		FailCount:      r.FailCount,
		FailedAt:       r.FailedAt,
	}, nil
}

// unchanged reports whether spec matches existing in repeat interval,
// timezone, priority, data and unique fields — the store's Save NoOp case,
// added to mirror original_source's PersistResult.NO_OP. NextRunAt is not
// compared: a re-save that differs only in NextRunAt is a NoOp and leaves
// the stored next_run_at as it is.
func unchanged(existing *row, spec *agenda.JobSpec) bool {
	if existing.RepeatInterval != spec.RepeatInterval ||
		existing.RepeatTimezone != spec.RepeatTimezone ||
		existing.Priority != int(spec.Priority) {
		return false
	}
	candidate, err := rowFromSpec(existing.ID, spec)
	if err != nil {
		return false
	}
	return string(candidate.DataJSON) == string(existing.DataJSON) &&
		string(candidate.UniqueJSON) == string(existing.UniqueJSON)
}
