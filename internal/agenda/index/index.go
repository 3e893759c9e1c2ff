// Package index describes the indexes the job store depends on for
// efficient claiming and cancellation, and lets an operator (through
// cmd/agenda-demo's -ensure-indexes flag) create any that are missing
// independently of running the full store migration.
//
// store.Open already creates these as part of its own migration for both
// backends; this package exists for the case where the store's schema is
// managed out-of-band (a DBA-run migration tool, a read replica) and the
// operator still wants a fast confirmation the required indexes are present
// before starting the poller.
package index

import (
	"context"
	"database/sql"
	"fmt"
)

// Descriptor names one index the claim/cancel/lookup paths rely on.
type Descriptor struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
	// Where is an optional partial-index predicate (SQLite/Postgres both
	// support WHERE on CREATE INDEX; MySQL-family backends would not).
	Where string
}

// Required lists every index the store package's queries assume exists.
// The sqlite/postgres migrations write their own CREATE INDEX statements
// for the same names; they do not read this list.
var Required = []Descriptor{
	{
		Name:    "uq_scheduled_jobs_unique_key",
		Table:   "scheduled_jobs",
		Columns: []string{"unique_key"},
		Unique:  true,
		Where:   "unique_key IS NOT NULL",
	},
	{
		Name:    "idx_scheduled_jobs_claim",
		Table:   "scheduled_jobs",
		Columns: []string{"next_run_at", "priority"},
	},
	{
		Name:    "idx_scheduled_jobs_name",
		Table:   "scheduled_jobs",
		Columns: []string{"name"},
	},
	{
		Name:    "idx_scheduled_jobs_lock_until",
		Table:   "scheduled_jobs",
		Columns: []string{"lock_until"},
	},
}

// DDL renders d as a CREATE INDEX statement for driver ("sqlite" or
// "postgres" — both accept the same syntax here).
func (d Descriptor) DDL(driver string) string {
	kw := "INDEX"
	if d.Unique {
		kw = "UNIQUE INDEX"
	}
	stmt := fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)", kw, d.Name, d.Table, joinColumns(d.Columns))
	if d.Where != "" {
		stmt += " WHERE " + d.Where
	}
	return stmt
}

func joinColumns(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

// EnsureAll issues CREATE INDEX IF NOT EXISTS for every Required descriptor
// against db, using driver's DDL dialect. Safe to call repeatedly.
func EnsureAll(ctx context.Context, db *sql.DB, driver string) error {
	for _, d := range Required {
		if _, err := db.ExecContext(ctx, d.DDL(driver)); err != nil {
			return fmt.Errorf("ensure index %s: %w", d.Name, err)
		}
	}
	return nil
}
