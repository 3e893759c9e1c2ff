package index

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"
)

func TestEnsureAll_CreatesAllIndexesIdempotently(t *testing.T) {
	dir := t.TempDir()
	db, err := sql.Open("sqlite", filepath.Join(dir, "idx.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE scheduled_jobs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		unique_key TEXT,
		next_run_at INTEGER,
		priority INTEGER,
		lock_until INTEGER
	)`)
	require.NoError(t, err)

	require.NoError(t, EnsureAll(context.Background(), db, "sqlite"))
	require.NoError(t, EnsureAll(context.Background(), db, "sqlite"), "must be idempotent")

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'scheduled_jobs'`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	for _, d := range Required {
		require.True(t, found[d.Name], "missing index %s", d.Name)
	}
}

func TestDDL_UniquePartialIndex(t *testing.T) {
	d := Descriptor{Name: "uq_x", Table: "t", Columns: []string{"c"}, Unique: true, Where: "c IS NOT NULL"}
	require.Equal(t, "CREATE UNIQUE INDEX IF NOT EXISTS uq_x ON t (c) WHERE c IS NOT NULL", d.DDL("sqlite"))
}
