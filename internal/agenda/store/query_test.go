package store

import (
	"context"
	"testing"
	"time"

	"agenda4go/internal/agenda"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestBuildCancelWhere_NameOnly(t *testing.T) {
	where, args, err := buildCancelWhere("sqlite", agenda.CancelQuery{Name: "send-report"})
	require.NoError(t, err)
	require.Equal(t, "name = ?", where)
	require.Equal(t, []any{"send-report"}, args)
}

func TestBuildCancelWhere_NameAndUniqueKey(t *testing.T) {
	where, args, err := buildCancelWhere("sqlite", agenda.CancelQuery{Name: "send-report", UniqueKey: "acct-1"})
	require.NoError(t, err)
	require.Equal(t, "name = ? AND unique_key = ?", where)
	require.Equal(t, []any{"send-report", "acct-1"}, args)
}

func TestBuildCancelWhere_EmptyRejected(t *testing.T) {
	_, _, err := buildCancelWhere("sqlite", agenda.CancelQuery{})
	require.Error(t, err)
	require.ErrorIs(t, err, agenda.ErrInvalidArgument)
}

// TestBuildCancelWhere_UniquePerKeySQLite confirms a partial subset of a
// job's Unique keys produces one json_extract clause per key, not a
// whole-blob comparison — a caller passing only {guildId} for a job saved
// with {guildId, sourceId} must still be able to match it.
func TestBuildCancelWhere_UniquePerKeySQLite(t *testing.T) {
	where, args, err := buildCancelWhere("sqlite", agenda.CancelQuery{
		Unique: map[string]any{"guildId": "g1"},
	})
	require.NoError(t, err)
	require.Equal(t, "CAST(json_extract(unique_json, '$.' || ?) AS TEXT) = ?", where)
	require.Equal(t, []any{"guildId", "g1"}, args)
}

func TestBuildCancelWhere_UniqueMultiKeyOrderedAndTyped(t *testing.T) {
	where, args, err := buildCancelWhere("postgres", agenda.CancelQuery{
		Unique: map[string]any{"sourceId": "s1", "guildId": "g1", "retries": 3},
	})
	require.NoError(t, err)
	require.Equal(t,
		"unique_json ->> ? = ? AND unique_json ->> ? = ? AND unique_json ->> ? = ?", where)
	require.Equal(t, []any{"guildId", "g1", "retries", "3", "sourceId", "s1"}, args)
}

// TestBuildCancelWhere_UsableAsSQL exercises the built clause against a
// mocked *sql.DB, the same way the sqlite backend would use it, to confirm
// the placeholder count matches the argument count.
func TestBuildCancelWhere_UsableAsSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	where, args, err := buildCancelWhere("sqlite", agenda.CancelQuery{Name: "send-report"})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM scheduled_jobs WHERE name = \\?").
		WithArgs(args...).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	var count int
	row := db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM scheduled_jobs WHERE "+where, args...)
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 1, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestBuildCancelWhere_UniqueMatchesAgainstStoredDocument exercises the
// generated per-key clause against a real sqlite connection, confirming a
// cancel query naming only one of a job's unique keys still matches the
// row whose unique_json holds several.
func TestBuildCancelWhere_UniqueMatchesAgainstStoredDocument(t *testing.T) {
	st := openTestStore(t)
	sq, ok := st.(*sqliteStore)
	require.True(t, ok)

	ctx := context.Background()
	now := time.Now().UTC()
	_, _, err := st.Save(ctx, &agenda.JobSpec{
		Name:      "notify",
		NextRunAt: &now,
		Unique:    map[string]any{"guildId": "g1", "sourceId": "s1"},
	})
	require.NoError(t, err)

	where, args, err := buildCancelWhere("sqlite", agenda.CancelQuery{
		Unique: map[string]any{"guildId": "g1"},
	})
	require.NoError(t, err)

	row := sq.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scheduled_jobs WHERE "+where, args...)
	var count int
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 1, count)
}
