package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"agenda4go/internal/agenda"

	logx "agenda4go/pkg/logx"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(dir, "agenda.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteStore_SaveCreatesThenUpdates(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	spec := &agenda.JobSpec{
		Name:      "send-report",
		Type:      agenda.Single,
		NextRunAt: &now,
		Data:      map[string]any{"account": "acct-1"},
	}

	job, result, err := st.Save(ctx, spec)
	require.NoError(t, err)
	require.Equal(t, agenda.Created, result)
	require.NotEmpty(t, job.ID)

	spec.Data = map[string]any{"account": "acct-2"}
	job2, result2, err := st.Save(ctx, spec)
	require.NoError(t, err)
	require.Equal(t, agenda.Updated, result2)
	require.Equal(t, job.ID, job2.ID)
	require.Equal(t, "acct-2", job2.Data["account"])
}

func TestSQLiteStore_SaveIsNoOpWhenUnchanged(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	spec := &agenda.JobSpec{Name: "heartbeat", Type: agenda.Single, NextRunAt: &now, RepeatInterval: "60"}

	_, result, err := st.Save(ctx, spec)
	require.NoError(t, err)
	require.Equal(t, agenda.Created, result)

	_, result2, err := st.Save(ctx, spec)
	require.NoError(t, err)
	require.Equal(t, agenda.NoOp, result2)
}

func TestSQLiteStore_ClaimNextRespectsDueTimeAndLease(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	future := now.Add(time.Hour)

	_, _, err := st.Save(ctx, &agenda.JobSpec{Name: "not-due-yet", NextRunAt: &future})
	require.NoError(t, err)
	_, _, err = st.Save(ctx, &agenda.JobSpec{Name: "due-now", NextRunAt: &now})
	require.NoError(t, err)

	claimed, err := st.ClaimNext(ctx, "worker-1", now.Add(30*time.Second), now.Add(time.Second), now.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, "due-now", claimed.Name)
	require.Equal(t, "worker-1", claimed.LockedBy)

	// Already claimed and still leased: a second worker gets nothing else due.
	again, err := st.ClaimNext(ctx, "worker-2", now.Add(30*time.Second), now.Add(time.Second), now.Add(time.Second))
	require.NoError(t, err)
	require.Nil(t, again)
}

func TestSQLiteStore_ClaimNextBreaksDueTimeTieByPriority(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, _, err := st.Save(ctx, &agenda.JobSpec{Name: "low", NextRunAt: &now, Priority: agenda.PriorityLow})
	require.NoError(t, err)
	_, _, err = st.Save(ctx, &agenda.JobSpec{Name: "high", NextRunAt: &now, Priority: agenda.PriorityHigh})
	require.NoError(t, err)

	claimed, err := st.ClaimNext(ctx, "worker-1", now.Add(30*time.Second), now.Add(time.Second), now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, "high", claimed.Name)
}

func TestSQLiteStore_MarkSuccessClearsLeaseAndReschedules(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, _, err := st.Save(ctx, &agenda.JobSpec{Name: "job", NextRunAt: &now})
	require.NoError(t, err)
	claimed, err := st.ClaimNext(ctx, "worker-1", now.Add(30*time.Second), now.Add(time.Second), now.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, claimed)

	next := now.Add(time.Hour)
	require.NoError(t, st.MarkSuccess(ctx, claimed.ID, "worker-1", now.Add(2*time.Second), &next))

	job, err := st.Get(ctx, claimed.ID)
	require.NoError(t, err)
	require.Nil(t, job.LockUntil)
	require.Equal(t, 0, job.FailCount)
	require.WithinDuration(t, next, *job.NextRunAt, time.Millisecond)
}

func TestSQLiteStore_MarkSuccessRejectsStolenLease(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, _, err := st.Save(ctx, &agenda.JobSpec{Name: "job", NextRunAt: &now})
	require.NoError(t, err)
	claimed, err := st.ClaimNext(ctx, "worker-1", now.Add(30*time.Second), now.Add(time.Second), now.Add(time.Second))
	require.NoError(t, err)

	next := now.Add(time.Hour)
	err = st.MarkSuccess(ctx, claimed.ID, "someone-else", now.Add(2*time.Second), &next)
	require.Error(t, err)
	require.ErrorIs(t, err, agenda.ErrLeaseLost)
}

func TestSQLiteStore_MarkFailureRejectsStolenLease(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, _, err := st.Save(ctx, &agenda.JobSpec{Name: "job", NextRunAt: &now})
	require.NoError(t, err)
	claimed, err := st.ClaimNext(ctx, "worker-1", now.Add(30*time.Second), now.Add(time.Second), now.Add(time.Second))
	require.NoError(t, err)

	next := now.Add(time.Minute)
	err = st.MarkFailure(ctx, claimed.ID, "someone-else", now.Add(2*time.Second), &next, 1)
	require.Error(t, err)
	require.ErrorIs(t, err, agenda.ErrLeaseLost)

	require.NoError(t, st.MarkFailure(ctx, claimed.ID, "worker-1", now.Add(2*time.Second), &next, 1))
}

func TestSQLiteStore_ExtendFailsAfterLeaseLost(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, _, err := st.Save(ctx, &agenda.JobSpec{Name: "job", NextRunAt: &now})
	require.NoError(t, err)
	claimed, err := st.ClaimNext(ctx, "worker-1", now.Add(30*time.Second), now.Add(time.Second), now.Add(time.Second))
	require.NoError(t, err)

	err = st.Extend(ctx, claimed.ID, "someone-else", now.Add(time.Minute))
	require.Error(t, err)
	require.ErrorIs(t, err, agenda.ErrLeaseLost)

	require.NoError(t, st.Extend(ctx, claimed.ID, "worker-1", now.Add(time.Minute)))
}

func TestSQLiteStore_CancelDisableAndDelete(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, _, err := st.Save(ctx, &agenda.JobSpec{Name: "cancel-me", NextRunAt: &now})
	require.NoError(t, err)

	result, err := st.Cancel(ctx, agenda.CancelQuery{Name: "cancel-me"}, agenda.CancelOptions{Mode: agenda.Disable})
	require.NoError(t, err)
	require.Equal(t, 1, result.Matched)
	require.Equal(t, 1, result.Modified)
	require.True(t, result.HasEffect())

	result, err = st.Cancel(ctx, agenda.CancelQuery{Name: "cancel-me"}, agenda.CancelOptions{Mode: agenda.Delete})
	require.NoError(t, err)
	require.Equal(t, 1, result.Deleted)
}

func TestSQLiteStore_CancelWithEmptyQueryIsRejected(t *testing.T) {
	st := openTestStore(t)
	result, err := st.Cancel(context.Background(), agenda.CancelQuery{}, agenda.CancelOptions{})
	require.ErrorIs(t, err, agenda.ErrInvalidArgument)
	require.False(t, result.HasEffect())
}
