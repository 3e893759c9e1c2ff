package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"agenda4go/internal/agenda"
	"agenda4go/internal/agenda/registry"
	"agenda4go/internal/agenda/store"
	"agenda4go/internal/eventbus"

	logx "agenda4go/pkg/logx"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(context.Background(), store.Config{Driver: "sqlite", Path: filepath.Join(dir, "agenda.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition not met before timeout")
}

func TestService_ClaimExecuteReschedule(t *testing.T) {
	st := openTestStore(t)
	var runs atomic.Int32

	reg, err := registry.New(registry.NewTyped("greet", func(ctx context.Context, job *agenda.ScheduledJob, payload map[string]any) error {
		runs.Add(1)
		return nil
	}))
	require.NoError(t, err)

	cfg := Config{Enabled: true, WorkerID: "w1", ProcessEvery: 20 * time.Millisecond}
	svc := New(cfg, logx.Nop(), eventbus.New(), st, reg)

	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop(context.Background())

	now := time.Now()
	_, _, err = st.Save(context.Background(), &agenda.JobSpec{
		Name:           "greet",
		RepeatInterval: "1h",
		NextRunAt:      &now,
		Data:           map[string]any{"who": "world"},
	})
	require.NoError(t, err)

	waitFor(t, 2*time.Second, func() bool { return runs.Load() == 1 })

	snap := svc.Snapshot()
	require.Len(t, snap.History, 1)
	require.Equal(t, "greet", snap.History[0].Name)
}

// TestService_PreClaimsWithinWindowBeforeDispatching exercises the
// two-stage pipeline directly: a job due partway through the poller's
// window is claimed (and so counted in Snapshot().Claimed, and locked in
// the store) as soon as the window covering it is polled, well before its
// actual due time — but must not actually run until the dispatcher
// releases it at that due time.
func TestService_PreClaimsWithinWindowBeforeDispatching(t *testing.T) {
	st := openTestStore(t)
	var ran atomic.Int32

	reg, err := registry.New(registry.NewTyped("later", func(ctx context.Context, job *agenda.ScheduledJob, payload map[string]any) error {
		ran.Add(1)
		return nil
	}))
	require.NoError(t, err)

	cfg := Config{Enabled: true, WorkerID: "w1", ProcessEvery: 200 * time.Millisecond}
	svc := New(cfg, logx.Nop(), eventbus.New(), st, reg)
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop(context.Background())

	due := time.Now().Add(350 * time.Millisecond)
	job, _, err := st.Save(context.Background(), &agenda.JobSpec{Name: "later", NextRunAt: &due})
	require.NoError(t, err)

	// The first poll (at ProcessEvery ~= 200ms) opens a window running to
	// ~400ms, which covers the 350ms due time: the job is claimed here,
	// well before it is actually due.
	waitFor(t, time.Second, func() bool { return svc.Snapshot().Claimed > 0 })
	require.EqualValues(t, 0, ran.Load(), "a pre-claimed job must not run before its due time")

	stored, err := st.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, "w1", stored.LockedBy, "pre-claiming must lock the job in the store")

	waitFor(t, time.Second, func() bool { return ran.Load() == 1 })
}

func TestService_NoRetryErrorIsNotRetried(t *testing.T) {
	st := openTestStore(t)
	var attempts atomic.Int32

	reg, err := registry.New(registry.NewTyped("flaky", func(ctx context.Context, job *agenda.ScheduledJob, payload map[string]any) error {
		attempts.Add(1)
		return agenda.NoRetry(context.DeadlineExceeded)
	}))
	require.NoError(t, err)

	cfg := Config{Enabled: true, WorkerID: "w1", ProcessEvery: 20 * time.Millisecond, MaxRetryCount: 3}
	svc := New(cfg, logx.Nop(), eventbus.New(), st, reg)
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop(context.Background())

	now := time.Now()
	_, _, err = st.Save(context.Background(), &agenda.JobSpec{Name: "flaky", NextRunAt: &now})
	require.NoError(t, err)

	waitFor(t, 2*time.Second, func() bool { return attempts.Load() == 1 })
	time.Sleep(100 * time.Millisecond)
	require.EqualValues(t, 1, attempts.Load(), "NoRetry error must not be retried")
}

func TestService_MaxRetryCountDisablesAtBoundary(t *testing.T) {
	st := openTestStore(t)
	reg, err := registry.New()
	require.NoError(t, err)

	cfg := Config{Enabled: true, WorkerID: "w1", MaxRetryCount: 3}
	svc := New(cfg, logx.Nop(), eventbus.New(), st, reg)

	now := time.Now()
	_, _, err = st.Save(context.Background(), &agenda.JobSpec{Name: "flaky", NextRunAt: &now})
	require.NoError(t, err)

	claimed, err := st.ClaimNext(context.Background(), "w1", now.Add(time.Minute), now, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Second of three allowed attempts: a retry must still be scheduled.
	claimed.FailCount = 1
	svc.finish(context.Background(), claimed, time.Now(), errors.New("boom"))
	job, err := st.Get(context.Background(), claimed.ID)
	require.NoError(t, err)
	require.NotNil(t, job.NextRunAt, "attempt 2 of 3 should still be retried")

	claimNow := now.Add(time.Hour)
	reclaimed, err := st.ClaimNext(context.Background(), "w1", claimNow.Add(time.Minute), claimNow, claimNow)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)

	// Third of three allowed attempts: maxRetryCount must disable further
	// runs on this attempt, not the one after it (attempt >= maxRetryCount).
	reclaimed.FailCount = 2
	svc.finish(context.Background(), reclaimed, time.Now(), errors.New("boom again"))
	job2, err := st.Get(context.Background(), reclaimed.ID)
	require.NoError(t, err)
	require.Nil(t, job2.NextRunAt, "attempt 3 of 3 must disable further runs")
}

func TestService_StartStopIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	reg, err := registry.New()
	require.NoError(t, err)

	cfg := Config{Enabled: true, WorkerID: "w1", ProcessEvery: 50 * time.Millisecond}
	svc := New(cfg, logx.Nop(), eventbus.New(), st, reg)

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Start(context.Background()))
	svc.Stop(context.Background())
	svc.Stop(context.Background())
}

func TestService_DisabledStartReturnsError(t *testing.T) {
	st := openTestStore(t)
	reg, err := registry.New()
	require.NoError(t, err)

	svc := New(Config{Enabled: false}, logx.Nop(), eventbus.New(), st, reg)
	require.ErrorIs(t, svc.Start(context.Background()), agenda.ErrDisabled)
}

func TestPermitPool_LimitsPerNameConcurrency(t *testing.T) {
	cfg := Config{MaxConcurrency: 10, DefaultConcurrency: 1, NameCacheSize: 16}.withDefaults()
	cfg.MaxConcurrency = 10
	cfg.DefaultConcurrency = 1
	pool := newPermitPool(cfg)

	release1, err := pool.acquire(context.Background(), "job-a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = pool.acquire(ctx, "job-a")
	require.Error(t, err, "second acquire for the same name should block until released")

	release1()
	release2, err := pool.acquire(context.Background(), "job-a")
	require.NoError(t, err)
	release2()
}
