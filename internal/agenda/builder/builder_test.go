package builder

import (
	"context"
	"testing"
	"time"

	"agenda4go/internal/agenda"

	"github.com/stretchr/testify/require"
)

type fakeSaver struct {
	saved *agenda.JobSpec
}

func (f *fakeSaver) Save(_ context.Context, spec *agenda.JobSpec) (*agenda.ScheduledJob, agenda.PersistResult, error) {
	f.saved = spec
	return &agenda.ScheduledJob{ID: "job-1", JobSpec: *spec}, agenda.Created, nil
}

type welcomeEmail struct {
	UserID string `json:"user_id"`
}

func TestJobBuilder_Save(t *testing.T) {
	saver := &fakeSaver{}
	job, result, err := New(saver, "send-welcome-email", welcomeEmail{UserID: "u-1"}).
		Priority(agenda.PriorityHigh).
		Save(context.Background())

	require.NoError(t, err)
	require.Equal(t, agenda.Created, result)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, "u-1", saver.saved.Data["user_id"])
	require.Equal(t, agenda.PriorityHigh, saver.saved.Priority)
	require.NotNil(t, saver.saved.NextRunAt)
}

func TestJobBuilder_RepeatEveryComputesNextRunAt(t *testing.T) {
	saver := &fakeSaver{}
	now := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)

	spec, err := New(saver, "heartbeat", struct{}{}).
		RepeatEvery("5 minutes").
		Build(now)

	require.NoError(t, err)
	require.Equal(t, "5 minutes", spec.RepeatInterval)
	require.NotNil(t, spec.NextRunAt)
	require.Equal(t, now, *spec.NextRunAt)
}

func TestJobBuilder_RepeatAtPrefixesAT(t *testing.T) {
	saver := &fakeSaver{}
	spec, err := New(saver, "daily-report", struct{}{}).
		RepeatAt("10:00").
		Build(time.Date(2026, 8, 6, 9, 0, 0, 0, time.UTC))

	require.NoError(t, err)
	require.Equal(t, "AT 10:00", spec.RepeatInterval)
}

func TestJobBuilder_EmptyNameRejected(t *testing.T) {
	saver := &fakeSaver{}
	_, err := New(saver, "  ", struct{}{}).Build(time.Now())
	require.Error(t, err)
	require.ErrorIs(t, err, agenda.ErrInvalidArgument)
}

func TestJobBuilder_InvalidRepeatSpecRejected(t *testing.T) {
	saver := &fakeSaver{}
	_, err := New(saver, "bad", struct{}{}).RepeatEvery("not a schedule $$").Build(time.Now())
	require.Error(t, err)
}

func TestJobBuilder_SingleSetsType(t *testing.T) {
	saver := &fakeSaver{}
	spec, err := New(saver, "singleton", struct{}{}).Single().Build(time.Now())
	require.NoError(t, err)
	require.Equal(t, agenda.Single, spec.Type)
}

func TestJobBuilder_UniqueKeyRejectsEmpty(t *testing.T) {
	saver := &fakeSaver{}
	_, err := New(saver, "dedup", struct{}{}).UniqueKey("", nil).Build(time.Now())
	require.Error(t, err)
	require.ErrorIs(t, err, agenda.ErrInvalidArgument)
}
