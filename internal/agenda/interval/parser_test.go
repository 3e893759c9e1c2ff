package interval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComputeNextRunAt_Numeric(t *testing.T) {
	base := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)

	next, err := ComputeNextRunAt("300", "UTC", nil, nil, base)
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, base.Add(300*time.Second), *next)
}

func TestComputeNextRunAt_HumanInterval(t *testing.T) {
	base := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)

	next, err := ComputeNextRunAt("5 minutes", "UTC", nil, nil, base)
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, base.Add(300*time.Second), *next)
}

func TestComputeNextRunAt_CronEveryFiveMinutes(t *testing.T) {
	base := time.Date(2026, 8, 6, 12, 0, 1, 0, time.UTC)

	next, err := ComputeNextRunAt("*/5 * * * *", "UTC", nil, nil, base)
	require.NoError(t, err)
	require.NotNil(t, next)

	want := time.Date(2026, 8, 6, 12, 5, 0, 0, time.UTC)
	require.Equal(t, want, *next)
	require.Equal(t, 299*time.Second, next.Sub(base))
}

func TestComputeNextRunAt_CronWithLookback(t *testing.T) {
	// previousNextRunAt is in the past (a missed fire); the next boundary is
	// still computed from the later of previousNextRunAt/finishedAt/now, so a
	// long-overdue job jumps to the next real 5-minute boundary rather than
	// firing continuously to catch up.
	now := time.Date(2026, 8, 6, 12, 7, 30, 0, time.UTC)
	prev := time.Date(2026, 8, 6, 11, 55, 0, 0, time.UTC)

	next, err := ComputeNextRunAt("*/5 * * * *", "UTC", &prev, nil, now)
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, time.Date(2026, 8, 6, 12, 10, 0, 0, time.UTC), *next)
}

func TestComputeNextRunAt_DailyAtRollsToTomorrow(t *testing.T) {
	base := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)

	next, err := ComputeNextRunAt("AT 10:00", "UTC", nil, nil, base)
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, time.Date(2026, 8, 7, 10, 0, 0, 0, time.UTC), *next)
}

func TestComputeNextRunAt_DailyAtLaterToday(t *testing.T) {
	base := time.Date(2026, 8, 6, 9, 0, 0, 0, time.UTC)

	next, err := ComputeNextRunAt("AT 10:00:30", "UTC", nil, nil, base)
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, time.Date(2026, 8, 6, 10, 0, 30, 0, time.UTC), *next)
}

func TestComputeNextRunAt_BlankSpecMeansNoRepeat(t *testing.T) {
	next, err := ComputeNextRunAt("", "UTC", nil, nil, time.Now())
	require.NoError(t, err)
	require.Nil(t, next)
}

func TestComputeNextRunAt_InvalidSpec(t *testing.T) {
	_, err := ComputeNextRunAt("not a schedule at all $$", "UTC", nil, nil, time.Now())
	require.Error(t, err)
}

func TestParseHumanInterval_DuplicateUnitRejected(t *testing.T) {
	_, err := parseHumanInterval("5m 3min")
	require.Error(t, err)
}

func TestParseHumanInterval_CompactForm(t *testing.T) {
	dur, err := parseHumanInterval("5m")
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, dur)

	dur, err = parseHumanInterval("3 hours 15 minutes")
	require.NoError(t, err)
	require.Equal(t, 3*time.Hour+15*time.Minute, dur)
}

func TestParseHumanInterval_TrailingGarbageRejected(t *testing.T) {
	_, err := parseHumanInterval("5m!!")
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	cases := map[string]Kind{
		"300":            Numeric,
		"AT 10:00":       DailyAt,
		"*/5 * * * *":    Cron,
		"5 minutes":      HumanInterval,
		"0 */5 * * * *":  Cron,
	}
	for spec, want := range cases {
		got, err := Classify(spec)
		require.NoError(t, err, spec)
		require.Equal(t, want, got, spec)
	}

	_, err := Classify("")
	require.Error(t, err)
}
