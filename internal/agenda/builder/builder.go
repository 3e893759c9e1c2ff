// Package builder provides the fluent JobBuilder used to describe and
// persist scheduled work.
package builder

import (
	"context"
	"strconv"
	"strings"
	"time"

	"agenda4go/internal/agenda"
	"agenda4go/internal/agenda/interval"

	"github.com/cockroachdb/errors"
)

// Saver persists a JobSpec. agenda's store.Store satisfies this; the
// builder depends on the narrow interface rather than the store package
// directly, so tests can fake it without a database.
type Saver interface {
	Save(ctx context.Context, spec *agenda.JobSpec) (*agenda.ScheduledJob, agenda.PersistResult, error)
}

// RepeatOptions configures a repeating schedule.
type RepeatOptions struct {
	// SkipImmediate delays a RepeatEvery job's first run by one interval.
	// Off (the default), the job is first due at build time; on, it is
	// first due one interval after build time. A RepeatAt ("AT HH:mm")
	// job is first due at the next occurrence of its time of day either
	// way.
	SkipImmediate bool
	// Timezone, when non-empty, sets the job's timezone just as the
	// builder's Timezone method does. Empty leaves the timezone as it is.
	Timezone string
}

// JobBuilder assembles a JobSpec for a job named name whose handler expects
// payload type T. Each mutator is idempotent — calling it again overwrites
// the previous value rather than accumulating — matching
// JobBuilder.java/SimpleJobBuilder.java's "last call wins" semantics.
type JobBuilder[T any] struct {
	saver Saver

	name string
	typ  agenda.JobType

	uniqueKey string
	unique    map[string]any

	priority agenda.Priority
	timezone string

	scheduleSpec   string
	scheduleAt     *time.Time
	repeatInterval string
	skipImmediate  bool

	data T
	err  error
}

// New starts building a job named name that will run with payload data.
func New[T any](saver Saver, name string, data T) *JobBuilder[T] {
	b := &JobBuilder[T]{saver: saver, name: strings.TrimSpace(name), data: data, typ: agenda.Normal}
	if b.name == "" {
		b.err = errors.Mark(errors.Newf("job name must not be empty"), agenda.ErrInvalidArgument)
	}
	return b
}

func (b *JobBuilder[T]) fail(err error) *JobBuilder[T] {
	if b.err == nil {
		b.err = err
	}
	return b
}

// Schedule sets a one-shot run time from a schedule expression (any of the
// four forms interval.Classify recognizes). Calling it again replaces the
// previously computed run time, not the schedule string retained for
// repetition — for a job that repeats, use RepeatEvery/RepeatAt instead.
func (b *JobBuilder[T]) Schedule(spec string) *JobBuilder[T] {
	if b.err != nil {
		return b
	}
	b.scheduleSpec = strings.TrimSpace(spec)
	b.scheduleAt = nil
	return b
}

// At sets a one-shot run time to an exact instant, bypassing schedule
// expression parsing entirely. Calling Schedule afterward overrides it, and
// vice versa — whichever was called last wins, matching every other
// mutator's "last call wins" rule.
func (b *JobBuilder[T]) At(when time.Time) *JobBuilder[T] {
	if b.err != nil {
		return b
	}
	b.scheduleSpec = ""
	b.scheduleAt = &when
	return b
}

// RepeatEvery sets spec as the job's recurring schedule. spec may be any of
// the four forms (numeric seconds, "AT HH:mm[:ss]", cron, human interval).
func (b *JobBuilder[T]) RepeatEvery(spec string, opts ...RepeatOptions) *JobBuilder[T] {
	if b.err != nil {
		return b
	}
	b.repeatInterval = strings.TrimSpace(spec)
	b.applyRepeatOptions(opts)
	return b
}

// RepeatEverySeconds is RepeatEvery for a plain numeric interval.
func (b *JobBuilder[T]) RepeatEverySeconds(seconds int, opts ...RepeatOptions) *JobBuilder[T] {
	if seconds <= 0 {
		return b.fail(errors.Mark(errors.Newf("repeat interval must be positive, got %d seconds", seconds), agenda.ErrInvalidArgument))
	}
	return b.RepeatEvery(strconv.Itoa(seconds), opts...)
}

// RepeatAt sets a recurring daily fixed time. "10:00" and "AT 10:00" are
// equivalent.
func (b *JobBuilder[T]) RepeatAt(timeOfDay string, opts ...RepeatOptions) *JobBuilder[T] {
	timeOfDay = strings.TrimSpace(timeOfDay)
	if !strings.HasPrefix(strings.ToUpper(timeOfDay), "AT ") {
		timeOfDay = "AT " + timeOfDay
	}
	return b.RepeatEvery(timeOfDay, opts...)
}

func (b *JobBuilder[T]) applyRepeatOptions(opts []RepeatOptions) {
	for _, o := range opts {
		b.skipImmediate = o.SkipImmediate
		if o.Timezone != "" {
			b.timezone = o.Timezone
		}
	}
}

// Timezone sets the IANA zone repeating schedules are evaluated in. Empty
// (the default) means the process's local zone. A zone name that
// time.LoadLocation does not know fails with ErrInvalidArgument.
func (b *JobBuilder[T]) Timezone(tz string) *JobBuilder[T] {
	if b.err != nil {
		return b
	}
	tz = strings.TrimSpace(tz)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return b.fail(errors.Mark(errors.Wrapf(err, "unknown timezone %q", tz), agenda.ErrInvalidArgument))
		}
	}
	b.timezone = tz
	return b
}

// Priority sets the ordering hint used when multiple jobs are due at once.
func (b *JobBuilder[T]) Priority(p agenda.Priority) *JobBuilder[T] {
	if b.err != nil {
		return b
	}
	b.priority = p
	return b
}

// Single marks the job as name-unique: saving again updates the one
// existing row for this name instead of inserting a new one. Single clears
// any unique key and selector fields set earlier by UniqueKey.
func (b *JobBuilder[T]) Single() *JobBuilder[T] {
	if b.err != nil {
		return b
	}
	b.typ = agenda.Single
	b.uniqueKey = ""
	b.unique = nil
	return b
}

// UniqueKey marks the job as a NORMAL job deduplicated by key, and stores
// the given selector fields with it: saving again with the same key updates
// the existing document instead of inserting a duplicate.
func (b *JobBuilder[T]) UniqueKey(key string, fields map[string]any) *JobBuilder[T] {
	if b.err != nil {
		return b
	}
	if strings.TrimSpace(key) == "" {
		return b.fail(errors.Mark(errors.Newf("unique key must not be empty"), agenda.ErrInvalidArgument))
	}
	b.typ = agenda.Normal
	b.uniqueKey = key
	b.unique = fields
	return b
}

// Build validates the accumulated mutations and returns the immutable spec,
// without persisting it. now is the instant "schedule now" and "repeat
// starting now" are computed relative to.
func (b *JobBuilder[T]) Build(now time.Time) (*agenda.JobSpec, error) {
	if b.err != nil {
		return nil, b.err
	}

	spec := &agenda.JobSpec{
		Name:           b.name,
		Type:           b.typ,
		UniqueKey:      b.uniqueKey,
		Unique:         b.unique,
		RepeatInterval: b.repeatInterval,
		RepeatTimezone: b.timezone,
		Priority:       b.priority,
		Data:           map[string]any{},
	}

	if err := encodeInto(&spec.Data, b.data); err != nil {
		return nil, err
	}

	switch {
	case b.scheduleAt != nil:
		at := *b.scheduleAt
		spec.NextRunAt = &at

	case b.scheduleSpec != "":
		next, err := interval.ComputeNextRunAt(b.scheduleSpec, b.timezone, nil, nil, now)
		if err != nil {
			return nil, err
		}
		spec.NextRunAt = next

	case b.repeatInterval != "":
		kind, err := interval.Classify(b.repeatInterval)
		if err != nil {
			return nil, err
		}
		next, err := interval.ComputeNextRunAt(b.repeatInterval, b.timezone, nil, nil, now)
		if err != nil {
			return nil, err
		}
		if kind != interval.DailyAt && !b.skipImmediate {
			next = &now
		}
		spec.NextRunAt = next

	default:
		spec.NextRunAt = &now
	}

	return spec, nil
}

// Save builds the spec and persists it via the configured Saver.
func (b *JobBuilder[T]) Save(ctx context.Context) (*agenda.ScheduledJob, agenda.PersistResult, error) {
	spec, err := b.Build(timeNow())
	if err != nil {
		return nil, agenda.NoOp, err
	}
	return b.saver.Save(ctx, spec)
}

// timeNow is a seam kept separate from Build's explicit now parameter so
// Save can be called without every caller threading a clock through.
func timeNow() time.Time { return time.Now() }
