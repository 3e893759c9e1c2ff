package interval

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"agenda4go/internal/agenda"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

// Kind names the schedule-expression form a spec string parsed as.
type Kind int

const (
	Numeric Kind = iota
	DailyAt
	Cron
	HumanInterval
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case DailyAt:
		return "daily-at"
	case Cron:
		return "cron"
	case HumanInterval:
		return "human-interval"
	default:
		return "unknown"
	}
}

var (
	numericRe = regexp.MustCompile(`^[0-9]+$`)
	dailyAtRe = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)(?::([0-5]\d))?$`)

	// cronParser is configured for exactly six fields: seconds are required,
	// never optional, because the spec always normalizes a 5-field cron
	// expression to six before parsing (see parseCron).
	cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
)

// Classify reports which of the four forms spec would parse as, without
// computing a next-run time. Used by callers (e.g. the builder) that want to
// validate a schedule string eagerly.
func Classify(spec string) (Kind, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, errors.Mark(errors.Newf("empty schedule expression"), agenda.ErrInvalidSchedule)
	}
	switch {
	case numericRe.MatchString(spec):
		return Numeric, nil
	case strings.HasPrefix(strings.ToUpper(spec), "AT "):
		return DailyAt, nil
	}
	if _, err := parseCron(spec); err == nil {
		return Cron, nil
	}
	if _, err := parseHumanInterval(spec); err == nil {
		return HumanInterval, nil
	}
	return 0, errors.Mark(errors.Newf("unrecognized schedule expression %q", spec), agenda.ErrInvalidSchedule)
}

// ComputeNextRunAt resolves spec against a base instant, the latest of now,
// previousNextRunAt and finishedAt (either pointer may be nil), and returns
// the next absolute run time. zone is an IANA zone name; blank or unknown
// names fall back to the process's local zone. A blank spec is not an
// error: it returns (nil, nil), meaning "does not repeat".
func ComputeNextRunAt(spec, zone string, previousNextRunAt, finishedAt *time.Time, now time.Time) (*time.Time, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	loc, err := resolveZone(zone)
	if err != nil {
		loc = time.Local
	}

	base := now
	if previousNextRunAt != nil && (base.IsZero() || previousNextRunAt.After(base)) {
		base = *previousNextRunAt
	}
	if finishedAt != nil && finishedAt.After(base) {
		base = *finishedAt
	}
	base = base.In(loc)

	next, err := next(spec, loc, base)
	if err != nil {
		return nil, err
	}
	return &next, nil
}

// next dispatches spec to the form-specific computation, in the precedence
// order numeric > daily-at > cron > human-interval.
func next(spec string, loc *time.Location, base time.Time) (time.Time, error) {
	switch {
	case numericRe.MatchString(spec):
		secs, err := strconv.ParseInt(spec, 10, 64)
		if err != nil || secs <= 0 {
			return time.Time{}, errors.Mark(errors.Newf("numeric schedule %q must be a positive integer", spec), agenda.ErrInvalidSchedule)
		}
		return base.Add(time.Duration(secs) * time.Second), nil

	case strings.HasPrefix(strings.ToUpper(spec), "AT "):
		return nextDailyAt(spec, loc, base)
	}

	if sched, err := parseCron(spec); err == nil {
		return sched.Next(base), nil
	}

	if dur, err := parseHumanInterval(spec); err == nil {
		return base.Add(dur), nil
	}

	return time.Time{}, errors.Mark(errors.Newf("unrecognized schedule expression %q", spec), agenda.ErrInvalidSchedule)
}

func nextDailyAt(spec string, loc *time.Location, base time.Time) (time.Time, error) {
	timeOfDay := strings.TrimSpace(spec[3:])
	m := dailyAtRe.FindStringSubmatch(timeOfDay)
	if m == nil {
		return time.Time{}, errors.Mark(errors.Newf("invalid daily-at schedule %q, want AT HH:mm[:ss]", spec), agenda.ErrInvalidSchedule)
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	second := 0
	if m[3] != "" {
		second, _ = strconv.Atoi(m[3])
	}

	candidate := time.Date(base.Year(), base.Month(), base.Day(), hour, minute, second, 0, loc)
	if !candidate.After(base) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate, nil
}

// parseCron normalizes and validates spec as a cron expression, returning the
// parsed schedule without evaluating it against any particular time.
func parseCron(spec string) (cron.Schedule, error) {
	fields := strings.Fields(spec)
	switch len(fields) {
	case 5:
		fields = append([]string{"0"}, fields...)
	case 6:
		// already seconds-first
	default:
		return nil, errors.Newf("not a cron expression: %q", spec)
	}

	// original_source substitutes "?" for the day-of-week field when both
	// day-of-month and day-of-week are "*", to disambiguate "run every day"
	// from "run on no particular day of week". robfig/cron's standard field
	// parser does not accept "?" (that is Quartz-only syntax); "*" already
	// means "unconstrained" in both fields, so the substitution has no
	// observable effect on Next() and is not performed here.
	normalized := strings.Join(fields, " ")

	sched, err := cronParser.Parse(normalized)
	if err != nil {
		return nil, errors.Wrapf(err, "not a cron expression: %q", spec)
	}
	return sched, nil
}

func resolveZone(zone string) (*time.Location, error) {
	zone = strings.TrimSpace(zone)
	if zone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "unknown timezone %q", zone), agenda.ErrInvalidSchedule)
	}
	return loc, nil
}
