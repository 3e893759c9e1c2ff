package interval

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"agenda4go/internal/agenda"

	"github.com/cockroachdb/errors"
)

// tokenRe matches one "<digits><letters>" run, with optional whitespace
// around it. A human interval is a sequence of these with nothing left over,
// e.g. "3 hours 15 minutes" or the compact "5m".
var tokenRe = regexp.MustCompile(`(\d+)\s*([A-Za-z]+)`)

// unitSeconds maps every accepted spelling (word form, plural, and the
// single-letter compact forms) to its length in seconds. A month is fixed at
// 30 days, matching original_source's IntervalParser.
var unitSeconds = map[string]int64{
	"s": 1, "sec": 1, "secs": 1, "second": 1, "seconds": 1,

	"m": 60, "min": 60, "mins": 60, "minute": 60, "minutes": 60,

	"h": 3600, "hr": 3600, "hrs": 3600, "hour": 3600, "hours": 3600,

	"d": 86400, "day": 86400, "days": 86400,

	"w": 604800, "week": 604800, "weeks": 604800,

	"month": 2592000, "months": 2592000,
}

// unitFamily groups spellings that must not both appear in the same
// expression: "5m 3min" is a duplicate unit, not eight minutes.
var unitFamily = map[string]string{
	"s": "second", "sec": "second", "secs": "second", "second": "second", "seconds": "second",
	"m": "minute", "min": "minute", "mins": "minute", "minute": "minute", "minutes": "minute",
	"h": "hour", "hr": "hour", "hrs": "hour", "hour": "hour", "hours": "hour",
	"d": "day", "day": "day", "days": "day",
	"w": "week", "week": "week", "weeks": "week",
	"month": "month", "months": "month",
}

// parseHumanInterval parses a sequence of "<number><unit>" pairs (spaces
// optional between and within pairs) into a duration. Every character of
// spec must be consumed by a match or be whitespace, and no unit family may
// repeat.
func parseHumanInterval(spec string) (time.Duration, error) {
	trimmed := strings.TrimSpace(spec)
	if trimmed == "" {
		return 0, errors.Newf("empty human interval")
	}

	matches := tokenRe.FindAllStringSubmatchIndex(trimmed, -1)
	if matches == nil {
		return 0, errors.Newf("not a human interval: %q", spec)
	}

	seen := make(map[string]bool, len(matches))
	var totalSeconds int64
	cursor := 0

	for _, m := range matches {
		start, end := m[0], m[1]
		if strings.TrimSpace(trimmed[cursor:start]) != "" {
			return 0, errors.Newf("not a human interval: %q", spec)
		}
		numStr := trimmed[m[2]:m[3]]
		unitStr := strings.ToLower(trimmed[m[4]:m[5]])

		family, ok := unitFamily[unitStr]
		if !ok {
			return 0, errors.Mark(errors.Newf("unrecognized interval unit %q in %q", unitStr, spec), agenda.ErrInvalidSchedule)
		}
		if seen[family] {
			return 0, errors.Mark(errors.Newf("duplicate interval unit %q in %q", family, spec), agenda.ErrInvalidSchedule)
		}
		seen[family] = true

		n, err := strconv.ParseInt(numStr, 10, 64)
		if err != nil {
			return 0, errors.Mark(errors.Wrapf(err, "invalid interval count in %q", spec), agenda.ErrInvalidSchedule)
		}
		totalSeconds += n * unitSeconds[unitStr]
		cursor = end
	}

	if strings.TrimSpace(trimmed[cursor:]) != "" {
		return 0, errors.Newf("not a human interval: %q", spec)
	}
	if totalSeconds <= 0 {
		return 0, errors.Mark(errors.Newf("human interval %q resolves to zero duration", spec), agenda.ErrInvalidSchedule)
	}
	return time.Duration(totalSeconds) * time.Second, nil
}
