package store

import (
	"encoding/json"
	"sort"
	"strings"

	"agenda4go/internal/agenda"

	"github.com/cockroachdb/errors"
)

// buildCancelWhere turns a CancelQuery into a "?"-placeholder WHERE clause
// (no leading "WHERE") and its argument list. Both backends accept "?"
// placeholders directly: database/sql for sqlite, and gorm.DB.Raw/Exec
// translate "?" to the dialect's own placeholder style for postgres.
//
// Unique-field matching is per-key against the nested unique_json document
// rather than whole-blob equality, mirroring agenda4j's CancelQuery: a
// caller that passes only a subset of the keys a job was saved under (say
// {guildId: "g1"} for a job saved with {guildId: "g1", sourceId: "s1"})
// still matches it, instead of requiring every key to be present and the
// map to compare byte-for-byte.
func buildCancelWhere(dialect string, q agenda.CancelQuery) (string, []any, error) {
	var clauses []string
	var args []any

	if q.Name != "" {
		clauses = append(clauses, "name = ?")
		args = append(args, q.Name)
	}
	if q.UniqueKey != "" {
		clauses = append(clauses, "unique_key = ?")
		args = append(args, q.UniqueKey)
	}
	for _, key := range sortedUniqueKeys(q.Unique) {
		text, err := uniqueValueText(q.Unique[key])
		if err != nil {
			return "", nil, errors.Wrapf(err, "encode cancel query unique field %q", key)
		}
		switch dialect {
		case "postgres":
			clauses = append(clauses, "unique_json ->> ? = ?")
		default:
			// SQLite's json_extract returns JSON true/false as the
			// integers 1/0, so a bool is compared in that form.
			if b, ok := q.Unique[key].(bool); ok {
				text = "0"
				if b {
					text = "1"
				}
			}
			clauses = append(clauses, "CAST(json_extract(unique_json, '$.' || ?) AS TEXT) = ?")
		}
		args = append(args, key, text)
	}

	if len(clauses) == 0 {
		return "", nil, errors.Mark(errors.Newf("cancel query has no selector"), agenda.ErrInvalidArgument)
	}
	return strings.Join(clauses, " AND "), args, nil
}

// sortedUniqueKeys gives buildCancelWhere a deterministic clause order so
// the generated SQL (and its test expectations) don't flap between runs.
func sortedUniqueKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// uniqueValueText renders a Unique map value the way it will read back out
// of the stored JSON document's nested field, so the comparison in
// buildCancelWhere's generated clause lines up on both backends (for
// SQLite, buildCancelWhere rewrites bools to 1/0 itself).
func uniqueValueText(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		if t {
			return "true", nil
		}
		return "false", nil
	case nil:
		return "", nil
	default:
		buf, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(buf), nil
	}
}
