package builder

import (
	"encoding/json"

	"agenda4go/internal/agenda"

	"github.com/cockroachdb/errors"
)

// encodeInto round-trips data through JSON into *dst. Payload types are
// arbitrary structs or maps; encoding/json is the same mechanism every
// config loader in this codebase already uses to move between typed Go
// values and a generic map, so a generic payload has no reason to use
// anything else.
func encodeInto(dst *map[string]any, data any) error {
	buf, err := json.Marshal(data)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "encode job payload"), agenda.ErrInvalidArgument)
	}
	out := map[string]any{}
	if err := json.Unmarshal(buf, &out); err != nil {
		return errors.Mark(errors.Wrapf(err, "job payload %T must encode as a JSON object", data), agenda.ErrInvalidArgument)
	}
	*dst = out
	return nil
}
