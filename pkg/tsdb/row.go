package tsdb

import (
	"encoding/json"
	"fmt"
)

// UnmarshalJSON decodes a flat result-row object. String-valued members are
// grouping fields; array-valued members are series point sequences. Other
// member types are rejected.
func (r *Row) UnmarshalJSON(data []byte) error {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}

	r.Fields = make(map[string]string)
	r.Series = make(map[string][]Point)

	for name, raw := range members {
		if len(raw) == 0 {
			continue
		}
		switch raw[0] {
		case '"':
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("field %q: %w", name, err)
			}
			r.Fields[name] = s
		case '[':
			var points []Point
			if err := json.Unmarshal(raw, &points); err != nil {
				return fmt.Errorf("series %q: %w", name, err)
			}
			r.Series[name] = points
		case 'n': // null, ignored
		default:
			return fmt.Errorf("member %q has unsupported type", name)
		}
	}
	return nil
}

// MarshalJSON re-encodes the row in its flat wire shape. Used by tests and
// fixtures.
func (r Row) MarshalJSON() ([]byte, error) {
	members := make(map[string]any, len(r.Fields)+len(r.Series))
	for name, value := range r.Fields {
		members[name] = value
	}
	for name, points := range r.Series {
		members[name] = points
	}
	return json.Marshal(members)
}

// UnmarshalJSON decodes one [timestamp, value] pair. The value may be null.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("point has %d elements, want 2", len(pair))
	}
	if err := json.Unmarshal(pair[0], &p.TS); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if err := json.Unmarshal(pair[1], &p.Value); err != nil {
		return fmt.Errorf("value: %w", err)
	}
	return nil
}

// MarshalJSON encodes the pair back to [timestamp, value].
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.TS, p.Value})
}
