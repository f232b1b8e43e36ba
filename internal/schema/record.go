package schema

import (
	"encoding/json"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Record is a normalized, validated value of one schema.
type Record struct {
	Schema  string
	Version string
	Data    map[string]any
	// Degraded marks records produced or salvaged by fallback paths.
	Degraded bool
}

// MarshalJSON writes the record data only, so persisted records match
// their schema exactly.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.Data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.Data)
}

// ID returns the record's identifier as text, or "" when the schema has none.
func (r Record) ID(s *Schema) string {
	if s == nil || s.IDField == "" {
		return ""
	}
	v, ok := r.Data[s.IDField]
	if !ok {
		return ""
	}
	str, _ := ToString(v)
	return str
}

// Decode copies the record into a typed struct using its json tags.
func (r Record) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(r.Data); err != nil {
		return fmt.Errorf("decode %s record: %w", r.Schema, err)
	}
	return nil
}

// Clone deep-copies JSON-shaped values (maps, slices and scalars).
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Clone(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	}
	return v
}

// CloneMap deep-copies a JSON object.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return Clone(m).(map[string]any)
}
