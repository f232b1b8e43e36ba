// Package fallback builds synthetic records for items whose model output
// could not be recovered.
package fallback

import (
	"strings"

	"github.com/lucasnoah/reelfactory/internal/normalize"
	"github.com/lucasnoah/reelfactory/internal/schema"
)

// padding extends placeholder text that is shorter than a field allows.
const padding = " (placeholder content)"

// Builder produces minimal valid records, marked degraded.
type Builder struct {
	registry *schema.Registry
}

// NewBuilder returns a Builder over the given registry.
func NewBuilder(registry *schema.Registry) *Builder {
	return &Builder{registry: registry}
}

// BuildDefault returns a degraded record of the named schema. When the
// schema has an ID field, itemID is written into it.
func (b *Builder) BuildDefault(schemaName, itemID string) schema.Record {
	s, ok := b.registry.Get(schemaName)
	if !ok {
		return schema.Record{Schema: schemaName, Data: map[string]any{}, Degraded: true}
	}
	return Build(s, itemID)
}

// Build is BuildDefault for a schema already in hand.
func Build(s *schema.Schema, itemID string) schema.Record {
	data := objectDefaults(s.Root)
	if s.Seed != nil {
		for k, v := range s.Seed(itemID) {
			data[k] = schema.Clone(v)
		}
	}
	if id, ok := s.PinID(itemID); ok {
		data[s.IDField] = id
	}
	return schema.Record{
		Schema:   s.Name,
		Version:  s.Version,
		Data:     normalize.Normalize(data, s),
		Degraded: true,
	}
}

func objectDefaults(o *schema.Object) map[string]any {
	m := make(map[string]any, len(o.Fields))
	for i := range o.Fields {
		f := &o.Fields[i]
		switch {
		case f.Required:
			m[f.Name] = fieldDefault(f)
		case f.Default != nil:
			m[f.Name] = schema.Clone(f.Default)
		}
	}
	return m
}

func fieldDefault(f *schema.Field) any {
	if f.Default != nil {
		return schema.Clone(f.Default)
	}
	switch f.Kind {
	case schema.String:
		if len(f.Enum) > 0 {
			if f.EnumDefault != "" {
				return f.EnumDefault
			}
			return f.Enum[0]
		}
		return placeholder(f)
	case schema.Int, schema.Millis:
		if f.Min != nil {
			return int64(*f.Min)
		}
		return int64(0)
	case schema.Float:
		if f.Min != nil {
			return *f.Min
		}
		return 0.0
	case schema.Bool:
		return false
	case schema.ObjectKind:
		return objectDefaults(f.Object)
	case schema.Array:
		items := make([]any, 0, f.MinItems)
		for i := 0; i < f.MinItems && f.Items != nil; i++ {
			items = append(items, fieldDefault(f.Items))
		}
		return items
	}
	return nil
}

func placeholder(f *schema.Field) string {
	text := f.Placeholder
	if text == "" {
		text = "placeholder"
	}
	for len(text) < f.MinLength {
		text += padding
	}
	if f.MaxLength > 0 && len(text) > f.MaxLength {
		text = strings.TrimSpace(text[:f.MaxLength])
	}
	return text
}
