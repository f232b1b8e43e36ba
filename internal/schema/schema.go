package schema

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Kind is the declared type of a field.
type Kind int

const (
	String Kind = iota + 1
	Int
	Float
	Bool
	// Millis is an integer millisecond duration. Strings carrying a unit
	// suffix ("1.5s", "1000ms") are accepted on input.
	Millis
	ObjectKind
	Array
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Millis:
		return "millis"
	case ObjectKind:
		return "object"
	case Array:
		return "array"
	}
	return "unknown"
}

// Field declares one member of an Object.
type Field struct {
	Name     string
	Kind     Kind
	Required bool

	// Aliases are alternative spellings that resolve to Name.
	Aliases []string
	// Default is injected when the value is missing or null.
	Default any
	// Placeholder is the text used for a required string with no value.
	Placeholder string

	Enum        []string
	EnumAliases map[string]string
	EnumDefault string

	Pattern   string
	Canon     func(string) string
	MinLength int
	MaxLength int

	Min *float64
	Max *float64
	// Clamp pulls numbers into [Min, Max] and truncates strings to MaxLength.
	Clamp bool

	MinItems int
	MaxItems int
	Items    *Field
	// Wrap names the field a bare scalar array element is wrapped into
	// when Items is an object.
	Wrap string

	Object *Object
}

// Hook mutates an object map during normalization. Hooks must be
// deterministic and must leave an already-normalized map unchanged.
type Hook func(m map[string]any)

// Object is an ordered set of fields plus normalization hooks.
type Object struct {
	Fields []Field
	// Derive runs after alias resolution, before field coercion.
	// Unknown keys are still visible.
	Derive []Hook
	// Finish runs after every field has been coerced.
	Finish []Hook
}

// Field returns the named field declaration.
func (o *Object) Field(name string) (*Field, bool) {
	for i := range o.Fields {
		if o.Fields[i].Name == name {
			return &o.Fields[i], true
		}
	}
	return nil, false
}

// Schema is a named, versioned contract for one record type.
type Schema struct {
	Name    string
	Version string
	Root    *Object
	// IDField is the field carrying the item identifier, if any.
	IDField string
	// Seed returns content overlaid on generic fallback values.
	Seed func(itemID string) map[string]any

	compiled *jsonschema.Schema
}

// PinID converts an item identifier into the typed value of the ID field.
// ok is false when the schema has no ID field or the identifier does not
// fit the field's type.
func (s *Schema) PinID(itemID string) (any, bool) {
	if s.IDField == "" || itemID == "" {
		return nil, false
	}
	f, found := s.Root.Field(s.IDField)
	if !found {
		return nil, false
	}
	switch f.Kind {
	case Int, Millis:
		n, err := strconv.ParseInt(itemID, 10, 64)
		if err != nil {
			return nil, false
		}
		return n, true
	case String:
		if f.Canon != nil {
			return f.Canon(itemID), true
		}
		return itemID, true
	}
	return nil, false
}

// Registry holds the schemas available to a run. It is immutable once built.
type Registry struct {
	schemas map[string]*Schema
}

// NewRegistry compiles every schema and returns a registry holding them.
func NewRegistry(schemas ...*Schema) (*Registry, error) {
	r := &Registry{schemas: make(map[string]*Schema, len(schemas))}
	for _, s := range schemas {
		if s.Name == "" {
			return nil, fmt.Errorf("schema without name")
		}
		if _, dup := r.schemas[s.Name]; dup {
			return nil, fmt.Errorf("duplicate schema %q", s.Name)
		}
		if err := s.compile(); err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", s.Name, err)
		}
		r.schemas[s.Name] = s
	}
	return r, nil
}

// Get returns the named schema.
func (r *Registry) Get(name string) (*Schema, bool) {
	s, ok := r.schemas[name]
	return s, ok
}

// Names returns the registered schema names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.schemas))
	for n := range r.schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func ptr(f float64) *float64 { return &f }
