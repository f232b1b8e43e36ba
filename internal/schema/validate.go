package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// messagePrinter renders validation error kinds.
var messagePrinter = message.NewPrinter(language.English)

// FieldError is one schema violation, located by JSON pointer.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Document returns the JSON Schema (draft 2020-12) equivalent of the
// declaration.
func (s *Schema) Document() map[string]any {
	doc := objectDoc(s.Root)
	doc["$schema"] = "https://json-schema.org/draft/2020-12/schema"
	doc["title"] = s.Name
	doc["description"] = fmt.Sprintf("%s record, version %s", s.Name, s.Version)
	return doc
}

func objectDoc(o *Object) map[string]any {
	props := make(map[string]any, len(o.Fields))
	var required []any
	for i := range o.Fields {
		f := &o.Fields[i]
		props[f.Name] = fieldDoc(f)
		if f.Required {
			required = append(required, f.Name)
		}
	}
	doc := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

func fieldDoc(f *Field) map[string]any {
	var doc map[string]any
	switch f.Kind {
	case ObjectKind:
		doc = objectDoc(f.Object)
	case Array:
		doc = map[string]any{"type": "array"}
		if f.Items != nil {
			doc["items"] = fieldDoc(f.Items)
		}
		if f.MinItems > 0 {
			doc["minItems"] = f.MinItems
		}
		if f.MaxItems > 0 {
			doc["maxItems"] = f.MaxItems
		}
	case String:
		doc = map[string]any{"type": "string"}
		if len(f.Enum) > 0 {
			enum := make([]any, len(f.Enum))
			for i, e := range f.Enum {
				enum[i] = e
			}
			doc["enum"] = enum
		}
		if f.Pattern != "" {
			doc["pattern"] = f.Pattern
		}
		if f.MinLength > 0 {
			doc["minLength"] = f.MinLength
		}
		if f.MaxLength > 0 {
			doc["maxLength"] = f.MaxLength
		}
	case Int, Millis:
		doc = map[string]any{"type": "integer"}
	case Float:
		doc = map[string]any{"type": "number"}
	case Bool:
		doc = map[string]any{"type": "boolean"}
	default:
		doc = map[string]any{}
	}
	if f.Kind == Int || f.Kind == Millis || f.Kind == Float {
		if f.Min != nil {
			doc["minimum"] = *f.Min
		}
		if f.Max != nil {
			doc["maximum"] = *f.Max
		}
	}
	return doc
}

func (s *Schema) compile() error {
	raw, err := json.Marshal(s.Document())
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}

	name := s.Name + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		return fmt.Errorf("add resource: %w", err)
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		return err
	}
	s.compiled = sch
	return nil
}

// Validate checks data against the compiled schema and returns every
// violation found. An empty result means the data is valid.
func (s *Schema) Validate(data map[string]any) []FieldError {
	if s.compiled == nil {
		if err := s.compile(); err != nil {
			return []FieldError{{Path: "/", Message: err.Error()}}
		}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return []FieldError{{Path: "/", Message: fmt.Sprintf("not representable as JSON: %v", err)}}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return []FieldError{{Path: "/", Message: err.Error()}}
	}

	err = s.compiled.Validate(inst)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []FieldError{{Path: "/", Message: err.Error()}}
	}
	var errs []FieldError
	collectErrors(ve, &errs)
	return errs
}

func collectErrors(ve *jsonschema.ValidationError, errs *[]FieldError) {
	if len(ve.Causes) == 0 {
		*errs = append(*errs, FieldError{
			Path:    "/" + strings.Join(ve.InstanceLocation, "/"),
			Message: ve.ErrorKind.LocalizedString(messagePrinter),
		})
		return
	}
	for _, c := range ve.Causes {
		collectErrors(c, errs)
	}
}
