// Package normalize canonicalizes parsed model output against a schema:
// field aliases, derived fields, unit coercion, defaults and enum values.
package normalize

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/lucasnoah/reelfactory/internal/schema"
)

// Report lists what normalization changed, as JSON-pointer paths.
type Report struct {
	Aliased   []string `json:"aliased,omitempty"`
	Dropped   []string `json:"dropped,omitempty"`
	Defaulted []string `json:"defaulted,omitempty"`
}

// Empty reports whether normalization changed nothing structural.
func (r Report) Empty() bool {
	return len(r.Aliased) == 0 && len(r.Dropped) == 0 && len(r.Defaulted) == 0
}

// Normalize returns a canonical copy of parsed. The input is not modified.
func Normalize(parsed map[string]any, s *schema.Schema) map[string]any {
	out, _ := NormalizeWithReport(parsed, s)
	return out
}

// NormalizeWithReport is Normalize plus a report of renamed, dropped and
// defaulted fields.
func NormalizeWithReport(parsed map[string]any, s *schema.Schema) (map[string]any, Report) {
	n := &normalizer{}
	in := schema.CloneMap(parsed)
	if in == nil {
		in = map[string]any{}
	}
	out := n.object("", s.Root, in)
	return out, n.report
}

type normalizer struct {
	report Report
}

type candidate struct {
	key      string
	priority int
	null     bool
}

func (c candidate) better(o candidate) bool {
	if c.null != o.null {
		return !c.null
	}
	if c.priority != o.priority {
		return c.priority < o.priority
	}
	return c.key < o.key
}

// resolveAliases renames alias spellings to canonical field names. Keys
// that match no field are kept for Derive hooks and dropped afterwards.
func (n *normalizer) resolveAliases(path string, obj *schema.Object, raw map[string]any) map[string]any {
	type target struct {
		field    string
		priority int
	}
	lookup := make(map[string]target)
	for _, f := range obj.Fields {
		lookup[schema.Key(f.Name)] = target{f.Name, 1}
	}
	for _, f := range obj.Fields {
		for i, a := range f.Aliases {
			k := schema.Key(a)
			if _, taken := lookup[k]; !taken {
				lookup[k] = target{f.Name, 2 + i}
			}
		}
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best := make(map[string]candidate)
	m := make(map[string]any, len(raw))
	for _, k := range keys {
		t, ok := lookup[schema.Key(k)]
		if !ok {
			m[k] = raw[k]
			continue
		}
		c := candidate{key: k, priority: t.priority, null: raw[k] == nil}
		if k == t.field {
			c.priority = 0
		}
		if cur, seen := best[t.field]; !seen || c.better(cur) {
			best[t.field] = c
		}
	}
	var renamed []string
	for field, c := range best {
		m[field] = raw[c.key]
		if c.key != field {
			renamed = append(renamed, fmt.Sprintf("%s/%s -> %s", path, c.key, field))
		}
	}
	sort.Strings(renamed)
	n.report.Aliased = append(n.report.Aliased, renamed...)
	return m
}

func (n *normalizer) object(path string, obj *schema.Object, raw map[string]any) map[string]any {
	m := n.resolveAliases(path, obj, raw)
	for _, h := range obj.Derive {
		h(m)
	}

	out := make(map[string]any, len(obj.Fields))
	for i := range obj.Fields {
		f := &obj.Fields[i]
		fp := path + "/" + f.Name
		if v, ok := m[f.Name]; ok && v != nil {
			if cv, ok := n.value(fp, f, v); ok {
				out[f.Name] = cv
				continue
			}
		}
		if dv, ok := n.missing(fp, f); ok {
			out[f.Name] = dv
		}
	}

	var unknown []string
	for k := range m {
		if _, known := obj.Field(k); !known {
			unknown = append(unknown, path+"/"+k)
		}
	}
	sort.Strings(unknown)
	n.report.Dropped = append(n.report.Dropped, unknown...)

	for _, h := range obj.Finish {
		h(out)
	}
	return out
}

// value coerces v to the field's kind. ok is false when v cannot
// represent the field, which is then treated as missing.
func (n *normalizer) value(path string, f *schema.Field, v any) (any, bool) {
	switch f.Kind {
	case schema.String:
		return stringValue(f, v)
	case schema.Int:
		i, ok := schema.ToInt(v)
		if !ok {
			return nil, false
		}
		return clampInt(f, i), true
	case schema.Millis:
		i, ok := schema.ToMillis(v)
		if !ok {
			return nil, false
		}
		return clampInt(f, i), true
	case schema.Float:
		x, ok := schema.ToFloat(v)
		if !ok {
			return nil, false
		}
		return clampFloat(f, x), true
	case schema.Bool:
		return schema.ToBool(v)
	case schema.ObjectKind:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		return n.object(path, f.Object, m), true
	case schema.Array:
		items := n.array(path, f, v)
		if len(items) == 0 && f.Required && f.MinItems > 0 {
			return nil, false
		}
		return items, true
	}
	return nil, false
}

func (n *normalizer) array(path string, f *schema.Field, v any) []any {
	items, ok := v.([]any)
	if !ok {
		items = []any{v}
	}
	out := make([]any, 0, len(items))
	for i, e := range items {
		if e == nil {
			continue
		}
		if f.Items == nil {
			out = append(out, e)
			continue
		}
		if f.Items.Kind == schema.ObjectKind && f.Wrap != "" {
			if _, isMap := e.(map[string]any); !isMap {
				e = map[string]any{f.Wrap: e}
			}
		}
		cv, ok := n.value(fmt.Sprintf("%s/%d", path, i), f.Items, e)
		if !ok {
			n.report.Dropped = append(n.report.Dropped, fmt.Sprintf("%s/%d", path, i))
			continue
		}
		out = append(out, cv)
	}
	if f.MaxItems > 0 && len(out) > f.MaxItems {
		for i := f.MaxItems; i < len(out); i++ {
			n.report.Dropped = append(n.report.Dropped, fmt.Sprintf("%s/%d", path, i))
		}
		out = out[:f.MaxItems]
	}
	return out
}

// missing returns the value injected for an absent, null or unusable field.
func (n *normalizer) missing(path string, f *schema.Field) (any, bool) {
	if f.Default != nil {
		n.report.Defaulted = append(n.report.Defaulted, path)
		if v, ok := n.value(path, f, schema.Clone(f.Default)); ok {
			return v, true
		}
		return schema.Clone(f.Default), true
	}
	if !f.Required {
		return nil, false
	}
	n.report.Defaulted = append(n.report.Defaulted, path)
	switch f.Kind {
	case schema.String:
		if len(f.Enum) > 0 {
			return enumDefault(f), true
		}
		return f.Placeholder, true
	case schema.Int, schema.Millis:
		if f.Min != nil {
			return int64(*f.Min), true
		}
		return int64(0), true
	case schema.Float:
		if f.Min != nil {
			return *f.Min, true
		}
		return 0.0, true
	case schema.Bool:
		return false, true
	case schema.Array:
		return n.fill(path, f), true
	case schema.ObjectKind:
		return n.object(path, f.Object, map[string]any{}), true
	}
	return nil, false
}

// fill builds the minimum number of default elements for a required list
// of objects. Lists of scalars have no sensible default element.
func (n *normalizer) fill(path string, f *schema.Field) []any {
	items := []any{}
	if f.Items == nil || f.Items.Kind != schema.ObjectKind {
		return items
	}
	for i := 0; i < f.MinItems; i++ {
		items = append(items, n.object(fmt.Sprintf("%s/%d", path, i), f.Items.Object, map[string]any{}))
	}
	return items
}

func stringValue(f *schema.Field, v any) (any, bool) {
	if raw, ok := v.(string); ok && freeTextValid(f, raw) {
		return raw, true
	}
	s, ok := schema.ToString(v)
	if !ok {
		parts, isList := v.([]any)
		if !isList {
			return nil, false
		}
		var words []string
		for _, p := range parts {
			if ps, ok := schema.ToString(p); ok && strings.TrimSpace(ps) != "" {
				words = append(words, strings.TrimSpace(ps))
			}
		}
		s = strings.Join(words, " ")
	}
	s = strings.TrimSpace(s)
	if f.Canon != nil {
		s = f.Canon(s)
	}
	if s == "" {
		return nil, false
	}
	if len(f.Enum) > 0 {
		return MatchEnum(f, s), true
	}
	if f.Clamp && f.MaxLength > 0 && utf8.RuneCountInString(s) > f.MaxLength {
		s = strings.TrimSpace(string([]rune(s)[:f.MaxLength]))
	}
	return s, true
}

// freeTextValid reports whether s already satisfies a field with no
// enum, canonical form or pattern. Such strings are kept byte for byte.
func freeTextValid(f *schema.Field, s string) bool {
	if len(f.Enum) > 0 || f.Canon != nil || f.Pattern != "" {
		return false
	}
	if strings.TrimSpace(s) == "" {
		return false
	}
	n := utf8.RuneCountInString(s)
	if f.MinLength > 0 && n < f.MinLength {
		return false
	}
	return f.MaxLength == 0 || n <= f.MaxLength
}

func clampInt(f *schema.Field, i int64) int64 {
	if !f.Clamp {
		return i
	}
	if f.Min != nil && float64(i) < *f.Min {
		i = int64(*f.Min)
	}
	if f.Max != nil && float64(i) > *f.Max {
		i = int64(*f.Max)
	}
	return i
}

func clampFloat(f *schema.Field, x float64) float64 {
	if !f.Clamp {
		return x
	}
	if f.Min != nil && x < *f.Min {
		x = *f.Min
	}
	if f.Max != nil && x > *f.Max {
		x = *f.Max
	}
	return x
}
