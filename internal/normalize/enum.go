package normalize

import (
	"sort"
	"strings"

	"github.com/lucasnoah/reelfactory/internal/schema"
)

// MatchEnum maps free text onto a member of the field's enumeration.
// Matching is tried in order: folded equality with a member, folded
// equality with a declared alias, the longest member or alias that
// prefixes the value, then the longest one contained in it. Text with no
// match yields the field's default member.
func MatchEnum(f *schema.Field, s string) string {
	k := schema.Key(s)
	if k == "" {
		return enumDefault(f)
	}

	for _, e := range f.Enum {
		if e == s || schema.Key(e) == k {
			return e
		}
	}

	type entry struct{ key, member string }
	entries := make([]entry, 0, len(f.Enum)+len(f.EnumAliases))
	for _, e := range f.Enum {
		entries = append(entries, entry{schema.Key(e), e})
	}
	for alias, member := range f.EnumAliases {
		entries = append(entries, entry{schema.Key(alias), member})
	}
	// Longest key first, ties broken alphabetically, so matching is
	// independent of map iteration order.
	sort.Slice(entries, func(i, j int) bool {
		if len(entries[i].key) != len(entries[j].key) {
			return len(entries[i].key) > len(entries[j].key)
		}
		return entries[i].key < entries[j].key
	})

	for _, e := range entries {
		if e.key == k {
			return e.member
		}
	}
	for _, e := range entries {
		if e.key != "" && strings.HasPrefix(k, e.key) {
			return e.member
		}
	}
	for _, e := range entries {
		if len(e.key) >= 3 && strings.Contains(k, e.key) {
			return e.member
		}
	}
	return enumDefault(f)
}

func enumDefault(f *schema.Field) string {
	if f.EnumDefault != "" {
		return f.EnumDefault
	}
	if len(f.Enum) > 0 {
		return f.Enum[0]
	}
	return ""
}
