package schema

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Key folds a name or enumeration value to lowercase letters and digits,
// so "Scene Number", "sceneNumber" and "scene_number" compare equal.
func Key(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// ToFloat converts numeric values and numeric strings.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// ToInt converts numeric values and numeric strings, rounding fractions.
func ToInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	f, ok := ToFloat(v)
	if !ok || math.Abs(f) > math.MaxInt64/2 {
		return 0, false
	}
	return int64(math.Round(f)), true
}

var durationRe = regexp.MustCompile(`(?i)^\s*(-?\d+(?:\.\d+)?)\s*(ms|msec|millis|milliseconds?|s|sec|secs|seconds?|m|min|mins|minutes?)?\s*$`)

// ToMillis converts a duration to integer milliseconds. Bare numbers are
// already milliseconds; strings may carry a unit suffix.
func ToMillis(v any) (int64, bool) {
	s, isString := v.(string)
	if !isString {
		return ToInt(v)
	}
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	switch unit := strings.ToLower(m[2]); {
	case unit == "" || strings.HasPrefix(unit, "ms") || strings.HasPrefix(unit, "milli"):
	case strings.HasPrefix(unit, "s"):
		f *= 1000
	default:
		f *= 60000
	}
	return int64(math.Round(f)), true
}

// ToBool converts booleans, 0/1 and yes/no style strings.
func ToBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch Key(b) {
		case "true", "yes", "y", "1", "on":
			return true, true
		case "false", "no", "n", "0", "off", "none":
			return false, true
		}
		return false, false
	}
	if n, ok := ToFloat(v); ok {
		return n != 0, true
	}
	return false, false
}

// ToString converts scalars to their text form. Maps and slices do not
// convert.
func ToString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case bool:
		return strconv.FormatBool(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case int:
		return strconv.Itoa(s), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	}
	return "", false
}

// Missing reports whether a map entry is absent or null.
func Missing(m map[string]any, key string) bool {
	v, ok := m[key]
	return !ok || v == nil
}
