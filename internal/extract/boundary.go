package extract

import (
	"regexp"
	"strings"
)

// fencePattern matches a markdown code block, tolerating a missing
// closing fence. Captures: (1) language tag, (2) content.
var fencePattern = regexp.MustCompile("(?s)```([A-Za-z0-9_-]*)[^\\n]*\\n(.*?)(?:\\n```|```|\\z)")

var fenceMarker = regexp.MustCompile("```[A-Za-z0-9_-]*")

// Boundary strips code fences and returns the outermost {...} span of
// text. ok is false when the text has no opening brace followed by a
// closing one.
func Boundary(text string) (span string, ok bool) {
	body, fenced := fencedBlock(text)
	if !fenced {
		body = fenceMarker.ReplaceAllString(text, "")
	}

	start := strings.IndexByte(body, '{')
	if start < 0 {
		return "", false
	}
	if s, matched := matchBraces(body[start:]); matched {
		return s, true
	}
	// Unbalanced: keep everything up to the last closer and let repair
	// balance the rest.
	end := strings.LastIndexByte(body, '}')
	if end <= start {
		return "", false
	}
	return body[start : end+1], true
}

// fencedBlock returns the first json (or untagged) code block that
// contains an object.
func fencedBlock(text string) (string, bool) {
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		lang := strings.ToLower(m[1])
		if lang != "" && lang != "json" && lang != "jsonc" && lang != "javascript" {
			continue
		}
		if strings.Contains(m[2], "{") {
			return m[2], true
		}
	}
	return "", false
}

// matchBraces returns the prefix of s (which starts with '{') up to its
// matching '}', skipping braces inside string literals.
func matchBraces(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}
