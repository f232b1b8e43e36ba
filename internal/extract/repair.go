package extract

import (
	"strings"
)

// repairPass is one textual repair. Passes are applied cumulatively in
// the order of repairPasses.
type repairPass struct {
	name string
	fn   func(string) string
}

var repairPasses = []repairPass{
	{"trailing_commas", removeTrailingCommas},
	{"missing_commas", insertMissingCommas},
	{"control_chars", escapeControlChars},
	{"python_literals", replacePythonLiterals},
	{"incomplete_line", dropIncompleteLine},
	{"unterminated_string", closeUnterminatedString},
	{"balance_brackets", balanceBrackets},
	{"trailing_commas_final", removeTrailingCommas},
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isLiteralByte(c byte) bool {
	return c == '-' || c == '+' || c == '.' ||
		(c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// nextSignificant returns the first non-space byte at or after i, or 0.
func nextSignificant(s string, i int) byte {
	for ; i < len(s); i++ {
		if !isSpace(s[i]) {
			return s[i]
		}
	}
	return 0
}

// removeTrailingCommas drops commas that directly precede a closer or the
// end of input.
func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			if n := nextSignificant(s, i+1); n == '}' || n == ']' || n == 0 {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// insertMissingCommas adds a comma where one value ends and the next
// begins with nothing between them, e.g. `} {` or `"a" "b"`.
func insertMissingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	inString, escaped, inLiteral := false, false, false
	valueEnded := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				valueEnded = nextSignificant(s, i+1) != ':'
			}
			continue
		}
		if inLiteral && !isLiteralByte(c) {
			inLiteral = false
			valueEnded = true
		}
		switch {
		case c == '"' || c == '{' || c == '[':
			if valueEnded {
				b.WriteByte(',')
			}
			valueEnded = false
			inString = c == '"'
		case c == '}' || c == ']':
			valueEnded = true
		case c == ',' || c == ':':
			valueEnded = false
		case isSpace(c):
		case isLiteralByte(c):
			if !inLiteral {
				if valueEnded {
					b.WriteByte(',')
				}
				inLiteral = true
				valueEnded = false
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// escapeControlChars escapes raw newlines and tabs inside strings and
// removes other control characters.
func escapeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			case c == '\n':
				b.WriteString(`\n`)
				continue
			case c == '\r':
				b.WriteString(`\r`)
				continue
			case c == '\t':
				b.WriteString(`\t`)
				continue
			case c < 0x20:
				continue
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if c < 0x20 && !isSpace(c) {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// replacePythonLiterals rewrites bare True/False/None outside strings.
func replacePythonLiterals(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
		}
		if (c == 'T' || c == 'F' || c == 'N') && (i == 0 || !isLiteralByte(s[i-1])) {
			replaced := false
			for word, lit := range map[string]string{"True": "true", "False": "false", "None": "null"} {
				end := i + len(word)
				if strings.HasPrefix(s[i:], word) && (end == len(s) || !isLiteralByte(s[end])) {
					b.WriteString(lit)
					i = end - 1
					replaced = true
					break
				}
			}
			if replaced {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// dropIncompleteLine removes the last non-empty line when it does not end
// in a character that can terminate a JSON value or structure.
func dropIncompleteLine(s string) string {
	lines := strings.Split(s, "\n")
	last := len(lines) - 1
	for last >= 0 && strings.TrimSpace(lines[last]) == "" {
		last--
	}
	if last <= 0 {
		return s
	}
	trimmed := strings.TrimSpace(lines[last])
	switch trimmed[len(trimmed)-1] {
	case '"', '}', ']', ',', '{', '[', 'e', 'l',
		'0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return s
	}
	return strings.Join(lines[:last], "\n")
}

// closeUnterminatedString closes a string literal left open at the end of
// input.
func closeUnterminatedString(s string) string {
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		}
	}
	if !inString {
		return s
	}
	if escaped {
		s = s[:len(s)-1]
	}
	return s + `"`
}

var closerFor = map[byte]byte{'{': '}', '[': ']'}

// balanceBrackets closes unclosed structures in nesting order, inserts a
// closer where a mismatched one appears, and prepends openers for
// closers that have none.
func balanceBrackets(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	var stack []byte
	var prepend []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			for len(stack) > 0 && closerFor[stack[len(stack)-1]] != c {
				b.WriteByte(closerFor[stack[len(stack)-1]])
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 {
				if c == '}' {
					prepend = append(prepend, '{')
				} else {
					prepend = append(prepend, '[')
				}
			} else {
				stack = stack[:len(stack)-1]
			}
		}
		b.WriteByte(c)
	}

	out := b.String()
	if inString {
		out += `"`
	}
	if len(stack) > 0 {
		out = strings.TrimRight(out, " \t\r\n")
		switch {
		case strings.HasSuffix(out, ":"):
			out += " null"
		case strings.HasSuffix(out, ","):
			out = out[:len(out)-1]
		}
		for i := len(stack) - 1; i >= 0; i-- {
			out += string(closerFor[stack[i]])
		}
	}
	if len(prepend) > 0 {
		var p strings.Builder
		for i := len(prepend) - 1; i >= 0; i-- {
			p.WriteByte(prepend[i])
		}
		out = p.String() + out
	}
	return out
}
