package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var keyPattern = regexp.MustCompile(`"([^"]+)"\s*:`)

// StripFences removes markdown code fences the model sometimes wraps around
// its JSON answer, plus surrounding whitespace.
func StripFences(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}

	return strings.TrimSpace(s)
}

// RepairTruncation closes unbalanced braces and brackets left by output that
// was cut off mid-structure. Delimiters inside string literals are ignored.
// A trailing dangling token (an unterminated string, a half-written key or a
// trailing comma) is finished or trimmed before the closers are appended.
func RepairTruncation(s string) string {
	var stack []byte
	inString := false
	escaped := false
	stringStart := -1 // opening quote index of the string being scanned

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			if inString {
				stringStart = i
			}
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '{', '[':
			stack = append(stack, ch)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if len(stack) == 0 && !inString {
		return s
	}

	if inString {
		// Mid-escape cuts leave a bare backslash that would swallow the
		// closing quote.
		if escaped {
			s = s[:len(s)-1]
		}
		if isDanglingKey(s, stringStart) {
			s = s[:stringStart]
		} else {
			s += `"`
		}
	}

	s = strings.TrimRight(s, " \t\r\n")
	s = strings.TrimSuffix(s, ",")

	// Drop a dangling `"key":` with no value behind it.
	if loc := keyPattern.FindAllStringIndex(s, -1); len(loc) > 0 {
		last := loc[len(loc)-1]
		if strings.TrimSpace(s[last[1]:]) == "" {
			s = strings.TrimRight(strings.TrimSpace(s[:last[0]]), " \t\r\n,")
		}
	}

	var closers strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			closers.WriteByte('}')
		} else {
			closers.WriteByte(']')
		}
	}

	return s + closers.String()
}

// isDanglingKey reports whether the unterminated string opening at start is an
// object key (preceded by `{` or `,` inside an object) rather than a value.
func isDanglingKey(s string, start int) bool {
	for i := start - 1; i >= 0; i-- {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		case ',':
			// A comma introduces a key only in objects; scan outward for the
			// enclosing container.
			return enclosingContainer(s, i) == '{'
		default:
			return false
		}
	}
	return false
}

// enclosingContainer returns the innermost unmatched opener before pos, or 0.
func enclosingContainer(s string, pos int) byte {
	depth := 0
	inString := false
	// Walk backwards; strings are assumed balanced up to pos.
	for i := pos - 1; i >= 0; i-- {
		ch := s[i]
		if ch == '"' && (i == 0 || s[i-1] != '\\') {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '}', ']':
			depth++
		case '{', '[':
			if depth == 0 {
				return ch
			}
			depth--
		}
	}
	return 0
}

// LastKeyHint returns the last complete JSON key in s, used to point at where
// truncated output broke off. Empty when no key is present.
func LastKeyHint(s string) string {
	matches := keyPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1][1]
}

// DecodeObject turns raw model output into a JSON object. Markdown fences are
// stripped and truncated output is repaired before giving up. A top-level
// array is wrapped under an "items" key so callers always get an object.
func DecodeObject(raw string) (map[string]any, error) {
	cleaned := StripFences(raw)

	if obj, err := decodeOnce(cleaned); err == nil {
		return obj, nil
	}

	repaired := RepairTruncation(cleaned)
	obj, err := decodeOnce(repaired)
	if err != nil {
		if hint := LastKeyHint(cleaned); hint != "" {
			return nil, fmt.Errorf("failed to parse LLM response as JSON (last complete key: %q): %w", hint, err)
		}
		return nil, fmt.Errorf("failed to parse LLM response as JSON: %w", err)
	}
	return obj, nil
}

func decodeOnce(s string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case []any:
		return map[string]any{"items": t}, nil
	default:
		return nil, fmt.Errorf("response is not a JSON object or array")
	}
}
