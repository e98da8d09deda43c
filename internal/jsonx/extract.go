// Package jsonx recovers well-formed JSON values from model replies that wrap
// them in commentary or code fences.
package jsonx

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned by ExtractFirst when no candidate parses.
var ErrNoJSON = errors.New("no JSON value found in text")

// Candidates returns the raw text of every balanced {...} or [...] span in
// left-to-right order, whether or not it parses.
//
// Depth counts unescaped brackets outside strings. A candidate starts when
// depth goes 0->1 and closes when it returns to 0. A backslash escapes the
// next character unconditionally, so an escaped quote or bracket never moves
// the string flag or the depth.
func Candidates(text string) []string {
	var out []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		ch := text[i]

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
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '{', '[':
			if depth == 0 {
				start = i
			}
			depth++
		case '}', ']':
			if depth == 0 {
				// Stray closer before any opener.
				continue
			}
			depth--
			if depth == 0 {
				out = append(out, text[start:i+1])
				start = -1
			}
		}
	}
	return out
}

// ExtractAll parses every balanced candidate and returns the values that are
// valid JSON, in order of appearance. Candidates that fail to parse are
// dropped silently. The result is empty (not nil) when nothing parses.
func ExtractAll(text string) []any {
	values := make([]any, 0)
	for _, c := range Candidates(text) {
		var v any
		if err := json.Unmarshal([]byte(c), &v); err != nil {
			continue
		}
		values = append(values, v)
	}
	return values
}

// ExtractFirst decodes the first candidate that unmarshals into v.
// Candidates of the wrong shape for v are skipped like unparseable ones.
func ExtractFirst(text string, v any) error {
	for _, c := range Candidates(text) {
		if err := json.Unmarshal([]byte(c), v); err == nil {
			return nil
		}
	}
	return ErrNoJSON
}

// ExtractObjects returns only the JSON objects among the parsed values.
func ExtractObjects(text string) []map[string]any {
	var out []map[string]any
	for _, v := range ExtractAll(text) {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// StripFences removes a surrounding markdown code fence, if any, and returns
// the inner text. Text without a fence is returned trimmed.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	// Drop the opening fence line including any language tag.
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		return ""
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}
