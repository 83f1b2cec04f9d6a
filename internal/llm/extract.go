package llm

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/goccy/go-json"
)

// ParseError reports that no structured value could be recovered from a
// provider response.
type ParseError struct {
	Err  error
	Tool string
	Raw  string
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: failed to parse provider response: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s: no JSON found in provider response", e.Tool)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	fencePattern    = regexp.MustCompile("(?s)```(?:json|JSON)?[ \\t]*\\n?(.*?)```")
	preamblePattern = regexp.MustCompile(`(?i)^\s*(?:here(?:'s| is| are)[^:\n]*:|sure[^:\n]*:|response:|answer:|output:|result:|json:)\s*`)
)

// ExtractJSONObject recovers the first JSON object from text. Strategies, in
// order: the whole trimmed text, the first fenced code block, the first
// balanced {...} span, and the balanced span after stripping a preamble.
func ExtractJSONObject(text string) (json.RawMessage, bool) {
	return extract(text, '{', '}')
}

// ExtractJSONArray is ExtractJSONObject for a top-level array.
func ExtractJSONArray(text string) (json.RawMessage, bool) {
	return extract(text, '[', ']')
}

func extract(text string, open, closeCh byte) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(text)
	if raw, ok := validAs(trimmed, open); ok {
		return raw, true
	}
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		if raw, ok := validAs(strings.TrimSpace(m[1]), open); ok {
			return raw, true
		}
	}
	if raw, ok := scanBalanced(text, open, closeCh); ok {
		return raw, true
	}
	if stripped := preamblePattern.ReplaceAllString(trimmed, ""); stripped != trimmed {
		return scanBalanced(stripped, open, closeCh)
	}
	return nil, false
}

func validAs(s string, open byte) (json.RawMessage, bool) {
	if s == "" || s[0] != open || !json.Valid([]byte(s)) {
		return nil, false
	}
	return json.RawMessage(s), true
}

// scanBalanced finds the first span that opens with open, closes at depth
// zero, and parses. Quotes and backslash escapes inside strings are honored.
func scanBalanced(s string, open, closeCh byte) (json.RawMessage, bool) {
	for start := strings.IndexByte(s, open); start >= 0; {
		depth, inString, escaped := 0, false, false
		end := -1
		for i := start; i < len(s) && end < 0; i++ {
			c := s[i]
			switch {
			case escaped:
				escaped = false
			case inString && c == '\\':
				escaped = true
			case c == '"':
				inString = !inString
			case inString:
			case c == open:
				depth++
			case c == closeCh:
				depth--
				if depth == 0 {
					end = i
				}
			}
		}
		if end >= 0 {
			if candidate := s[start : end+1]; json.Valid([]byte(candidate)) {
				return json.RawMessage(candidate), true
			}
		}
		next := strings.IndexByte(s[start+1:], open)
		if next < 0 {
			return nil, false
		}
		start += next + 1
	}
	return nil, false
}

// DecodeObject extracts a JSON object from text into v, returning a
// *ParseError naming tool on failure.
func DecodeObject(tool, text string, v any) error {
	raw, ok := ExtractJSONObject(text)
	if !ok {
		return &ParseError{Tool: tool, Raw: text}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &ParseError{Tool: tool, Raw: text, Err: err}
	}
	return nil
}

// DecodeArray extracts a JSON array from text into v.
func DecodeArray(tool, text string, v any) error {
	raw, ok := ExtractJSONArray(text)
	if !ok {
		return &ParseError{Tool: tool, Raw: text}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &ParseError{Tool: tool, Raw: text, Err: err}
	}
	return nil
}
