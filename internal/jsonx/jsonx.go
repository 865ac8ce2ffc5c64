// Package jsonx parses potentially incomplete JSON from streaming
// responses. Providers stream tool-call arguments as raw JSON fragments;
// Parse turns any prefix of a well-formed document into the best structured
// snapshot available so far.
package jsonx

import (
	"encoding/json"
	"strings"
)

// Parse returns the best-effort object for a possibly-incomplete JSON
// document. Complete documents parse exactly; prefixes are completed by
// closing open strings, arrays, and objects. Returns an empty map when no
// interpretation works.
func Parse(text string) map[string]any {
	if text == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		if out == nil {
			return map[string]any{}
		}
		return out
	}
	if err := json.Unmarshal([]byte(Complete(text)), &out); err == nil && out != nil {
		return out
	}
	return map[string]any{}
}

// ParseStrict parses a complete JSON object, rejecting prefixes.
func ParseStrict(text string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// Complete closes an incomplete JSON document: a quoted string mid-escape
// loses the dangling backslash, open strings get their closing quote, and
// open arrays/objects are closed in nesting order. Dangling commas and
// colons are repaired so the result stays syntactically valid.
func Complete(text string) string {
	var stack []byte // open '{' and '['
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
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
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.Grow(len(text) + len(stack) + 8)

	trimmed := text
	if inString && escaped {
		trimmed = trimmed[:len(trimmed)-1] // drop the dangling backslash
	}
	b.WriteString(trimmed)
	if inString {
		b.WriteByte('"')
	}

	// Repair a value-position cut: {"a": or {"a":1,
	tail := strings.TrimRight(b.String(), " \t\r\n")
	if strings.HasSuffix(tail, ":") {
		b.WriteString("null")
	} else if strings.HasSuffix(tail, ",") {
		b.Reset()
		b.WriteString(strings.TrimRight(tail, ","))
	}

	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}
