// Package jsonutil is the single choke point for parsing LLM output.
//
// Model responses are expected to carry a JSON object, usually wrapped in
// markdown fences or surrounded by prose. Extract and ExtractTo tolerate
// all of that and fail closed: malformed output yields an empty map (or
// false), never an error. Every "parse model output" call site in the
// workflow goes through this package.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Extract returns the JSON object contained in s as a map.
//
// Resolution order: fenced content (```json ... ```), the outermost
// {...} span, then the first balanced object. If none of those parse,
// an empty map is returned. Extract never fails.
func Extract(s string) map[string]interface{} {
	for _, candidate := range candidates(s) {
		var out map[string]interface{}
		if err := json.Unmarshal([]byte(candidate), &out); err == nil && out != nil {
			return out
		}
	}
	return map[string]interface{}{}
}

// ExtractTo unmarshals the JSON object contained in s into v and reports
// whether anything was decoded. On false, v should be treated as unset.
func ExtractTo(s string, v interface{}) bool {
	for _, candidate := range candidates(s) {
		if err := json.Unmarshal([]byte(candidate), v); err == nil {
			return true
		}
	}
	return false
}

// candidates yields the successive extraction attempts for s.
func candidates(s string) []string {
	cleaned := strings.TrimSpace(stripCodeFences(s))
	if cleaned == "" {
		return nil
	}
	out := []string{cleaned}
	if start, end := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}"); start >= 0 && end > start {
		out = append(out, cleaned[start:end+1])
	}
	if obj := balancedObject(cleaned); obj != "" {
		out = append(out, obj)
	}
	return out
}

// stripCodeFences removes a markdown code fence wrapper (```json ... ```
// or plain ```), returning s unchanged when no fence is present.
func stripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	firstNewline := strings.Index(trimmed, "\n")
	if firstNewline == -1 {
		return s
	}
	lastFence := strings.LastIndex(trimmed, "```")
	if lastFence <= firstNewline {
		return s
	}
	return strings.TrimSpace(trimmed[firstNewline+1 : lastFence])
}

// balancedObject returns the first brace-balanced object in s, skipping
// braces inside string literals. Returns "" when no balanced object ends.
func balancedObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
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
				return s[start : i+1]
			}
		}
	}
	return ""
}

// =============================================================================
// TYPED MAP ACCESS
// =============================================================================
//
// Safe accessors for the map[string]interface{} values Extract produces.
// They absorb the type drift typical of LLM output (numbers as strings,
// booleans as "true") instead of panicking on bare type assertions.

// String returns the value at key rendered as a string, or "" when the
// key is absent or nil.
func String(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// StringOr returns the value at key, or fallback when absent or empty.
func StringOr(m map[string]interface{}, key, fallback string) string {
	if s := String(m, key); s != "" {
		return s
	}
	return fallback
}

// Float returns the numeric value at key. Handles JSON numbers and
// numeric strings. Returns (0, false) when incompatible.
func Float(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// FloatOr returns the numeric value at key or fallback.
func FloatOr(m map[string]interface{}, key string, fallback float64) float64 {
	if f, ok := Float(m, key); ok {
		return f
	}
	return fallback
}

// Int returns the integer value at key. JSON numbers are truncated.
func Int(m map[string]interface{}, key string) (int, bool) {
	f, ok := Float(m, key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Bool returns the boolean value at key. Handles bool and "true"/"false"
// strings. Returns (false, false) when incompatible.
func Bool(m map[string]interface{}, key string) (bool, bool) {
	switch v := m[key].(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes":
			return true, true
		case "false", "no":
			return false, true
		}
		return false, false
	default:
		return false, false
	}
}

// StringSlice returns the list at key with every element rendered as a
// string. Non-list values yield nil.
func StringSlice(m map[string]interface{}, key string) []string {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case nil:
			// skip
		default:
			out = append(out, fmt.Sprintf("%v", v))
		}
	}
	return out
}

// MapSlice returns the list of objects at key, skipping non-object
// elements. Non-list values yield nil.
func MapSlice(m map[string]interface{}, key string) []map[string]interface{} {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if obj, ok := item.(map[string]interface{}); ok {
			out = append(out, obj)
		}
	}
	return out
}

// Map returns the nested object at key, or an empty map when absent or
// not an object.
func Map(m map[string]interface{}, key string) map[string]interface{} {
	if obj, ok := m[key].(map[string]interface{}); ok {
		return obj
	}
	return map[string]interface{}{}
}
