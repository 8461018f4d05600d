// Package typeutil provides safe accessors for loosely typed values decoded
// from JSON, such as the error objects posted by the capture widget.
// None of the helpers panic on unexpected shapes.
package typeutil

import "strings"

// SafeMapStringAny safely asserts value to map[string]any.
func SafeMapStringAny(value any) (map[string]any, bool) {
	if value == nil {
		return nil, false
	}
	m, ok := value.(map[string]any)
	return m, ok
}

// SafeString safely asserts value to string.
func SafeString(value any) (string, bool) {
	if value == nil {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

// GetNestedValue gets a value from nested maps using a dot-separated path.
// Example: GetNestedValue(detail, "error.state") returns detail["error"]["state"].
func GetNestedValue(data map[string]any, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}

	current := any(data)
	for _, key := range splitPath(path) {
		m, ok := SafeMapStringAny(current)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// GetNestedString gets a nested string value.
func GetNestedString(data map[string]any, path string) (string, bool) {
	v, ok := GetNestedValue(data, path)
	if !ok {
		return "", false
	}
	return SafeString(v)
}

// FirstString returns the first non-blank string found at any of paths.
func FirstString(data map[string]any, paths ...string) (string, bool) {
	for _, path := range paths {
		if s, ok := GetNestedString(data, path); ok && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

// splitPath splits a dot-separated path into keys, skipping empty segments.
func splitPath(path string) []string {
	parts := strings.Split(path, ".")
	result := parts[:0]
	for _, p := range parts {
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
