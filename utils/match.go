package utils

import "strings"

// MatchPattern reports whether value matches pattern. Patterns are literal
// strings with '*' wildcards; a '*' matches any run of characters,
// including none. "file:*" matches "file:42", "*" matches everything.
func MatchPattern(value, pattern string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return value == pattern
	}
	if !strings.HasPrefix(value, parts[0]) {
		return false
	}
	value = value[len(parts[0]):]
	for i, part := range parts[1:] {
		if part == "" {
			// trailing '*' swallows the rest
			if i == len(parts)-2 {
				return true
			}
			continue
		}
		idx := strings.Index(value, part)
		if idx < 0 {
			return false
		}
		// the final literal must sit at the end of the value
		if i == len(parts)-2 && !strings.HasSuffix(value, part) {
			return false
		}
		value = value[idx+len(part):]
	}
	return true
}

// MatchAction matches an action against a pattern. A bare "*" covers every
// action; otherwise wildcard matching applies, so "document.*" covers
// "document.read".
func MatchAction(pattern, actual string) bool {
	if pattern == "*" || pattern == actual {
		return true
	}
	return MatchPattern(actual, pattern)
}
