package common

import "strings"

// ContainsAnyFold reports whether s contains any of the substrings, ignoring case.
func ContainsAnyFold(s string, subs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// Tail returns at most the last n bytes of s, trimmed of surrounding whitespace.
func Tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
