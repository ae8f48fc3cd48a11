// Package strings provides string helpers for configuration lists.
package strings

import (
	"strings"
)

// SplitList splits a comma-separated value, trimming each element and
// dropping empty elements and repeats. Order is preserved.
//
//	SplitList(" a, b,,a ") // []string{"a", "b"}
func SplitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return dedupe(strings.Split(raw, ","), strings.TrimSpace)
}

// Fold lowercases values and drops case-insensitive repeats, for host names
// and other case-insensitive identifiers.
func Fold(values []string) []string {
	return dedupe(values, func(s string) string {
		return strings.ToLower(strings.TrimSpace(s))
	})
}

func dedupe(values []string, norm func(string) string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = norm(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
