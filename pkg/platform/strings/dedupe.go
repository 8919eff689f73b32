// Package strings normalizes the string lists carried by consents and access
// requests: data categories, purposes and region codes.
package strings

import (
	"strings"
)

// DedupeFunc normalizes each value with fn, then drops empties and
// duplicates. Order of first occurrence is preserved. A nil or empty input is
// returned as is.
func DedupeFunc(values []string, fn func(string) string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		n := fn(v)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		result = append(result, n)
	}
	return result
}

// DedupeAndTrim trims whitespace and removes empties and duplicates.
//
//	DedupeAndTrim([]string{"  lab_results ", "imaging", "lab_results", ""})
//	// []string{"lab_results", "imaging"}
func DedupeAndTrim(values []string) []string {
	return DedupeFunc(values, strings.TrimSpace)
}

// DedupeRegions is DedupeAndTrim for region codes, which compare
// case-insensitively and are stored upper-cased.
func DedupeRegions(values []string) []string {
	return DedupeFunc(values, func(s string) string {
		return strings.ToUpper(strings.TrimSpace(s))
	})
}
