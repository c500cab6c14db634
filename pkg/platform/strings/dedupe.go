// Package strings provides string-slice helpers shared by the bundler and the
// federation merge path.
package strings

import (
	"strings"
)

// Union concatenates the given lists, trimming whitespace, dropping empty
// entries and keeping only the first occurrence of each value. Order follows
// the input: every element of lists[0] first, then new elements of lists[1], ...
//
// Example:
//
//	Union([]string{"fraud", " audit"}, []string{"audit", "appeal", ""})
//	// Returns: []string{"fraud", "audit", "appeal"}
func Union(lists ...[]string) []string {
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	if total == 0 {
		return []string{}
	}

	seen := make(map[string]struct{}, total)
	result := make([]string, 0, total)
	for _, l := range lists {
		for _, v := range l {
			trimmed := strings.TrimSpace(v)
			if trimmed == "" {
				continue
			}
			if _, ok := seen[trimmed]; ok {
				continue
			}
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}
	return result
}

// DedupeAndTrimLower lowercases, trims and deduplicates values, preserving
// first-seen order. Used for case-insensitive field-name lists.
func DedupeAndTrimLower(values []string) []string {
	if len(values) == 0 {
		return values
	}
	lowered := make([]string, len(values))
	for i, v := range values {
		lowered[i] = strings.ToLower(v)
	}
	return Union(lowered)
}
