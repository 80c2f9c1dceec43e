// Package strings parses the comma separated lists used in configuration.
package strings

import "strings"

// SplitList splits raw on commas, trims each item and drops empty and repeated
// items. The first occurrence keeps its position.
func SplitList(raw string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
