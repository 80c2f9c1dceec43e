package domain

import "strings"

// NormalizeHandle canonicalizes a chat handle for storage and comparison:
// surrounding space and a leading '@' are removed and the result is lower-cased.
func NormalizeHandle(handle string) string {
	h := strings.TrimSpace(handle)
	h = strings.TrimPrefix(h, "@")
	return strings.ToLower(strings.TrimSpace(h))
}
