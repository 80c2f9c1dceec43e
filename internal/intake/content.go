package intake

import (
	"regexp"
	"strings"
)

// Content patterns. This is a defense-in-depth filter, not a classifier:
// false positives are expected and answered with a distinct denial message.
var (
	urlPattern    = regexp.MustCompile(`(?i)(?:\b[a-z][a-z0-9+.\-]*://|\bwww\.)\S+`)
	handlePattern = regexp.MustCompile(`(?:^|[^A-Za-z0-9_.])@[A-Za-z0-9_]{2,}`)
	emailPattern  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	// 13 to 19 digits, optionally grouped by single spaces or dashes
	cardPattern = regexp.MustCompile(`\d(?:[ \-]?\d){12,18}`)
)

// DefaultControlKeywords are rejected anywhere in a turn, case-insensitively.
var DefaultControlKeywords = []string{"/admin", "/sudo", "/eval", "<script"}

// Match names the pattern that tripped the scanner.
type Match string

const (
	MatchNone           Match = ""
	MatchURL            Match = "url"
	MatchHandle         Match = "handle"
	MatchEmail          Match = "email"
	MatchCardNumber     Match = "card_number"
	MatchControlKeyword Match = "control_keyword"
)

// Scanner checks text against the disallowed patterns.
type Scanner struct {
	keywords []string
}

func NewScanner(controlKeywords []string) *Scanner {
	kw := make([]string, 0, len(controlKeywords))
	for _, k := range controlKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kw = append(kw, k)
		}
	}
	return &Scanner{keywords: kw}
}

// Scan returns the first matching pattern. Email is checked before handle so
// "a@b.com" is reported as an email.
func (s *Scanner) Scan(text string) Match {
	if text == "" {
		return MatchNone
	}
	switch {
	case urlPattern.MatchString(text):
		return MatchURL
	case emailPattern.MatchString(text):
		return MatchEmail
	case handlePattern.MatchString(text):
		return MatchHandle
	case cardPattern.MatchString(text):
		return MatchCardNumber
	}
	lower := strings.ToLower(text)
	for _, kw := range s.keywords {
		if strings.Contains(lower, kw) {
			return MatchControlKeyword
		}
	}
	return MatchNone
}
