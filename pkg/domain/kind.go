package domain

import dErrors "trustdesk/pkg/domain-errors"

// Kind identifies one of the three submission workflows.
// Invariant: the value must be one of the supported kinds.
//
// Usage: construct via ParseKind at trust boundaries (action payloads, REST
// paths); direct casting bypasses validation.
type Kind string

const (
	KindApplication Kind = "application"
	KindReport      Kind = "report"
	KindAppeal      Kind = "appeal"
)

// Kinds lists every supported kind in presentation order.
var Kinds = []Kind{KindApplication, KindReport, KindAppeal}

// ParseKind constructs a Kind from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseKind(s string) (Kind, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "kind cannot be empty")
	}
	k := Kind(s)
	if !k.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid kind")
	}
	return k, nil
}

// IsValid checks if the kind is one of the supported enum values.
func (k Kind) IsValid() bool {
	switch k {
	case KindApplication, KindReport, KindAppeal:
		return true
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}
