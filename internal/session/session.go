// Package session holds the in-progress conversation of each submitter.
//
// One session per submitter, last writer wins: starting a new workflow
// replaces whatever was there. Sessions idle longer than the configured TTL
// are treated as absent.
package session

import (
	"maps"
	"slices"
	"time"

	id "trustdesk/pkg/domain"
)

// Kind of conversation. The three submission kinds share their names with
// domain.Kind; the two info kinds are the interrupt sub-flow.
type Kind string

const (
	KindApplication  Kind = "application"
	KindReport       Kind = "report"
	KindAppeal       Kind = "appeal"
	KindInfoAnswer   Kind = "info_answer"
	KindInfoQuestion Kind = "info_question"
)

// FromSubmissionKind maps a submission kind to its form session kind.
func FromSubmissionKind(k id.Kind) Kind {
	return Kind(k)
}

// SubmissionKind returns the domain kind for form sessions.
func (k Kind) SubmissionKind() (id.Kind, bool) {
	dk := id.Kind(k)
	return dk, dk.IsValid()
}

// Step is the current position inside a workflow.
type Step string

// Target scopes a reviewer's info_question session to one submission.
type Target struct {
	Kind         id.Kind         `json:"kind,omitempty"`
	SubmissionID id.SubmissionID `json:"submission_id,omitempty"`
}

type Session struct {
	SubmitterID id.SubmitterID    `json:"submitter_id"`
	Handle      string            `json:"handle,omitempty"`
	Kind        Kind              `json:"kind"`
	Step        Step              `json:"step"`
	Fields      map[string]string `json:"fields,omitempty"`
	FileRefs    []string          `json:"file_refs,omitempty"`
	// InfoRequestID is set for info_answer sessions.
	InfoRequestID id.InfoRequestID `json:"info_request_id,omitempty"`
	// Target is set for info_question sessions.
	Target Target `json:"target,omitzero"`
	// FinalizeKey is minted on entering the confirm step and reused by every
	// confirmation attempt so a retried finalize cannot duplicate a submission.
	FinalizeKey string    `json:"finalize_key,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// New starts a session at step.
func New(submitterID id.SubmitterID, handle string, kind Kind, step Step, now time.Time) *Session {
	return &Session{
		SubmitterID: submitterID,
		Handle:      handle,
		Kind:        kind,
		Step:        step,
		Fields:      make(map[string]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Fields = maps.Clone(s.Fields)
	if c.Fields == nil {
		c.Fields = make(map[string]string)
	}
	c.FileRefs = slices.Clone(s.FileRefs)
	return &c
}

// Expired reports whether the session has been idle for ttl or longer.
// A zero ttl disables expiry.
func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && !now.Before(s.UpdatedAt.Add(ttl))
}
