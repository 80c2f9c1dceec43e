// Package registry holds the two durable lists moderation decisions produce:
// the whitelist of vetted users and the scam list. Both are append-only; scam
// entries are retired by status, never deleted.
package registry

import (
	"time"

	id "trustdesk/pkg/domain"
)

type ScamStatus string

const (
	ScamActive  ScamStatus = "active"
	ScamRemoved ScamStatus = "removed"
)

type WhitelistEntry struct {
	ID                 int64           `json:"id"`
	Handle             string          `json:"handle"`
	SubmitterID        id.SubmitterID  `json:"submitter_id"`
	Activity           string          `json:"activity"`
	Locale             string          `json:"locale"`
	Link               string          `json:"link"`
	Rationale          string          `json:"rationale"`
	SourceSubmissionID id.SubmissionID `json:"source_submission_id"`
	ApprovedBy         id.SubmitterID  `json:"approved_by"`
	CreatedAt          time.Time       `json:"created_at"`
}

type ScamEntry struct {
	ID                 int64           `json:"id"`
	Handle             string          `json:"handle"`
	Description        string          `json:"description"`
	Status             ScamStatus      `json:"status"`
	SourceSubmissionID id.SubmissionID `json:"source_submission_id"`
	ApprovedBy         id.SubmitterID  `json:"approved_by"`
	CreatedAt          time.Time       `json:"created_at"`
	RemovedAt          *time.Time      `json:"removed_at,omitempty"`
	RemovedBy          id.SubmitterID  `json:"removed_by,omitempty"`
}

// IsActive reports whether the entry still marks its handle as a scammer.
func (e ScamEntry) IsActive() bool {
	return e.Status == ScamActive
}

// Counts summarizes both lists for reviewer stats.
type Counts struct {
	Whitelisted  int `json:"whitelisted"`
	ActiveScams  int `json:"active_scams"`
	RemovedScams int `json:"removed_scams"`
}

// Page is one page of a list, numbered from 1.
type Page[T any] struct {
	Items  []T `json:"items"`
	Number int `json:"page"`
	Pages  int `json:"pages"`
	Total  int `json:"total"`
}

// Offset of the first item on the page.
func (p Page[T]) Offset(size int) int {
	return (p.Number - 1) * size
}

// pageCount returns the number of pages for total items, at least 1.
func pageCount(total, size int) int {
	if total <= 0 || size <= 0 {
		return 1
	}
	return (total + size - 1) / size
}
