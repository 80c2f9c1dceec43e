// Package models holds the submission and info-request records shared by the
// workflow engine, the moderation queue and the stores.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	id "trustdesk/pkg/domain"
	dErrors "trustdesk/pkg/domain-errors"
)

// Status of a submission. Only the moderation queue changes it, and only
// pending -> approved or pending -> rejected.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) IsDecided() bool {
	return s == StatusApproved || s == StatusRejected
}

// Submitter is the author of a submission as seen by the transport.
type Submitter struct {
	ID     id.SubmitterID
	Handle string
}

// Field is a labeled value for card and summary rendering. Name doubles as the
// message catalog field key.
type Field struct {
	Name  string
	Value string
}

// Details is the kind-specific part of a submission.
type Details interface {
	Kind() id.Kind
	// Fields lists the values in presentation order.
	Fields() []Field
	// Validate reports the first empty required field as CodeValidation.
	Validate() error
}

type ApplicationDetails struct {
	Activity  string `json:"activity"`
	Locale    string `json:"locale"`
	Link      string `json:"link"`
	Rationale string `json:"rationale"`
}

func (ApplicationDetails) Kind() id.Kind { return id.KindApplication }

func (d ApplicationDetails) Fields() []Field {
	return []Field{
		{Name: "activity", Value: d.Activity},
		{Name: "locale", Value: d.Locale},
		{Name: "link", Value: d.Link},
		{Name: "rationale", Value: d.Rationale},
	}
}

func (d ApplicationDetails) Validate() error { return requireAll(d.Fields()) }

type ReportDetails struct {
	AccusedHandle string `json:"accused_handle"`
	Description   string `json:"description"`
}

func (ReportDetails) Kind() id.Kind { return id.KindReport }

func (d ReportDetails) Fields() []Field {
	return []Field{
		{Name: "accused", Value: d.AccusedHandle},
		{Name: "description", Value: d.Description},
	}
}

func (d ReportDetails) Validate() error { return requireAll(d.Fields()) }

type AppealDetails struct {
	AccusedHandle string `json:"accused_handle"`
	Explanation   string `json:"explanation"`
}

func (AppealDetails) Kind() id.Kind { return id.KindAppeal }

func (d AppealDetails) Fields() []Field {
	return []Field{
		{Name: "accused", Value: d.AccusedHandle},
		{Name: "explanation", Value: d.Explanation},
	}
}

func (d AppealDetails) Validate() error { return requireAll(d.Fields()) }

func requireAll(fields []Field) error {
	for _, f := range fields {
		if strings.TrimSpace(f.Value) == "" {
			return dErrors.New(dErrors.CodeValidation, f.Name+" is required")
		}
	}
	return nil
}

// EncodeDetails serializes details for durable storage.
func EncodeDetails(d Details) ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode %s details: %w", d.Kind(), err)
	}
	return raw, nil
}

// DecodeDetails restores details stored by EncodeDetails.
func DecodeDetails(kind id.Kind, raw []byte) (Details, error) {
	var (
		d   Details
		err error
	)
	switch kind {
	case id.KindApplication:
		var v ApplicationDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case id.KindReport:
		var v ReportDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case id.KindAppeal:
		var v AppealDetails
		err = json.Unmarshal(raw, &v)
		d = v
	default:
		return nil, fmt.Errorf("unknown submission kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s details: %w", kind, err)
	}
	return d, nil
}

// Draft is a confirmed form handed to the queue. FinalizeKey makes repeated
// hand-offs of the same confirmation idempotent.
type Draft struct {
	FinalizeKey string
	Submitter   Submitter
	Details     Details
	Evidence    string
	FileRefs    []string
}

// Validate checks the visibility invariant: every field filled, evidence
// present as text or at least one file, and a finalize key.
func (d Draft) Validate() error {
	if d.Details == nil {
		return dErrors.New(dErrors.CodeValidation, "details are required")
	}
	if d.Submitter.ID.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "submitter is required")
	}
	if strings.TrimSpace(d.FinalizeKey) == "" {
		return dErrors.New(dErrors.CodeValidation, "finalize key is required")
	}
	if err := d.Details.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(d.Evidence) == "" && len(d.FileRefs) == 0 {
		return dErrors.New(dErrors.CodeValidation, "evidence is required")
	}
	return nil
}

// Submission is a finalized form. ID and CreatedAt are assigned by the store.
type Submission struct {
	ID            id.SubmissionID
	Kind          id.Kind
	Submitter     Submitter
	Details       Details
	Evidence      string
	FileRefs      []string
	Status        Status
	ReviewerNotes string
	DecidedBy     id.SubmitterID
	DecidedAt     *time.Time
	CreatedAt     time.Time
	FinalizeKey   string
}

// NewSubmission builds the pending record for a draft.
func NewSubmission(d Draft, now time.Time) *Submission {
	return &Submission{
		Kind:        d.Details.Kind(),
		Submitter:   d.Submitter,
		Details:     d.Details,
		Evidence:    d.Evidence,
		FileRefs:    append([]string(nil), d.FileRefs...),
		Status:      StatusPending,
		CreatedAt:   now,
		FinalizeKey: d.FinalizeKey,
	}
}

// Clone returns a copy that shares no mutable state.
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	c := *s
	c.FileRefs = append([]string(nil), s.FileRefs...)
	if s.DecidedAt != nil {
		t := *s.DecidedAt
		c.DecidedAt = &t
	}
	return &c
}

// Target renders "kind:id" for logs and audit records.
func (s *Submission) Target() string {
	return Target(s.Kind, s.ID)
}

func Target(kind id.Kind, subID id.SubmissionID) string {
	return fmt.Sprintf("%s:%d", kind, subID)
}

// Decision is a reviewer verdict applied to a pending submission.
type Decision struct {
	Status   Status
	Reviewer id.SubmitterID
	Notes    string
	At       time.Time
}

// Apply moves the submission out of pending.
//
// Errors: CodeConflict if already decided.
func (s *Submission) Apply(d Decision) error {
	if s.Status != StatusPending {
		return dErrors.New(dErrors.CodeConflict, "submission already decided")
	}
	at := d.At
	s.Status = d.Status
	s.DecidedBy = d.Reviewer
	s.DecidedAt = &at
	s.ReviewerNotes = d.Notes
	return nil
}

// InfoRequestStatus moves awaiting -> answered exactly once.
type InfoRequestStatus string

const (
	InfoAwaiting InfoRequestStatus = "awaiting"
	InfoAnswered InfoRequestStatus = "answered"
)

// InfoRequest is a reviewer's question about a pending submission. It never
// changes the submission's status.
type InfoRequest struct {
	ID              id.InfoRequestID
	SubmissionKind  id.Kind
	SubmissionID    id.SubmissionID
	TargetSubmitter id.SubmitterID
	ReviewerID      id.SubmitterID
	Question        string
	Answer          string
	AnswerFileRefs  []string
	Status          InfoRequestStatus
	CreatedAt       time.Time
	AnsweredAt      *time.Time
}

func (r *InfoRequest) Clone() *InfoRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.AnswerFileRefs = append([]string(nil), r.AnswerFileRefs...)
	if r.AnsweredAt != nil {
		t := *r.AnsweredAt
		c.AnsweredAt = &t
	}
	return &c
}

// Expired reports whether an awaiting request is older than ttl. Zero ttl
// never expires.
func (r *InfoRequest) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && r.Status == InfoAwaiting && !now.Before(r.CreatedAt.Add(ttl))
}

// Stats summarizes queue and registry sizes for reviewers.
type Stats struct {
	PendingByKind map[id.Kind]int
	Whitelisted   int
	ActiveScams   int
	RemovedScams  int
	TotalUsers    int
}
