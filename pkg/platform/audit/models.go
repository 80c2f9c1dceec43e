package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
type EventCategory string

const (
	// CategorySecurity covers intake denials and unauthorized reviewer
	// attempts: the append-only security log reviewed after abuse waves.
	CategorySecurity EventCategory = "security"

	// CategoryModeration covers reviewer actions and submission lifecycle:
	// who approved, rejected or questioned what.
	CategoryModeration EventCategory = "moderation"
)

// Event is one append-only audit record. SubjectID is the chat participant
// the event is about; ActorID is set when someone else acted (a reviewer).
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	SubjectID int64
	Action    string
	Reason    string
	// Text is the offending or submitted text, recorded verbatim for security
	// events so reviewers can see what tripped the filter.
	Text      string
	Target    string
	ActorID   int64
	RequestID string
	Severity  Severity
}

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type AuditEvent string

const (
	// Intake events
	EventIntakeThrottled AuditEvent = "intake_throttled"
	EventIntakeRejected  AuditEvent = "intake_rejected"
	EventIntakeFlagged   AuditEvent = "intake_flagged"
	EventIntakeReset     AuditEvent = "intake_flag_reset"

	// Reviewer authorization
	EventReviewerDenied AuditEvent = "reviewer_denied"

	// Submission lifecycle
	EventSubmissionCreated  AuditEvent = "submission_created"
	EventSubmissionApproved AuditEvent = "submission_approved"
	EventSubmissionRejected AuditEvent = "submission_rejected"
	EventScamEntryRemoved   AuditEvent = "scam_entry_removed"

	// Info requests
	EventInfoRequested AuditEvent = "info_requested"
	EventInfoAnswered  AuditEvent = "info_answered"
	EventInfoDeclined  AuditEvent = "info_declined"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventIntakeThrottled: CategorySecurity,
	EventIntakeRejected:  CategorySecurity,
	EventIntakeFlagged:   CategorySecurity,
	EventIntakeReset:     CategorySecurity,
	EventReviewerDenied:  CategorySecurity,

	EventSubmissionCreated:  CategoryModeration,
	EventSubmissionApproved: CategoryModeration,
	EventSubmissionRejected: CategoryModeration,
	EventScamEntryRemoved:   CategoryModeration,
	EventInfoRequested:      CategoryModeration,
	EventInfoAnswered:       CategoryModeration,
	EventInfoDeclined:       CategoryModeration,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryModeration.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryModeration
}

// Store persists audit events. Implementations must be append-only.
type Store interface {
	Append(ctx context.Context, events ...Event) error
}
