package security

import (
	"context"
	"log/slog"

	"trustdesk/pkg/platform/attrs"
	audit "trustdesk/pkg/platform/audit"
	"trustdesk/pkg/requestcontext"
)

// LogAudit logs audit events to both structured logger and audit publisher.
// Subject, actor, reason, text and target are read from attrList by their
// conventional keys ("submitter_id", "reviewer_id", "reason", "text", "target").
func LogAudit(ctx context.Context, logger *slog.Logger, publisher *Publisher, event audit.AuditEvent, attrList ...any) {
	requestID := requestcontext.RequestID(ctx)
	category := event.Category()

	args := append([]any{}, attrList...)
	if requestID != "" {
		args = append(args, "request_id", requestID)
	}
	args = append(args, "event", string(event), "log_type", "audit", "category", string(category))

	if logger != nil {
		if category == audit.CategorySecurity {
			logger.WarnContext(ctx, string(event), args...)
		} else {
			logger.InfoContext(ctx, string(event), args...)
		}
	}

	if publisher == nil {
		return
	}

	severity := audit.SeverityInfo
	if category == audit.CategorySecurity {
		severity = audit.SeverityWarning
	}
	subject, _ := attrs.ExtractInt64(attrList, "submitter_id")
	actor, _ := attrs.ExtractInt64(attrList, "reviewer_id")

	publisher.Emit(ctx, audit.Event{
		Category:  category,
		SubjectID: subject,
		ActorID:   actor,
		Action:    string(event),
		Reason:    attrs.ExtractString(attrList, "reason"),
		Text:      attrs.ExtractString(attrList, "text"),
		Target:    attrs.ExtractString(attrList, "target"),
		RequestID: requestID,
		Severity:  severity,
	})
}
