// Package moderation is the review queue: it accepts finalized submissions,
// lets the fixed reviewer set approve, reject or question them, and applies
// approvals to the registry.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trustdesk/internal/messages"
	"trustdesk/internal/moderation/metrics"
	"trustdesk/internal/moderation/models"
	"trustdesk/internal/registry"
	"trustdesk/internal/transport"
	id "trustdesk/pkg/domain"
	dErrors "trustdesk/pkg/domain-errors"
	audit "trustdesk/pkg/platform/audit"
	"trustdesk/pkg/platform/audit/publishers/security"
	"trustdesk/pkg/platform/retry"
	"trustdesk/pkg/platform/sentinel"
	"trustdesk/pkg/platform/tx"
	"trustdesk/pkg/requestcontext"
)

var tracer = otel.Tracer("trustdesk/internal/moderation")

// ErrQuestionNotDelivered is returned with a persisted InfoRequest whose
// question could not be delivered to the submitter.
var ErrQuestionNotDelivered = errors.New("question not delivered")

type SubmissionStore interface {
	// Create persists a pending submission, or returns the one stored under
	// the same finalize key with created=false.
	Create(ctx context.Context, sub *models.Submission) (stored *models.Submission, created bool, err error)
	Get(ctx context.Context, kind id.Kind, subID id.SubmissionID) (*models.Submission, error)
	// GetForUpdate locks the row for the rest of the surrounding unit.
	GetForUpdate(ctx context.Context, kind id.Kind, subID id.SubmissionID) (*models.Submission, error)
	// UpdateDecision writes a decision if the stored row is still pending,
	// otherwise sentinel.ErrInvalidState.
	UpdateDecision(ctx context.Context, sub *models.Submission) error
	ListPending(ctx context.Context, kind id.Kind) ([]*models.Submission, error)
	CountPending(ctx context.Context) (map[id.Kind]int, error)
}

type InfoRequestStore interface {
	Create(ctx context.Context, req *models.InfoRequest) error
	Get(ctx context.Context, reqID id.InfoRequestID) (*models.InfoRequest, error)
	ListBySubmission(ctx context.Context, kind id.Kind, subID id.SubmissionID) ([]*models.InfoRequest, error)
	// MarkAnswered moves awaiting to answered, otherwise sentinel.ErrInvalidState.
	MarkAnswered(ctx context.Context, reqID id.InfoRequestID, answer string, fileRefs []string, at time.Time) (*models.InfoRequest, error)
}

// RegistryWriter is the part of the registry an approval mutates.
type RegistryWriter interface {
	AddWhitelist(ctx context.Context, entry *registry.WhitelistEntry) error
	AddScam(ctx context.Context, entry *registry.ScamEntry) error
	RemoveActiveScams(ctx context.Context, handle string, by id.SubmitterID, at time.Time) (int, error)
	Counts(ctx context.Context) (registry.Counts, error)
}

// Notifier delivers moderation traffic to chat participants.
type Notifier interface {
	// ReviewCard fans a submission card out to every reviewer. answered, when
	// set, is the info request that was just answered.
	ReviewCard(ctx context.Context, sub *models.Submission, answered *models.InfoRequest)
	// Direct sends one message to one participant.
	Direct(ctx context.Context, to id.SubmitterID, text string, affordances ...transport.Affordance) error
}

type UserCounter interface {
	Count(ctx context.Context) (int, error)
}

// Outcome of a reviewer decision.
type Outcome string

const (
	OutcomeApproved       Outcome = "approved"
	OutcomeRejected       Outcome = "rejected"
	OutcomeNotFound       Outcome = "not_found"
	OutcomeAlreadyDecided Outcome = "already_decided"
)

type Queue struct {
	submissions SubmissionStore
	infos       InfoRequestStore
	registry    RegistryWriter
	runner      tx.Runner
	notifier    Notifier
	reviewers   map[id.SubmitterID]struct{}

	retry     retry.Policy
	catalog   *messages.Catalog
	logger    *slog.Logger
	publisher *security.Publisher
	metrics   *metrics.Metrics
	users     UserCounter
}

type Option func(*Queue)

func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

func WithAuditPublisher(publisher *security.Publisher) Option {
	return func(q *Queue) {
		q.publisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(q *Queue) {
		q.retry = p
	}
}

// WithUserCounter adds the user directory size to Stats.
func WithUserCounter(users UserCounter) Option {
	return func(q *Queue) {
		q.users = users
	}
}

func WithCatalog(catalog *messages.Catalog) Option {
	return func(q *Queue) {
		if catalog != nil {
			q.catalog = catalog
		}
	}
}

func New(
	submissions SubmissionStore,
	infos InfoRequestStore,
	registryWriter RegistryWriter,
	runner tx.Runner,
	notifier Notifier,
	reviewers []id.SubmitterID,
	opts ...Option,
) (*Queue, error) {
	if submissions == nil {
		return nil, errors.New("submission store is required")
	}
	if infos == nil {
		return nil, errors.New("info request store is required")
	}
	if registryWriter == nil {
		return nil, errors.New("registry is required")
	}
	if runner == nil {
		return nil, errors.New("transaction runner is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if len(reviewers) == 0 {
		return nil, errors.New("at least one reviewer is required")
	}

	q := &Queue{
		submissions: submissions,
		infos:       infos,
		registry:    registryWriter,
		runner:      runner,
		notifier:    notifier,
		reviewers:   make(map[id.SubmitterID]struct{}, len(reviewers)),
		retry:       retry.DefaultPolicy(),
		catalog:     messages.Default(),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, r := range reviewers {
		q.reviewers[r] = struct{}{}
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// IsReviewer reports membership in the fixed reviewer set.
func (q *Queue) IsReviewer(caller id.SubmitterID) bool {
	_, ok := q.reviewers[caller]
	return ok
}

// authorize refuses callers outside the reviewer set. A refusal changes no
// state; it is logged and recorded as a security event.
func (q *Queue) authorize(ctx context.Context, caller id.SubmitterID, action string) error {
	if q.IsReviewer(caller) {
		return nil
	}
	q.metrics.IncDenied()
	security.LogAudit(ctx, q.logger, q.publisher, audit.EventReviewerDenied,
		"submitter_id", caller,
		"reason", action,
	)
	return dErrors.New(dErrors.CodeUnauthorized, "reviewer access required")
}

// Submit accepts a confirmed draft. It is idempotent on the draft's finalize
// key: a replay returns the stored submission without a second broadcast.
func (q *Queue) Submit(ctx context.Context, draft models.Draft) (*models.Submission, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	var created bool
	sub, err := retry.Value(ctx, q.retry, func(ctx context.Context) (*models.Submission, error) {
		stored, isNew, err := q.submissions.Create(ctx, models.NewSubmission(draft, requestcontext.Now(ctx)))
		created = isNew
		return stored, err
	})
	if err != nil {
		return nil, err
	}
	if !created {
		q.logger.InfoContext(ctx, "submission replayed",
			"submitter_id", sub.Submitter.ID,
			"submission_id", sub.ID,
			"kind", sub.Kind,
		)
		return sub, nil
	}

	q.metrics.IncSubmission(string(sub.Kind))
	security.LogAudit(ctx, q.logger, q.publisher, audit.EventSubmissionCreated,
		"submitter_id", sub.Submitter.ID,
		"target", sub.Target(),
	)
	q.notifier.ReviewCard(ctx, sub, nil)
	return sub, nil
}

// ListPending returns pending submissions oldest first. An empty kind lists
// every kind.
func (q *Queue) ListPending(ctx context.Context, reviewer id.SubmitterID, kind id.Kind) ([]*models.Submission, error) {
	if err := q.authorize(ctx, reviewer, "list_pending"); err != nil {
		return nil, err
	}
	return retry.Value(ctx, q.retry, func(ctx context.Context) ([]*models.Submission, error) {
		return q.submissions.ListPending(ctx, kind)
	})
}

func (q *Queue) Get(ctx context.Context, reviewer id.SubmitterID, kind id.Kind, subID id.SubmissionID) (*models.Submission, error) {
	if err := q.authorize(ctx, reviewer, "get_submission"); err != nil {
		return nil, err
	}
	return q.load(ctx, kind, subID)
}

// InfoRequests lists the question history of a submission.
func (q *Queue) InfoRequests(ctx context.Context, reviewer id.SubmitterID, kind id.Kind, subID id.SubmissionID) ([]*models.InfoRequest, error) {
	if err := q.authorize(ctx, reviewer, "list_info_requests"); err != nil {
		return nil, err
	}
	if _, err := q.load(ctx, kind, subID); err != nil {
		return nil, err
	}
	return retry.Value(ctx, q.retry, func(ctx context.Context) ([]*models.InfoRequest, error) {
		return q.infos.ListBySubmission(ctx, kind, subID)
	})
}

func (q *Queue) Stats(ctx context.Context, reviewer id.SubmitterID) (models.Stats, error) {
	if err := q.authorize(ctx, reviewer, "stats"); err != nil {
		return models.Stats{}, err
	}
	pending, err := retry.Value(ctx, q.retry, q.submissions.CountPending)
	if err != nil {
		return models.Stats{}, err
	}
	counts, err := retry.Value(ctx, q.retry, q.registry.Counts)
	if err != nil {
		return models.Stats{}, err
	}
	stats := models.Stats{
		PendingByKind: pending,
		Whitelisted:   counts.Whitelisted,
		ActiveScams:   counts.ActiveScams,
		RemovedScams:  counts.RemovedScams,
	}
	if q.users != nil {
		if stats.TotalUsers, err = q.users.Count(ctx); err != nil {
			return models.Stats{}, err
		}
	}
	return stats, nil
}

// Approve applies a pending submission to the registry and marks it approved.
// Concurrent decisions on the same submission are serialized; the first wins
// and the rest see OutcomeAlreadyDecided.
func (q *Queue) Approve(ctx context.Context, reviewer id.SubmitterID, kind id.Kind, subID id.SubmissionID) (Outcome, error) {
	return q.decide(ctx, reviewer, kind, subID, models.StatusApproved, "")
}

// Reject marks a pending submission rejected without touching the registry.
func (q *Queue) Reject(ctx context.Context, reviewer id.SubmitterID, kind id.Kind, subID id.SubmissionID, notes string) (Outcome, error) {
	return q.decide(ctx, reviewer, kind, subID, models.StatusRejected, strings.TrimSpace(notes))
}

func (q *Queue) decide(ctx context.Context, reviewer id.SubmitterID, kind id.Kind, subID id.SubmissionID, status models.Status, notes string) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "moderation.Decide", trace.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.Int64("submission_id", subID.Int64()),
		attribute.String("status", string(status)),
		attribute.Int64("reviewer_id", reviewer.Int64()),
	))
	defer span.End()

	if err := q.authorize(ctx, reviewer, "decide"); err != nil {
		span.SetStatus(codes.Error, "unauthorized")
		return "", err
	}

	var (
		outcome Outcome
		decided *models.Submission
		removed int
	)
	err := retry.Do(ctx, q.retry, func(ctx context.Context) error {
		outcome, decided, removed = "", nil, 0
		return q.runner.RunInTx(ctx, models.Target(kind, subID), func(ctx context.Context) error {
			sub, err := q.submissions.GetForUpdate(ctx, kind, subID)
			if errors.Is(err, sentinel.ErrNotFound) {
				outcome = OutcomeNotFound
				return nil
			}
			if err != nil {
				return err
			}
			if sub.Status.IsDecided() {
				outcome = OutcomeAlreadyDecided
				return nil
			}

			now := requestcontext.Now(ctx)
			if status == models.StatusApproved {
				if removed, err = q.applyApproval(ctx, sub, reviewer, now); err != nil {
					return err
				}
			}
			if err := sub.Apply(models.Decision{Status: status, Reviewer: reviewer, Notes: notes, At: now}); err != nil {
				return err
			}
			if err := q.submissions.UpdateDecision(ctx, sub); err != nil {
				return err
			}
			decided = sub
			if status == models.StatusApproved {
				outcome = OutcomeApproved
			} else {
				outcome = OutcomeRejected
			}
			return nil
		})
	})
	if err != nil {
		// a lost compare-and-set or a duplicate registry entry means another
		// decision committed first
		if errors.Is(err, sentinel.ErrInvalidState) || errors.Is(err, sentinel.ErrConflict) {
			outcome, err = OutcomeAlreadyDecided, nil
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, "decide")
			q.logger.ErrorContext(ctx, "moderation decision failed",
				"reviewer_id", reviewer,
				"target", models.Target(kind, subID),
				"error", err,
			)
			return "", err
		}
	}

	span.SetAttributes(attribute.String("outcome", string(outcome)))
	q.metrics.IncDecision(string(kind), string(outcome))
	if decided == nil {
		q.logger.InfoContext(ctx, "moderation decision had no effect",
			"reviewer_id", reviewer,
			"target", models.Target(kind, subID),
			"outcome", outcome,
		)
		return outcome, nil
	}

	event := audit.EventSubmissionApproved
	if status == models.StatusRejected {
		event = audit.EventSubmissionRejected
	}
	security.LogAudit(ctx, q.logger, q.publisher, event,
		"submitter_id", decided.Submitter.ID,
		"reviewer_id", reviewer,
		"target", decided.Target(),
		"reason", notes,
	)
	if removed > 0 {
		appeal, _ := decided.Details.(models.AppealDetails)
		security.LogAudit(ctx, q.logger, q.publisher, audit.EventScamEntryRemoved,
			"submitter_id", decided.Submitter.ID,
			"reviewer_id", reviewer,
			"target", appeal.AccusedHandle,
			"removed", removed,
		)
	}
	q.notifyOutcome(ctx, decided)
	return outcome, nil
}

// applyApproval writes the registry side of an approval. It runs inside the
// decision unit, before the status update.
func (q *Queue) applyApproval(ctx context.Context, sub *models.Submission, reviewer id.SubmitterID, now time.Time) (int, error) {
	switch d := sub.Details.(type) {
	case models.ApplicationDetails:
		return 0, q.registry.AddWhitelist(ctx, &registry.WhitelistEntry{
			Handle:             id.NormalizeHandle(sub.Submitter.Handle),
			SubmitterID:        sub.Submitter.ID,
			Activity:           d.Activity,
			Locale:             d.Locale,
			Link:               d.Link,
			Rationale:          d.Rationale,
			SourceSubmissionID: sub.ID,
			ApprovedBy:         reviewer,
			CreatedAt:          now,
		})
	case models.ReportDetails:
		return 0, q.registry.AddScam(ctx, &registry.ScamEntry{
			Handle:             id.NormalizeHandle(d.AccusedHandle),
			Description:        d.Description,
			Status:             registry.ScamActive,
			SourceSubmissionID: sub.ID,
			ApprovedBy:         reviewer,
			CreatedAt:          now,
		})
	case models.AppealDetails:
		return q.registry.RemoveActiveScams(ctx, id.NormalizeHandle(d.AccusedHandle), reviewer, now)
	default:
		return 0, dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("no registry mapping for %T", sub.Details))
	}
}

func (q *Queue) notifyOutcome(ctx context.Context, sub *models.Submission) {
	key := messages.DecisionSubmitterApproved
	if sub.Status == models.StatusRejected {
		key = messages.DecisionSubmitterRejected
	}
	text := q.catalog.Text(key,
		"id", sub.ID.String(),
		"kind", q.catalog.Text(messages.Label(string(sub.Kind))),
	)
	if err := q.notifier.Direct(ctx, sub.Submitter.ID, text); err != nil {
		q.logger.WarnContext(ctx, "failed to notify submitter of decision",
			"submitter_id", sub.Submitter.ID,
			"target", sub.Target(),
			"error", err,
		)
	}
}

// RequestInfo persists a question about a pending submission and delivers it
// to the submitter with respond and decline buttons.
//
// Errors: CodeValidation for an empty question, CodeNotFound, CodeConflict if
// the submission is decided. The pending check and the insert run as one unit
// with decisions on the same submission; delivery happens after it commits.
// When only the delivery fails, the stored request is returned together with
// ErrQuestionNotDelivered.
func (q *Queue) RequestInfo(ctx context.Context, reviewer id.SubmitterID, kind id.Kind, subID id.SubmissionID, question string) (*models.InfoRequest, error) {
	ctx, span := tracer.Start(ctx, "moderation.RequestInfo", trace.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.Int64("submission_id", subID.Int64()),
		attribute.Int64("reviewer_id", reviewer.Int64()),
	))
	defer span.End()

	if err := q.authorize(ctx, reviewer, "request_info"); err != nil {
		return nil, err
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "question is required")
	}
	var req *models.InfoRequest
	err := retry.Do(ctx, q.retry, func(ctx context.Context) error {
		req = nil
		return q.runner.RunInTx(ctx, models.Target(kind, subID), func(ctx context.Context) error {
			sub, err := q.submissions.GetForUpdate(ctx, kind, subID)
			if err != nil {
				return err
			}
			if sub.Status.IsDecided() {
				return dErrors.New(dErrors.CodeConflict, "submission already decided")
			}
			pending := &models.InfoRequest{
				SubmissionKind:  kind,
				SubmissionID:    subID,
				TargetSubmitter: sub.Submitter.ID,
				ReviewerID:      reviewer,
				Question:        question,
				Status:          models.InfoAwaiting,
				CreatedAt:       requestcontext.Now(ctx),
			}
			if err := q.infos.Create(ctx, pending); err != nil {
				return err
			}
			req = pending
			return nil
		})
	})
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "submission not found")
	}
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeConflict) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "store info request")
		}
		return nil, err
	}
	q.metrics.IncInfoRequest("requested")
	security.LogAudit(ctx, q.logger, q.publisher, audit.EventInfoRequested,
		"submitter_id", req.TargetSubmitter,
		"reviewer_id", reviewer,
		"target", models.Target(kind, subID),
		"text", question,
	)

	text := q.catalog.Text(messages.InfoToSubmitter, "question", question)
	err = q.notifier.Direct(ctx, req.TargetSubmitter, text,
		transport.RespondAction(req.ID).Button(q.catalog.Text(messages.LabelRespond)),
		transport.DeclineAction(req.ID).Button(q.catalog.Text(messages.LabelDecline)),
	)
	if err != nil {
		q.metrics.IncInfoRequest("undelivered")
		q.logger.WarnContext(ctx, "failed to deliver info request",
			"submitter_id", req.TargetSubmitter,
			"info_request_id", req.ID,
			"error", err,
		)
		return req, fmt.Errorf("info request %s: %w: %v", req.ID, ErrQuestionNotDelivered, err)
	}
	return req, nil
}

// InfoRequest loads one request. It is not reviewer-gated; callers check that
// the request targets the caller.
func (q *Queue) InfoRequest(ctx context.Context, reqID id.InfoRequestID) (*models.InfoRequest, error) {
	req, err := retry.Value(ctx, q.retry, func(ctx context.Context) (*models.InfoRequest, error) {
		return q.infos.Get(ctx, reqID)
	})
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "info request not found")
	}
	return req, err
}

// AnswerInfo records the submitter's answer (compare-and-set awaiting to
// answered) and re-sends the submission card with the answer to every
// reviewer. The submission stays pending.
func (q *Queue) AnswerInfo(ctx context.Context, submitter id.SubmitterID, reqID id.InfoRequestID, answer string, fileRefs []string) (*models.InfoRequest, error) {
	req, err := q.InfoRequest(ctx, reqID)
	if err != nil {
		return nil, err
	}
	if req.TargetSubmitter != submitter {
		return nil, dErrors.New(dErrors.CodeForbidden, "info request addressed to another submitter")
	}
	answered, err := retry.Value(ctx, q.retry, func(ctx context.Context) (*models.InfoRequest, error) {
		return q.infos.MarkAnswered(ctx, reqID, answer, fileRefs, requestcontext.Now(ctx))
	})
	if errors.Is(err, sentinel.ErrInvalidState) {
		return nil, dErrors.New(dErrors.CodeConflict, "info request already answered")
	}
	if err != nil {
		return nil, err
	}

	q.metrics.IncInfoRequest("answered")
	security.LogAudit(ctx, q.logger, q.publisher, audit.EventInfoAnswered,
		"submitter_id", submitter,
		"reviewer_id", answered.ReviewerID,
		"target", models.Target(answered.SubmissionKind, answered.SubmissionID),
		"text", answer,
	)

	sub, err := q.load(ctx, answered.SubmissionKind, answered.SubmissionID)
	if err != nil {
		// the answer is stored; reviewers can still open it from the history
		q.logger.WarnContext(ctx, "answered info request without loadable submission",
			"info_request_id", reqID,
			"error", err,
		)
		return answered, nil
	}
	q.notifier.ReviewCard(ctx, sub, answered)
	return answered, nil
}

func (q *Queue) load(ctx context.Context, kind id.Kind, subID id.SubmissionID) (*models.Submission, error) {
	sub, err := retry.Value(ctx, q.retry, func(ctx context.Context) (*models.Submission, error) {
		return q.submissions.Get(ctx, kind, subID)
	})
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "submission not found")
	}
	return sub, err
}
