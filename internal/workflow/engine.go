// Package workflow drives the three submission forms (application, report,
// appeal) as a per-submitter finite state machine over chat turns.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trustdesk/internal/messages"
	"trustdesk/internal/moderation/models"
	"trustdesk/internal/session"
	"trustdesk/internal/transport"
	id "trustdesk/pkg/domain"
	dErrors "trustdesk/pkg/domain-errors"
	"trustdesk/pkg/platform/retry"
	"trustdesk/pkg/platform/sentinel"
	"trustdesk/pkg/requestcontext"
)

var tracer = otel.Tracer("trustdesk/internal/workflow")

// Default keywords. Comparison is case-insensitive after trimming.
const DefaultConfirmKeyword = "Подтверждаю"

var DefaultCancelKeywords = []string{"❌ Отменить", "/cancel"}

// SessionStore is the subset of session storage the engine needs.
type SessionStore interface {
	Get(ctx context.Context, submitterID id.SubmitterID) (*session.Session, error)
	Put(ctx context.Context, sess *session.Session) error
	Clear(ctx context.Context, submitterID id.SubmitterID) error
}

// Finalizer hands a confirmed draft to the moderation queue. Submit must be
// idempotent on Draft.FinalizeKey.
type Finalizer interface {
	Submit(ctx context.Context, draft models.Draft) (*models.Submission, error)
}

// ScamChecker answers the appeal pre-check.
type ScamChecker interface {
	IsActive(ctx context.Context, handle string) (bool, error)
}

// Outcome of applying one turn.
type Outcome string

const (
	OutcomeAdvanced   Outcome = "advanced"
	OutcomeReprompted Outcome = "reprompted"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeFinalized  Outcome = "finalized"
	// OutcomeTerminated ends the conversation without a submission, e.g. an
	// appeal against a handle that is not an active scam entry.
	OutcomeTerminated Outcome = "terminated"
	// OutcomeFailed means finalize could not persist; the session is kept.
	OutcomeFailed Outcome = "failed"
)

type Result struct {
	Outcome    Outcome
	Step       session.Step
	Submission *models.Submission
}

type Engine struct {
	sessions  SessionStore
	finalizer Finalizer
	scams     ScamChecker
	sender    transport.Sender
	catalog   *messages.Catalog
	logger    *slog.Logger
	retry     retry.Policy

	confirmKeyword string
	cancelKeywords []string
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithCatalog(catalog *messages.Catalog) Option {
	return func(e *Engine) {
		if catalog != nil {
			e.catalog = catalog
		}
	}
}

// WithRetryPolicy bounds retries of session reads and writes.
func WithRetryPolicy(p retry.Policy) Option {
	return func(e *Engine) {
		e.retry = p
	}
}

func WithConfirmKeyword(keyword string) Option {
	return func(e *Engine) {
		if k := strings.TrimSpace(keyword); k != "" {
			e.confirmKeyword = k
		}
	}
}

func WithCancelKeywords(keywords ...string) Option {
	return func(e *Engine) {
		var kept []string
		for _, k := range keywords {
			if k = strings.TrimSpace(k); k != "" {
				kept = append(kept, k)
			}
		}
		if len(kept) > 0 {
			e.cancelKeywords = kept
		}
	}
}

func New(sessions SessionStore, finalizer Finalizer, scams ScamChecker, sender transport.Sender, opts ...Option) (*Engine, error) {
	if sessions == nil {
		return nil, errors.New("session store is required")
	}
	if finalizer == nil {
		return nil, errors.New("finalizer is required")
	}
	if scams == nil {
		return nil, errors.New("scam checker is required")
	}
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	e := &Engine{
		sessions:       sessions,
		finalizer:      finalizer,
		scams:          scams,
		sender:         sender,
		catalog:        messages.Default(),
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		retry:          retry.DefaultPolicy(),
		confirmKeyword: DefaultConfirmKeyword,
		cancelKeywords: DefaultCancelKeywords,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sessions = session.NewRetrying(sessions, e.retry)
	return e, nil
}

// IsCancel reports whether text is one of the cancel keywords.
func (e *Engine) IsCancel(text string) bool {
	text = strings.TrimSpace(text)
	for _, k := range e.cancelKeywords {
		if strings.EqualFold(text, k) {
			return true
		}
	}
	return false
}

// CancelButton is attached to every prompt.
func (e *Engine) CancelButton() transport.Affordance {
	return transport.CancelAction().Button(e.catalog.Text(messages.LabelCancel))
}

// Start replaces any existing session of the submitter with a fresh form of
// kind and sends its first prompt.
func (e *Engine) Start(ctx context.Context, submitter models.Submitter, kind id.Kind) error {
	ctx, span := tracer.Start(ctx, "workflow.Start", trace.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.Int64("submitter_id", submitter.ID.Int64()),
	))
	defer span.End()

	first, ok := firstStep[kind]
	if !ok {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown submission kind %q", kind))
	}
	sess := session.New(submitter.ID, submitter.Handle, session.FromSubmissionKind(kind), first, requestcontext.Now(ctx))
	if err := e.sessions.Put(ctx, sess); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store session")
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to start session")
	}
	e.logger.InfoContext(ctx, "workflow started",
		"submitter_id", submitter.ID,
		"kind", kind,
	)
	e.prompt(ctx, sess, kind, first)
	return nil
}

// Cancel clears whatever session the submitter has. It reports whether there
// was one; the submitter is told either way.
func (e *Engine) Cancel(ctx context.Context, submitterID id.SubmitterID) (bool, error) {
	_, err := e.sessions.Get(ctx, submitterID)
	if err != nil {
		if isNotFound(err) {
			e.send(ctx, submitterID, e.catalog.Text(messages.NothingToCancel))
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load session")
	}
	if err := e.sessions.Clear(ctx, submitterID); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to clear session")
	}
	e.logger.InfoContext(ctx, "workflow cancelled", "submitter_id", submitterID)
	e.send(ctx, submitterID, e.catalog.Text(messages.Cancelled))
	return true, nil
}

// Advance applies one turn to a form session. Errors leave the stored session
// as it was before the turn.
func (e *Engine) Advance(ctx context.Context, sess *session.Session, turn transport.Turn) (Result, error) {
	kind, ok := sess.Kind.SubmissionKind()
	if !ok {
		return Result{}, dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("session kind %q is not a form", sess.Kind))
	}
	ctx, span := tracer.Start(ctx, "workflow.Advance", trace.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("step", string(sess.Step)),
		attribute.Int64("submitter_id", sess.SubmitterID.Int64()),
	))
	defer span.End()

	res, err := e.advance(ctx, kind, sess.Clone(), turn)
	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "advance")
	}
	return res, err
}

func (e *Engine) advance(ctx context.Context, kind id.Kind, sess *session.Session, turn transport.Turn) (Result, error) {
	if e.IsCancel(turn.Text) || isCancelAction(turn.Action) {
		if err := e.sessions.Clear(ctx, sess.SubmitterID); err != nil {
			return Result{Step: sess.Step}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to clear session")
		}
		e.logger.InfoContext(ctx, "workflow cancelled",
			"submitter_id", sess.SubmitterID,
			"kind", kind,
			"step", sess.Step,
		)
		e.send(ctx, sess.SubmitterID, e.catalog.Text(messages.Cancelled))
		return Result{Outcome: OutcomeCancelled, Step: sess.Step}, nil
	}

	t, ok := transitions[kind][sess.Step]
	if !ok {
		return Result{Step: sess.Step}, dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("%s session at unknown step %q", kind, sess.Step))
	}

	if t.accepts == inputKeyword {
		return e.confirm(ctx, kind, sess, turn)
	}

	text := strings.TrimSpace(turn.Text)
	switch t.accepts {
	case inputText:
		if text == "" {
			return e.reprompt(ctx, sess, messages.EmptyInput)
		}
	case inputHandle:
		text = id.NormalizeHandle(text)
		if text == "" {
			return e.reprompt(ctx, sess, messages.EmptyInput)
		}
	case inputEvidence:
		file := turn.File()
		if text == "" && file == nil {
			return e.reprompt(ctx, sess, messages.EvidenceRequired)
		}
		if file != nil {
			sess.FileRefs = []string{file.Token()}
			if text == "" {
				text = e.catalog.Text(messages.EvidenceViaFile)
			}
		}
	}
	sess.Fields[string(sess.Step)] = text

	if t.check == checkActiveScam {
		active, err := e.scams.IsActive(ctx, text)
		if err != nil {
			e.logger.WarnContext(ctx, "scam lookup failed",
				"submitter_id", sess.SubmitterID,
				"handle", text,
				"error", err,
			)
			e.send(ctx, sess.SubmitterID, e.catalog.Text(messages.AppealLookupFailed), e.CancelButton())
			return Result{Outcome: OutcomeReprompted, Step: sess.Step}, nil
		}
		if !active {
			if err := e.sessions.Clear(ctx, sess.SubmitterID); err != nil {
				return Result{Step: sess.Step}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to clear session")
			}
			e.logger.InfoContext(ctx, "appeal against inactive handle",
				"submitter_id", sess.SubmitterID,
				"handle", text,
			)
			e.send(ctx, sess.SubmitterID, e.catalog.Text(messages.AppealNotFound, "handle", text))
			return Result{Outcome: OutcomeTerminated, Step: sess.Step}, nil
		}
	}

	sess.Step = t.next
	if sess.Step == StepConfirm {
		sess.FinalizeKey = uuid.NewString()
	}
	if err := e.sessions.Put(ctx, sess); err != nil {
		return Result{Step: sess.Step}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to store session")
	}
	e.prompt(ctx, sess, kind, sess.Step)
	return Result{Outcome: OutcomeAdvanced, Step: sess.Step}, nil
}

func (e *Engine) confirm(ctx context.Context, kind id.Kind, sess *session.Session, turn transport.Turn) (Result, error) {
	if !strings.EqualFold(strings.TrimSpace(turn.Text), e.confirmKeyword) {
		e.send(ctx, sess.SubmitterID, e.catalog.Text(messages.ConfirmRetry, "keyword", e.confirmKeyword), e.CancelButton())
		return Result{Outcome: OutcomeReprompted, Step: StepConfirm}, nil
	}

	// A value lost between steps sends the submitter back to that step.
	for _, step := range fieldSteps(kind) {
		if strings.TrimSpace(sess.Fields[string(step)]) != "" {
			continue
		}
		if step == StepEvidence && len(sess.FileRefs) > 0 {
			continue
		}
		sess.Step = step
		if err := e.sessions.Put(ctx, sess); err != nil {
			return Result{Step: StepConfirm}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to store session")
		}
		e.logger.WarnContext(ctx, "confirm with missing field",
			"submitter_id", sess.SubmitterID,
			"kind", kind,
			"field", step,
		)
		e.send(ctx, sess.SubmitterID, e.catalog.Text(messages.ConfirmMissingField))
		e.prompt(ctx, sess, kind, step)
		return Result{Outcome: OutcomeReprompted, Step: step}, nil
	}

	draft := DraftFromSession(kind, sess)
	if err := draft.Validate(); err != nil {
		return Result{Step: StepConfirm}, err
	}
	sub, err := e.finalizer.Submit(ctx, draft)
	if err != nil {
		e.logger.ErrorContext(ctx, "finalize failed",
			"submitter_id", sess.SubmitterID,
			"kind", kind,
			"finalize_key", sess.FinalizeKey,
			"error", err,
		)
		return Result{Outcome: OutcomeFailed, Step: StepConfirm}, fmt.Errorf("finalize %s: %w", kind, err)
	}

	if err := e.sessions.Clear(ctx, sess.SubmitterID); err != nil {
		// The submission exists; a repeated confirm resolves to it by key.
		e.logger.WarnContext(ctx, "failed to clear finalized session",
			"submitter_id", sess.SubmitterID,
			"submission_id", sub.ID,
			"error", err,
		)
	}
	e.logger.InfoContext(ctx, "submission finalized",
		"submitter_id", sess.SubmitterID,
		"kind", kind,
		"submission_id", sub.ID,
	)
	e.send(ctx, sess.SubmitterID, e.catalog.Text(messages.Submitted, "id", sub.ID.String()))
	return Result{Outcome: OutcomeFinalized, Step: StepDone, Submission: sub}, nil
}

func (e *Engine) reprompt(ctx context.Context, sess *session.Session, key messages.Key) (Result, error) {
	e.send(ctx, sess.SubmitterID, e.catalog.Text(key), e.CancelButton())
	return Result{Outcome: OutcomeReprompted, Step: sess.Step}, nil
}

// DraftFromSession maps captured fields onto the kind's details.
func DraftFromSession(kind id.Kind, sess *session.Session) models.Draft {
	f := sess.Fields
	var details models.Details
	switch kind {
	case id.KindApplication:
		details = models.ApplicationDetails{
			Activity:  f[string(StepActivity)],
			Locale:    f[string(StepLocale)],
			Link:      f[string(StepLink)],
			Rationale: f[string(StepRationale)],
		}
	case id.KindReport:
		details = models.ReportDetails{
			AccusedHandle: f[string(StepAccused)],
			Description:   f[string(StepDescription)],
		}
	case id.KindAppeal:
		details = models.AppealDetails{
			AccusedHandle: f[string(StepAccused)],
			Explanation:   f[string(StepExplanation)],
		}
	}
	return models.Draft{
		FinalizeKey: sess.FinalizeKey,
		Submitter:   models.Submitter{ID: sess.SubmitterID, Handle: sess.Handle},
		Details:     details,
		Evidence:    f[string(StepEvidence)],
		FileRefs:    append([]string(nil), sess.FileRefs...),
	}
}

func (e *Engine) prompt(ctx context.Context, sess *session.Session, kind id.Kind, step session.Step) {
	text := e.catalog.Text(messages.Prompt(string(kind), string(step)),
		"handle", sess.Handle,
		"submitter_id", sess.SubmitterID.String(),
		"keyword", e.confirmKeyword,
	)
	if step == StepConfirm {
		text = e.summary(kind, sess) + "\n\n" + text
	}
	e.send(ctx, sess.SubmitterID, text, e.CancelButton())
}

func (e *Engine) summary(kind id.Kind, sess *session.Session) string {
	var b strings.Builder
	b.WriteString(e.catalog.Text(messages.ConfirmSummaryHeader))
	b.WriteString("\n")
	for _, step := range fieldSteps(kind) {
		fmt.Fprintf(&b, "\n%s: %s", e.catalog.Text(messages.Field(string(step))), sess.Fields[string(step)])
	}
	if n := len(sess.FileRefs); n > 0 {
		fmt.Fprintf(&b, "\n%s: %d", e.catalog.Text(messages.Field("files")), n)
	}
	return b.String()
}

// send is best effort: the state change already happened and a lost prompt is
// recovered by the submitter's next turn.
func (e *Engine) send(ctx context.Context, to id.SubmitterID, text string, affordances ...transport.Affordance) {
	if err := e.sender.SendText(ctx, to, text, affordances...); err != nil {
		e.logger.WarnContext(ctx, "failed to deliver message",
			"submitter_id", to,
			"error", err,
		)
	}
}

func isCancelAction(payload string) bool {
	if payload == "" {
		return false
	}
	a, err := transport.ParseAction(payload)
	return err == nil && a.Type == transport.ActionCancel
}

func isNotFound(err error) bool {
	return errors.Is(err, sentinel.ErrNotFound)
}
