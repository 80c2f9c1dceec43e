// Package inforequest runs the two short conversations around a reviewer
// question: the reviewer typing the question, and the submitter answering it.
// Both live in the submitter's single session slot, so entering either one
// supersedes a form in progress.
package inforequest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"trustdesk/internal/messages"
	"trustdesk/internal/moderation"
	"trustdesk/internal/moderation/metrics"
	"trustdesk/internal/moderation/models"
	"trustdesk/internal/session"
	"trustdesk/internal/transport"
	id "trustdesk/pkg/domain"
	dErrors "trustdesk/pkg/domain-errors"
	audit "trustdesk/pkg/platform/audit"
	"trustdesk/pkg/platform/audit/publishers/security"
	"trustdesk/pkg/platform/retry"
	"trustdesk/pkg/requestcontext"
)

const (
	StepQuestion session.Step = "question"
	StepAnswer   session.Step = "answer"
)

type Queue interface {
	Get(ctx context.Context, reviewer id.SubmitterID, kind id.Kind, subID id.SubmissionID) (*models.Submission, error)
	RequestInfo(ctx context.Context, reviewer id.SubmitterID, kind id.Kind, subID id.SubmissionID, question string) (*models.InfoRequest, error)
	InfoRequest(ctx context.Context, reqID id.InfoRequestID) (*models.InfoRequest, error)
	AnswerInfo(ctx context.Context, submitter id.SubmitterID, reqID id.InfoRequestID, answer string, fileRefs []string) (*models.InfoRequest, error)
}

type SessionStore interface {
	Get(ctx context.Context, submitterID id.SubmitterID) (*session.Session, error)
	Put(ctx context.Context, sess *session.Session) error
	Clear(ctx context.Context, submitterID id.SubmitterID) error
}

// CancelMatcher recognizes the cancel keyword and renders the cancel button,
// so both flows cancel exactly like a form does.
type CancelMatcher interface {
	IsCancel(text string) bool
	CancelButton() transport.Affordance
}

type Protocol struct {
	queue     Queue
	sessions  SessionStore
	sender    transport.Sender
	cancel    CancelMatcher
	ttl       time.Duration
	catalog   *messages.Catalog
	logger    *slog.Logger
	publisher *security.Publisher
	metrics   *metrics.Metrics
	retry     retry.Policy
}

type Option func(*Protocol)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Protocol) {
		p.logger = logger
	}
}

func WithCatalog(catalog *messages.Catalog) Option {
	return func(p *Protocol) {
		if catalog != nil {
			p.catalog = catalog
		}
	}
}

// WithTTL refuses answers to requests older than ttl. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(p *Protocol) {
		if ttl >= 0 {
			p.ttl = ttl
		}
	}
}

func WithAuditPublisher(publisher *security.Publisher) Option {
	return func(p *Protocol) {
		p.publisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Protocol) {
		p.metrics = m
	}
}

// WithRetryPolicy bounds retries of session reads and writes.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(p *Protocol) {
		p.retry = policy
	}
}

func New(queue Queue, sessions SessionStore, sender transport.Sender, cancel CancelMatcher, opts ...Option) (*Protocol, error) {
	if queue == nil {
		return nil, errors.New("moderation queue is required")
	}
	if sessions == nil {
		return nil, errors.New("session store is required")
	}
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	if cancel == nil {
		return nil, errors.New("cancel matcher is required")
	}
	p := &Protocol{
		queue:    queue,
		sessions: sessions,
		sender:   sender,
		cancel:   cancel,
		catalog:  messages.Default(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		retry:    retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.sessions = session.NewRetrying(sessions, p.retry)
	return p, nil
}

// Handles reports whether sess belongs to this package's flows.
func Handles(sess *session.Session) bool {
	return sess != nil && (sess.Kind == session.KindInfoQuestion || sess.Kind == session.KindInfoAnswer)
}

// BeginQuestion opens a question session for a reviewer who pressed "request
// info" on a card.
//
// Errors: CodeUnauthorized for non-reviewers. A missing or decided
// submission is reported to the reviewer and returns nil.
func (p *Protocol) BeginQuestion(ctx context.Context, reviewer id.SubmitterID, kind id.Kind, subID id.SubmissionID) error {
	sub, err := p.queue.Get(ctx, reviewer, kind, subID)
	switch {
	case dErrors.HasCode(err, dErrors.CodeNotFound):
		p.send(ctx, reviewer, p.decisionText(messages.DecisionNotFound, kind, subID))
		return nil
	case err != nil:
		return err
	case sub.Status.IsDecided():
		p.send(ctx, reviewer, p.decisionText(messages.DecisionAlreadyDecided, kind, subID))
		return nil
	}

	sess := session.New(reviewer, "", session.KindInfoQuestion, StepQuestion, requestcontext.Now(ctx))
	sess.Target = session.Target{Kind: kind, SubmissionID: subID}
	if err := p.sessions.Put(ctx, sess); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to store session")
	}
	p.send(ctx, reviewer, p.decisionText(messages.InfoQuestionPrompt, kind, subID), p.cancel.CancelButton())
	return nil
}

// SubmitQuestion turns the reviewer's next text into an InfoRequest. A
// failure to persist keeps the session so the reviewer can retry.
func (p *Protocol) SubmitQuestion(ctx context.Context, sess *session.Session, turn transport.Turn) error {
	reviewer := sess.SubmitterID
	if p.cancel.IsCancel(turn.Text) {
		p.clear(ctx, reviewer)
		p.send(ctx, reviewer, p.catalog.Text(messages.Cancelled))
		return nil
	}
	question := strings.TrimSpace(turn.Text)
	if question == "" {
		p.send(ctx, reviewer, p.catalog.Text(messages.InfoQuestionEmpty), p.cancel.CancelButton())
		return nil
	}

	target := sess.Target
	req, err := p.queue.RequestInfo(ctx, reviewer, target.Kind, target.SubmissionID, question)
	switch {
	case errors.Is(err, moderation.ErrQuestionNotDelivered):
		p.clear(ctx, reviewer)
		p.send(ctx, reviewer, p.catalog.Text(messages.InfoQuestionFailed))
		return nil
	case dErrors.HasCode(err, dErrors.CodeNotFound):
		p.clear(ctx, reviewer)
		p.send(ctx, reviewer, p.decisionText(messages.DecisionNotFound, target.Kind, target.SubmissionID))
		return nil
	case dErrors.HasCode(err, dErrors.CodeConflict):
		p.clear(ctx, reviewer)
		p.send(ctx, reviewer, p.decisionText(messages.DecisionAlreadyDecided, target.Kind, target.SubmissionID))
		return nil
	case err != nil:
		return err
	}

	p.clear(ctx, reviewer)
	p.send(ctx, reviewer, p.catalog.Text(messages.InfoQuestionSent,
		"request_id", req.ID.String(),
		"submitter_id", req.TargetSubmitter.String(),
	))
	return nil
}

// Respond opens an answer session for the submitter who pressed "respond".
// Requests that do not exist, target someone else, are answered or have
// expired are reported and leave any current session alone.
func (p *Protocol) Respond(ctx context.Context, submitter id.SubmitterID, reqID id.InfoRequestID) error {
	req, ok, err := p.open(ctx, submitter, reqID)
	if err != nil || !ok {
		return err
	}

	sess := session.New(submitter, "", session.KindInfoAnswer, StepAnswer, requestcontext.Now(ctx))
	sess.InfoRequestID = req.ID
	if err := p.sessions.Put(ctx, sess); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to store session")
	}
	p.send(ctx, submitter, p.catalog.Text(messages.InfoAnswerPrompt), p.cancel.CancelButton())
	return nil
}

// Answer records the submitter's reply: text, one attachment, or both. The
// cancel keyword declines instead.
func (p *Protocol) Answer(ctx context.Context, sess *session.Session, turn transport.Turn) error {
	submitter := sess.SubmitterID
	if p.cancel.IsCancel(turn.Text) {
		return p.Decline(ctx, submitter, sess.InfoRequestID)
	}

	text := strings.TrimSpace(turn.Text)
	var refs []string
	if f := turn.File(); f != nil {
		refs = []string{f.Token()}
	}
	if text == "" && len(refs) == 0 {
		p.send(ctx, submitter, p.catalog.Text(messages.EvidenceRequired), p.cancel.CancelButton())
		return nil
	}

	_, ok, err := p.open(ctx, submitter, sess.InfoRequestID)
	if err != nil {
		return err
	}
	if !ok {
		p.clear(ctx, submitter)
		return nil
	}

	_, err = p.queue.AnswerInfo(ctx, submitter, sess.InfoRequestID, text, refs)
	switch {
	case dErrors.HasCode(err, dErrors.CodeConflict):
		p.clear(ctx, submitter)
		p.send(ctx, submitter, p.catalog.Text(messages.InfoAlreadyAnswered))
		return nil
	case dErrors.HasCode(err, dErrors.CodeNotFound), dErrors.HasCode(err, dErrors.CodeForbidden):
		p.clear(ctx, submitter)
		p.send(ctx, submitter, p.catalog.Text(messages.InfoNotFound))
		return nil
	case err != nil:
		return err
	}

	p.clear(ctx, submitter)
	p.send(ctx, submitter, p.catalog.Text(messages.InfoAnswerThanks))
	return nil
}

// Decline leaves the request awaiting and never re-prompts for it. An answer
// session scoped to the request is cleared.
func (p *Protocol) Decline(ctx context.Context, submitter id.SubmitterID, reqID id.InfoRequestID) error {
	req, err := p.queue.InfoRequest(ctx, reqID)
	if dErrors.HasCode(err, dErrors.CodeNotFound) || (err == nil && req.TargetSubmitter != submitter) {
		p.send(ctx, submitter, p.catalog.Text(messages.InfoNotFound))
		return nil
	}
	if err != nil {
		return err
	}

	sess, err := p.sessions.Get(ctx, submitter)
	if err == nil && sess.Kind == session.KindInfoAnswer && sess.InfoRequestID == reqID {
		p.clear(ctx, submitter)
	}

	p.metrics.IncInfoRequest("declined")
	security.LogAudit(ctx, p.logger, p.publisher, audit.EventInfoDeclined,
		"submitter_id", submitter,
		"reviewer_id", req.ReviewerID,
		"target", models.Target(req.SubmissionKind, req.SubmissionID),
	)
	p.send(ctx, submitter, p.catalog.Text(messages.InfoDeclined))
	return nil
}

// Cancel ends either flow from a cancel button. An answer session declines its
// request.
func (p *Protocol) Cancel(ctx context.Context, sess *session.Session) error {
	if sess.Kind == session.KindInfoAnswer {
		return p.Decline(ctx, sess.SubmitterID, sess.InfoRequestID)
	}
	p.clear(ctx, sess.SubmitterID)
	p.send(ctx, sess.SubmitterID, p.catalog.Text(messages.Cancelled))
	return nil
}

// Continue routes a turn to the step the session rests on.
func (p *Protocol) Continue(ctx context.Context, sess *session.Session, turn transport.Turn) error {
	if sess.Kind == session.KindInfoQuestion {
		return p.SubmitQuestion(ctx, sess, turn)
	}
	return p.Answer(ctx, sess, turn)
}

// open loads a request the submitter may still answer. ok is false when the
// submitter has already been told why not.
func (p *Protocol) open(ctx context.Context, submitter id.SubmitterID, reqID id.InfoRequestID) (*models.InfoRequest, bool, error) {
	req, err := p.queue.InfoRequest(ctx, reqID)
	if dErrors.HasCode(err, dErrors.CodeNotFound) || (err == nil && req.TargetSubmitter != submitter) {
		p.send(ctx, submitter, p.catalog.Text(messages.InfoNotFound))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if req.Status == models.InfoAnswered {
		p.send(ctx, submitter, p.catalog.Text(messages.InfoAlreadyAnswered))
		return nil, false, nil
	}
	if req.Expired(requestcontext.Now(ctx), p.ttl) {
		p.metrics.IncInfoRequest("expired")
		p.send(ctx, submitter, p.catalog.Text(messages.InfoExpired))
		return nil, false, nil
	}
	return req, true, nil
}

func (p *Protocol) decisionText(key messages.Key, kind id.Kind, subID id.SubmissionID) string {
	return p.catalog.Text(key,
		"kind", p.catalog.Text(messages.Label(string(kind))),
		"id", subID.String(),
	)
}

func (p *Protocol) clear(ctx context.Context, submitter id.SubmitterID) {
	if err := p.sessions.Clear(ctx, submitter); err != nil {
		p.logger.WarnContext(ctx, "failed to clear session",
			"submitter_id", submitter,
			"error", err,
		)
	}
}

func (p *Protocol) send(ctx context.Context, to id.SubmitterID, text string, affordances ...transport.Affordance) {
	if err := p.sender.SendText(ctx, to, text, affordances...); err != nil {
		p.logger.WarnContext(ctx, "failed to deliver message",
			"submitter_id", to,
			"error", err,
		)
	}
}
