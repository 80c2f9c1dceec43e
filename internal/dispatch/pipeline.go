// Package dispatch turns inbound chat turns into calls on the workflow engine,
// the moderation queue and the info-request flows.
//
// Every turn passes the intake guard first. Turns that survive are routed by
// what they carry: a button payload, a slash command, or free input that
// continues the submitter's session.
package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trustdesk/internal/dispatch/metrics"
	"trustdesk/internal/inforequest"
	"trustdesk/internal/intake"
	"trustdesk/internal/messages"
	"trustdesk/internal/moderation"
	"trustdesk/internal/moderation/models"
	"trustdesk/internal/session"
	"trustdesk/internal/transport"
	"trustdesk/internal/workflow"
	id "trustdesk/pkg/domain"
	dErrors "trustdesk/pkg/domain-errors"
	"trustdesk/pkg/platform/retry"
	"trustdesk/pkg/platform/sentinel"
	"trustdesk/pkg/requestcontext"
)

var tracer = otel.Tracer("trustdesk/internal/dispatch")

// maxPendingCards caps how many cards one /pending sends.
const maxPendingCards = 20

type Guard interface {
	Accept(ctx context.Context, submitterID id.SubmitterID, text string) (intake.Verdict, error)
	Reset(ctx context.Context, reviewerID, submitterID id.SubmitterID) (bool, error)
	MaxTextLength() int
}

type SessionReader interface {
	Get(ctx context.Context, submitterID id.SubmitterID) (*session.Session, error)
}

type Workflow interface {
	Start(ctx context.Context, submitter models.Submitter, kind id.Kind) error
	Advance(ctx context.Context, sess *session.Session, turn transport.Turn) (workflow.Result, error)
	Cancel(ctx context.Context, submitterID id.SubmitterID) (bool, error)
	IsCancel(text string) bool
}

type InfoFlow interface {
	BeginQuestion(ctx context.Context, reviewer id.SubmitterID, kind id.Kind, subID id.SubmissionID) error
	Respond(ctx context.Context, submitter id.SubmitterID, reqID id.InfoRequestID) error
	Decline(ctx context.Context, submitter id.SubmitterID, reqID id.InfoRequestID) error
	Continue(ctx context.Context, sess *session.Session, turn transport.Turn) error
	Cancel(ctx context.Context, sess *session.Session) error
}

type Moderation interface {
	IsReviewer(caller id.SubmitterID) bool
	ListPending(ctx context.Context, reviewer id.SubmitterID, kind id.Kind) ([]*models.Submission, error)
	Approve(ctx context.Context, reviewer id.SubmitterID, kind id.Kind, subID id.SubmissionID) (moderation.Outcome, error)
	Reject(ctx context.Context, reviewer id.SubmitterID, kind id.Kind, subID id.SubmissionID, notes string) (moderation.Outcome, error)
	Stats(ctx context.Context, reviewer id.SubmitterID) (models.Stats, error)
}

// UserRecorder notes everyone who opens the bot.
type UserRecorder interface {
	Record(ctx context.Context, userID id.SubmitterID, handle string) error
}

type CardSender interface {
	SendCard(ctx context.Context, to id.SubmitterID, sub *models.Submission) error
}

type Browser interface {
	Send(ctx context.Context, to id.SubmitterID, list string, n int) error
}

// Deps are the collaborators a Pipeline routes to. All are required.
type Deps struct {
	Guard      Guard
	Sessions   SessionReader
	Workflow   Workflow
	Info       InfoFlow
	Moderation Moderation
	Cards      CardSender
	Registry   Browser
	Sender     transport.Sender
	Users      UserRecorder
}

func (d Deps) validate() error {
	switch {
	case d.Guard == nil:
		return errors.New("intake guard is required")
	case d.Sessions == nil:
		return errors.New("session store is required")
	case d.Workflow == nil:
		return errors.New("workflow is required")
	case d.Info == nil:
		return errors.New("info flow is required")
	case d.Moderation == nil:
		return errors.New("moderation queue is required")
	case d.Cards == nil:
		return errors.New("card sender is required")
	case d.Registry == nil:
		return errors.New("registry browser is required")
	case d.Sender == nil:
		return errors.New("sender is required")
	case d.Users == nil:
		return errors.New("user directory is required")
	}
	return nil
}

type Pipeline struct {
	deps    Deps
	catalog *messages.Catalog
	logger  *slog.Logger
	metrics *metrics.Metrics
	retry   retry.Policy
}

type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

func WithCatalog(catalog *messages.Catalog) Option {
	return func(p *Pipeline) {
		if catalog != nil {
			p.catalog = catalog
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithRetryPolicy bounds retries of session reads.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(p *Pipeline) {
		p.retry = policy
	}
}

func NewPipeline(deps Deps, opts ...Option) (*Pipeline, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		deps:    deps,
		catalog: messages.Default(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		retry:   retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Handle processes one turn to completion. User-facing failures are answered
// here; the returned error is for the caller's log.
func (p *Pipeline) Handle(ctx context.Context, turn transport.Turn) error {
	start := time.Now()
	ctx = turnContext(ctx, turn)
	ctx, span := tracer.Start(ctx, "dispatch.Handle", trace.WithAttributes(
		attribute.Int64("submitter_id", turn.SubmitterID.Int64()),
	))
	defer span.End()

	if !p.admit(ctx, turn) {
		span.SetAttributes(attribute.String("route", "denied"))
		p.metrics.ObserveTurn("denied", time.Since(start))
		return nil
	}

	route, err := p.route(ctx, turn)
	span.SetAttributes(attribute.String("route", route))
	p.metrics.ObserveTurn(route, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, route)
		p.replyError(ctx, turn.SubmitterID, err)
		return err
	}
	return nil
}

func turnContext(ctx context.Context, turn transport.Turn) context.Context {
	ctx = requestcontext.WithRequestID(ctx, uuid.NewString())
	ctx = requestcontext.WithSubmitterID(ctx, turn.SubmitterID)
	if !turn.ReceivedAt.IsZero() {
		ctx = requestcontext.WithTime(ctx, turn.ReceivedAt)
	}
	return ctx
}

// admit runs the intake guard. A guard failure denies the turn: an unchecked
// turn never reaches a workflow.
func (p *Pipeline) admit(ctx context.Context, turn transport.Turn) bool {
	verdict, err := p.deps.Guard.Accept(ctx, turn.SubmitterID, turn.Text)
	if err != nil {
		p.logger.ErrorContext(ctx, "intake check failed, denying turn",
			"submitter_id", turn.SubmitterID,
			"error", err,
		)
		p.send(ctx, turn.SubmitterID, p.catalog.Text(messages.TryLater))
		return false
	}
	switch {
	case verdict.IsAccepted():
		return true
	case verdict.Outcome == intake.Throttled:
		p.send(ctx, turn.SubmitterID, p.catalog.Text(messages.Throttled))
	case verdict.Reason == intake.ReasonTooLong:
		p.send(ctx, turn.SubmitterID, p.catalog.Text(messages.TooLong, "max", strconv.Itoa(p.deps.Guard.MaxTextLength())))
	default:
		p.send(ctx, turn.SubmitterID, p.catalog.Text(messages.Suspicious))
	}
	return false
}

func (p *Pipeline) route(ctx context.Context, turn transport.Turn) (string, error) {
	if turn.Action != "" {
		return "action", p.handleAction(ctx, turn)
	}
	if name, arg, ok := parseCommand(turn.Text); ok {
		return "command", p.handleCommand(ctx, turn, name, arg)
	}
	return "conversation", p.handleConversation(ctx, turn)
}

func (p *Pipeline) handleConversation(ctx context.Context, turn transport.Turn) error {
	sess, err := p.loadSession(ctx, turn.SubmitterID)
	if errors.Is(err, sentinel.ErrNotFound) {
		if p.deps.Workflow.IsCancel(turn.Text) {
			_, err := p.deps.Workflow.Cancel(ctx, turn.SubmitterID)
			return err
		}
		p.send(ctx, turn.SubmitterID, p.catalog.Text(messages.Unknown))
		return nil
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load session")
	}
	if inforequest.Handles(sess) {
		return p.deps.Info.Continue(ctx, sess, turn)
	}
	_, err = p.deps.Workflow.Advance(ctx, sess, turn)
	return err
}

func (p *Pipeline) loadSession(ctx context.Context, submitterID id.SubmitterID) (*session.Session, error) {
	return retry.Value(ctx, p.retry, func(ctx context.Context) (*session.Session, error) {
		return p.deps.Sessions.Get(ctx, submitterID)
	})
}

func (p *Pipeline) handleCancel(ctx context.Context, submitterID id.SubmitterID) error {
	sess, err := p.loadSession(ctx, submitterID)
	if err == nil && inforequest.Handles(sess) {
		return p.deps.Info.Cancel(ctx, sess)
	}
	_, err = p.deps.Workflow.Cancel(ctx, submitterID)
	return err
}

func (p *Pipeline) handleAction(ctx context.Context, turn transport.Turn) error {
	action, err := transport.ParseAction(turn.Action)
	if err != nil {
		p.logger.WarnContext(ctx, "malformed action payload",
			"submitter_id", turn.SubmitterID,
			"payload", turn.Action,
		)
		p.send(ctx, turn.SubmitterID, p.catalog.Text(messages.Unknown))
		return nil
	}

	caller := turn.SubmitterID
	switch action.Type {
	case transport.ActionStart:
		return p.deps.Workflow.Start(ctx, submitterOf(turn), action.Kind)
	case transport.ActionCancel:
		return p.handleCancel(ctx, caller)
	case transport.ActionApprove:
		outcome, err := p.deps.Moderation.Approve(ctx, caller, action.Kind, action.SubmissionID)
		if err != nil {
			return err
		}
		p.send(ctx, caller, p.decisionText(outcome, action.Kind, action.SubmissionID))
	case transport.ActionReject:
		outcome, err := p.deps.Moderation.Reject(ctx, caller, action.Kind, action.SubmissionID, "")
		if err != nil {
			return err
		}
		p.send(ctx, caller, p.decisionText(outcome, action.Kind, action.SubmissionID))
	case transport.ActionInfo:
		return p.deps.Info.BeginQuestion(ctx, caller, action.Kind, action.SubmissionID)
	case transport.ActionRespond:
		return p.deps.Info.Respond(ctx, caller, action.RequestID)
	case transport.ActionDecline:
		return p.deps.Info.Decline(ctx, caller, action.RequestID)
	case transport.ActionPage:
		return p.deps.Registry.Send(ctx, caller, action.List, action.Page)
	}
	return nil
}

func (p *Pipeline) decisionText(outcome moderation.Outcome, kind id.Kind, subID id.SubmissionID) string {
	key := messages.DecisionNotFound
	switch outcome {
	case moderation.OutcomeApproved:
		key = messages.DecisionApproved
	case moderation.OutcomeRejected:
		key = messages.DecisionRejected
	case moderation.OutcomeAlreadyDecided:
		key = messages.DecisionAlreadyDecided
	}
	return p.catalog.Text(key,
		"kind", p.catalog.Text(messages.Label(string(kind))),
		"id", subID.String(),
	)
}

// replyError tells the submitter something went wrong. Workflows keep their
// state on failure, so "try later" is accurate for everything except a denial.
func (p *Pipeline) replyError(ctx context.Context, to id.SubmitterID, err error) {
	switch {
	case dErrors.HasCode(err, dErrors.CodeUnauthorized):
		p.send(ctx, to, p.catalog.Text(messages.Denied))
	case dErrors.HasCode(err, dErrors.CodeInvalidInput):
		p.send(ctx, to, p.catalog.Text(messages.Unknown))
	default:
		p.send(ctx, to, p.catalog.Text(messages.TryLater))
	}
}

func (p *Pipeline) send(ctx context.Context, to id.SubmitterID, text string, affordances ...transport.Affordance) {
	if err := p.deps.Sender.SendText(ctx, to, text, affordances...); err != nil {
		p.logger.WarnContext(ctx, "failed to deliver message",
			"submitter_id", to,
			"error", err,
		)
	}
}

func submitterOf(turn transport.Turn) models.Submitter {
	return models.Submitter{ID: turn.SubmitterID, Handle: strings.TrimPrefix(strings.TrimSpace(turn.Handle), "@")}
}
