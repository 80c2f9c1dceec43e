package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"trustdesk/internal/dispatch/metrics"
	"trustdesk/internal/inforequest"
	"trustdesk/internal/intake"
	"trustdesk/internal/intake/store/bucket"
	"trustdesk/internal/intake/store/flag"
	"trustdesk/internal/messages"
	"trustdesk/internal/moderation"
	"trustdesk/internal/moderation/models"
	infostore "trustdesk/internal/moderation/store/inforequest"
	"trustdesk/internal/moderation/store/submission"
	"trustdesk/internal/notify"
	"trustdesk/internal/registry"
	registrystore "trustdesk/internal/registry/store"
	"trustdesk/internal/session"
	"trustdesk/internal/transport"
	"trustdesk/internal/transport/memory"
	"trustdesk/internal/users"
	userstore "trustdesk/internal/users/store"
	"trustdesk/internal/workflow"
	id "trustdesk/pkg/domain"
	"trustdesk/pkg/platform/retry"
	"trustdesk/pkg/platform/tx"
	"trustdesk/pkg/requestcontext"
)

const (
	reviewer = id.SubmitterID(900)
	alice    = id.SubmitterID(501)
)

type PipelineSuite struct {
	suite.Suite
	chat     *memory.Loopback
	sessions *session.InMemoryStore
	scams    *registrystore.InMemoryStore
	guard    *intake.Guard
	queue    *moderation.Queue
	metrics  *metrics.Metrics
	catalog  *messages.Catalog
	users    *userstore.InMemoryStore
	pipeline *Pipeline
	ctx      context.Context
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.chat = memory.New(0)
	s.sessions = session.NewInMemory(30 * time.Minute)
	s.scams = registrystore.NewInMemory()
	s.catalog = messages.Default()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))

	var err error
	s.guard, err = intake.New(bucket.New(), flag.New(),
		intake.WithLogger(logger),
		intake.WithLimits(10, time.Minute),
		intake.WithContentExemptions(reviewer),
	)
	s.Require().NoError(err)

	s.users = userstore.NewInMemory()
	directory, err := users.New(s.users, users.WithRetryPolicy(retry.NoWait(1)))
	s.Require().NoError(err)

	broadcaster, err := notify.New(s.chat, []id.SubmitterID{reviewer}, notify.WithRetryPolicy(retry.NoWait(1)))
	s.Require().NoError(err)
	s.queue, err = moderation.New(submission.NewInMemory(), infostore.NewInMemory(), s.scams,
		tx.NewSharded(), broadcaster, []id.SubmitterID{reviewer},
		moderation.WithLogger(logger),
		moderation.WithRetryPolicy(retry.NoWait(1)),
		moderation.WithUserCounter(directory),
	)
	s.Require().NoError(err)

	service, err := registry.New(s.scams)
	s.Require().NoError(err)
	browser, err := registry.NewBrowser(service, s.chat, s.catalog)
	s.Require().NoError(err)

	engine, err := workflow.New(s.sessions, s.queue, service, s.chat, workflow.WithLogger(logger))
	s.Require().NoError(err)
	protocol, err := inforequest.New(s.queue, s.sessions, s.chat, engine, inforequest.WithLogger(logger))
	s.Require().NoError(err)

	s.pipeline, err = NewPipeline(Deps{
		Guard:      s.guard,
		Sessions:   s.sessions,
		Workflow:   engine,
		Info:       protocol,
		Moderation: s.queue,
		Cards:      broadcaster,
		Registry:   browser,
		Sender:     s.chat,
		Users:      directory,
	}, WithLogger(logger), WithMetrics(s.metrics))
	s.Require().NoError(err)
}

func (s *PipelineSuite) say(from id.SubmitterID, text string) error {
	return s.pipeline.Handle(s.ctx, transport.Turn{SubmitterID: from, Handle: "@user", Text: text})
}

func (s *PipelineSuite) press(from id.SubmitterID, action transport.Action) error {
	return s.pipeline.Handle(s.ctx, transport.Turn{SubmitterID: from, Handle: "@user", Action: action.Payload()})
}

func (s *PipelineSuite) lastText(to id.SubmitterID) string {
	msg, ok := s.chat.Last(to)
	s.Require().True(ok, "no message to %d", to)
	return msg.Text
}

func (s *PipelineSuite) fileReport(accused string) *models.Submission {
	for _, text := range []string{"/report", accused, "took the money and left", "chat screenshots", workflow.DefaultConfirmKeyword} {
		s.Require().NoError(s.say(alice, text))
	}
	pending, err := s.queue.ListPending(s.ctx, reviewer, id.KindReport)
	s.Require().NoError(err)
	s.Require().NotEmpty(pending)
	return pending[len(pending)-1]
}

func hasButton(msgs []transport.Outbound, payload string) bool {
	for _, m := range msgs {
		for _, a := range m.Affordances {
			if a.Payload == payload {
				return true
			}
		}
	}
	return false
}

func (s *PipelineSuite) TestNewPipeline() {
	s.Run("rejects missing collaborators", func() {
		_, err := NewPipeline(Deps{})
		s.ErrorContains(err, "intake guard is required")
	})
}

func (s *PipelineSuite) TestReportThroughApproval() {
	sub := s.fileReport("Bob")
	s.Equal("bob", sub.Details.(models.ReportDetails).AccusedHandle)
	s.Contains(s.lastText(alice), sub.ID.String())

	approve := transport.ApproveAction(id.KindReport, sub.ID)
	s.True(hasButton(s.chat.Sent(reviewer), approve.Payload()), "reviewer should receive a card with an approve button")

	s.Require().NoError(s.press(reviewer, approve))
	s.Equal(s.catalog.Text(messages.DecisionApproved,
		"kind", s.catalog.Text(messages.Label("report")),
		"id", sub.ID.String(),
	), s.lastText(reviewer))
	s.Contains(s.lastText(alice), sub.ID.String())

	active, err := s.scams.HasActiveScam(s.ctx, "bob")
	s.Require().NoError(err)
	s.True(active)

	s.Require().NoError(s.press(reviewer, approve))
	s.Equal(s.catalog.Text(messages.DecisionAlreadyDecided,
		"kind", s.catalog.Text(messages.Label("report")),
		"id", sub.ID.String(),
	), s.lastText(reviewer))
}

func (s *PipelineSuite) TestSuspiciousTurnNeverReachesWorkflow() {
	s.Require().NoError(s.say(alice, "/report"))
	s.Require().NoError(s.say(alice, "see http://evil.example"))
	s.Equal(s.catalog.Text(messages.Suspicious), s.lastText(alice))

	sess, err := s.sessions.Get(s.ctx, alice)
	s.Require().NoError(err)
	s.Equal(workflow.StepAccused, sess.Step)
	s.Empty(sess.Fields)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Turns.WithLabelValues("denied")))
}

func (s *PipelineSuite) TestThrottleUntilReviewerUnflags() {
	for range 10 {
		s.Require().NoError(s.say(alice, "hi"))
	}
	s.Require().NoError(s.say(alice, "hi"))
	s.Equal(s.catalog.Text(messages.Throttled), s.lastText(alice))

	s.Require().NoError(s.say(alice, "/help"))
	s.Equal(s.catalog.Text(messages.Throttled), s.lastText(alice), "flag must outlive the turn that set it")

	s.Require().NoError(s.say(reviewer, "/unflag 501"))
	s.Equal(s.catalog.Text(messages.Unflagged, "submitter_id", "501"), s.lastText(reviewer))

	s.Require().NoError(s.say(alice, "hi"))
	s.Equal(s.catalog.Text(messages.Unknown), s.lastText(alice))
}

func (s *PipelineSuite) TestTooLongTurn() {
	long := make([]rune, intake.DefaultMaxTextLength+1)
	for i := range long {
		long[i] = 'a'
	}
	s.Require().NoError(s.say(alice, string(long)))
	s.Contains(s.lastText(alice), "1000")
}

func (s *PipelineSuite) TestReviewerCommandsAreDenied() {
	for _, cmd := range []string{"/stats", "/pending", "/unflag 7"} {
		err := s.say(alice, cmd)
		s.Error(err, cmd)
		s.Equal(s.catalog.Text(messages.Denied), s.lastText(alice), cmd)
	}
}

func (s *PipelineSuite) TestUnknownInput() {
	s.Run("free text without a session", func() {
		s.Require().NoError(s.say(alice, "hello"))
		s.Equal(s.catalog.Text(messages.Unknown), s.lastText(alice))
	})
	s.Run("unknown command", func() {
		s.Require().NoError(s.say(alice, "/teleport"))
		s.Equal(s.catalog.Text(messages.Unknown), s.lastText(alice))
	})
	s.Run("forged button payload", func() {
		s.Require().NoError(s.pipeline.Handle(s.ctx, transport.Turn{SubmitterID: alice, Action: "approve:nope:x"}))
		s.Equal(s.catalog.Text(messages.Unknown), s.lastText(alice))
	})
	s.Run("pressing approve as a submitter", func() {
		s.Error(s.press(alice, transport.ApproveAction(id.KindReport, 1)))
		s.Equal(s.catalog.Text(messages.Denied), s.lastText(alice))
	})
}

func (s *PipelineSuite) TestWelcome() {
	s.Require().NoError(s.say(alice, "/start"))
	msgs := s.chat.Sent(alice)
	s.Require().Len(msgs, 1)
	s.Equal(s.catalog.Text(messages.Welcome), msgs[0].Text)
	s.Len(msgs[0].Affordances, len(id.Kinds))
	s.True(hasButton(msgs, transport.StartAction(id.KindAppeal).Payload()))

	s.Require().NoError(s.say(reviewer, "/help@trustdesk_bot"))
	s.Equal(s.catalog.Text(messages.ReviewerWelcome), s.lastText(reviewer))
}

func (s *PipelineSuite) TestWelcomeRecordsVisitor() {
	s.Require().NoError(s.say(alice, "/start"))
	s.Require().NoError(s.say(alice, "/start"))

	got, err := s.users.Get(s.ctx, alice)
	s.Require().NoError(err)
	s.Equal("user", got.Handle)
	n, err := s.users.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *PipelineSuite) TestWelcomeSurvivesDirectoryFailure() {
	deps := s.pipeline.deps
	deps.Users = brokenUsers{}
	p, err := NewPipeline(deps)
	s.Require().NoError(err)

	s.Require().NoError(p.Handle(s.ctx, transport.Turn{SubmitterID: alice, Text: "/start"}))
	s.Equal(s.catalog.Text(messages.Welcome), s.lastText(alice))
}

func (s *PipelineSuite) TestRulesAndAbout() {
	s.Require().NoError(s.say(alice, "/rules"))
	s.Equal(s.catalog.Text(messages.Rules), s.lastText(alice))
	s.Contains(s.lastText(alice), "Пруфы обязательны")

	s.Require().NoError(s.say(alice, "/about@trustdesk_bot"))
	s.Equal(s.catalog.Text(messages.About), s.lastText(alice))

	_, err := s.sessions.Get(s.ctx, alice)
	s.Error(err, "informational commands open no session")
}

func (s *PipelineSuite) TestStartButtonOpensForm() {
	s.Require().NoError(s.press(alice, transport.StartAction(id.KindApplication)))
	sess, err := s.sessions.Get(s.ctx, alice)
	s.Require().NoError(err)
	s.Equal(session.KindApplication, sess.Kind)
	s.Equal("user", sess.Handle)

	s.Require().NoError(s.say(alice, "/cancel"))
	s.Equal(s.catalog.Text(messages.Cancelled), s.lastText(alice))
	_, err = s.sessions.Get(s.ctx, alice)
	s.Error(err)
}

func (s *PipelineSuite) TestPendingAndStats() {
	s.Require().NoError(s.say(alice, "/start"))
	s.Require().NoError(s.say(reviewer, "/pending"))
	s.Equal(s.catalog.Text(messages.PendingEmpty), s.lastText(reviewer))

	sub := s.fileReport("bob")
	s.chat.Reset()

	s.Require().NoError(s.say(reviewer, "/pending report"))
	msgs := s.chat.Sent(reviewer)
	s.Require().Len(msgs, 2)
	s.Equal(s.catalog.Text(messages.PendingHeader, "count", "1"), msgs[0].Text)
	s.True(hasButton(msgs, transport.RejectAction(id.KindReport, sub.ID).Payload()))

	s.Error(s.say(reviewer, "/pending nonsense"))
	s.Equal(s.catalog.Text(messages.Unknown), s.lastText(reviewer))

	s.Require().NoError(s.say(reviewer, "/stats"))
	s.Equal(s.catalog.Text(messages.StatsSummary,
		"users", "1",
		"whitelisted", "0",
		"active_scams", "0",
		"removed_scams", "0",
		"pending_application", "0",
		"pending_report", "1",
		"pending_appeal", "0",
	), s.lastText(reviewer))
}

func (s *PipelineSuite) TestInfoRequestRoundTrip() {
	sub := s.fileReport("bob")

	s.Require().NoError(s.press(reviewer, transport.InfoAction(id.KindReport, sub.ID)))
	s.Require().NoError(s.say(reviewer, "Which shop was it?"))

	toAlice := s.chat.Sent(alice)
	last := toAlice[len(toAlice)-1]
	s.Contains(last.Text, "Which shop was it?")
	s.Require().NotEmpty(last.Affordances)
	respond, err := transport.ParseAction(last.Affordances[0].Payload)
	s.Require().NoError(err)
	s.Equal(transport.ActionRespond, respond.Type)

	s.Require().NoError(s.press(alice, respond))
	s.Require().NoError(s.say(alice, "The one on the corner"))
	s.Equal(s.catalog.Text(messages.InfoAnswerThanks), s.lastText(alice))
	s.Contains(s.lastText(reviewer), "The one on the corner")

	_, err = s.sessions.Get(s.ctx, alice)
	s.Error(err, "answer session should be cleared")
}

func (s *PipelineSuite) TestGuardFailureDeniesTurn() {
	p, err := NewPipeline(Deps{
		Guard:      brokenGuard{},
		Sessions:   s.sessions,
		Workflow:   s.pipeline.deps.Workflow,
		Info:       s.pipeline.deps.Info,
		Moderation: s.queue,
		Cards:      s.pipeline.deps.Cards,
		Registry:   s.pipeline.deps.Registry,
		Sender:     s.chat,
		Users:      s.pipeline.deps.Users,
	})
	s.Require().NoError(err)

	s.Require().NoError(p.Handle(s.ctx, transport.Turn{SubmitterID: alice, Text: "/report"}))
	s.Equal(s.catalog.Text(messages.TryLater), s.lastText(alice))
	_, err = s.sessions.Get(s.ctx, alice)
	s.Error(err, "no workflow may start on an unchecked turn")
}

type brokenGuard struct{}

func (brokenGuard) Accept(context.Context, id.SubmitterID, string) (intake.Verdict, error) {
	return intake.Verdict{}, errors.New("redis: connection refused")
}

func (brokenGuard) Reset(context.Context, id.SubmitterID, id.SubmitterID) (bool, error) {
	return false, nil
}

func (brokenGuard) MaxTextLength() int { return intake.DefaultMaxTextLength }

type brokenUsers struct{}

func (brokenUsers) Record(context.Context, id.SubmitterID, string) error {
	return errors.New("postgres: connection refused")
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text string
		name string
		arg  string
		ok   bool
	}{
		{text: "/start", name: "start", ok: true},
		{text: "  /Pending report ", name: "pending", arg: "report", ok: true},
		{text: "/unflag@trustdesk_bot 42", name: "unflag", arg: "42", ok: true},
		{text: "/", ok: false},
		{text: "hello /start", ok: false},
		{text: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			name, arg, ok := parseCommand(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.arg, arg)
		})
	}
}
