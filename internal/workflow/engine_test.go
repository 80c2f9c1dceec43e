package workflow

//go:generate mockgen -source=engine.go -destination=mocks/mocks.go -package=mocks Finalizer,ScamChecker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"trustdesk/internal/messages"
	"trustdesk/internal/moderation/models"
	"trustdesk/internal/session"
	"trustdesk/internal/transport"
	"trustdesk/internal/transport/memory"
	"trustdesk/internal/workflow/mocks"
	id "trustdesk/pkg/domain"
	dErrors "trustdesk/pkg/domain-errors"
	"trustdesk/pkg/platform/retry"
	"trustdesk/pkg/platform/sentinel"
	"trustdesk/pkg/requestcontext"
)

const alice = id.SubmitterID(501)

type EngineSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	finalizer *mocks.MockFinalizer
	scams     *mocks.MockScamChecker
	sessions  *session.InMemoryStore
	chat      *memory.Loopback
	catalog   *messages.Catalog
	engine    *Engine
	ctx       context.Context
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.finalizer = mocks.NewMockFinalizer(s.ctrl)
	s.scams = mocks.NewMockScamChecker(s.ctrl)
	s.sessions = session.NewInMemory(30 * time.Minute)
	s.chat = memory.New(0)
	s.catalog = messages.Default()
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))

	var err error
	s.engine, err = New(s.sessions, s.finalizer, s.scams, s.chat,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)
}

func (s *EngineSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *EngineSuite) say(text string) Result {
	return s.sayTurn(transport.Turn{SubmitterID: alice, Text: text})
}

func (s *EngineSuite) sayTurn(turn transport.Turn) Result {
	sess, err := s.sessions.Get(s.ctx, alice)
	s.Require().NoError(err)
	res, err := s.engine.Advance(s.ctx, sess, turn)
	s.Require().NoError(err)
	return res
}

func (s *EngineSuite) current() *session.Session {
	sess, err := s.sessions.Get(s.ctx, alice)
	s.Require().NoError(err)
	return sess
}

func (s *EngineSuite) lastText() string {
	msg, ok := s.chat.Last(alice)
	s.Require().True(ok, "expected a message to the submitter")
	return msg.Text
}

func (s *EngineSuite) start(kind id.Kind) {
	s.Require().NoError(s.engine.Start(s.ctx, models.Submitter{ID: alice, Handle: "alice"}, kind))
}

func (s *EngineSuite) TestNew() {
	s.Run("nil session store", func() {
		_, err := New(nil, s.finalizer, s.scams, s.chat)
		s.Require().Error(err)
		s.Contains(err.Error(), "session store is required")
	})
	s.Run("nil finalizer", func() {
		_, err := New(s.sessions, nil, s.scams, s.chat)
		s.Require().Error(err)
		s.Contains(err.Error(), "finalizer is required")
	})
	s.Run("nil scam checker", func() {
		_, err := New(s.sessions, s.finalizer, nil, s.chat)
		s.Require().Error(err)
		s.Contains(err.Error(), "scam checker is required")
	})
	s.Run("nil sender", func() {
		_, err := New(s.sessions, s.finalizer, s.scams, nil)
		s.Require().Error(err)
		s.Contains(err.Error(), "sender is required")
	})
}

func (s *EngineSuite) TestApplicationEndToEnd() {
	s.start(id.KindApplication)
	first, ok := s.chat.Last(alice)
	s.Require().True(ok)
	s.Contains(first.Text, "@alice")
	s.Contains(first.Text, "501")
	s.Require().Len(first.Affordances, 1)
	s.Equal(transport.CancelAction().Payload(), first.Affordances[0].Payload)

	s.Equal(OutcomeAdvanced, s.say("Продаю цветы").Outcome)
	s.Equal(OutcomeAdvanced, s.say("Москва").Outcome)
	s.Equal(OutcomeAdvanced, s.say("нет").Outcome)
	s.Equal(OutcomeAdvanced, s.say("Пять лет на рынке").Outcome)

	res := s.sayTurn(transport.Turn{
		SubmitterID: alice,
		Files:       []transport.FileRef{{Kind: transport.FileDocument, ID: "doc-1"}, {Kind: transport.FilePhoto, ID: "ph-9"}},
	})
	s.Equal(OutcomeAdvanced, res.Outcome)
	s.Equal(StepConfirm, res.Step)

	sess := s.current()
	s.Equal([]string{"photo:ph-9"}, sess.FileRefs)
	s.Equal(s.catalog.Text(messages.EvidenceViaFile), sess.Fields["evidence"])
	s.NotEmpty(sess.FinalizeKey)
	summary := s.lastText()
	s.Contains(summary, "Продаю цветы")
	s.Contains(summary, "Москва")
	s.Contains(summary, DefaultConfirmKeyword)

	s.Run("non-keyword input never finalizes", func() {
		res := s.say("да")
		s.Equal(OutcomeReprompted, res.Outcome)
		s.Equal(StepConfirm, s.current().Step)
		s.Equal(sess.Fields, s.current().Fields)
	})

	s.finalizer.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, d models.Draft) (*models.Submission, error) {
			s.Equal(sess.FinalizeKey, d.FinalizeKey)
			s.Equal(models.ApplicationDetails{
				Activity:  "Продаю цветы",
				Locale:    "Москва",
				Link:      "нет",
				Rationale: "Пять лет на рынке",
			}, d.Details)
			s.Equal(alice, d.Submitter.ID)
			s.Equal([]string{"photo:ph-9"}, d.FileRefs)
			sub := models.NewSubmission(d, requestcontext.Now(s.ctx))
			sub.ID = 7
			return sub, nil
		})

	res = s.say("  подтверждаю ")
	s.Equal(OutcomeFinalized, res.Outcome)
	s.Require().NotNil(res.Submission)
	s.Equal(id.SubmissionID(7), res.Submission.ID)
	s.Contains(s.lastText(), "#7")

	_, err := s.sessions.Get(s.ctx, alice)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Run("cancel after finalize is a no-op", func() {
		had, err := s.engine.Cancel(s.ctx, alice)
		s.Require().NoError(err)
		s.False(had)
		s.Equal(s.catalog.Text(messages.NothingToCancel), s.lastText())
	})
}

func (s *EngineSuite) TestCancel() {
	s.Run("keyword at any step", func() {
		s.start(id.KindReport)
		s.say("scammer")
		res := s.say("  /CANCEL ")
		s.Equal(OutcomeCancelled, res.Outcome)
		s.Equal(s.catalog.Text(messages.Cancelled), s.lastText())
		_, err := s.sessions.Get(s.ctx, alice)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
	s.Run("cancel button", func() {
		s.start(id.KindApplication)
		res := s.sayTurn(transport.Turn{SubmitterID: alice, Action: transport.CancelAction().Payload()})
		s.Equal(OutcomeCancelled, res.Outcome)
	})
	s.Run("cancel label text", func() {
		s.start(id.KindApplication)
		s.Equal(OutcomeCancelled, s.say("❌ Отменить").Outcome)
	})
	s.Run("explicit cancel with a session", func() {
		s.start(id.KindAppeal)
		had, err := s.engine.Cancel(s.ctx, alice)
		s.Require().NoError(err)
		s.True(had)
	})
}

func (s *EngineSuite) TestStartSupersedesExistingSession() {
	s.start(id.KindApplication)
	s.say("Продаю цветы")
	s.start(id.KindReport)

	sess := s.current()
	s.Equal(session.KindReport, sess.Kind)
	s.Equal(StepAccused, sess.Step)
	s.Empty(sess.Fields)
}

func (s *EngineSuite) TestStartRejectsUnknownKind() {
	err := s.engine.Start(s.ctx, models.Submitter{ID: alice}, id.Kind("survey"))
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *EngineSuite) TestEmptyTextRepromptsSameStep() {
	s.start(id.KindApplication)
	res := s.sayTurn(transport.Turn{SubmitterID: alice, Files: []transport.FileRef{{Kind: transport.FilePhoto, ID: "p"}}})
	s.Equal(OutcomeReprompted, res.Outcome)
	s.Equal(StepActivity, s.current().Step)
	s.Equal(s.catalog.Text(messages.EmptyInput), s.lastText())
}

func (s *EngineSuite) TestEvidenceRequiresTextOrFile() {
	s.start(id.KindReport)
	s.say("scammer")
	s.say("Не отдал товар")

	res := s.say("   ")
	s.Equal(OutcomeReprompted, res.Outcome)
	s.Equal(StepEvidence, s.current().Step)
	s.Equal(s.catalog.Text(messages.EvidenceRequired), s.lastText())

	res = s.say("Скриншоты переписки у меня")
	s.Equal(OutcomeAdvanced, res.Outcome)
	s.Empty(s.current().FileRefs)
}

func (s *EngineSuite) TestReportNormalizesAccusedHandle() {
	s.start(id.KindReport)
	s.say("  @Scammer ")
	s.Equal("scammer", s.current().Fields["accused"])
}

func (s *EngineSuite) TestAppealPrecheck() {
	s.Run("inactive handle ends before explanation", func() {
		s.start(id.KindAppeal)
		s.scams.EXPECT().IsActive(gomock.Any(), "bob").Return(false, nil)

		res := s.say("@Bob")
		s.Equal(OutcomeTerminated, res.Outcome)
		s.Contains(s.lastText(), "@bob")
		_, err := s.sessions.Get(s.ctx, alice)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("lookup failure keeps the accused step", func() {
		s.start(id.KindAppeal)
		s.scams.EXPECT().IsActive(gomock.Any(), "bob").Return(false, errors.New("db down"))

		res := s.say("bob")
		s.Equal(OutcomeReprompted, res.Outcome)
		s.Equal(StepAccused, s.current().Step)
		s.Empty(s.current().Fields)
		s.Equal(s.catalog.Text(messages.AppealLookupFailed), s.lastText())
	})

	s.Run("active handle proceeds to explanation", func() {
		s.start(id.KindAppeal)
		s.scams.EXPECT().IsActive(gomock.Any(), "bob").Return(true, nil)

		res := s.say("bob")
		s.Equal(OutcomeAdvanced, res.Outcome)
		s.Equal(StepExplanation, res.Step)
	})
}

func (s *EngineSuite) TestFinalizeFailureKeepsSessionAndKey() {
	s.start(id.KindReport)
	s.say("scammer")
	s.say("Не отдал товар")
	s.say("Скриншоты")
	key := s.current().FinalizeKey

	var keys []string
	unavailable := dErrors.New(dErrors.CodeUnavailable, "store unavailable after retries")
	gomock.InOrder(
		s.finalizer.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, d models.Draft) (*models.Submission, error) {
				keys = append(keys, d.FinalizeKey)
				return nil, unavailable
			}),
		s.finalizer.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, d models.Draft) (*models.Submission, error) {
				keys = append(keys, d.FinalizeKey)
				sub := models.NewSubmission(d, requestcontext.Now(s.ctx))
				sub.ID = 3
				return sub, nil
			}),
	)

	sess := s.current()
	res, err := s.engine.Advance(s.ctx, sess, transport.Turn{SubmitterID: alice, Text: DefaultConfirmKeyword})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.Equal(OutcomeFailed, res.Outcome)
	s.Equal(StepConfirm, s.current().Step)
	s.Equal(key, s.current().FinalizeKey)

	s.Equal(OutcomeFinalized, s.say(DefaultConfirmKeyword).Outcome)
	s.Equal([]string{key, key}, keys)
}

func (s *EngineSuite) TestConfirmWithMissingFieldReturnsToThatStep() {
	s.start(id.KindReport)
	s.say("scammer")
	s.say("Не отдал товар")
	s.say("Скриншоты")

	sess := s.current()
	delete(sess.Fields, "description")
	s.Require().NoError(s.sessions.Put(s.ctx, sess))

	res := s.say(DefaultConfirmKeyword)
	s.Equal(OutcomeReprompted, res.Outcome)
	s.Equal(StepDescription, res.Step)
	s.Equal(StepDescription, s.current().Step)
	s.Equal("Скриншоты", s.current().Fields["evidence"])
}

func (s *EngineSuite) TestConfiguredKeywords() {
	engine, err := New(s.sessions, s.finalizer, s.scams, s.chat,
		WithConfirmKeyword("agree"),
		WithCancelKeywords("stop", " "),
	)
	s.Require().NoError(err)
	s.True(engine.IsCancel("STOP"))
	s.False(engine.IsCancel("/cancel"))

	s.Require().NoError(engine.Start(s.ctx, models.Submitter{ID: alice}, id.KindReport))
	for _, text := range []string{"x", "y", "z"} {
		_, err := engine.Advance(s.ctx, s.current(), transport.Turn{SubmitterID: alice, Text: text})
		s.Require().NoError(err)
	}
	s.True(strings.Contains(s.lastText(), "agree"))
}

func (s *EngineSuite) TestDeliveryFailureDoesNotFailTheTurn() {
	s.chat.FailDeliveriesTo(alice, errors.New("blocked by user"))
	s.start(id.KindApplication)
	s.Equal(OutcomeAdvanced, s.say("Продаю цветы").Outcome)
	s.Equal(StepLocale, s.current().Step)
}

// flakySessions fails the next putFailures writes with a transient error.
type flakySessions struct {
	*session.InMemoryStore
	putFailures int
}

func (f *flakySessions) Put(ctx context.Context, sess *session.Session) error {
	if f.putFailures > 0 {
		f.putFailures--
		return errors.New("redis: i/o timeout")
	}
	return f.InMemoryStore.Put(ctx, sess)
}

func (s *EngineSuite) TestTransientSessionWriteIsRetried() {
	flaky := &flakySessions{InMemoryStore: s.sessions, putFailures: 1}
	engine, err := New(flaky, s.finalizer, s.scams, s.chat, WithRetryPolicy(retry.NoWait(2)))
	s.Require().NoError(err)

	s.Require().NoError(engine.Start(s.ctx, models.Submitter{ID: alice, Handle: "alice"}, id.KindReport))
	s.Equal(StepAccused, s.current().Step)

	flaky.putFailures = 1
	res, err := engine.Advance(s.ctx, s.current(), transport.Turn{SubmitterID: alice, Text: "@scammer"})
	s.Require().NoError(err)
	s.Equal(OutcomeAdvanced, res.Outcome)
	s.Equal(StepDescription, s.current().Step)
}
