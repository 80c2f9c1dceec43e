//go:build integration

package submission_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"trustdesk/internal/moderation/models"
	"trustdesk/internal/moderation/store/submission"
	id "trustdesk/pkg/domain"
	"trustdesk/pkg/platform/sentinel"
	"trustdesk/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *submission.PostgresStore
	t0       time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = submission.NewPostgres(s.postgres.DB)
	s.t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(),
		"whitelist_entries", "scam_entries", "info_requests", "submissions"))
}

func (s *PostgresStoreSuite) report(key string, at time.Time) *models.Submission {
	return models.NewSubmission(models.Draft{
		FinalizeKey: key,
		Submitter:   models.Submitter{ID: 501, Handle: "alice"},
		Details:     models.ReportDetails{AccusedHandle: "bob", Description: "never shipped"},
		Evidence:    "chat log",
		FileRefs:    []string{"photo:abc"},
	}, at)
}

func (s *PostgresStoreSuite) TestCreateIsIdempotentOnFinalizeKey() {
	ctx := context.Background()
	first, created, err := s.store.Create(ctx, s.report("k1", s.t0))
	s.Require().NoError(err)
	s.True(created)
	s.NotZero(first.ID)

	replay, created, err := s.store.Create(ctx, s.report("k1", s.t0.Add(time.Minute)))
	s.Require().NoError(err)
	s.False(created)
	s.Equal(first.ID, replay.ID)

	got, err := s.store.Get(ctx, id.KindReport, first.ID)
	s.Require().NoError(err)
	s.Equal(models.ReportDetails{AccusedHandle: "bob", Description: "never shipped"}, got.Details)
	s.Equal([]string{"photo:abc"}, got.FileRefs)
	s.Equal(models.StatusPending, got.Status)
}

func (s *PostgresStoreSuite) TestGetRequiresMatchingKind() {
	ctx := context.Background()
	sub, _, err := s.store.Create(ctx, s.report("k1", s.t0))
	s.Require().NoError(err)

	_, err = s.store.Get(ctx, id.KindAppeal, sub.ID)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *PostgresStoreSuite) TestUpdateDecisionIsCompareAndSet() {
	ctx := context.Background()
	sub, _, err := s.store.Create(ctx, s.report("k1", s.t0))
	s.Require().NoError(err)

	s.Require().NoError(sub.Apply(models.Decision{Status: models.StatusRejected, Reviewer: 900, Notes: "dup", At: s.t0}))
	s.Require().NoError(s.store.UpdateDecision(ctx, sub))

	again := sub.Clone()
	again.Status = models.StatusApproved
	err = s.store.UpdateDecision(ctx, again)
	s.True(errors.Is(err, sentinel.ErrInvalidState))

	got, err := s.store.Get(ctx, id.KindReport, sub.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, got.Status)
	s.Equal("dup", got.ReviewerNotes)
	s.Equal(id.SubmitterID(900), got.DecidedBy)
}

func (s *PostgresStoreSuite) TestListPendingOldestFirst() {
	ctx := context.Background()
	late, _, err := s.store.Create(ctx, s.report("late", s.t0.Add(time.Hour)))
	s.Require().NoError(err)
	early, _, err := s.store.Create(ctx, s.report("early", s.t0))
	s.Require().NoError(err)

	pending, err := s.store.ListPending(ctx, id.KindReport)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal(early.ID, pending[0].ID)
	s.Equal(late.ID, pending[1].ID)

	counts, err := s.store.CountPending(ctx)
	s.Require().NoError(err)
	s.Equal(2, counts[id.KindReport])
}
