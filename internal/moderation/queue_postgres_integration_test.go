//go:build integration

package moderation_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"trustdesk/internal/moderation"
	"trustdesk/internal/moderation/models"
	infostore "trustdesk/internal/moderation/store/inforequest"
	"trustdesk/internal/moderation/store/submission"
	registrystore "trustdesk/internal/registry/store"
	"trustdesk/internal/transport"
	id "trustdesk/pkg/domain"
	"trustdesk/pkg/platform/retry"
	"trustdesk/pkg/platform/tx"
	"trustdesk/pkg/requestcontext"
	"trustdesk/pkg/testutil/containers"
)

const reviewer = id.SubmitterID(900)

type discardNotifier struct{}

func (discardNotifier) ReviewCard(context.Context, *models.Submission, *models.InfoRequest) {}

func (discardNotifier) Direct(context.Context, id.SubmitterID, string, ...transport.Affordance) error {
	return nil
}

type PostgresQueueSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	registry *registrystore.PostgresStore
	queue    *moderation.Queue
	ctx      context.Context
}

func TestPostgresQueueSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresQueueSuite))
}

func (s *PostgresQueueSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.registry = registrystore.NewPostgres(s.postgres.DB)

	var err error
	s.queue, err = moderation.New(
		submission.NewPostgres(s.postgres.DB),
		infostore.NewPostgres(s.postgres.DB),
		s.registry,
		tx.NewPostgres(s.postgres.DB),
		discardNotifier{},
		[]id.SubmitterID{reviewer},
		moderation.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		moderation.WithRetryPolicy(retry.NoWait(3)),
	)
	s.Require().NoError(err)
}

func (s *PostgresQueueSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	s.Require().NoError(s.postgres.TruncateTables(s.ctx,
		"whitelist_entries", "scam_entries", "info_requests", "submissions"))
}

// Concurrent approvals of one application across connections must produce
// exactly one whitelist entry and exactly one approval.
func (s *PostgresQueueSuite) TestConcurrentApprovalsWriteOneEntry() {
	sub, err := s.queue.Submit(s.ctx, models.Draft{
		FinalizeKey: "race",
		Submitter:   models.Submitter{ID: 501, Handle: "Alice"},
		Details:     models.ApplicationDetails{Activity: "tea", Locale: "Tbilisi", Link: "no", Rationale: "five years"},
		Evidence:    "reviews",
	})
	s.Require().NoError(err)

	const goroutines = 10
	outcomes := make(chan moderation.Outcome, goroutines)
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := s.queue.Approve(s.ctx, reviewer, id.KindApplication, sub.ID)
			s.NoError(err)
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	approved := 0
	for o := range outcomes {
		if o == moderation.OutcomeApproved {
			approved++
		} else {
			s.Equal(moderation.OutcomeAlreadyDecided, o)
		}
	}
	s.Equal(1, approved)

	counts, err := s.registry.Counts(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, counts.Whitelisted)

	page, _, err := s.registry.ListWhitelist(s.ctx, 0, 10)
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal("alice", page[0].Handle)
	s.Equal(sub.ID, page[0].SourceSubmissionID)
}

func (s *PostgresQueueSuite) TestAppealRetiresEveryActiveEntry() {
	for i, key := range []string{"r1", "r2"} {
		sub, err := s.queue.Submit(s.ctx, models.Draft{
			FinalizeKey: key,
			Submitter:   models.Submitter{ID: id.SubmitterID(600 + i)},
			Details:     models.ReportDetails{AccusedHandle: "bob", Description: "scam"},
			Evidence:    "logs",
		})
		s.Require().NoError(err)
		_, err = s.queue.Approve(s.ctx, reviewer, id.KindReport, sub.ID)
		s.Require().NoError(err)
	}

	appeal, err := s.queue.Submit(s.ctx, models.Draft{
		FinalizeKey: "a1",
		Submitter:   models.Submitter{ID: 700, Handle: "bob"},
		Details:     models.AppealDetails{AccusedHandle: "@Bob", Explanation: "misunderstanding"},
		Evidence:    "receipts",
	})
	s.Require().NoError(err)
	outcome, err := s.queue.Approve(s.ctx, reviewer, id.KindAppeal, appeal.ID)
	s.Require().NoError(err)
	s.Equal(moderation.OutcomeApproved, outcome)

	active, err := s.registry.HasActiveScam(s.ctx, "bob")
	s.Require().NoError(err)
	s.False(active)

	history, err := s.registry.ScamsByHandle(s.ctx, "bob")
	s.Require().NoError(err)
	s.Len(history, 2, "entries are retired, never deleted")

	stats, err := s.queue.Stats(s.ctx, reviewer)
	s.Require().NoError(err)
	s.Equal(0, stats.ActiveScams)
	s.Equal(2, stats.RemovedScams)
	s.Zero(stats.PendingByKind[id.KindAppeal])
}
