//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	audit "trustdesk/pkg/platform/audit"
	"trustdesk/pkg/platform/audit/store/postgres"
	"trustdesk/pkg/testutil/containers"
)

type StoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
}

func (s *StoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_events"))
}

func (s *StoreSuite) TestAppendBatchAndListBySubject() {
	ctx := context.Background()
	t0 := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	err := s.store.Append(ctx,
		audit.Event{
			Category:  audit.CategorySecurity,
			Timestamp: t0,
			SubjectID: 501,
			Action:    string(audit.EventIntakeRejected),
			Reason:    "suspicious_content",
			Text:      "visit http://x",
		},
		audit.Event{
			Category:  audit.CategorySecurity,
			Timestamp: t0.Add(time.Minute),
			SubjectID: 501,
			Action:    string(audit.EventIntakeFlagged),
			Reason:    "rate_limited",
		},
		audit.Event{
			Category:  audit.CategorySecurity,
			Timestamp: t0,
			SubjectID: 777,
			Action:    string(audit.EventIntakeFlagged),
		},
	)
	s.Require().NoError(err)

	events, err := s.store.ListBySubject(ctx, 501)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(string(audit.EventIntakeFlagged), events[0].Action, "newest first")
	s.Equal("visit http://x", events[1].Text)

	recent, err := s.store.ListRecent(ctx, 10)
	s.Require().NoError(err)
	s.Len(recent, 3)
}
