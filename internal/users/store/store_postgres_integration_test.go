//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"trustdesk/internal/users"
	"trustdesk/internal/users/store"
	"trustdesk/pkg/platform/sentinel"
	"trustdesk/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
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
	s.store = store.NewPostgres(s.postgres.DB)
	s.t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "bot_users"))
}

func (s *PostgresStoreSuite) TestUpsertKeepsFirstSeen() {
	ctx := context.Background()
	s.Require().NoError(s.store.Touch(ctx, users.User{ID: 501, Handle: "alice", FirstSeen: s.t0, LastSeen: s.t0}))
	later := s.t0.Add(time.Hour)
	s.Require().NoError(s.store.Touch(ctx, users.User{ID: 501, Handle: "alice2", FirstSeen: later, LastSeen: later}))
	s.Require().NoError(s.store.Touch(ctx, users.User{ID: 502, Handle: "bob", FirstSeen: later, LastSeen: later}))

	got, err := s.store.Get(ctx, 501)
	s.Require().NoError(err)
	s.Equal("alice2", got.Handle)
	s.True(got.FirstSeen.Equal(s.t0))
	s.True(got.LastSeen.Equal(later))

	n, err := s.store.Count(ctx)
	s.Require().NoError(err)
	s.Equal(2, n)
}

func (s *PostgresStoreSuite) TestGetUnknown() {
	_, err := s.store.Get(context.Background(), 999)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
