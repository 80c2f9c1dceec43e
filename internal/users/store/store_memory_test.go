package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"trustdesk/internal/users"
	id "trustdesk/pkg/domain"
	"trustdesk/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	t0    time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func (s *InMemoryStoreSuite) TestTouchKeepsFirstSeen() {
	s.Require().NoError(s.store.Touch(s.ctx, users.User{ID: 42, Handle: "alice", FirstSeen: s.t0, LastSeen: s.t0}))
	later := s.t0.Add(48 * time.Hour)
	s.Require().NoError(s.store.Touch(s.ctx, users.User{ID: 42, Handle: "alice_new", FirstSeen: later, LastSeen: later}))

	got, err := s.store.Get(s.ctx, 42)
	s.Require().NoError(err)
	s.Equal("alice_new", got.Handle)
	s.Equal(s.t0, got.FirstSeen)
	s.Equal(later, got.LastSeen)
}

func (s *InMemoryStoreSuite) TestCountIsDistinctUsers() {
	for _, uid := range []id.SubmitterID{1, 2, 1, 3, 2} {
		s.Require().NoError(s.store.Touch(s.ctx, users.User{ID: uid, FirstSeen: s.t0, LastSeen: s.t0}))
	}
	n, err := s.store.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, n)
}

func (s *InMemoryStoreSuite) TestGetUnknown() {
	_, err := s.store.Get(s.ctx, 7)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
