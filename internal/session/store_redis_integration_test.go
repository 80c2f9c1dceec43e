//go:build integration

package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"trustdesk/internal/session"
	id "trustdesk/pkg/domain"
	"trustdesk/pkg/platform/sentinel"
	"trustdesk/pkg/requestcontext"
	"trustdesk/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *session.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = session.NewRedis(s.redis.Client, time.Minute)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestRoundTrip() {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	sess := session.New(501, "alice", session.KindInfoQuestion, "question", now)
	sess.Target = session.Target{Kind: id.KindReport, SubmissionID: 7}
	sess.Fields["accused"] = "bob"
	s.Require().NoError(s.store.Put(ctx, sess))

	got, err := s.store.Get(ctx, 501)
	s.Require().NoError(err)
	s.Equal(session.KindInfoQuestion, got.Kind)
	s.Equal(id.SubmissionID(7), got.Target.SubmissionID)
	s.Equal("bob", got.Fields["accused"])
	s.True(got.UpdatedAt.Equal(now))

	ttl, err := s.redis.Client.TTL(ctx, "trustdesk:session:501").Result()
	s.Require().NoError(err)
	s.Positive(ttl)

	s.Require().NoError(s.store.Clear(ctx, 501))
	_, err = s.store.Get(ctx, 501)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *RedisStoreSuite) TestOneSessionPerSubmitter() {
	ctx := context.Background()
	now := time.Now()
	s.Require().NoError(s.store.Put(ctx, session.New(501, "", session.KindReport, "accused", now)))
	s.Require().NoError(s.store.Put(ctx, session.New(501, "", session.KindInfoAnswer, "answer", now)))

	got, err := s.store.Get(ctx, 501)
	s.Require().NoError(err)
	s.Equal(session.KindInfoAnswer, got.Kind)
}
