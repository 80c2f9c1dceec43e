package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	id "trustdesk/pkg/domain"
	"trustdesk/pkg/platform/sentinel"
	"trustdesk/pkg/requestcontext"
)

const keyPrefix = "trustdesk:session:"

// RedisStore keeps sessions as JSON. Idle expiry is the key TTL, refreshed on
// every Put.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, submitterID id.SubmitterID) (*Session, error) {
	raw, err := s.client.Get(ctx, keyPrefix+submitterID.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session for %s: %w", submitterID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if sess.Fields == nil {
		sess.Fields = make(map[string]string)
	}
	return &sess, nil
}

func (s *RedisStore) Put(ctx context.Context, sess *Session) error {
	if sess == nil || sess.SubmitterID.IsZero() {
		return errors.New("session submitter is required")
	}
	sess.UpdatedAt = requestcontext.Now(ctx)
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = sess.UpdatedAt
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	// a zero ttl stores without expiry
	if err := s.client.Set(ctx, keyPrefix+sess.SubmitterID.String(), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, submitterID id.SubmitterID) error {
	if err := s.client.Del(ctx, keyPrefix+submitterID.String()).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
