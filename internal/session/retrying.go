package session

import (
	"context"

	id "trustdesk/pkg/domain"
	"trustdesk/pkg/platform/retry"
)

// Store is implemented by InMemoryStore and RedisStore.
type Store interface {
	Get(ctx context.Context, submitterID id.SubmitterID) (*Session, error)
	Put(ctx context.Context, sess *Session) error
	Clear(ctx context.Context, submitterID id.SubmitterID) error
}

// RetryingStore runs every call of the wrapped store under a bounded retry.
// A missing session is a fact, not a failure, and is returned at once.
type RetryingStore struct {
	store  Store
	policy retry.Policy
}

func NewRetrying(store Store, policy retry.Policy) *RetryingStore {
	if r, ok := store.(*RetryingStore); ok {
		return &RetryingStore{store: r.store, policy: policy}
	}
	return &RetryingStore{store: store, policy: policy}
}

func (r *RetryingStore) Get(ctx context.Context, submitterID id.SubmitterID) (*Session, error) {
	return retry.Value(ctx, r.policy, func(ctx context.Context) (*Session, error) {
		return r.store.Get(ctx, submitterID)
	})
}

func (r *RetryingStore) Put(ctx context.Context, sess *Session) error {
	return retry.Do(ctx, r.policy, func(ctx context.Context) error {
		return r.store.Put(ctx, sess)
	})
}

func (r *RetryingStore) Clear(ctx context.Context, submitterID id.SubmitterID) error {
	return retry.Do(ctx, r.policy, func(ctx context.Context) error {
		return r.store.Clear(ctx, submitterID)
	})
}
