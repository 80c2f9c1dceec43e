// Package users keeps a directory of everyone who has opened the bot. It
// feeds the reviewer statistics and nothing else reads it.
package users

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	id "trustdesk/pkg/domain"
	"trustdesk/pkg/platform/retry"
	"trustdesk/pkg/requestcontext"
)

// User is one directory entry. FirstSeen never moves after the first visit.
type User struct {
	ID        id.SubmitterID
	Handle    string
	FirstSeen time.Time
	LastSeen  time.Time
}

// Store upserts by user id. Touch keeps FirstSeen and refreshes the rest.
type Store interface {
	Touch(ctx context.Context, user User) error
	Get(ctx context.Context, userID id.SubmitterID) (*User, error)
	Count(ctx context.Context) (int, error)
}

type Directory struct {
	store  Store
	retry  retry.Policy
	logger *slog.Logger
}

type Option func(*Directory)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Directory) {
		d.logger = logger
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(d *Directory) {
		d.retry = p
	}
}

func New(store Store, opts ...Option) (*Directory, error) {
	if store == nil {
		return nil, errors.New("user store is required")
	}
	d := &Directory{
		store:  store,
		retry:  retry.DefaultPolicy(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Record notes a visit by userID. Repeat visits refresh the handle.
func (d *Directory) Record(ctx context.Context, userID id.SubmitterID, handle string) error {
	if userID == 0 {
		return errors.New("user id is required")
	}
	now := requestcontext.Now(ctx)
	user := User{
		ID:        userID,
		Handle:    id.NormalizeHandle(handle),
		FirstSeen: now,
		LastSeen:  now,
	}
	err := retry.Do(ctx, d.retry, func(ctx context.Context) error {
		return d.store.Touch(ctx, user)
	})
	if err != nil {
		return err
	}
	d.logger.DebugContext(ctx, "user recorded", "user_id", userID)
	return nil
}

// Count returns the number of distinct users recorded.
func (d *Directory) Count(ctx context.Context) (int, error) {
	return retry.Value(ctx, d.retry, d.store.Count)
}
