package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	id "trustdesk/pkg/domain"
	"trustdesk/pkg/platform/sentinel"
	"trustdesk/pkg/requestcontext"
)

// InMemoryStore keeps sessions in a map. Expired sessions are dropped lazily on
// read and in bulk by Sweep.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[id.SubmitterID]*Session
	ttl      time.Duration
}

// NewInMemory creates a store with the given idle TTL (0 disables expiry).
func NewInMemory(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[id.SubmitterID]*Session),
		ttl:      ttl,
	}
}

func (s *InMemoryStore) Get(ctx context.Context, submitterID id.SubmitterID) (*Session, error) {
	now := requestcontext.Now(ctx)

	s.mu.RLock()
	sess, ok := s.sessions[submitterID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session for %s: %w", submitterID, sentinel.ErrNotFound)
	}
	if sess.Expired(now, s.ttl) {
		s.mu.Lock()
		// re-check under the write lock; a concurrent Put may have refreshed it
		if cur, ok := s.sessions[submitterID]; ok && cur.Expired(now, s.ttl) {
			delete(s.sessions, submitterID)
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("session for %s idle: %w", submitterID, sentinel.ErrNotFound)
	}
	return sess.Clone(), nil
}

// Put stores a copy of sess and stamps UpdatedAt with the turn time.
func (s *InMemoryStore) Put(ctx context.Context, sess *Session) error {
	if sess == nil || sess.SubmitterID.IsZero() {
		return errors.New("session submitter is required")
	}
	c := sess.Clone()
	c.UpdatedAt = requestcontext.Now(ctx)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = c.UpdatedAt
	}
	s.mu.Lock()
	s.sessions[c.SubmitterID] = c
	s.mu.Unlock()
	sess.UpdatedAt = c.UpdatedAt
	return nil
}

// Clear removes the session. Clearing an absent session is a no-op.
func (s *InMemoryStore) Clear(_ context.Context, submitterID id.SubmitterID) error {
	s.mu.Lock()
	delete(s.sessions, submitterID)
	s.mu.Unlock()
	return nil
}

// Sweep drops every session idle at now and returns how many were removed.
func (s *InMemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for sid, sess := range s.sessions {
		if sess.Expired(now, s.ttl) {
			delete(s.sessions, sid)
			removed++
		}
	}
	return removed
}

// size returns the number of stored sessions, expired or not.
func (s *InMemoryStore) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *InMemoryStore) RunSweeper(ctx context.Context, interval time.Duration, logger *slog.Logger) error {
	if s.ttl <= 0 || interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := s.Sweep(now); n > 0 && logger != nil {
				logger.InfoContext(ctx, "expired idle sessions", "count", n, "remaining", s.size())
			}
		}
	}
}
