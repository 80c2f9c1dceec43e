// Package store persists the user directory in memory or PostgreSQL.
package store

import (
	"context"
	"fmt"
	"sync"

	"trustdesk/internal/users"
	id "trustdesk/pkg/domain"
	"trustdesk/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu    sync.RWMutex
	users map[id.SubmitterID]users.User
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{users: make(map[id.SubmitterID]users.User)}
}

func (s *InMemoryStore) Touch(_ context.Context, user users.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[user.ID]; ok {
		user.FirstSeen = existing.FirstSeen
	}
	s.users[user.ID] = user
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, userID id.SubmitterID) (*users.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", userID, sentinel.ErrNotFound)
	}
	return &u, nil
}

func (s *InMemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}
