// Package flag records submitters escalated to a permanent throttle.
//
// A flag never expires. It is cleared only by an explicit reviewer reset.
package flag

import (
	"context"
	"sort"
	"sync"

	id "trustdesk/pkg/domain"
)

type InMemoryFlagStore struct {
	mu      sync.RWMutex
	flagged map[id.SubmitterID]struct{}
}

func New() *InMemoryFlagStore {
	return &InMemoryFlagStore{flagged: make(map[id.SubmitterID]struct{})}
}

// Flag marks the submitter. Returns true if the submitter was not yet flagged.
func (s *InMemoryFlagStore) Flag(_ context.Context, submitterID id.SubmitterID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flagged[submitterID]; ok {
		return false, nil
	}
	s.flagged[submitterID] = struct{}{}
	return true, nil
}

func (s *InMemoryFlagStore) IsFlagged(_ context.Context, submitterID id.SubmitterID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.flagged[submitterID]
	return ok, nil
}

// Unflag clears the mark. Returns true if the submitter was flagged.
func (s *InMemoryFlagStore) Unflag(_ context.Context, submitterID id.SubmitterID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flagged[submitterID]; !ok {
		return false, nil
	}
	delete(s.flagged, submitterID)
	return true, nil
}

// List returns flagged submitters in ascending id order.
func (s *InMemoryFlagStore) List(_ context.Context) ([]id.SubmitterID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]id.SubmitterID, 0, len(s.flagged))
	for sid := range s.flagged {
		out = append(out, sid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
