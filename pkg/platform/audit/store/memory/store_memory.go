package memory

import (
	"context"
	"sort"
	"sync"

	audit "trustdesk/pkg/platform/audit"
)

// InMemoryStore keeps audit events per subject; used in tests and when no
// durable backend is configured.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[int64][]audit.Event
	total  int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[int64][]audit.Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[int64][]audit.Event)
	s.total = 0
}

func (s *InMemoryStore) Append(_ context.Context, events ...audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range events {
		s.events[event.SubjectID] = append(s.events[event.SubjectID], event)
		s.total++
	}
	return nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subjectID int64) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[subjectID]...), nil
}

// ListAll returns every event ordered by timestamp.
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]audit.Event, 0, s.total)
	for _, subjectEvents := range s.events {
		all = append(all, subjectEvents...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return all, nil
}

// ListRecent returns the most recent N events, newest first.
func (s *InMemoryStore) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	all, _ := s.ListAll(ctx)
	out := make([]audit.Event, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}
