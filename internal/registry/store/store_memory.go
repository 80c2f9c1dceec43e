// Package store persists registry entries in memory or PostgreSQL.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"trustdesk/internal/registry"
	id "trustdesk/pkg/domain"
	"trustdesk/pkg/platform/sentinel"
)

// InMemoryStore keeps both lists in slices guarded by one lock.
type InMemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	whitelist []registry.WhitelistEntry
	scams     []registry.ScamEntry
	sources   map[id.SubmissionID]struct{}
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{sources: make(map[id.SubmissionID]struct{})}
}

func (s *InMemoryStore) AddWhitelist(_ context.Context, entry *registry.WhitelistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.claimSource(entry.SourceSubmissionID); err != nil {
		return err
	}
	s.nextID++
	entry.ID = s.nextID
	s.whitelist = append(s.whitelist, *entry)
	return nil
}

func (s *InMemoryStore) AddScam(_ context.Context, entry *registry.ScamEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.claimSource(entry.SourceSubmissionID); err != nil {
		return err
	}
	s.nextID++
	entry.ID = s.nextID
	if entry.Status == "" {
		entry.Status = registry.ScamActive
	}
	s.scams = append(s.scams, *entry)
	return nil
}

// claimSource enforces one registry entry per source submission. Caller holds mu.
func (s *InMemoryStore) claimSource(source id.SubmissionID) error {
	if source == 0 {
		return nil
	}
	if _, ok := s.sources[source]; ok {
		return fmt.Errorf("registry entry for submission %s: %w", source, sentinel.ErrConflict)
	}
	s.sources[source] = struct{}{}
	return nil
}

func (s *InMemoryStore) RemoveActiveScams(_ context.Context, handle string, by id.SubmitterID, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for i := range s.scams {
		e := &s.scams[i]
		if e.Handle != handle || e.Status != registry.ScamActive {
			continue
		}
		removedAt := at
		e.Status = registry.ScamRemoved
		e.RemovedAt = &removedAt
		e.RemovedBy = by
		removed++
	}
	return removed, nil
}

func (s *InMemoryStore) HasActiveScam(_ context.Context, handle string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.scams {
		if e.Handle == handle && e.Status == registry.ScamActive {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) ScamsByHandle(_ context.Context, handle string) ([]registry.ScamEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []registry.ScamEntry
	for _, e := range s.scams {
		if e.Handle == handle {
			out = append(out, cloneScam(e))
		}
	}
	sortNewestFirst(out, func(e registry.ScamEntry) (time.Time, int64) { return e.CreatedAt, e.ID })
	return out, nil
}

func (s *InMemoryStore) ListWhitelist(_ context.Context, offset, limit int) ([]registry.WhitelistEntry, int, error) {
	s.mu.RLock()
	all := append([]registry.WhitelistEntry(nil), s.whitelist...)
	s.mu.RUnlock()
	sortNewestFirst(all, func(e registry.WhitelistEntry) (time.Time, int64) { return e.CreatedAt, e.ID })
	return window(all, offset, limit), len(all), nil
}

func (s *InMemoryStore) ListActiveScams(_ context.Context, offset, limit int) ([]registry.ScamEntry, int, error) {
	s.mu.RLock()
	var active []registry.ScamEntry
	for _, e := range s.scams {
		if e.Status == registry.ScamActive {
			active = append(active, cloneScam(e))
		}
	}
	s.mu.RUnlock()
	sortNewestFirst(active, func(e registry.ScamEntry) (time.Time, int64) { return e.CreatedAt, e.ID })
	return window(active, offset, limit), len(active), nil
}

func (s *InMemoryStore) Counts(_ context.Context) (registry.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := registry.Counts{Whitelisted: len(s.whitelist)}
	for _, e := range s.scams {
		if e.Status == registry.ScamActive {
			c.ActiveScams++
		} else {
			c.RemovedScams++
		}
	}
	return c, nil
}

func cloneScam(e registry.ScamEntry) registry.ScamEntry {
	if e.RemovedAt != nil {
		at := *e.RemovedAt
		e.RemovedAt = &at
	}
	return e
}

func sortNewestFirst[T any](items []T, key func(T) (time.Time, int64)) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, ii := key(items[i])
		tj, ij := key(items[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return ii > ij
	})
}

func window[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
