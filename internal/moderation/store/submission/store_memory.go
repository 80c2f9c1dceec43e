// Package submission persists finalized submissions.
package submission

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"trustdesk/internal/moderation/models"
	id "trustdesk/pkg/domain"
	"trustdesk/pkg/platform/sentinel"
)

// InMemoryStore keeps submissions in a map. Like the submissions table, it
// draws ids from one sequence for every kind. Row locking is the caller's
// tx.Sharded runner.
type InMemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[id.SubmissionID]*models.Submission
	byKey  map[string]id.SubmissionID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		byID:  make(map[id.SubmissionID]*models.Submission),
		byKey: make(map[string]id.SubmissionID),
	}
}

// Create stores sub as a new submission, or returns the one already stored
// under the same finalize key with created=false.
func (s *InMemoryStore) Create(_ context.Context, sub *models.Submission) (*models.Submission, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byKey[sub.FinalizeKey]; ok {
		return s.byID[existing].Clone(), false, nil
	}
	s.nextID++
	stored := sub.Clone()
	stored.ID = id.SubmissionID(s.nextID)
	s.byID[stored.ID] = stored
	s.byKey[stored.FinalizeKey] = stored.ID
	return stored.Clone(), true, nil
}

func (s *InMemoryStore) Get(_ context.Context, kind id.Kind, subID id.SubmissionID) (*models.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.byID[subID]
	if !ok || sub.Kind != kind {
		return nil, fmt.Errorf("submission %s: %w", models.Target(kind, subID), sentinel.ErrNotFound)
	}
	return sub.Clone(), nil
}

// GetForUpdate is Get; mutual exclusion comes from the surrounding unit.
func (s *InMemoryStore) GetForUpdate(ctx context.Context, kind id.Kind, subID id.SubmissionID) (*models.Submission, error) {
	return s.Get(ctx, kind, subID)
}

// UpdateDecision writes the decision fields if the stored row is still
// pending.
func (s *InMemoryStore) UpdateDecision(_ context.Context, sub *models.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byID[sub.ID]
	if !ok || stored.Kind != sub.Kind {
		return fmt.Errorf("submission %s: %w", sub.Target(), sentinel.ErrNotFound)
	}
	if stored.Status != models.StatusPending {
		return fmt.Errorf("submission %s is %s: %w", sub.Target(), stored.Status, sentinel.ErrInvalidState)
	}
	decided := stored.Clone()
	decided.Status = sub.Status
	decided.ReviewerNotes = sub.ReviewerNotes
	decided.DecidedBy = sub.DecidedBy
	if sub.DecidedAt != nil {
		at := *sub.DecidedAt
		decided.DecidedAt = &at
	}
	s.byID[sub.ID] = decided
	return nil
}

// ListPending returns pending submissions oldest first; an empty kind lists
// all kinds.
func (s *InMemoryStore) ListPending(_ context.Context, kind id.Kind) ([]*models.Submission, error) {
	s.mu.RLock()
	var out []*models.Submission
	for _, sub := range s.byID {
		if sub.Status != models.StatusPending || (kind != "" && sub.Kind != kind) {
			continue
		}
		out = append(out, sub.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemoryStore) CountPending(_ context.Context) (map[id.Kind]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[id.Kind]int, len(id.Kinds))
	for _, k := range id.Kinds {
		counts[k] = 0
	}
	for _, sub := range s.byID {
		if sub.Status == models.StatusPending {
			counts[sub.Kind]++
		}
	}
	return counts, nil
}
