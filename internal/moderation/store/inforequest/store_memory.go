// Package inforequest persists reviewer questions and submitter answers.
package inforequest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"trustdesk/internal/moderation/models"
	id "trustdesk/pkg/domain"
	"trustdesk/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	requests map[id.InfoRequestID]*models.InfoRequest
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{requests: make(map[id.InfoRequestID]*models.InfoRequest)}
}

func (s *InMemoryStore) Create(_ context.Context, req *models.InfoRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	req.ID = id.InfoRequestID(s.nextID)
	if req.Status == "" {
		req.Status = models.InfoAwaiting
	}
	s.requests[req.ID] = req.Clone()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, reqID id.InfoRequestID) (*models.InfoRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[reqID]
	if !ok {
		return nil, fmt.Errorf("info request %s: %w", reqID, sentinel.ErrNotFound)
	}
	return req.Clone(), nil
}

// ListBySubmission returns the question history of one submission, oldest
// first.
func (s *InMemoryStore) ListBySubmission(_ context.Context, kind id.Kind, subID id.SubmissionID) ([]*models.InfoRequest, error) {
	s.mu.RLock()
	var out []*models.InfoRequest
	for _, req := range s.requests {
		if req.SubmissionKind == kind && req.SubmissionID == subID {
			out = append(out, req.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MarkAnswered moves an awaiting request to answered exactly once.
func (s *InMemoryStore) MarkAnswered(_ context.Context, reqID id.InfoRequestID, answer string, fileRefs []string, at time.Time) (*models.InfoRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[reqID]
	if !ok {
		return nil, fmt.Errorf("info request %s: %w", reqID, sentinel.ErrNotFound)
	}
	if req.Status != models.InfoAwaiting {
		return nil, fmt.Errorf("info request %s is %s: %w", reqID, req.Status, sentinel.ErrInvalidState)
	}
	answered := req.Clone()
	answered.Status = models.InfoAnswered
	answered.Answer = answer
	answered.AnswerFileRefs = append([]string(nil), fileRefs...)
	answered.AnsweredAt = &at
	s.requests[reqID] = answered
	return answered.Clone(), nil
}
