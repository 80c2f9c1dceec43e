// Package kafka publishes audit events to a topic so an external SIEM or
// archiver can consume the append-only log.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "trustdesk/pkg/platform/audit"
)

// Producer is the subset of *kgo.Client used here.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Store appends events as JSON records keyed by a fresh event id.
type Store struct {
	producer Producer
	topic    string
}

func New(producer Producer, topic string) *Store {
	return &Store{producer: producer, topic: topic}
}

type payload struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
	SubjectID int64  `json:"subject_id"`
	Action    string `json:"action"`
	Reason    string `json:"reason,omitempty"`
	Text      string `json:"text,omitempty"`
	Target    string `json:"target,omitempty"`
	ActorID   int64  `json:"actor_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Severity  string `json:"severity,omitempty"`
}

func (s *Store) Append(ctx context.Context, events ...audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(events))
	for _, event := range events {
		eventID := uuid.NewString()
		value, err := json.Marshal(payload{
			ID:        eventID,
			Category:  string(event.Category),
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
			SubjectID: event.SubjectID,
			Action:    event.Action,
			Reason:    event.Reason,
			Text:      event.Text,
			Target:    event.Target,
			ActorID:   event.ActorID,
			RequestID: event.RequestID,
			Severity:  string(event.Severity),
		})
		if err != nil {
			return fmt.Errorf("marshal audit payload: %w", err)
		}
		records = append(records, &kgo.Record{
			Topic: s.topic,
			Key:   []byte(eventID),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "category", Value: []byte(event.Category)},
				{Key: "subject_id", Value: []byte(strconv.FormatInt(event.SubjectID, 10))},
			},
		})
	}
	if err := s.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce audit events: %w", err)
	}
	return nil
}
