// Package kafka bridges the chat platform through Kafka topics: a gateway
// process produces inbound turns as JSON and consumes outbound messages.
//
// Delivery is at-least-once. A turn's offset is committed when it is handed to
// the dispatcher, so a crash mid-turn may replay it; the engine's status
// transitions are idempotent under replay.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"trustdesk/internal/transport"
	id "trustdesk/pkg/domain"
)

// Consumer is the subset of *kgo.Client used to read turns.
type Consumer interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
}

// Producer is the subset of *kgo.Client used to write outbound messages.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Receiver reads turns from the inbound topic.
type Receiver struct {
	consumer Consumer
	logger   *slog.Logger
	pending  []*kgo.Record
}

type Option func(*Receiver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Receiver) {
		r.logger = logger
	}
}

func NewReceiver(consumer Consumer, opts ...Option) (*Receiver, error) {
	if consumer == nil {
		return nil, errors.New("consumer is required")
	}
	r := &Receiver{consumer: consumer, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ReceiveTurn returns the next decodable turn. Malformed records are logged,
// committed and skipped so one bad producer cannot wedge the partition.
func (r *Receiver) ReceiveTurn(ctx context.Context) (transport.Turn, error) {
	for {
		for len(r.pending) > 0 {
			rec := r.pending[0]
			r.pending = r.pending[1:]

			turn, err := decodeTurn(rec)
			if commitErr := r.consumer.CommitRecords(ctx, rec); commitErr != nil {
				r.logger.WarnContext(ctx, "failed to commit turn offset",
					"partition", rec.Partition, "offset", rec.Offset, "error", commitErr)
			}
			if err != nil {
				r.logger.WarnContext(ctx, "skipping malformed turn record",
					"partition", rec.Partition, "offset", rec.Offset, "error", err)
				continue
			}
			return turn, nil
		}

		fetches := r.consumer.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return transport.Turn{}, transport.ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return transport.Turn{}, err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			r.logger.ErrorContext(ctx, "kafka fetch error",
				"topic", topic, "partition", partition, "error", err)
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			r.pending = append(r.pending, rec)
		})
	}
}

func decodeTurn(rec *kgo.Record) (transport.Turn, error) {
	var turn transport.Turn
	if err := json.Unmarshal(rec.Value, &turn); err != nil {
		return transport.Turn{}, fmt.Errorf("decode turn: %w", err)
	}
	if turn.SubmitterID <= 0 {
		return transport.Turn{}, errors.New("turn has no submitter id")
	}
	if turn.ReceivedAt.IsZero() {
		turn.ReceivedAt = rec.Timestamp
	}
	return turn, nil
}

// Sender produces outbound messages keyed by recipient so one recipient's
// messages stay ordered within a partition.
type Sender struct {
	producer Producer
	topic    string
}

func NewSender(producer Producer, topic string) (*Sender, error) {
	if producer == nil {
		return nil, errors.New("producer is required")
	}
	if topic == "" {
		return nil, errors.New("outbound topic is required")
	}
	return &Sender{producer: producer, topic: topic}, nil
}

func (s *Sender) SendText(ctx context.Context, to id.SubmitterID, text string, affordances ...transport.Affordance) error {
	return s.produce(ctx, transport.Outbound{To: to, Text: text, Affordances: affordances})
}

func (s *Sender) SendFile(ctx context.Context, to id.SubmitterID, file transport.FileRef, caption string) error {
	f := file
	return s.produce(ctx, transport.Outbound{To: to, File: &f, Caption: caption})
}

func (s *Sender) produce(ctx context.Context, msg transport.Outbound) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}
	rec := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(msg.To.String()),
		Value: value,
	}
	if err := s.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce outbound message: %w", err)
	}
	return nil
}
