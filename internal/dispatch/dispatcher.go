package dispatch

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"trustdesk/internal/dispatch/metrics"
	"trustdesk/internal/transport"
	id "trustdesk/pkg/domain"
)

const (
	DefaultShards = 16
	DefaultBuffer = 64

	receiveBackoff = 250 * time.Millisecond
)

// TurnHandler processes one turn to completion.
type TurnHandler interface {
	Handle(ctx context.Context, turn transport.Turn) error
}

type DispatcherConfig struct {
	// Shards is the number of workers. Turns of one submitter always land on
	// the same worker, so they are handled in arrival order.
	Shards int
	// Buffer is the per-worker queue depth before receiving blocks.
	Buffer int
}

// Dispatcher pulls turns off a transport and fans them out to a fixed set of
// workers keyed by submitter. Different submitters proceed in parallel.
type Dispatcher struct {
	receiver transport.Receiver
	handler  TurnHandler
	shards   int
	buffer   int
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewDispatcher(receiver transport.Receiver, handler TurnHandler, cfg DispatcherConfig, logger *slog.Logger, m *metrics.Metrics) (*Dispatcher, error) {
	if receiver == nil {
		return nil, errors.New("receiver is required")
	}
	if handler == nil {
		return nil, errors.New("turn handler is required")
	}
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultShards
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{
		receiver: receiver,
		handler:  handler,
		shards:   cfg.Shards,
		buffer:   cfg.Buffer,
		logger:   logger,
		metrics:  m,
	}, nil
}

// ShardFor maps a submitter onto one of n workers.
func ShardFor(submitterID id.SubmitterID, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(submitterID.String()))
	return int(h.Sum32() % uint32(n))
}

// Run receives until the transport closes or ctx is cancelled. Turns already
// queued are drained before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	queues := make([]chan transport.Turn, d.shards)
	for i := range queues {
		queues[i] = make(chan transport.Turn, d.buffer)
	}

	// Workers run on a context that survives cancellation of ctx so queued
	// turns can finish; the handler still sees ctx's values.
	workCtx := context.WithoutCancel(ctx)
	var workers errgroup.Group
	for i := range queues {
		q := queues[i]
		workers.Go(func() error {
			for turn := range q {
				d.process(workCtx, turn)
			}
			return nil
		})
	}

	err := d.receive(ctx, queues)
	for _, q := range queues {
		close(q)
	}
	_ = workers.Wait()
	return err
}

func (d *Dispatcher) receive(ctx context.Context, queues []chan transport.Turn) error {
	for {
		turn, err := d.receiver.ReceiveTurn(ctx)
		switch {
		case errors.Is(err, transport.ErrClosed):
			d.logger.InfoContext(ctx, "transport closed, draining workers")
			return nil
		case ctx.Err() != nil:
			return nil
		case err != nil:
			d.logger.ErrorContext(ctx, "failed to receive turn", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(receiveBackoff):
			}
			continue
		}
		if turn.SubmitterID.IsZero() {
			d.logger.WarnContext(ctx, "dropping turn without submitter")
			continue
		}
		select {
		case queues[ShardFor(turn.SubmitterID, len(queues))] <- turn:
		case <-ctx.Done():
			return nil
		}
	}
}

// process handles one turn. A panic is logged and counted; the worker keeps
// serving its shard.
func (d *Dispatcher) process(ctx context.Context, turn transport.Turn) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.IncPanic()
			d.logger.ErrorContext(ctx, "turn handler panicked",
				"submitter_id", turn.SubmitterID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	if err := d.handler.Handle(ctx, turn); err != nil {
		d.logger.WarnContext(ctx, "turn failed",
			"submitter_id", turn.SubmitterID,
			"error", err,
		)
	}
}
