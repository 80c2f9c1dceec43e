package worker

import (
	"context"
	"log/slog"
	"time"

	audit "trustdesk/pkg/platform/audit"
	"trustdesk/pkg/platform/audit/publishers/security"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = time.Second
	drainTimeout         = 5 * time.Second
)

// Worker drains the publisher's buffer into a store. Failed batches are put
// back into the buffer and retried on the next tick.
type Worker struct {
	store     audit.Store
	publisher *security.Publisher
	logger    *slog.Logger
	batchSize int
	interval  time.Duration
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func NewWorker(store audit.Store, publisher *security.Publisher, opts ...Option) *Worker {
	w := &Worker{
		store:     store,
		publisher: publisher,
		logger:    slog.Default(),
		batchSize: defaultBatchSize,
		interval:  defaultFlushInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run flushes on every publisher signal and on a fixed interval until ctx
// ends, then makes a final bounded drain.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			w.Flush(drainCtx)
			return ctx.Err()
		case <-w.publisher.Ready():
			w.Flush(ctx)
		case <-ticker.C:
			w.Flush(ctx)
		}
	}
}

// Flush writes buffered events until the buffer is empty or a write fails.
// Returns the number of events persisted.
func (w *Worker) Flush(ctx context.Context) int {
	written := 0
	buf := w.publisher.Buffer()
	for {
		batch := buf.DequeueBatch(w.batchSize)
		if len(batch) == 0 {
			return written
		}
		if err := w.store.Append(ctx, batch...); err != nil {
			lost := buf.Requeue(batch)
			w.logger.WarnContext(ctx, "audit flush failed",
				"error", err,
				"batch_size", len(batch),
				"lost", lost,
			)
			return written
		}
		written += len(batch)
	}
}
