// Package security provides the non-blocking audit publisher.
//
// Emit never blocks and never fails: events go into a bounded ring buffer and
// a worker (pkg/platform/audit/worker) drains it into a Store. Under sustained
// store failure the oldest events are dropped and counted.
package security

import (
	"context"
	"log/slog"

	audit "trustdesk/pkg/platform/audit"
	"trustdesk/pkg/requestcontext"
)

// Publisher buffers audit events for asynchronous persistence.
type Publisher struct {
	buffer *RingBuffer
	notify chan struct{}
	logger *slog.Logger
}

type Option func(*Publisher)

// WithBufferSize sets the ring buffer capacity.
func WithBufferSize(n int) Option {
	return func(p *Publisher) {
		p.buffer = NewRingBuffer(n)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(opts ...Option) *Publisher {
	p := &Publisher{
		notify: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer == nil {
		p.buffer = NewRingBuffer(0)
	}
	return p
}

// Emit enqueues an event. Timestamp, category and request id are filled from
// the context when unset.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) {
	if p == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.Severity == "" {
		event.Severity = audit.SeverityInfo
	}

	p.buffer.Enqueue(event)

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Buffer exposes the pending events to the draining worker.
func (p *Publisher) Buffer() *RingBuffer {
	return p.buffer
}

// Ready is signalled after each Emit; coalesced when the worker is busy.
func (p *Publisher) Ready() <-chan struct{} {
	return p.notify
}

// Dropped returns how many events were lost to buffer overflow.
func (p *Publisher) Dropped() int64 {
	return p.buffer.Dropped()
}
