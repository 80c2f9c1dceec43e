// Package memory is an in-process transport: turns are pushed by the caller and
// outbound messages are recorded per recipient.
package memory

import (
	"context"
	"sync"

	"trustdesk/internal/transport"
	id "trustdesk/pkg/domain"
)

// Loopback implements transport.Receiver and transport.Sender.
type Loopback struct {
	turns chan transport.Turn
	done  chan struct{}
	once  sync.Once

	mu   sync.RWMutex
	sent map[id.SubmitterID][]transport.Outbound
	fail map[id.SubmitterID]error
}

// New creates a loopback with room for buffer queued turns.
func New(buffer int) *Loopback {
	return &Loopback{
		turns: make(chan transport.Turn, buffer),
		done:  make(chan struct{}),
		sent:  make(map[id.SubmitterID][]transport.Outbound),
		fail:  make(map[id.SubmitterID]error),
	}
}

// Push queues an inbound turn. It blocks when the buffer is full and returns
// transport.ErrClosed after Close.
func (l *Loopback) Push(ctx context.Context, turn transport.Turn) error {
	select {
	case <-l.done:
		return transport.ErrClosed
	default:
	}
	select {
	case l.turns <- turn:
		return nil
	case <-l.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the inbound sequence. Already queued turns are still delivered.
func (l *Loopback) Close() {
	l.once.Do(func() { close(l.done) })
}

func (l *Loopback) ReceiveTurn(ctx context.Context) (transport.Turn, error) {
	select {
	case turn := <-l.turns:
		return turn, nil
	default:
	}
	select {
	case turn := <-l.turns:
		return turn, nil
	case <-l.done:
		return transport.Turn{}, transport.ErrClosed
	case <-ctx.Done():
		return transport.Turn{}, ctx.Err()
	}
}

func (l *Loopback) SendText(_ context.Context, to id.SubmitterID, text string, affordances ...transport.Affordance) error {
	return l.record(transport.Outbound{To: to, Text: text, Affordances: affordances})
}

func (l *Loopback) SendFile(_ context.Context, to id.SubmitterID, file transport.FileRef, caption string) error {
	f := file
	return l.record(transport.Outbound{To: to, File: &f, Caption: caption})
}

func (l *Loopback) record(msg transport.Outbound) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fail[msg.To]; err != nil {
		return err
	}
	l.sent[msg.To] = append(l.sent[msg.To], msg)
	return nil
}

// FailDeliveriesTo makes every send to the recipient return err. A nil err
// restores delivery.
func (l *Loopback) FailDeliveriesTo(to id.SubmitterID, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.fail, to)
		return
	}
	l.fail[to] = err
}

// Sent returns a copy of the messages delivered to a recipient.
func (l *Loopback) Sent(to id.SubmitterID) []transport.Outbound {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]transport.Outbound, len(l.sent[to]))
	copy(out, l.sent[to])
	return out
}

// Last returns the most recent message to a recipient.
func (l *Loopback) Last(to id.SubmitterID) (transport.Outbound, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	msgs := l.sent[to]
	if len(msgs) == 0 {
		return transport.Outbound{}, false
	}
	return msgs[len(msgs)-1], true
}

// Reset forgets all recorded messages.
func (l *Loopback) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = make(map[id.SubmitterID][]transport.Outbound)
}
