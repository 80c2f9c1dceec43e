// Package webhook exchanges turns with a chat gateway over HTTP: the gateway
// POSTs inbound turns to us and we POST outbound messages to its URL.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"trustdesk/internal/transport"
	id "trustdesk/pkg/domain"
	dErrors "trustdesk/pkg/domain-errors"
	"trustdesk/pkg/platform/httputil"
	"trustdesk/pkg/platform/middleware/admin"
	"trustdesk/pkg/platform/middleware/request"
	"trustdesk/pkg/requestcontext"
)

// Inbound accepts turns over HTTP and hands them to ReceiveTurn callers.
type Inbound struct {
	turns  chan transport.Turn
	done   chan struct{}
	once   sync.Once
	secret string
	logger *slog.Logger
}

type Option func(*Inbound)

func WithLogger(logger *slog.Logger) Option {
	return func(in *Inbound) {
		in.logger = logger
	}
}

// WithSecret requires the gateway to send the shared secret header.
func WithSecret(secret string) Option {
	return func(in *Inbound) {
		in.secret = secret
	}
}

// NewInbound creates an inbound endpoint buffering up to queue turns.
func NewInbound(queue int, opts ...Option) *Inbound {
	in := &Inbound{
		turns:  make(chan transport.Turn, queue),
		done:   make(chan struct{}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Register mounts POST /webhook/turns.
func (in *Inbound) Register(r chi.Router) {
	r.With(admin.RequireSharedSecret(in.secret, in.logger)).Post("/webhook/turns", in.HandleTurn)
}

// HandleTurn queues one turn. The gateway retries on 503, which it gets when
// the queue stays full until the request is cancelled or we are shutting down.
func (in *Inbound) HandleTurn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	turn, err := httputil.DecodeJSON[transport.Turn](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if turn.SubmitterID <= 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "submitter_id is required"))
		return
	}
	if turn.ReceivedAt.IsZero() {
		turn.ReceivedAt = requestcontext.Now(ctx)
	}

	select {
	case <-in.done:
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "shutting down"))
		return
	default:
	}
	select {
	case in.turns <- *turn:
		w.WriteHeader(http.StatusAccepted)
	case <-in.done:
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "shutting down"))
	case <-ctx.Done():
		in.logger.WarnContext(ctx, "turn queue full, request abandoned",
			"submitter_id", turn.SubmitterID,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "turn queue full"))
	}
}

// Close ends the inbound sequence; queued turns are still delivered.
func (in *Inbound) Close() {
	in.once.Do(func() { close(in.done) })
}

func (in *Inbound) ReceiveTurn(ctx context.Context) (transport.Turn, error) {
	select {
	case turn := <-in.turns:
		return turn, nil
	default:
	}
	select {
	case turn := <-in.turns:
		return turn, nil
	case <-in.done:
		return transport.Turn{}, transport.ErrClosed
	case <-ctx.Done():
		return transport.Turn{}, ctx.Err()
	}
}

// Outbound posts messages to the gateway as JSON.
type Outbound struct {
	client *http.Client
	url    string
	secret string
}

// NewOutbound creates a sender posting to url. A zero timeout means 5s.
func NewOutbound(url, secret string, timeout time.Duration) (*Outbound, error) {
	if url == "" {
		return nil, errors.New("outbound url is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Outbound{
		client: &http.Client{Timeout: timeout},
		url:    url,
		secret: secret,
	}, nil
}

func (o *Outbound) SendText(ctx context.Context, to id.SubmitterID, text string, affordances ...transport.Affordance) error {
	return o.post(ctx, transport.Outbound{To: to, Text: text, Affordances: affordances})
}

func (o *Outbound) SendFile(ctx context.Context, to id.SubmitterID, file transport.FileRef, caption string) error {
	f := file
	return o.post(ctx, transport.Outbound{To: to, File: &f, Caption: caption})
}

func (o *Outbound) post(ctx context.Context, msg transport.Outbound) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build outbound request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.secret != "" {
		req.Header.Set(admin.SecretHeader, o.secret)
	}
	if reqID := requestcontext.RequestID(ctx); reqID != "" {
		req.Header.Set(request.Header, reqID)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", msg.To, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("deliver to %s: gateway returned %d", msg.To, resp.StatusCode)
	}
	return nil
}
