// Package notify delivers moderation traffic: review cards fanned out to every
// reviewer and direct messages to a single participant.
//
// Each reviewer has its own breaker. Once a reviewer's deliveries keep
// failing the broadcaster stops retrying for them and sends a single probe per
// card until deliveries succeed again, so one unreachable reviewer never slows
// the others.
package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"trustdesk/internal/messages"
	"trustdesk/internal/moderation/models"
	"trustdesk/internal/notify/metrics"
	"trustdesk/internal/transport"
	id "trustdesk/pkg/domain"
	"trustdesk/pkg/platform/circuit"
	"trustdesk/pkg/platform/retry"
)

const defaultFanOut = 8

type Broadcaster struct {
	sender    transport.Sender
	reviewers []id.SubmitterID
	breakers  map[id.SubmitterID]*circuit.Breaker

	fanOut           int
	failureThreshold int
	successThreshold int
	retry            retry.Policy
	catalog          *messages.Catalog
	logger           *slog.Logger
	metrics          *metrics.Metrics
}

type Option func(*Broadcaster)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcaster) {
		b.logger = logger
	}
}

func WithCatalog(catalog *messages.Catalog) Option {
	return func(b *Broadcaster) {
		if catalog != nil {
			b.catalog = catalog
		}
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(b *Broadcaster) {
		b.retry = p
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broadcaster) {
		b.metrics = m
	}
}

// WithFanOut bounds concurrent deliveries of one card.
func WithFanOut(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.fanOut = n
		}
	}
}

// WithBreakerThreshold sets how many failed cards open a reviewer's breaker.
func WithBreakerThreshold(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithRecoveryThreshold sets how many delivered cards close an open breaker.
func WithRecoveryThreshold(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

func New(sender transport.Sender, reviewers []id.SubmitterID, opts ...Option) (*Broadcaster, error) {
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	if len(reviewers) == 0 {
		return nil, errors.New("at least one reviewer is required")
	}
	b := &Broadcaster{
		sender:    sender,
		reviewers: append([]id.SubmitterID(nil), reviewers...),
		breakers:  make(map[id.SubmitterID]*circuit.Breaker, len(reviewers)),
		fanOut:    defaultFanOut,
		retry:     retry.DefaultPolicy(),
		catalog:   messages.Default(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, r := range b.reviewers {
		b.breakers[r] = circuit.New("reviewer:"+r.String(),
			circuit.WithFailureThreshold(b.failureThreshold),
			circuit.WithSuccessThreshold(b.successThreshold),
		)
	}
	return b, nil
}

// ReviewCard sends the card of sub to every reviewer and returns when all
// deliveries have finished. Failures are logged and counted, never returned.
func (b *Broadcaster) ReviewCard(ctx context.Context, sub *models.Submission, answered *models.InfoRequest) {
	card := RenderCard(b.catalog, sub, answered)

	var g errgroup.Group
	g.SetLimit(b.fanOut)
	for _, reviewer := range b.reviewers {
		g.Go(func() error {
			b.deliver(ctx, reviewer, sub, card)
			return nil
		})
	}
	_ = g.Wait()
}

func (b *Broadcaster) deliver(ctx context.Context, reviewer id.SubmitterID, sub *models.Submission, card Card) {
	breaker := b.breakers[reviewer]
	policy := b.retry
	if breaker.IsOpen() {
		policy = retry.NoWait(1)
	}

	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		return b.sender.SendText(ctx, reviewer, card.Text, card.Affordances...)
	})
	if err != nil {
		if _, change := breaker.RecordFailure(); change.Opened {
			b.metrics.IncBreakerTrip()
			b.logger.WarnContext(ctx, "reviewer delivery breaker opened",
				"reviewer_id", reviewer,
			)
		}
		b.metrics.IncDelivery("failed")
		b.logger.WarnContext(ctx, "failed to deliver review card",
			"reviewer_id", reviewer,
			"target", sub.Target(),
			"error", err,
		)
		return
	}
	if _, change := breaker.RecordSuccess(); change.Closed {
		b.logger.InfoContext(ctx, "reviewer delivery breaker closed",
			"reviewer_id", reviewer,
		)
	}
	b.metrics.IncDelivery("delivered")

	for _, a := range card.Files {
		err := retry.Do(ctx, policy, func(ctx context.Context) error {
			return b.sender.SendFile(ctx, reviewer, a.File, a.Caption)
		})
		if err != nil {
			b.logger.WarnContext(ctx, "failed to deliver review card file",
				"reviewer_id", reviewer,
				"target", sub.Target(),
				"file", a.File.Token(),
				"error", err,
			)
		}
	}
}

// SendCard delivers the card of sub to one recipient, files included. It
// bypasses the breakers: the recipient just asked for it.
func (b *Broadcaster) SendCard(ctx context.Context, to id.SubmitterID, sub *models.Submission) error {
	card := RenderCard(b.catalog, sub, nil)
	if err := b.Direct(ctx, to, card.Text, card.Affordances...); err != nil {
		return err
	}
	for _, a := range card.Files {
		if err := b.sender.SendFile(ctx, to, a.File, a.Caption); err != nil {
			b.logger.WarnContext(ctx, "failed to deliver card file",
				"reviewer_id", to,
				"target", sub.Target(),
				"error", err,
			)
		}
	}
	return nil
}

// Direct sends one message with bounded retry.
func (b *Broadcaster) Direct(ctx context.Context, to id.SubmitterID, text string, affordances ...transport.Affordance) error {
	return retry.Do(ctx, b.retry, func(ctx context.Context) error {
		return b.sender.SendText(ctx, to, text, affordances...)
	})
}

// BreakerState reports a reviewer's breaker, for health output.
func (b *Broadcaster) BreakerState(reviewer id.SubmitterID) circuit.State {
	if br, ok := b.breakers[reviewer]; ok {
		return br.State()
	}
	return circuit.StateClosed
}
