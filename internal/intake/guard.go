// Package intake gates every inbound turn: per-submitter rate limiting with a
// one-way flag escalation, and content validation.
//
// Escalation is deliberate and never auto-clears. A submitter who exceeds the
// window ceiling is flagged and then throttled on every later turn, whatever
// the window says, until a reviewer calls Reset (REST or the /unflag command).
package intake

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"trustdesk/internal/intake/metrics"
	id "trustdesk/pkg/domain"
	dErrors "trustdesk/pkg/domain-errors"
	audit "trustdesk/pkg/platform/audit"
	"trustdesk/pkg/platform/audit/publishers/security"
	"trustdesk/pkg/requestcontext"
)

// Outcome of a turn passing through the guard.
type Outcome string

const (
	Accepted  Outcome = "accepted"
	Throttled Outcome = "throttled"
	Rejected  Outcome = "rejected"
)

// Reason qualifies a Rejected or Throttled outcome.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonRateLimited       Reason = "rate_limited"
	ReasonFlagged           Reason = "flagged"
	ReasonSuspiciousContent Reason = "suspicious_content"
	ReasonTooLong           Reason = "too_long"
)

type Verdict struct {
	Outcome Outcome
	Reason  Reason
}

func (v Verdict) IsAccepted() bool { return v.Outcome == Accepted }

// BucketStore counts turns in a sliding window.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (bool, error)
	Reset(ctx context.Context, key string) error
}

// FlagStore records escalated submitters.
type FlagStore interface {
	Flag(ctx context.Context, submitterID id.SubmitterID) (bool, error)
	IsFlagged(ctx context.Context, submitterID id.SubmitterID) (bool, error)
	Unflag(ctx context.Context, submitterID id.SubmitterID) (bool, error)
	List(ctx context.Context) ([]id.SubmitterID, error)
}

const (
	DefaultMaxTurns      = 30
	DefaultWindow        = 60 * time.Second
	DefaultMaxTextLength = 1000
)

type Guard struct {
	buckets       BucketStore
	flags         FlagStore
	scanner       *Scanner
	exempt        map[id.SubmitterID]struct{}
	maxTurns      int
	window        time.Duration
	maxTextLength int
	publisher     *security.Publisher
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

type Option func(*Guard)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

func WithAuditPublisher(publisher *security.Publisher) Option {
	return func(g *Guard) {
		g.publisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

// WithLimits sets the window ceiling. Non-positive values keep the defaults.
func WithLimits(maxTurns int, window time.Duration) Option {
	return func(g *Guard) {
		if maxTurns > 0 {
			g.maxTurns = maxTurns
		}
		if window > 0 {
			g.window = window
		}
	}
}

func WithMaxTextLength(n int) Option {
	return func(g *Guard) {
		if n > 0 {
			g.maxTextLength = n
		}
	}
}

func WithControlKeywords(keywords []string) Option {
	return func(g *Guard) {
		g.scanner = NewScanner(keywords)
	}
}

// WithContentExemptions skips content validation for the given submitters
// (reviewers quoting user content). They remain rate limited.
func WithContentExemptions(ids ...id.SubmitterID) Option {
	return func(g *Guard) {
		for _, sid := range ids {
			g.exempt[sid] = struct{}{}
		}
	}
}

func New(buckets BucketStore, flags FlagStore, opts ...Option) (*Guard, error) {
	if buckets == nil {
		return nil, errors.New("bucket store is required")
	}
	if flags == nil {
		return nil, errors.New("flag store is required")
	}
	g := &Guard{
		buckets:       buckets,
		flags:         flags,
		scanner:       NewScanner(DefaultControlKeywords),
		exempt:        make(map[id.SubmitterID]struct{}),
		maxTurns:      DefaultMaxTurns,
		window:        DefaultWindow,
		maxTextLength: DefaultMaxTextLength,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Accept decides whether a turn may proceed. Every turn counts against the
// window, including ones later rejected for their content.
//
// Errors: CodeUnavailable when a store fails. The caller should deny the turn.
func (g *Guard) Accept(ctx context.Context, submitterID id.SubmitterID, text string) (Verdict, error) {
	flagged, err := g.flags.IsFlagged(ctx, submitterID)
	if err != nil {
		return Verdict{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to check flag")
	}
	if flagged {
		return g.deny(ctx, submitterID, text, Verdict{Outcome: Throttled, Reason: ReasonFlagged}), nil
	}

	allowed, err := g.buckets.Allow(ctx, submitterID.String(), g.maxTurns, g.window, requestcontext.Now(ctx))
	if err != nil {
		return Verdict{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to check rate limit")
	}
	if !allowed {
		newly, err := g.flags.Flag(ctx, submitterID)
		if err != nil {
			return Verdict{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to flag submitter")
		}
		if newly {
			if g.metrics != nil {
				g.metrics.IncFlagged()
			}
			security.LogAudit(ctx, g.logger, g.publisher, audit.EventIntakeFlagged,
				"submitter_id", submitterID,
				"reason", string(ReasonRateLimited),
				"limit", g.maxTurns,
				"window_seconds", int(g.window.Seconds()),
			)
		}
		return g.deny(ctx, submitterID, text, Verdict{Outcome: Throttled, Reason: ReasonRateLimited}), nil
	}

	if utf8.RuneCountInString(text) > g.maxTextLength {
		return g.deny(ctx, submitterID, text, Verdict{Outcome: Rejected, Reason: ReasonTooLong}), nil
	}

	if _, ok := g.exempt[submitterID]; ok {
		if g.metrics != nil {
			g.metrics.IncBypass()
		}
		g.logger.DebugContext(ctx, "content validation bypassed", "submitter_id", submitterID)
		return g.accept(), nil
	}

	if match := g.scanner.Scan(text); match != MatchNone {
		g.logger.DebugContext(ctx, "content pattern matched", "submitter_id", submitterID, "pattern", string(match))
		return g.deny(ctx, submitterID, text, Verdict{Outcome: Rejected, Reason: ReasonSuspiciousContent}), nil
	}
	return g.accept(), nil
}

// Reset clears the flag and window of a submitter. Returns whether the
// submitter had been flagged.
func (g *Guard) Reset(ctx context.Context, reviewerID, submitterID id.SubmitterID) (bool, error) {
	wasFlagged, err := g.flags.Unflag(ctx, submitterID)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to clear flag")
	}
	if err := g.buckets.Reset(ctx, submitterID.String()); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to reset window")
	}
	security.LogAudit(ctx, g.logger, g.publisher, audit.EventIntakeReset,
		"submitter_id", submitterID,
		"reviewer_id", reviewerID,
		"was_flagged", wasFlagged,
	)
	return wasFlagged, nil
}

// Flagged lists currently flagged submitters.
func (g *Guard) Flagged(ctx context.Context) ([]id.SubmitterID, error) {
	ids, err := g.flags.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to list flags")
	}
	return ids, nil
}

// MaxTextLength is the configured rune ceiling, for user-facing messages.
func (g *Guard) MaxTextLength() int {
	return g.maxTextLength
}

func (g *Guard) accept() Verdict {
	if g.metrics != nil {
		g.metrics.IncVerdict(string(Accepted), string(ReasonNone))
	}
	return Verdict{Outcome: Accepted}
}

// deny records the outcome to the security log. Emission never blocks.
func (g *Guard) deny(ctx context.Context, submitterID id.SubmitterID, text string, v Verdict) Verdict {
	if g.metrics != nil {
		g.metrics.IncVerdict(string(v.Outcome), string(v.Reason))
	}
	event := audit.EventIntakeRejected
	if v.Outcome == Throttled {
		event = audit.EventIntakeThrottled
	}
	security.LogAudit(ctx, g.logger, g.publisher, event,
		"submitter_id", submitterID,
		"reason", string(v.Reason),
		"text", text,
	)
	return v
}
