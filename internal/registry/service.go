package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	id "trustdesk/pkg/domain"
	"trustdesk/pkg/platform/retry"
)

// DefaultPageSize is the number of entries per browse page.
const DefaultPageSize = 10

// Store is the durable side of both lists. Handles are stored normalized.
type Store interface {
	AddWhitelist(ctx context.Context, entry *WhitelistEntry) error
	AddScam(ctx context.Context, entry *ScamEntry) error
	RemoveActiveScams(ctx context.Context, handle string, by id.SubmitterID, at time.Time) (int, error)
	HasActiveScam(ctx context.Context, handle string) (bool, error)
	ScamsByHandle(ctx context.Context, handle string) ([]ScamEntry, error)
	ListWhitelist(ctx context.Context, offset, limit int) ([]WhitelistEntry, int, error)
	ListActiveScams(ctx context.Context, offset, limit int) ([]ScamEntry, int, error)
	Counts(ctx context.Context) (Counts, error)
}

// Service is the read side of the registry. Writes happen only inside
// moderation decisions, which use the Store directly.
type Service struct {
	store    Store
	retry    retry.Policy
	pageSize int
	logger   *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) {
		s.retry = p
	}
}

func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("registry store is required")
	}
	s := &Service{
		store:    store,
		retry:    retry.DefaultPolicy(),
		pageSize: DefaultPageSize,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IsActive reports whether handle has at least one active scam entry.
func (s *Service) IsActive(ctx context.Context, handle string) (bool, error) {
	handle = id.NormalizeHandle(handle)
	if handle == "" {
		return false, nil
	}
	return retry.Value(ctx, s.retry, func(ctx context.Context) (bool, error) {
		return s.store.HasActiveScam(ctx, handle)
	})
}

// ScamHistory returns every entry ever recorded for handle, removed ones
// included, newest first.
func (s *Service) ScamHistory(ctx context.Context, handle string) ([]ScamEntry, error) {
	handle = id.NormalizeHandle(handle)
	return retry.Value(ctx, s.retry, func(ctx context.Context) ([]ScamEntry, error) {
		return s.store.ScamsByHandle(ctx, handle)
	})
}

func (s *Service) Counts(ctx context.Context) (Counts, error) {
	return retry.Value(ctx, s.retry, s.store.Counts)
}

// Whitelist returns page n (1-based, clamped to the available range).
func (s *Service) Whitelist(ctx context.Context, n int) (Page[WhitelistEntry], error) {
	return fetchPage(ctx, s, n, s.store.ListWhitelist)
}

// Scams returns page n of the active scam entries.
func (s *Service) Scams(ctx context.Context, n int) (Page[ScamEntry], error) {
	return fetchPage(ctx, s, n, s.store.ListActiveScams)
}

func (s *Service) PageSize() int {
	return s.pageSize
}

type lister[T any] func(ctx context.Context, offset, limit int) ([]T, int, error)

func fetchPage[T any](ctx context.Context, s *Service, n int, list lister[T]) (Page[T], error) {
	if n < 1 {
		n = 1
	}
	for {
		var (
			items []T
			total int
		)
		err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
			var err error
			items, total, err = list(ctx, (n-1)*s.pageSize, s.pageSize)
			return err
		})
		if err != nil {
			return Page[T]{}, err
		}
		pages := pageCount(total, s.pageSize)
		if n > pages {
			// the list shrank or the page number is stale
			n = pages
			continue
		}
		return Page[T]{Items: items, Number: n, Pages: pages, Total: total}, nil
	}
}
