package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"trustdesk/internal/registry"
	"trustdesk/internal/registry/store"
	"trustdesk/pkg/testutil"
)

// HandlerSuite runs the handler against the real service and memory store.
type HandlerSuite struct {
	suite.Suite
	store  *store.InMemoryStore
	router http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.store = store.NewInMemory()
	svc, err := registry.New(s.store, registry.WithPageSize(1))
	s.Require().NoError(err)

	r := chi.NewRouter()
	New(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	s.router = r

	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.Require().NoError(s.store.AddScam(ctx, &registry.ScamEntry{Handle: "bob", Description: "d1", SourceSubmissionID: 1, CreatedAt: t0}))
	s.Require().NoError(s.store.AddScam(ctx, &registry.ScamEntry{Handle: "carol", Description: "d2", SourceSubmissionID: 2, CreatedAt: t0.Add(time.Hour)}))
	_, err = s.store.RemoveActiveScams(ctx, "carol", 1001, t0.Add(2*time.Hour))
	s.Require().NoError(err)
}

func (s *HandlerSuite) get(path string) *httptest.ResponseRecorder {
	return testutil.Serve(s.router, http.MethodGet, path, "")
}

func (s *HandlerSuite) TestScamsListsActiveOnly() {
	rec := s.get("/registry/scams")
	s.Equal(http.StatusOK, rec.Code)

	page := testutil.DecodeJSON[registry.Page[registry.ScamEntry]](s.T(), rec)
	s.Equal(1, page.Total)
	s.Require().Len(page.Items, 1)
	s.Equal("bob", page.Items[0].Handle)
}

func (s *HandlerSuite) TestScamLookup() {
	s.Run("removed entry stays queryable", func() {
		rec := s.get("/registry/scams/@Carol")
		s.Equal(http.StatusOK, rec.Code)

		resp := testutil.DecodeJSON[ScamLookupResponse](s.T(), rec)
		s.Equal("carol", resp.Handle)
		s.False(resp.Active)
		s.Require().Len(resp.Entries, 1)
		s.Equal(registry.ScamRemoved, resp.Entries[0].Status)
	})

	s.Run("unknown handle", func() {
		rec := s.get("/registry/scams/nobody")
		s.Equal(http.StatusOK, rec.Code)
		s.JSONEq(`{"handle":"nobody","active":false,"entries":[]}`, rec.Body.String())
	})
}

func (s *HandlerSuite) TestInvalidPage() {
	for _, q := range []string{"0", "-1", "two"} {
		rec := s.get("/registry/whitelist?page=" + q)
		s.Equal(http.StatusBadRequest, rec.Code, q)
	}
}

func (s *HandlerSuite) TestWhitelistEmpty() {
	rec := s.get("/registry/whitelist?page=3")
	s.Equal(http.StatusOK, rec.Code)

	page := testutil.DecodeJSON[registry.Page[registry.WhitelistEntry]](s.T(), rec)
	s.Equal(1, page.Number)
	s.Equal(0, page.Total)
	s.Empty(page.Items)
}
