package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"trustdesk/internal/transport"
	"trustdesk/pkg/platform/middleware/admin"
)

type InboundSuite struct {
	suite.Suite
	inbound *Inbound
	router  chi.Router
}

func TestInboundSuite(t *testing.T) {
	suite.Run(t, new(InboundSuite))
}

func (s *InboundSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.inbound = NewInbound(1, WithLogger(logger), WithSecret("s3cret"))
	s.router = chi.NewRouter()
	s.inbound.Register(s.router)
}

func (s *InboundSuite) post(body, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/turns", strings.NewReader(body))
	if secret != "" {
		req.Header.Set(admin.SecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *InboundSuite) TestAcceptsTurn() {
	rec := s.post(`{"submitter_id": 42, "text": "hello", "files": [{"kind": "photo", "id": "p1"}]}`, "s3cret")
	s.Equal(http.StatusAccepted, rec.Code)

	turn, err := s.inbound.ReceiveTurn(context.Background())
	s.Require().NoError(err)
	s.EqualValues(42, turn.SubmitterID)
	s.Equal("hello", turn.Text)
	s.Equal("photo:p1", turn.File().Token())
	s.False(turn.ReceivedAt.IsZero())
}

func (s *InboundSuite) TestRejectsBadRequests() {
	s.Run("missing secret", func() {
		s.Equal(http.StatusUnauthorized, s.post(`{"submitter_id": 1}`, "").Code)
	})
	s.Run("wrong secret", func() {
		s.Equal(http.StatusUnauthorized, s.post(`{"submitter_id": 1}`, "nope").Code)
	})
	s.Run("unknown field", func() {
		s.Equal(http.StatusBadRequest, s.post(`{"submitter_id": 1, "chat": 2}`, "s3cret").Code)
	})
	s.Run("no submitter", func() {
		s.Equal(http.StatusBadRequest, s.post(`{"text": "x"}`, "s3cret").Code)
	})
}

func (s *InboundSuite) TestFullQueueAfterCloseIsUnavailable() {
	s.Equal(http.StatusAccepted, s.post(`{"submitter_id": 1}`, "s3cret").Code)
	s.inbound.Close()
	s.Equal(http.StatusServiceUnavailable, s.post(`{"submitter_id": 2}`, "s3cret").Code)

	// queued turn survives close, then the sequence ends
	_, err := s.inbound.ReceiveTurn(context.Background())
	s.Require().NoError(err)
	_, err = s.inbound.ReceiveTurn(context.Background())
	s.ErrorIs(err, transport.ErrClosed)
}

func TestOutbound_PostsJSON(t *testing.T) {
	var (
		mu   sync.Mutex
		got  []transport.Outbound
		hdrs []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg transport.Outbound
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		mu.Lock()
		got = append(got, msg)
		hdrs = append(hdrs, r.Header.Get(admin.SecretHeader))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	out, err := NewOutbound(srv.URL, "s3cret", time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, out.SendText(ctx, 9, "card", transport.Affordance{Label: "Approve", Payload: "approve:report:1"}))
	require.NoError(t, out.SendFile(ctx, 9, transport.FileRef{Kind: transport.FileDocument, ID: "d"}, "proof"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.EqualValues(t, 9, got[0].To)
	assert.Equal(t, "approve:report:1", got[0].Affordances[0].Payload)
	assert.Equal(t, "document:d", got[1].File.Token())
	assert.Equal(t, []string{"s3cret", "s3cret"}, hdrs)
}

func TestOutbound_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	out, err := NewOutbound(srv.URL, "", time.Second)
	require.NoError(t, err)
	err = out.SendText(context.Background(), 1, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
