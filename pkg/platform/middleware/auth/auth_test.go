package auth

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	id "trustdesk/pkg/domain"
	"trustdesk/pkg/requestcontext"
)

type stubValidator struct {
	claims *ReviewerClaims
	err    error
}

func (s stubValidator) ValidateToken(string) (*ReviewerClaims, error) {
	return s.claims, s.err
}

func TestRequireReviewer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var seen id.SubmitterID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.ReviewerID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("missing header is unauthorized", func(t *testing.T) {
		h := RequireReviewer(stubValidator{}, logger)(next)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/submissions", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid token is unauthorized", func(t *testing.T) {
		h := RequireReviewer(stubValidator{err: errors.New("bad signature")}, logger)(next)
		req := httptest.NewRequest(http.MethodGet, "/v1/submissions", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token stores reviewer id", func(t *testing.T) {
		h := RequireReviewer(stubValidator{claims: &ReviewerClaims{ReviewerID: 1001}}, logger)(next)
		req := httptest.NewRequest(http.MethodGet, "/v1/submissions", nil)
		req.Header.Set("Authorization", "Bearer good")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, id.SubmitterID(1001), seen)
	})
}
