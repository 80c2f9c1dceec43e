// Package request assigns a correlation id to every HTTP request.
package request

import (
	"net/http"

	"github.com/google/uuid"

	"trustdesk/pkg/requestcontext"
)

// Header is echoed back so callers can correlate logs.
const Header = "X-Request-ID"

// RequestID reuses a well-formed inbound X-Request-ID or generates a new one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(Header)
		if _, err := uuid.Parse(reqID); err != nil {
			reqID = uuid.NewString()
		}
		w.Header().Set(Header, reqID)
		ctx := requestcontext.WithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
