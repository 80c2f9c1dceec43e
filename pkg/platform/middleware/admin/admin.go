package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	dErrors "trustdesk/pkg/domain-errors"
	"trustdesk/pkg/platform/httputil"
	"trustdesk/pkg/requestcontext"
)

// SecretHeader carries the shared secret of the chat gateway pushing turns.
const SecretHeader = "X-Webhook-Secret"

// RequireSharedSecret rejects requests whose SecretHeader does not match
// expected. An empty expected secret disables the check (local development).
func RequireSharedSecret(expected string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expected == "" {
				next.ServeHTTP(w, r)
				return
			}
			token := r.Header.Get(SecretHeader)
			if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "webhook secret mismatch",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "webhook secret required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
