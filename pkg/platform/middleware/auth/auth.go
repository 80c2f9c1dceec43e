package auth

import (
	"log/slog"
	"net/http"
	"strings"

	id "trustdesk/pkg/domain"
	dErrors "trustdesk/pkg/domain-errors"
	"trustdesk/pkg/platform/httputil"
	"trustdesk/pkg/requestcontext"
)

// TokenValidator validates reviewer bearer tokens.
type TokenValidator interface {
	ValidateToken(tokenString string) (*ReviewerClaims, error)
}

// ReviewerClaims is what the middleware needs from a validated token.
type ReviewerClaims struct {
	ReviewerID id.SubmitterID
	TokenID    string
}

// RequireReviewer authenticates the bearer token and stores the reviewer id in
// the request context. Membership in the reviewer set is still checked by the
// moderation service, so a valid token for a removed reviewer gets nowhere.
func RequireReviewer(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token"))
				return
			}

			ctx = requestcontext.WithReviewerID(ctx, claims.ReviewerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
