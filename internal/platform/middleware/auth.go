package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	jwttoken "vericrop/internal/jwt_token"
	dErrors "vericrop/pkg/domain-errors"
	"vericrop/pkg/platform/httputil"
	"vericrop/pkg/requestcontext"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateToken(tokenString string) (*jwttoken.Claims, error)
}

// RequireRole authenticates the bearer token and requires role. The token
// subject becomes the reviewer id in the request context.
func RequireRole(validator TokenValidator, role jwttoken.Role, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"request_id", requestID,
					"error", err,
				)
				httputil.WriteError(w, err)
				return
			}
			if !claims.HasRole(role) {
				logger.WarnContext(ctx, "forbidden - missing role",
					"request_id", requestID,
					"reviewer_id", claims.Subject,
					"role", role,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "token lacks required role"))
				return
			}

			ctx = requestcontext.WithReviewerID(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
