package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"phiguard/internal/identity"
	"phiguard/pkg/platform/httputil"
	"phiguard/pkg/requestcontext"
)

// TokenValidator resolves a bearer token to a requester.
type TokenValidator interface {
	ValidateToken(tokenString string) (identity.Requester, error)
}

func writeUnauthorized(w http.ResponseWriter, desc string) {
	httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{
		Error:            "unauthorized",
		ErrorDescription: desc,
	})
}

// RequireRequester validates the bearer token and places the requester
// identity in the request context.
func RequireRequester(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeUnauthorized(w, "Missing or invalid Authorization header")
				return
			}

			requester, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			ctx = requestcontext.WithRequester(ctx, requester.ID, requester.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requesters whose role is not in roles. It must run
// after RequireRequester.
func RequireRole(logger *slog.Logger, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			role := requestcontext.RequesterRole(ctx)
			if !slices.ContainsFunc(roles, func(allowed string) bool {
				return subtle.ConstantTimeCompare([]byte(allowed), []byte(role)) == 1
			}) {
				logger.WarnContext(ctx, "forbidden - role not permitted",
					"role", role,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteJSON(w, http.StatusForbidden, httputil.ErrorResponse{Error: "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
