package middleware

import (
	"net/http"
	"slices"
	"strings"

	"furnish-be/internal/auth"
	"furnish-be/internal/logger"
	"furnish-be/internal/user"
	"furnish-be/internal/utils"

	"go.uber.org/zap"
)

// Auth reads the access token from the cookie or bearer header and stores
// the caller in the request context. Requests without a token continue
// anonymously; a token that fails verification is rejected.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := auth.ExtractAccessToken(r)
			if tokenStr == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := auth.ParseJWT(secret, tokenStr)
			if err != nil {
				logger.FromCtx(r.Context()).Warn("rejected access token", zap.Error(err))
				utils.WriteJSONError(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := utils.SetUserContext(
				r.Context(),
				claims.UserID,
				claims.Email,
				strings.ToUpper(claims.Role),
			)
			ctx = logger.With(ctx, zap.Uint("user_id", claims.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := utils.GetUserIDFromContext(r.Context()); !ok || id == 0 {
			utils.WriteJSONError(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole admits authenticated callers holding one of roles.
func RequireRole(roles ...user.Role) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(roles))
	for _, r := range roles {
		allowed = append(allowed, string(r))
	}

	return func(next http.Handler) http.Handler {
		return RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := utils.GetUserRoleFromContext(r.Context())
			if !slices.Contains(allowed, role) {
				utils.WriteJSONError(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}
