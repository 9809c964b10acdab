package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/panda-auth/internal/models"
	pkghttp "github.com/BradenHooton/panda-auth/pkg/http"
)

type contextKey string

const (
	claimsContextKey contextKey = "claims"
	userContextKey   contextKey = "user"
)

// UserLookup is what the middleware needs from the user store.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// AuthMiddleware accepts an access token from the Authorization bearer header
// or the access_token cookie, then loads the user and rejects missing or
// deactivated accounts.
func AuthMiddleware(tm *TokenManager, users UserLookup, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := extractAccessToken(r)
			if !ok {
				pkghttp.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}

			claims, err := tm.Verify(tokenString, models.TokenTypeAccess)
			if err != nil {
				if errors.Is(err, models.ErrWrongTokenType) {
					pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_token_type", "refresh tokens cannot be used for API access")
					return
				}
				pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired token")
				return
			}

			user, err := users.GetByID(r.Context(), claims.UserID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_token", "user no longer exists")
					return
				}
				logger.Error("failed to load authenticated user",
					slog.String("user_id", claims.UserID),
					slog.String("error", err.Error()),
				)
				pkghttp.WriteInternalError(w, "internal server error")
				return
			}
			if !user.IsActive {
				pkghttp.WriteError(w, http.StatusForbidden, "account_disabled", "account is disabled")
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			ctx = context.WithValue(ctx, userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractAccessToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && parts[1] != "" {
			return parts[1], true
		}
		return "", false
	}
	if tok := TokenFromCookie(r, AccessTokenCookie); tok != "" {
		return tok, true
	}
	return "", false
}

// GetClaimsFromContext returns the verified access token claims, if any.
func GetClaimsFromContext(ctx context.Context) *models.TokenClaims {
	claims, _ := ctx.Value(claimsContextKey).(*models.TokenClaims)
	return claims
}

// GetUserFromContext returns the authenticated user loaded by AuthMiddleware.
func GetUserFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(userContextKey).(*models.User)
	return user
}

// WithUser is used by tests and internal callers to seed an authenticated user.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// WithClaims seeds verified claims, as AuthMiddleware does.
func WithClaims(ctx context.Context, claims *models.TokenClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
