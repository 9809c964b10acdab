package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/panda-auth/internal/models"
	pkghttp "github.com/BradenHooton/panda-auth/pkg/http"
)

// errorStatus is the boundary representation of an ErrorKind
type errorStatus struct {
	status  int
	code    string
	message string
}

// statusFor maps every ErrorKind to its HTTP response. New kinds must be added here.
func statusFor(kind models.ErrorKind) errorStatus {
	switch kind {
	case models.KindUserExists:
		return errorStatus{http.StatusConflict, "user_exists", "User with this email already exists"}
	case models.KindUsernameTaken:
		return errorStatus{http.StatusConflict, "username_taken", "Username is already taken"}
	case models.KindInvalidCredentials:
		return errorStatus{http.StatusUnauthorized, "invalid_credentials", "Invalid email or password"}
	case models.KindAccountDisabled:
		return errorStatus{http.StatusForbidden, "account_disabled", "Account is disabled"}
	case models.KindInvalidToken:
		return errorStatus{http.StatusUnauthorized, "invalid_token", "Invalid or expired token"}
	case models.KindWrongTokenType:
		return errorStatus{http.StatusUnauthorized, "invalid_token_type", "Invalid token type"}
	case models.KindInvalidRefreshToken:
		return errorStatus{http.StatusUnauthorized, "invalid_refresh_token", "Invalid refresh token"}
	case models.KindEmailRequiredFromProvider:
		return errorStatus{http.StatusBadRequest, "email_required", "Email is required from the OAuth provider"}
	case models.KindOAuthExchangeFailed:
		return errorStatus{http.StatusBadGateway, "oauth_exchange_failed", "OAuth code exchange failed"}
	case models.KindOAuthProfileFetchFailed:
		return errorStatus{http.StatusBadGateway, "oauth_profile_fetch_failed", "Failed to fetch OAuth profile"}
	case models.KindOAuthProviderDenied:
		return errorStatus{http.StatusBadRequest, "oauth_denied", "OAuth provider denied the request"}
	case models.KindOAuthCodeMissing:
		return errorStatus{http.StatusBadRequest, "oauth_code_missing", "Authorization code is required"}
	case models.KindOAuthStateMismatch:
		return errorStatus{http.StatusBadRequest, "oauth_state_mismatch", "OAuth state is invalid or expired"}
	case models.KindInvalidVerificationToken:
		return errorStatus{http.StatusBadRequest, "invalid_verification_token", "Invalid or expired verification token"}
	case models.KindUsernameGenerationExhausted, models.KindInternal:
		return errorStatus{http.StatusInternalServerError, "internal_error", "Internal server error"}
	default:
		return errorStatus{http.StatusInternalServerError, "internal_error", "Internal server error"}
	}
}

// errorWriter turns service errors into JSON responses. Diagnostic details
// are only exposed outside production.
type errorWriter struct {
	env    string
	logger *slog.Logger
}

func (e errorWriter) write(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *models.AuthError
	if !errors.As(err, &authErr) && errors.Is(err, models.ErrNotFound) {
		pkghttp.WriteNotFound(w, "Not found")
		return
	}

	kind := models.KindOf(err)
	st := statusFor(kind)
	if st.status >= http.StatusInternalServerError {
		e.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()))
	}

	details := ""
	if e.env != "production" {
		details = models.DetailOf(err)
	}
	pkghttp.WriteErrorWithDetails(w, st.status, st.code, st.message, details)
}
