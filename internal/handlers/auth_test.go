package handlers_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/panda-auth/internal/auth"
	"github.com/BradenHooton/panda-auth/internal/handlers"
	"github.com/BradenHooton/panda-auth/internal/models"
	"github.com/BradenHooton/panda-auth/internal/services"
	pkghttp "github.com/BradenHooton/panda-auth/pkg/http"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newAuthHandler(svc handlers.AuthServiceInterface, verifier handlers.EmailVerificationServiceInterface) *handlers.AuthHandler {
	return handlers.NewAuthHandler(svc, verifier, auth.CookieConfig{SameSite: "lax"}, nil, "development", testLogger)
}

func authResponse(userID string) *services.AuthResponse {
	now := time.Now()
	pair := &models.TokenPair{
		AccessToken:      "access_token_123",
		RefreshToken:     "refresh_token_123",
		AccessExpiresAt:  now.Add(15 * time.Minute),
		RefreshExpiresAt: now.Add(7 * 24 * time.Hour),
	}
	return &services.AuthResponse{
		User:         &models.PublicUser{ID: userID, Email: "user@example.com", DisplayName: "User", LinkedProviders: []models.LinkedProvider{}},
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Tokens:       pair,
	}
}

func validRegisterRequest() handlers.RegisterRequest {
	return handlers.RegisterRequest{
		Email:       "user@example.com",
		Password:    "Sup3r$ecretPass",
		DisplayName: "User",
	}
}

func TestRegister_Success(t *testing.T) {
	var got services.RegisterInput
	mockAuth := &handlers.MockAuthService{
		RegisterFunc: func(ctx context.Context, in services.RegisterInput) (*services.AuthResponse, error) {
			got = in
			return authResponse("user-1"), nil
		},
	}

	body := validRegisterRequest()
	body.Username = "user_1"
	body.DeviceToken = "device-abc"
	body.DeviceType = "ios"

	req := handlers.NewTestRequest(t, "POST", "/api/v1/auth/register", body)
	req.Header.Set("User-Agent", "panda-test")
	w := httptest.NewRecorder()
	newAuthHandler(mockAuth, nil).Register(w, req)

	var resp map[string]any
	handlers.AssertJSONResponse(t, w, http.StatusCreated, &resp)
	assert.Equal(t, "access_token_123", resp["access_token"])
	assert.Equal(t, "refresh_token_123", resp["refresh_token"])
	assert.Contains(t, resp, "user")

	assert.Equal(t, "user_1", got.Username)
	require.NotNil(t, got.Device)
	assert.Equal(t, "device-abc", got.Device.DeviceToken)
	assert.Equal(t, "ios", got.Device.DeviceType)
	assert.Equal(t, "panda-test", got.Client.UserAgent)

	access, ok := handlers.CookieValue(w, auth.AccessTokenCookie)
	assert.True(t, ok)
	assert.Equal(t, "access_token_123", access)
	refresh, ok := handlers.CookieValue(w, auth.RefreshTokenCookie)
	assert.True(t, ok)
	assert.Equal(t, "refresh_token_123", refresh)
}

func TestRegister_NoDeviceWithoutToken(t *testing.T) {
	var got services.RegisterInput
	mockAuth := &handlers.MockAuthService{
		RegisterFunc: func(ctx context.Context, in services.RegisterInput) (*services.AuthResponse, error) {
			got = in
			return authResponse("user-1"), nil
		},
	}

	req := handlers.NewTestRequest(t, "POST", "/api/v1/auth/register", validRegisterRequest())
	w := httptest.NewRecorder()
	newAuthHandler(mockAuth, nil).Register(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Nil(t, got.Device)
}

func TestRegister_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*handlers.RegisterRequest)
		field  string
	}{
		{"missing email", func(r *handlers.RegisterRequest) { r.Email = "" }, "email"},
		{"bad email", func(r *handlers.RegisterRequest) { r.Email = "not-an-email" }, "email"},
		{"weak password", func(r *handlers.RegisterRequest) { r.Password = "password" }, "password"},
		{"missing display name", func(r *handlers.RegisterRequest) { r.DisplayName = "" }, "display_name"},
		{"long display name", func(r *handlers.RegisterRequest) { r.DisplayName = strings.Repeat("a", 101) }, "display_name"},
		{"bad username", func(r *handlers.RegisterRequest) { r.Username = "bad name!" }, "username"},
		{"long username", func(r *handlers.RegisterRequest) { r.Username = strings.Repeat("a", 51) }, "username"},
		{"bad device type", func(r *handlers.RegisterRequest) {
			r.DeviceToken = "tok"
			r.DeviceType = "toaster"
		}, "device_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			mockAuth := &handlers.MockAuthService{
				RegisterFunc: func(ctx context.Context, in services.RegisterInput) (*services.AuthResponse, error) {
					called = true
					return authResponse("user-1"), nil
				},
			}

			body := validRegisterRequest()
			tt.mutate(&body)
			req := handlers.NewTestRequest(t, "POST", "/api/v1/auth/register", body)
			w := httptest.NewRecorder()
			newAuthHandler(mockAuth, nil).Register(w, req)

			resp := handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
			assert.Contains(t, resp.Message, tt.field)
			assert.False(t, called)
		})
	}
}

func TestRegister_InvalidJSON(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/v1/auth/register", strings.NewReader("{"))
	w := httptest.NewRecorder()
	newAuthHandler(&handlers.MockAuthService{}, nil).Register(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestRegister_Conflicts(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{models.ErrUserExists, http.StatusConflict, "user_exists"},
		{models.ErrUsernameTaken, http.StatusConflict, "username_taken"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			mockAuth := &handlers.MockAuthService{
				RegisterFunc: func(ctx context.Context, in services.RegisterInput) (*services.AuthResponse, error) {
					return nil, tt.err
				},
			}
			req := handlers.NewTestRequest(t, "POST", "/api/v1/auth/register", validRegisterRequest())
			w := httptest.NewRecorder()
			newAuthHandler(mockAuth, nil).Register(w, req)

			handlers.AssertErrorResponse(t, w, tt.status, tt.code)
			_, ok := handlers.CookieValue(w, auth.AccessTokenCookie)
			assert.False(t, ok)
		})
	}
}

func TestLogin_Success(t *testing.T) {
	var got services.LoginInput
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, in services.LoginInput) (*services.AuthResponse, error) {
			got = in
			return authResponse("user-1"), nil
		},
	}

	req := handlers.NewTestRequest(t, "POST", "/api/v1/auth/login", handlers.LoginRequest{
		Email:        "user@example.com",
		Password:     "whatever",
		DeviceFields: handlers.DeviceFields{DeviceToken: "tok-1", DeviceName: "Pixel"},
	})
	w := httptest.NewRecorder()
	newAuthHandler(mockAuth, nil).Login(w, req)

	var resp services.AuthResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "access_token_123", resp.AccessToken)
	require.NotNil(t, resp.User)
	assert.Equal(t, "user-1", resp.User.ID)

	require.NotNil(t, got.Device)
	assert.Equal(t, "tok-1", got.Device.DeviceToken)
	assert.Equal(t, "Pixel", got.Device.DeviceName)

	_, ok := handlers.CookieValue(w, auth.RefreshTokenCookie)
	assert.True(t, ok)
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid credentials", models.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{"disabled", models.ErrAccountDisabled, http.StatusForbidden, "account_disabled"},
		{"internal", models.ErrInternal.Wrap(assert.AnError), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockAuth := &handlers.MockAuthService{
				LoginFunc: func(ctx context.Context, in services.LoginInput) (*services.AuthResponse, error) {
					return nil, tt.err
				},
			}
			req := handlers.NewTestRequest(t, "POST", "/api/v1/auth/login", handlers.LoginRequest{
				Email:    "user@example.com",
				Password: "wrong",
			})
			w := httptest.NewRecorder()
			newAuthHandler(mockAuth, nil).Login(w, req)

			handlers.AssertErrorResponse(t, w, tt.status, tt.code)
		})
	}
}

func TestLogin_MissingPassword(t *testing.T) {
	req := handlers.NewTestRequest(t, "POST", "/api/v1/auth/login", handlers.LoginRequest{Email: "user@example.com"})
	w := httptest.NewRecorder()
	newAuthHandler(&handlers.MockAuthService{}, nil).Login(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestRefreshToken_FromBody(t *testing.T) {
	var got string
	mockAuth := &handlers.MockAuthService{
		RefreshFunc: func(ctx context.Context, refreshToken string) (*services.AuthResponse, error) {
			got = refreshToken
			return authResponse("user-1"), nil
		},
	}

	req := handlers.NewTestRequest(t, "POST", "/api/v1/auth/refresh", handlers.RefreshTokenRequest{RefreshToken: "body-token"})
	req.AddCookie(&http.Cookie{Name: auth.RefreshTokenCookie, Value: "cookie-token"})
	w := httptest.NewRecorder()
	newAuthHandler(mockAuth, nil).RefreshToken(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "body-token", got)
}

func TestRefreshToken_FromCookie(t *testing.T) {
	var got string
	mockAuth := &handlers.MockAuthService{
		RefreshFunc: func(ctx context.Context, refreshToken string) (*services.AuthResponse, error) {
			got = refreshToken
			return authResponse("user-1"), nil
		},
	}

	req := httptest.NewRequest("POST", "/api/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: auth.RefreshTokenCookie, Value: "cookie-token"})
	w := httptest.NewRecorder()
	newAuthHandler(mockAuth, nil).RefreshToken(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cookie-token", got)
	access, _ := handlers.CookieValue(w, auth.AccessTokenCookie)
	assert.Equal(t, "access_token_123", access)
}

func TestRefreshToken_Errors(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{models.ErrInvalidToken, "invalid_token"},
		{models.ErrWrongTokenType, "invalid_token_type"},
		{models.ErrInvalidRefreshToken, "invalid_refresh_token"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			mockAuth := &handlers.MockAuthService{
				RefreshFunc: func(ctx context.Context, refreshToken string) (*services.AuthResponse, error) {
					return nil, tt.err
				},
			}
			req := handlers.NewTestRequest(t, "POST", "/api/v1/auth/refresh", handlers.RefreshTokenRequest{RefreshToken: "x"})
			w := httptest.NewRecorder()
			newAuthHandler(mockAuth, nil).RefreshToken(w, req)

			handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, tt.code)
		})
	}
}

func TestLogout_RemovesDeviceAndClearsCookies(t *testing.T) {
	var gotUser, gotDevice string
	mockAuth := &handlers.MockAuthService{
		LogoutFunc: func(ctx context.Context, userID, deviceToken string) {
			gotUser, gotDevice = userID, deviceToken
		},
	}

	req := handlers.NewTestRequest(t, "POST", "/api/v1/auth/logout", handlers.LogoutRequest{DeviceToken: "tok-1"})
	req = handlers.WithAuthContext(req, "user-1")
	w := httptest.NewRecorder()
	newAuthHandler(mockAuth, nil).Logout(w, req)

	var resp pkghttp.MessageResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.NotEmpty(t, resp.Message)
	assert.Equal(t, "user-1", gotUser)
	assert.Equal(t, "tok-1", gotDevice)

	for _, c := range w.Result().Cookies() {
		assert.Empty(t, c.Value)
		assert.Negative(t, c.MaxAge)
	}
	assert.Len(t, w.Result().Cookies(), 2)
}

func TestLogout_WithoutBody(t *testing.T) {
	called := false
	mockAuth := &handlers.MockAuthService{
		LogoutFunc: func(ctx context.Context, userID, deviceToken string) {
			called = true
			assert.Empty(t, deviceToken)
		},
	}

	req := handlers.WithAuthContext(httptest.NewRequest("POST", "/api/v1/auth/logout", nil), "user-1")
	w := httptest.NewRecorder()
	newAuthHandler(mockAuth, nil).Logout(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
}

func TestLogout_Unauthenticated(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/v1/auth/logout", nil)
	w := httptest.NewRecorder()
	newAuthHandler(&handlers.MockAuthService{}, nil).Logout(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestMe(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		MeFunc: func(ctx context.Context, userID string) (*models.PublicUser, error) {
			return &models.PublicUser{ID: userID, Email: "user@example.com", LinkedProviders: []models.LinkedProvider{}}, nil
		},
	}

	req := handlers.WithAuthContext(httptest.NewRequest("GET", "/api/v1/auth/me", nil), "user-1")
	w := httptest.NewRecorder()
	newAuthHandler(mockAuth, nil).Me(w, req)

	var resp handlers.UserResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	require.NotNil(t, resp.User)
	assert.Equal(t, "user-1", resp.User.ID)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestVerifyEmail(t *testing.T) {
	verifier := &handlers.MockEmailVerificationService{
		VerifyEmailFunc: func(ctx context.Context, plainToken string) (string, error) {
			if plainToken == "good" {
				return "user-1", nil
			}
			return "", models.ErrInvalidVerificationToken.WithDetail("token expired")
		},
	}
	h := newAuthHandler(&handlers.MockAuthService{}, verifier)

	w := httptest.NewRecorder()
	h.VerifyEmail(w, handlers.NewTestRequest(t, "POST", "/api/v1/auth/verify-email", handlers.VerifyEmailRequest{Token: "good"}))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.VerifyEmail(w, handlers.NewTestRequest(t, "POST", "/api/v1/auth/verify-email", handlers.VerifyEmailRequest{Token: "bad"}))
	resp := handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "invalid_verification_token")
	assert.Equal(t, "token expired", resp.Details)
}

func TestVerifyEmail_Disabled(t *testing.T) {
	w := httptest.NewRecorder()
	newAuthHandler(&handlers.MockAuthService{}, nil).
		VerifyEmail(w, handlers.NewTestRequest(t, "POST", "/api/v1/auth/verify-email", handlers.VerifyEmailRequest{Token: "x"}))

	handlers.AssertErrorResponse(t, w, http.StatusInternalServerError, "internal_error")
}

func TestResendVerification_AlwaysAccepted(t *testing.T) {
	verifier := &handlers.MockEmailVerificationService{
		ResendVerificationFunc: func(ctx context.Context, email string) error {
			return assert.AnError
		},
	}

	req := handlers.NewTestRequest(t, "POST", "/api/v1/auth/resend-verification", handlers.ResendVerificationRequest{Email: "nobody@example.com"})
	w := httptest.NewRecorder()
	newAuthHandler(&handlers.MockAuthService{}, verifier).ResendVerification(w, req)

	var resp pkghttp.MessageResponse
	handlers.AssertJSONResponse(t, w, http.StatusAccepted, &resp)
	assert.NotEmpty(t, resp.Message)
}
