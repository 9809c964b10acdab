package handlers_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/panda-auth/internal/auth"
	"github.com/BradenHooton/panda-auth/internal/handlers"
	"github.com/BradenHooton/panda-auth/internal/models"
	"github.com/BradenHooton/panda-auth/internal/services"
)

func newOAuthHandler(svc handlers.OAuthServiceInterface, env string) *handlers.OAuthHandler {
	return handlers.NewOAuthHandler(svc, auth.CookieConfig{SameSite: "lax"}, nil, "http://localhost:3000/auth/done", env, testLogger)
}

func callbackResult(isNew bool, clientState string) *services.CallbackResult {
	resp := authResponse("user-1")
	return &services.CallbackResult{
		ReconcileResult: &services.ReconcileResult{
			User:      &models.User{ID: "user-1"},
			Tokens:    resp.Tokens,
			IsNewUser: isNew,
		},
		ClientState: clientState,
	}
}

func TestOAuthBegin_Redirects(t *testing.T) {
	var gotProvider, gotState string
	svc := &handlers.MockOAuthService{
		BeginFunc: func(ctx context.Context, providerName, clientState string) (string, error) {
			gotProvider, gotState = providerName, clientState
			return "https://accounts.example.com/authorize?state=nonce", nil
		},
	}

	req := httptest.NewRequest("GET", "/api/v1/auth/google?state=return-to-chat", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{"provider": "google"})
	w := httptest.NewRecorder()
	newOAuthHandler(svc, "development").Begin(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://accounts.example.com/authorize?state=nonce", w.Header().Get("Location"))
	assert.Equal(t, "google", gotProvider)
	assert.Equal(t, "return-to-chat", gotState)
}

func TestOAuthBegin_UnknownProvider(t *testing.T) {
	svc := &handlers.MockOAuthService{
		BeginFunc: func(ctx context.Context, providerName, clientState string) (string, error) {
			return "", fmt.Errorf("oauth provider %q: %w", providerName, models.ErrNotFound)
		},
	}

	req := handlers.WithChiRouteContext(httptest.NewRequest("GET", "/api/v1/auth/myspace", nil), map[string]string{"provider": "myspace"})
	w := httptest.NewRecorder()
	newOAuthHandler(svc, "development").Begin(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusNotFound, "not_found")
}

func TestOAuthCallback_SetsCookiesAndRedirects(t *testing.T) {
	var got services.CallbackInput
	svc := &handlers.MockOAuthService{
		CallbackFunc: func(ctx context.Context, in services.CallbackInput) (*services.CallbackResult, error) {
			got = in
			return callbackResult(true, "return-to-chat"), nil
		},
	}

	req := httptest.NewRequest("GET", "/api/v1/auth/facebook/callback?code=abc&state=nonce-1", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{"provider": "facebook"})
	w := httptest.NewRecorder()
	newOAuthHandler(svc, "development").Callback(w, req)

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "facebook", got.Provider)
	assert.Equal(t, "abc", got.Code)
	assert.Equal(t, "nonce-1", got.State)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "localhost:3000", loc.Host)
	assert.Equal(t, "/auth/done", loc.Path)
	assert.Equal(t, "success", loc.Query().Get("auth"))
	assert.Equal(t, "true", loc.Query().Get("newUser"))
	assert.Equal(t, "return-to-chat", loc.Query().Get("state"))
	assert.NotContains(t, loc.RawQuery, "access_token_123")
	assert.NotContains(t, loc.RawQuery, "refresh_token_123")

	access, ok := handlers.CookieValue(w, auth.AccessTokenCookie)
	assert.True(t, ok)
	assert.Equal(t, "access_token_123", access)
}

func TestOAuthCallback_ReturningUserWithoutState(t *testing.T) {
	svc := &handlers.MockOAuthService{
		CallbackFunc: func(ctx context.Context, in services.CallbackInput) (*services.CallbackResult, error) {
			return callbackResult(false, ""), nil
		},
	}

	req := handlers.WithChiRouteContext(httptest.NewRequest("GET", "/api/v1/auth/google/callback?code=abc&state=n", nil), map[string]string{"provider": "google"})
	w := httptest.NewRecorder()
	newOAuthHandler(svc, "development").Callback(w, req)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "false", loc.Query().Get("newUser"))
	assert.False(t, loc.Query().Has("state"))
}

func TestOAuthCallback_ProviderErrorPassesThrough(t *testing.T) {
	var got services.CallbackInput
	svc := &handlers.MockOAuthService{
		CallbackFunc: func(ctx context.Context, in services.CallbackInput) (*services.CallbackResult, error) {
			got = in
			return nil, models.ErrOAuthProviderDenied.WithDetail(in.Error + ": " + in.ErrorDescription)
		},
	}

	req := httptest.NewRequest("GET", "/api/v1/auth/google/callback?error=access_denied&error_description=User+denied", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{"provider": "google"})
	w := httptest.NewRecorder()
	newOAuthHandler(svc, "development").Callback(w, req)

	resp := handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "oauth_denied")
	assert.Equal(t, "access_denied: User denied", resp.Details)
	assert.Equal(t, "access_denied", got.Error)
	assert.Equal(t, "User denied", got.ErrorDescription)
	_, ok := handlers.CookieValue(w, auth.AccessTokenCookie)
	assert.False(t, ok)
}

func TestOAuthCallback_DetailsHiddenInProduction(t *testing.T) {
	svc := &handlers.MockOAuthService{
		CallbackFunc: func(ctx context.Context, in services.CallbackInput) (*services.CallbackResult, error) {
			return nil, models.ErrOAuthExchangeFailed.WithDetail("invalid_grant")
		},
	}

	req := handlers.WithChiRouteContext(httptest.NewRequest("GET", "/api/v1/auth/google/callback?code=x&state=y", nil), map[string]string{"provider": "google"})
	w := httptest.NewRecorder()
	newOAuthHandler(svc, "production").Callback(w, req)

	resp := handlers.AssertErrorResponse(t, w, http.StatusBadGateway, "oauth_exchange_failed")
	assert.Empty(t, resp.Details)
}
