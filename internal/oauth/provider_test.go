package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/panda-auth/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newGoogleTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch {
		case r.Form.Get("code") == "good-code":
			assert.Equal(t, "gid", r.Form.Get("client_id"))
			assert.Equal(t, "gsecret", r.Form.Get("client_secret"))
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token": "g-access", "refresh_token": "g-refresh",
				"token_type": "Bearer", "expires_in": 3600,
			})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": "invalid_grant", "error_description": "Bad Request",
			})
		}
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer g-access" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]any{"message": "Invalid Credentials"},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "g-123", "email": "alice@example.com", "name": "Alice A", "picture": "https://img/a.png",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newGoogle(srv *httptest.Server) *GoogleClient {
	return NewGoogleClient(ClientConfig{
		ClientID:     "gid",
		ClientSecret: "gsecret",
		RedirectURI:  "http://localhost:5000/api/v1/auth/google/callback",
		TokenURL:     srv.URL + "/token",
		APIURL:       srv.URL + "/userinfo",
		HTTPClient:   srv.Client(),
	})
}

func TestGoogle_AuthorizationURL(t *testing.T) {
	g := NewGoogleClient(ClientConfig{ClientID: "gid", RedirectURI: "http://cb"})

	u, err := url.Parse(g.AuthorizationURL("nonce-1"))
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, "accounts.google.com", u.Host)
	assert.Equal(t, "gid", q.Get("client_id"))
	assert.Equal(t, "http://cb", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "openid profile email", q.Get("scope"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "nonce-1", q.Get("state"))
}

func TestGoogle_ExchangeAndProfile(t *testing.T) {
	g := newGoogle(newGoogleTestServer(t))
	ctx := context.Background()

	tokens, err := g.Exchange(ctx, "good-code")
	require.NoError(t, err)
	assert.Equal(t, "g-access", tokens.AccessToken)
	assert.Equal(t, "g-refresh", tokens.RefreshToken)
	require.NotNil(t, tokens.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *tokens.ExpiresAt, time.Minute)

	profile, err := g.FetchProfile(ctx, tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, &models.ProviderProfile{
		ID: "g-123", Email: "alice@example.com", Name: "Alice A", PictureURL: "https://img/a.png",
	}, profile)
}

func TestGoogle_ExchangeFailureCarriesDetail(t *testing.T) {
	g := newGoogle(newGoogleTestServer(t))

	_, err := g.Exchange(context.Background(), "bad-code")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrOAuthExchangeFailed)
	assert.Equal(t, "invalid_grant: Bad Request", models.DetailOf(err))
}

func TestGoogle_ProfileFailure(t *testing.T) {
	g := newGoogle(newGoogleTestServer(t))

	_, err := g.FetchProfile(context.Background(), "stale")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrOAuthProfileFetchFailed)
	assert.Equal(t, "Invalid Credentials", models.DetailOf(err))
}

func newFacebookTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("grant_type") == "fb_exchange_token" {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Empty(t, r.URL.RawQuery)
			assert.Equal(t, "fbsecret", r.PostForm.Get("client_secret"))
			if r.PostForm.Get("fb_exchange_token") != "fb-short" {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"error": map[string]any{"message": "Invalid OAuth access token.", "type": "OAuthException"},
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token": "fb-long", "token_type": "bearer", "expires_in": 5184000,
			})
			return
		}
		if r.Form.Get("code") != "good-code" {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": map[string]any{"message": "This authorization code has expired.", "type": "OAuthException"},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "fb-short", "token_type": "bearer", "expires_in": 3600,
		})
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, facebookProfileFields, r.URL.Query().Get("fields"))
		assert.False(t, r.URL.Query().Has("access_token"))
		switch strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ") {
		case "fb-long":
			writeJSON(w, http.StatusOK, map[string]any{
				"id": "fb-9", "email": "bob@example.com", "name": "Bob B",
				"picture": map[string]any{"data": map[string]any{"url": "https://img/b.png"}},
			})
		case "no-email":
			writeJSON(w, http.StatusOK, map[string]any{
				"id": "fb-10", "first_name": "Carol", "last_name": "C",
			})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": map[string]any{"message": "Malformed access token"},
			})
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newFacebook(srv *httptest.Server) *FacebookClient {
	return NewFacebookClient(ClientConfig{
		ClientID:     "fbid",
		ClientSecret: "fbsecret",
		RedirectURI:  "http://localhost:5000/api/v1/auth/facebook/callback",
		APIURL:       srv.URL,
		HTTPClient:   srv.Client(),
	})
}

func TestFacebook_AuthorizationURL(t *testing.T) {
	f := NewFacebookClient(ClientConfig{ClientID: "fbid", RedirectURI: "http://cb"})

	u, err := url.Parse(f.AuthorizationURL("s1"))
	require.NoError(t, err)
	assert.Equal(t, "www.facebook.com", u.Host)
	assert.Equal(t, "/v18.0/dialog/oauth", u.Path)
	assert.Equal(t, "email public_profile", u.Query().Get("scope"))
	assert.Equal(t, "s1", u.Query().Get("state"))
	assert.Equal(t, "code", u.Query().Get("response_type"))
}

func TestFacebook_FullFlow(t *testing.T) {
	f := newFacebook(newFacebookTestServer(t))
	ctx := context.Background()

	short, err := f.Exchange(ctx, "good-code")
	require.NoError(t, err)
	assert.Equal(t, "fb-short", short.AccessToken)

	var upgrader TokenUpgrader = f
	long, err := upgrader.UpgradeToken(ctx, short.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "fb-long", long.AccessToken)
	require.NotNil(t, long.ExpiresAt)
	assert.True(t, long.ExpiresAt.After(time.Now().Add(59*24*time.Hour)))

	profile, err := f.FetchProfile(ctx, long.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "fb-9", profile.ID)
	assert.Equal(t, "bob@example.com", profile.Email)
	assert.Equal(t, "https://img/b.png", profile.PictureURL)
}

func TestFacebook_ProfileWithoutEmail(t *testing.T) {
	f := newFacebook(newFacebookTestServer(t))

	profile, err := f.FetchProfile(context.Background(), "no-email")
	require.NoError(t, err)
	assert.Empty(t, profile.Email)
	assert.Equal(t, "Carol C", profile.Name)
}

func TestFacebook_Failures(t *testing.T) {
	f := newFacebook(newFacebookTestServer(t))
	ctx := context.Background()

	_, err := f.Exchange(ctx, "expired")
	assert.ErrorIs(t, err, models.ErrOAuthExchangeFailed)
	assert.Equal(t, "This authorization code has expired.", models.DetailOf(err))

	_, err = f.UpgradeToken(ctx, "bogus")
	assert.ErrorIs(t, err, models.ErrOAuthExchangeFailed)
	assert.Equal(t, "Invalid OAuth access token.", models.DetailOf(err))

	_, err = f.FetchProfile(ctx, "bogus")
	assert.ErrorIs(t, err, models.ErrOAuthProfileFetchFailed)
	assert.Equal(t, "Malformed access token", models.DetailOf(err))
}

func TestProviderFailures_OmitCredentials(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	f := NewFacebookClient(ClientConfig{
		ClientID:     "fbid",
		ClientSecret: "S3CRET-APP",
		APIURL:       srv.URL,
		Timeout:      time.Second,
	})
	g := NewGoogleClient(ClientConfig{
		ClientID:     "gid",
		ClientSecret: "G-S3CRET",
		TokenURL:     srv.URL + "/token",
		APIURL:       srv.URL + "/userinfo?alt=json",
		Timeout:      time.Second,
	})
	ctx := context.Background()

	tests := []struct {
		name string
		kind *models.AuthError
		call func() error
	}{
		{"facebook upgrade", models.ErrOAuthExchangeFailed, func() error {
			_, err := f.UpgradeToken(ctx, "USER-SHORT-TOKEN")
			return err
		}},
		{"facebook profile", models.ErrOAuthProfileFetchFailed, func() error {
			_, err := f.FetchProfile(ctx, "USER-SHORT-TOKEN")
			return err
		}},
		{"facebook exchange", models.ErrOAuthExchangeFailed, func() error {
			_, err := f.Exchange(ctx, "USER-CODE")
			return err
		}},
		{"google exchange", models.ErrOAuthExchangeFailed, func() error {
			_, err := g.Exchange(ctx, "USER-CODE")
			return err
		}},
		{"google profile", models.ErrOAuthProfileFetchFailed, func() error {
			_, err := g.FetchProfile(ctx, "USER-SHORT-TOKEN")
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			for _, secret := range []string{"S3CRET-APP", "G-S3CRET", "USER-SHORT-TOKEN", "USER-CODE"} {
				assert.NotContains(t, err.Error(), secret)
				assert.NotContains(t, models.DetailOf(err), secret)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	g := NewGoogleClient(ClientConfig{})
	f := NewFacebookClient(ClientConfig{})
	r := NewRegistry(g, f)

	p, ok := r.Get("Google")
	require.True(t, ok)
	assert.Equal(t, models.ProviderGoogle, p.Name())

	_, ok = r.Get("twitter")
	assert.False(t, ok)

	_, isUpgrader := Provider(g).(TokenUpgrader)
	assert.False(t, isUpgrader)
	_, isUpgrader = Provider(f).(TokenUpgrader)
	assert.True(t, isUpgrader)
}
