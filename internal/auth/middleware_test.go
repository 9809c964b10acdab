package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/panda-auth/internal/models"
	pkghttp "github.com/BradenHooton/panda-auth/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUserLookup struct {
	users map[string]*models.User
	err   error
}

func (s *stubUserLookup) GetByID(ctx context.Context, id string) (*models.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return u, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runMiddleware(t *testing.T, lookup UserLookup, req *http.Request) (*httptest.ResponseRecorder, *models.User) {
	t.Helper()
	var seen *models.User
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserFromContext(r.Context())
		require.NotNil(t, GetClaimsFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	AuthMiddleware(newTestTokenManager(), lookup, discardLogger())(next).ServeHTTP(rec, req)
	return rec, seen
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestAuthMiddleware_BearerToken(t *testing.T) {
	lookup := &stubUserLookup{users: map[string]*models.User{"u1": {ID: "u1", IsActive: true}}}
	pair, err := newTestTokenManager().Issue("u1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)

	rec, user := runMiddleware(t, lookup, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, user)
	assert.Equal(t, "u1", user.ID)
}

func TestAuthMiddleware_CookieToken(t *testing.T) {
	lookup := &stubUserLookup{users: map[string]*models.User{"u1": {ID: "u1", IsActive: true}}}
	pair, err := newTestTokenManager().Issue("u1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: pair.AccessToken})

	rec, _ := runMiddleware(t, lookup, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	tm := newTestTokenManager()
	pair, err := tm.Issue("u1")
	require.NoError(t, err)
	orphan, err := tm.Issue("ghost")
	require.NoError(t, err)

	lookup := &stubUserLookup{users: map[string]*models.User{
		"u1":       {ID: "u1", IsActive: true},
		"disabled": {ID: "disabled", IsActive: false},
	}}
	disabled, err := tm.Issue("disabled")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"missing", "", http.StatusUnauthorized, "unauthorized"},
		{"malformed header", "Token abc", http.StatusUnauthorized, "unauthorized"},
		{"garbage token", "Bearer nope", http.StatusUnauthorized, "invalid_token"},
		{"refresh token", "Bearer " + pair.RefreshToken, http.StatusUnauthorized, "invalid_token_type"},
		{"unknown user", "Bearer " + orphan.AccessToken, http.StatusUnauthorized, "invalid_token"},
		{"disabled user", "Bearer " + disabled.AccessToken, http.StatusForbidden, "account_disabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			AuthMiddleware(tm, lookup, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("next handler must not run")
			})).ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestAuthMiddleware_StoreError(t *testing.T) {
	pair, err := newTestTokenManager().Issue("u1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()

	AuthMiddleware(newTestTokenManager(), &stubUserLookup{err: errors.New("db down")}, discardLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
	).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAuthCookies(t *testing.T) {
	pair, err := newTestTokenManager().Issue("u1")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	SetAuthCookies(rec, pair, CookieConfig{Secure: true, SameSite: "strict"})

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)
	byName := map[string]*http.Cookie{}
	for _, c := range cookies {
		byName[c.Name] = c
		assert.True(t, c.HttpOnly)
		assert.True(t, c.Secure)
		assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	}
	assert.Equal(t, pair.AccessToken, byName[AccessTokenCookie].Value)
	assert.Equal(t, pair.RefreshToken, byName[RefreshTokenCookie].Value)
	assert.Greater(t, byName[RefreshTokenCookie].MaxAge, byName[AccessTokenCookie].MaxAge)

	rec = httptest.NewRecorder()
	ClearAuthCookies(rec, CookieConfig{})
	for _, c := range rec.Result().Cookies() {
		assert.Equal(t, "", c.Value)
		assert.Less(t, c.MaxAge, 0)
	}
}

func TestTokenFromCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", TokenFromCookie(req, RefreshTokenCookie))

	req.AddCookie(&http.Cookie{Name: RefreshTokenCookie, Value: "abc"})
	assert.Equal(t, "abc", TokenFromCookie(req, RefreshTokenCookie))
}
