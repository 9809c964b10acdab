package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/panda-auth/internal/auth"
	"github.com/BradenHooton/panda-auth/internal/models"
	"github.com/BradenHooton/panda-auth/internal/services"
	pkghttp "github.com/BradenHooton/panda-auth/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds access token claims to the request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Type:   models.TokenTypeAccess,
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// CookieValue returns the named response cookie and whether it was set
func CookieValue(w *httptest.ResponseRecorder, name string) (string, bool) {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	RegisterFunc func(ctx context.Context, in services.RegisterInput) (*services.AuthResponse, error)
	LoginFunc    func(ctx context.Context, in services.LoginInput) (*services.AuthResponse, error)
	RefreshFunc  func(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	LogoutFunc   func(ctx context.Context, userID, deviceToken string)
	MeFunc       func(ctx context.Context, userID string) (*models.PublicUser, error)
}

func (m *MockAuthService) Register(ctx context.Context, in services.RegisterInput) (*services.AuthResponse, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrUserExists
	}
	return m.RegisterFunc(ctx, in)
}

func (m *MockAuthService) Login(ctx context.Context, in services.LoginInput) (*services.AuthResponse, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, in)
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string) (*services.AuthResponse, error) {
	if m.RefreshFunc == nil {
		return nil, models.ErrInvalidToken
	}
	return m.RefreshFunc(ctx, refreshToken)
}

func (m *MockAuthService) Logout(ctx context.Context, userID, deviceToken string) {
	if m.LogoutFunc != nil {
		m.LogoutFunc(ctx, userID, deviceToken)
	}
}

func (m *MockAuthService) Me(ctx context.Context, userID string) (*models.PublicUser, error) {
	if m.MeFunc == nil {
		return nil, models.ErrInvalidToken
	}
	return m.MeFunc(ctx, userID)
}

// MockEmailVerificationService for testing
type MockEmailVerificationService struct {
	VerifyEmailFunc        func(ctx context.Context, plainToken string) (string, error)
	ResendVerificationFunc func(ctx context.Context, email string) error
}

func (m *MockEmailVerificationService) VerifyEmail(ctx context.Context, plainToken string) (string, error) {
	if m.VerifyEmailFunc == nil {
		return "", models.ErrInvalidVerificationToken
	}
	return m.VerifyEmailFunc(ctx, plainToken)
}

func (m *MockEmailVerificationService) ResendVerification(ctx context.Context, email string) error {
	if m.ResendVerificationFunc == nil {
		return nil
	}
	return m.ResendVerificationFunc(ctx, email)
}

// MockOAuthService implements OAuthServiceInterface for testing
type MockOAuthService struct {
	BeginFunc    func(ctx context.Context, providerName, clientState string) (string, error)
	CallbackFunc func(ctx context.Context, in services.CallbackInput) (*services.CallbackResult, error)
}

func (m *MockOAuthService) Begin(ctx context.Context, providerName, clientState string) (string, error) {
	if m.BeginFunc == nil {
		return "", models.ErrNotFound
	}
	return m.BeginFunc(ctx, providerName, clientState)
}

func (m *MockOAuthService) Callback(ctx context.Context, in services.CallbackInput) (*services.CallbackResult, error) {
	if m.CallbackFunc == nil {
		return nil, models.ErrOAuthStateMismatch
	}
	return m.CallbackFunc(ctx, in)
}
