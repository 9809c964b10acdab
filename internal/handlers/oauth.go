package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/panda-auth/internal/auth"
	"github.com/BradenHooton/panda-auth/internal/services"
	pkghttp "github.com/BradenHooton/panda-auth/pkg/http"
)

// OAuthServiceInterface defines the interface for the OAuth login flow
type OAuthServiceInterface interface {
	Begin(ctx context.Context, providerName, clientState string) (string, error)
	Callback(ctx context.Context, in services.CallbackInput) (*services.CallbackResult, error)
}

// OAuthHandler handles provider redirects for social login
type OAuthHandler struct {
	service   OAuthServiceInterface
	cookies   auth.CookieConfig
	ipConfig  *pkghttp.IPConfig
	clientURL string
	errors    errorWriter
	logger    *slog.Logger
}

func NewOAuthHandler(
	service OAuthServiceInterface,
	cookies auth.CookieConfig,
	ipConfig *pkghttp.IPConfig,
	clientURL string,
	env string,
	logger *slog.Logger,
) *OAuthHandler {
	return &OAuthHandler{
		service:   service,
		cookies:   cookies,
		ipConfig:  ipConfig,
		clientURL: clientURL,
		errors:    errorWriter{env: env, logger: logger},
		logger:    logger,
	}
}

// Begin redirects the browser to the provider's consent screen
// @Summary Start OAuth login
// @Param provider path string true "google or facebook"
// @Param state query string false "Opaque client state echoed back after login"
// @Success 302
// @Failure 404 {object} ErrorResponse
// @Router /auth/{provider} [get]
func (h *OAuthHandler) Begin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	authURL, err := h.service.Begin(r.Context(), provider, r.URL.Query().Get("state"))
	if err != nil {
		h.errors.write(w, r, err)
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback completes the provider redirect, sets the auth cookies and sends
// the browser back to the client. Tokens never appear in the redirect URL.
// @Summary OAuth callback
// @Param provider path string true "google or facebook"
// @Param code query string false "Authorization code"
// @Param state query string false "State nonce"
// @Success 302
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /auth/{provider}/callback [get]
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	result, err := h.service.Callback(r.Context(), services.CallbackInput{
		Provider:         chi.URLParam(r, "provider"),
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
		Client: services.ClientInfo{
			IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
			UserAgent: r.Header.Get("User-Agent"),
		},
	})
	if err != nil {
		h.errors.write(w, r, err)
		return
	}

	auth.SetAuthCookies(w, result.Tokens, h.cookies)
	http.Redirect(w, r, h.successURL(result), http.StatusFound)
}

func (h *OAuthHandler) successURL(result *services.CallbackResult) string {
	u, err := url.Parse(h.clientURL)
	if err != nil {
		h.logger.Error("invalid client url", slog.String("client_url", h.clientURL), slog.Any("error", err))
		u = &url.URL{Path: "/"}
	}

	q := u.Query()
	q.Set("auth", "success")
	q.Set("newUser", strconv.FormatBool(result.IsNewUser))
	if result.ClientState != "" {
		q.Set("state", result.ClientState)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
