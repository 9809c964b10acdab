// Package oauth talks to external identity providers. Code exchange goes
// through golang.org/x/oauth2; profile lookups and provider-specific token
// calls are plain JSON requests against the provider APIs.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BradenHooton/panda-auth/internal/models"
	"golang.org/x/oauth2"
)

// Provider is the capability set every identity provider offers.
type Provider interface {
	Name() models.Provider
	AuthorizationURL(state string) string
	Exchange(ctx context.Context, code string) (*models.ProviderTokens, error)
	FetchProfile(ctx context.Context, accessToken string) (*models.ProviderProfile, error)
}

// TokenUpgrader is implemented by providers that can trade a short-lived
// access token for a long-lived one.
type TokenUpgrader interface {
	UpgradeToken(ctx context.Context, shortLived string) (*models.ProviderTokens, error)
}

// ClientConfig configures a provider client. Empty endpoint fields fall back
// to the provider's production URLs.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	AuthURL  string
	TokenURL string
	APIURL   string

	Timeout    time.Duration
	HTTPClient *http.Client
}

func (c ClientConfig) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Registry maps provider names to configured clients.
type Registry map[models.Provider]Provider

func NewRegistry(providers ...Provider) Registry {
	r := make(Registry, len(providers))
	for _, p := range providers {
		r[p.Name()] = p
	}
	return r
}

func (r Registry) Get(name string) (Provider, bool) {
	p, ok := r[models.Provider(strings.ToLower(name))]
	return p, ok
}

func exchangeCode(ctx context.Context, cfg *oauth2.Config, client *http.Client, code string, opts ...oauth2.AuthCodeOption) (*models.ProviderTokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)

	tok, err := cfg.Exchange(ctx, code, opts...)
	if err != nil {
		err = transportError(err)
		return nil, models.ErrOAuthExchangeFailed.WithDetail(retrieveErrorDetail(err)).Wrap(err)
	}
	if tok.AccessToken == "" {
		return nil, models.ErrOAuthExchangeFailed.WithDetail("provider returned no access token")
	}
	return toProviderTokens(tok), nil
}

func toProviderTokens(tok *oauth2.Token) *models.ProviderTokens {
	out := &models.ProviderTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		out.ExpiresAt = &exp
	}
	return out
}

// retrieveErrorDetail pulls the provider's own explanation out of a token
// endpoint failure.
func retrieveErrorDetail(err error) string {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return err.Error()
	}
	if re.ErrorCode != "" {
		if re.ErrorDescription != "" {
			return re.ErrorCode + ": " + re.ErrorDescription
		}
		return re.ErrorCode
	}
	if msg := apiErrorMessage(re.Body); msg != "" {
		return msg
	}
	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	return fmt.Sprintf("token endpoint returned status %d", status)
}

// apiError covers both Google's and Facebook's JSON error envelopes.
type apiError struct {
	Error json.RawMessage `json:"error"`
}

type apiErrorObject struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func apiErrorMessage(body []byte) string {
	var env apiError
	if err := json.Unmarshal(body, &env); err != nil || len(env.Error) == 0 {
		return ""
	}
	var obj apiErrorObject
	if err := json.Unmarshal(env.Error, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	var s string
	if err := json.Unmarshal(env.Error, &s); err == nil {
		return s
	}
	return ""
}

// transportError drops the query string and userinfo from the URL in a
// client failure.
func transportError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s %s: %w", ue.Op, redactedURL(ue.URL), ue.Err)
	}
	return err
}

func redactedURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}

// getJSON performs an authenticated GET and decodes a JSON body into out.
// Failures come back as kind with the provider's message as detail.
func getJSON(ctx context.Context, client *http.Client, endpoint, bearer string, kind *models.AuthError, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return kind.WithDetail("invalid request")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return doJSON(client, req, kind, out)
}

// postForm sends form as an urlencoded POST body.
func postForm(ctx context.Context, client *http.Client, endpoint string, form url.Values, kind *models.AuthError, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return kind.WithDetail("invalid request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return doJSON(client, req, kind, out)
}

func doJSON(client *http.Client, req *http.Request, kind *models.AuthError, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return kind.WithDetail("request failed").Wrap(transportError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return kind.WithDetail("failed to read response").Wrap(transportError(err))
	}

	if resp.StatusCode != http.StatusOK {
		detail := apiErrorMessage(body)
		if detail == "" {
			detail = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		}
		return kind.WithDetail(detail)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return kind.WithDetail("malformed response").Wrap(err)
	}
	return nil
}
