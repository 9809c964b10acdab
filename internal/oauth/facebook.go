package oauth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BradenHooton/panda-auth/internal/models"
	"golang.org/x/oauth2"
)

const (
	facebookAuthURL  = "https://www.facebook.com/v18.0/dialog/oauth"
	facebookGraphURL = "https://graph.facebook.com/v18.0"

	facebookProfileFields = "id,email,name,picture.type(large),first_name,last_name"
)

type FacebookClient struct {
	config   *oauth2.Config
	graphURL string
	http     *http.Client
}

// NewFacebookClient builds a Graph API client. APIURL, when set, replaces
// the Graph base URL; the token endpoint defaults to <graph>/oauth/access_token.
func NewFacebookClient(cfg ClientConfig) *FacebookClient {
	graph := strings.TrimRight(orDefault(cfg.APIURL, facebookGraphURL), "/")
	return &FacebookClient{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{"email", "public_profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   orDefault(cfg.AuthURL, facebookAuthURL),
				TokenURL:  orDefault(cfg.TokenURL, graph+"/oauth/access_token"),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		graphURL: graph,
		http:     cfg.httpClient(),
	}
}

func (f *FacebookClient) Name() models.Provider {
	return models.ProviderFacebook
}

func (f *FacebookClient) AuthorizationURL(state string) string {
	return f.config.AuthCodeURL(state)
}

func (f *FacebookClient) Exchange(ctx context.Context, code string) (*models.ProviderTokens, error) {
	return exchangeCode(ctx, f.config, f.http, code)
}

type facebookToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// UpgradeToken exchanges a short-lived user token for a ~60 day one.
func (f *FacebookClient) UpgradeToken(ctx context.Context, shortLived string) (*models.ProviderTokens, error) {
	form := url.Values{}
	form.Set("grant_type", "fb_exchange_token")
	form.Set("client_id", f.config.ClientID)
	form.Set("client_secret", f.config.ClientSecret)
	form.Set("fb_exchange_token", shortLived)

	var tok facebookToken
	if err := postForm(ctx, f.http, f.config.Endpoint.TokenURL, form, models.ErrOAuthExchangeFailed, &tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, models.ErrOAuthExchangeFailed.WithDetail("provider returned no access token")
	}

	out := &models.ProviderTokens{AccessToken: tok.AccessToken}
	if tok.ExpiresIn > 0 {
		exp := time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
		out.ExpiresAt = &exp
	}
	return out, nil
}

type facebookProfile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Picture   struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

func (f *FacebookClient) FetchProfile(ctx context.Context, accessToken string) (*models.ProviderProfile, error) {
	q := url.Values{}
	q.Set("fields", facebookProfileFields)

	var p facebookProfile
	if err := getJSON(ctx, f.http, f.graphURL+"/me?"+q.Encode(), accessToken, models.ErrOAuthProfileFetchFailed, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, models.ErrOAuthProfileFetchFailed.WithDetail("profile has no id")
	}

	name := p.Name
	if name == "" {
		name = strings.TrimSpace(p.FirstName + " " + p.LastName)
	}

	return &models.ProviderProfile{
		ID:         p.ID,
		Email:      p.Email, // absent when the user declined the email permission
		Name:       name,
		PictureURL: p.Picture.Data.URL,
	}, nil
}
