package oauth

import (
	"context"
	"net/http"

	"github.com/BradenHooton/panda-auth/internal/models"
	"golang.org/x/oauth2"
)

const (
	googleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL    = "https://oauth2.googleapis.com/token"
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

type GoogleClient struct {
	config      *oauth2.Config
	userInfoURL string
	http        *http.Client
}

// NewGoogleClient builds a Google client. APIURL, when set, replaces the
// userinfo endpoint.
func NewGoogleClient(cfg ClientConfig) *GoogleClient {
	return &GoogleClient{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   orDefault(cfg.AuthURL, googleAuthURL),
				TokenURL:  orDefault(cfg.TokenURL, googleTokenURL),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: orDefault(cfg.APIURL, googleUserInfoURL),
		http:        cfg.httpClient(),
	}
}

func (g *GoogleClient) Name() models.Provider {
	return models.ProviderGoogle
}

// AuthorizationURL asks for offline access with forced consent so Google
// returns a refresh token on every login.
func (g *GoogleClient) AuthorizationURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (g *GoogleClient) Exchange(ctx context.Context, code string) (*models.ProviderTokens, error) {
	return exchangeCode(ctx, g.config, g.http, code)
}

type googleUserInfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func (g *GoogleClient) FetchProfile(ctx context.Context, accessToken string) (*models.ProviderProfile, error) {
	var info googleUserInfo
	if err := getJSON(ctx, g.http, g.userInfoURL, accessToken, models.ErrOAuthProfileFetchFailed, &info); err != nil {
		return nil, err
	}
	if info.ID == "" {
		return nil, models.ErrOAuthProfileFetchFailed.WithDetail("profile has no id")
	}

	return &models.ProviderProfile{
		ID:         info.ID,
		Email:      info.Email,
		Name:       info.Name,
		PictureURL: info.Picture,
	}, nil
}
