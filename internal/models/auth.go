package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

type TokenClaims struct {
	Type   TokenType `json:"type"`
	UserID string    `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenPair is what every successful authentication returns.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// ProviderTokens are the credentials an OAuth provider returned.
type ProviderTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// ProviderProfile is the normalized identity an OAuth provider asserts.
type ProviderProfile struct {
	ID         string
	Email      string
	Name       string
	PictureURL string
}
