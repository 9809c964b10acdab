package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/panda-auth/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var errUnknownTokenType = errors.New("unknown token type")

// TokenManager issues and verifies access/refresh JWTs. Each token type is
// signed with its own secret; the secret used for verification is chosen from
// the type claim inside the signed payload, so a forged type never verifies.
type TokenManager struct {
	accessSecret       []byte
	refreshSecret      []byte
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	now                func() time.Time
}

func NewTokenManager(accessSecret, refreshSecret string, accessExpiry, refreshExpiry time.Duration) *TokenManager {
	return &TokenManager{
		accessSecret:       []byte(accessSecret),
		refreshSecret:      []byte(refreshSecret),
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
		now:                time.Now,
	}
}

func (tm *TokenManager) AccessExpiry() time.Duration  { return tm.accessTokenExpiry }
func (tm *TokenManager) RefreshExpiry() time.Duration { return tm.refreshTokenExpiry }

// Issue mints a fresh access/refresh pair for userID.
func (tm *TokenManager) Issue(userID string) (*models.TokenPair, error) {
	now := tm.now()

	access, accessExp, err := tm.sign(userID, models.TokenTypeAccess, now)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := tm.sign(userID, models.TokenTypeRefresh, now)
	if err != nil {
		return nil, err
	}

	return &models.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (tm *TokenManager) sign(userID string, typ models.TokenType, now time.Time) (string, time.Time, error) {
	secret, ttl, err := tm.paramsFor(typ)
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := now.Add(ttl)

	claims := &models.TokenClaims{
		Type:   typ,
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", typ, err)
	}
	return signed, expiresAt, nil
}

func (tm *TokenManager) paramsFor(typ models.TokenType) ([]byte, time.Duration, error) {
	switch typ {
	case models.TokenTypeAccess:
		return tm.accessSecret, tm.accessTokenExpiry, nil
	case models.TokenTypeRefresh:
		return tm.refreshSecret, tm.refreshTokenExpiry, nil
	default:
		return nil, 0, errUnknownTokenType
	}
}

// Verify checks signature and expiry and that the token carries the expected
// type. Any parse or signature failure is ErrInvalidToken; a well-formed token
// of the other type is ErrWrongTokenType.
func (tm *TokenManager) Verify(tokenString string, expected models.TokenType) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			c, ok := token.Claims.(*models.TokenClaims)
			if !ok {
				return nil, errUnknownTokenType
			}
			secret, _, err := tm.paramsFor(c.Type)
			if err != nil {
				return nil, err
			}
			return secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		return nil, models.ErrInvalidToken.Wrap(err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, models.ErrInvalidToken
	}

	if claims.Type != expected {
		return nil, models.ErrWrongTokenType
	}

	return claims, nil
}
