package services

import (
	"context"
	"time"

	"github.com/BradenHooton/panda-auth/internal/models"
)

// UserRepository defines the store operations the auth core depends on
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmailWithPassword(ctx context.Context, email string) (*models.User, error)
	GetByAuthProvider(ctx context.Context, provider models.Provider, providerID string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	Save(ctx context.Context, user *models.User) (*models.User, error)
	UpsertDevice(ctx context.Context, userID string, device models.Device) error
	RemoveDevice(ctx context.Context, userID, deviceToken string) (bool, error)
	TouchLastSeen(ctx context.Context, userID string, at time.Time) error
	MarkVerified(ctx context.Context, userID string) error
}

// TokenIssuer mints access/refresh pairs
type TokenIssuer interface {
	Issue(userID string) (*models.TokenPair, error)
}

// TokenService issues and verifies tokens
type TokenService interface {
	TokenIssuer
	Verify(token string, expected models.TokenType) (*models.TokenClaims, error)
}

// OAuthStateStore keeps pending authorization requests between begin and callback
type OAuthStateStore interface {
	Save(ctx context.Context, nonce string, state models.OAuthState) error
	Consume(ctx context.Context, nonce string) (*models.OAuthState, error)
}

// EmailVerificationRepository defines the interface for email verification token operations
type EmailVerificationRepository interface {
	Create(ctx context.Context, userID, tokenHash, email string, expiresAt time.Time) (*models.EmailVerificationToken, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.EmailVerificationToken, error)
	GetLatestByUserID(ctx context.Context, userID string) (*models.EmailVerificationToken, error)
	MarkAsUsed(ctx context.Context, id string) error
	DeleteByUserID(ctx context.Context, userID string) error
}
