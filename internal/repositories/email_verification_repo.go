package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/panda-auth/internal/database"
	"github.com/BradenHooton/panda-auth/internal/models"
	"github.com/google/uuid"
)

// EmailVerificationRepository stores hashed single-use verification tokens.
type EmailVerificationRepository struct {
	db database.DBTX
}

func NewEmailVerificationRepository(db database.DBTX) *EmailVerificationRepository {
	return &EmailVerificationRepository{db: db}
}

func scanTokenRow(row rowScanner) (*models.EmailVerificationToken, error) {
	var token models.EmailVerificationToken
	err := row.Scan(
		&token.ID, &token.UserID, &token.TokenHash, &token.Email,
		&token.ExpiresAt, &token.UsedAt, &token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &token, nil
}

func (r *EmailVerificationRepository) Create(ctx context.Context, userID, tokenHash, email string, expiresAt time.Time) (*models.EmailVerificationToken, error) {
	query := `
		INSERT INTO email_verification_tokens (id, user_id, token_hash, email, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, token_hash, email, expires_at, used_at, created_at
	`

	token, err := scanTokenRow(r.db.QueryRow(ctx, query, uuid.New().String(), userID, tokenHash, email, expiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create email verification token: %w", err)
	}
	return token, nil
}

func (r *EmailVerificationRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.EmailVerificationToken, error) {
	query := `
		SELECT id, user_id, token_hash, email, expires_at, used_at, created_at
		FROM email_verification_tokens
		WHERE token_hash = $1
	`
	return scanTokenRow(r.db.QueryRow(ctx, query, tokenHash))
}

// GetLatestByUserID returns the most recently issued unused token for the user.
func (r *EmailVerificationRepository) GetLatestByUserID(ctx context.Context, userID string) (*models.EmailVerificationToken, error) {
	query := `
		SELECT id, user_id, token_hash, email, expires_at, used_at, created_at
		FROM email_verification_tokens
		WHERE user_id = $1 AND used_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanTokenRow(r.db.QueryRow(ctx, query, userID))
}

// MarkAsUsed consumes a token. A token that was already consumed reports
// ErrNotFound, so two concurrent verifications cannot both succeed.
func (r *EmailVerificationRepository) MarkAsUsed(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE email_verification_tokens SET used_at = NOW() WHERE id = $1 AND used_at IS NULL`,
		id)
	if err != nil {
		return fmt.Errorf("failed to mark token as used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteByUserID drops outstanding tokens, e.g. before issuing a new one.
func (r *EmailVerificationRepository) DeleteByUserID(ctx context.Context, userID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM email_verification_tokens WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete tokens for user: %w", err)
	}
	return nil
}

// CleanupExpired deletes tokens that expired more than retention ago.
func (r *EmailVerificationRepository) CleanupExpired(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM email_verification_tokens WHERE expires_at < $1`,
		time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
