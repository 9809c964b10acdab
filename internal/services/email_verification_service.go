package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/panda-auth/internal/models"
	pkgauth "github.com/BradenHooton/panda-auth/pkg/auth"
	pkglogger "github.com/BradenHooton/panda-auth/pkg/logger"
)

const defaultResendCooldown = 20 * time.Minute

// EmailVerificationService handles email verification business logic
type EmailVerificationService struct {
	emailVerificationRepo EmailVerificationRepository
	userRepo              UserRepository
	emailService          EmailService
	logger                *slog.Logger
	tokenExpiry           time.Duration
	resendCooldown        time.Duration
	now                   func() time.Time
}

// NewEmailVerificationService creates a new EmailVerificationService
func NewEmailVerificationService(
	emailVerificationRepo EmailVerificationRepository,
	userRepo UserRepository,
	emailService EmailService,
	logger *slog.Logger,
	tokenExpiry time.Duration,
) *EmailVerificationService {
	return &EmailVerificationService{
		emailVerificationRepo: emailVerificationRepo,
		userRepo:              userRepo,
		emailService:          emailService,
		logger:                logger,
		tokenExpiry:           tokenExpiry,
		resendCooldown:        defaultResendCooldown,
		now:                   time.Now,
	}
}

// SendVerificationEmail generates a token and sends a verification email.
// Only the SHA-256 of the token is stored.
func (s *EmailVerificationService) SendVerificationEmail(ctx context.Context, userID, email string) error {
	plainToken, err := pkgauth.GenerateTokenKey()
	if err != nil {
		s.logger.Error("failed to generate random token", slog.Any("error", err))
		return fmt.Errorf("failed to generate token: %w", err)
	}

	expiresAt := s.now().Add(s.tokenExpiry)

	if _, err := s.emailVerificationRepo.Create(ctx, userID, pkgauth.HashToken(plainToken), email, expiresAt); err != nil {
		s.logger.Error("failed to create email verification token",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return fmt.Errorf("failed to create token: %w", err)
	}

	if err := s.emailService.SendVerificationEmail(ctx, email, plainToken, expiresAt); err != nil {
		s.logger.Error("failed to send verification email",
			slog.String("user_id", userID),
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("verification email sent", slog.String("user_id", userID))
	return nil
}

// VerifyEmail consumes a token and marks the owner's email as verified.
// Returns the verified user ID.
func (s *EmailVerificationService) VerifyEmail(ctx context.Context, plainToken string) (string, error) {
	if plainToken = strings.TrimSpace(plainToken); plainToken == "" {
		return "", models.ErrInvalidVerificationToken
	}

	token, err := s.emailVerificationRepo.GetByTokenHash(ctx, pkgauth.HashToken(plainToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("verification token not found")
			return "", models.ErrInvalidVerificationToken
		}
		s.logger.Error("failed to retrieve verification token", slog.Any("error", err))
		return "", models.ErrInternal.Wrap(err)
	}

	if token.IsUsed() {
		s.logger.Warn("attempt to reuse verification token", slog.String("token_id", token.ID))
		return "", models.ErrInvalidVerificationToken
	}
	if s.now().After(token.ExpiresAt) {
		s.logger.Info("verification token expired",
			slog.String("token_id", token.ID),
			slog.Time("expires_at", token.ExpiresAt))
		return "", models.ErrInvalidVerificationToken.WithDetail("token expired")
	}

	if err := s.emailVerificationRepo.MarkAsUsed(ctx, token.ID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// consumed concurrently
			return "", models.ErrInvalidVerificationToken
		}
		s.logger.Error("failed to mark token as used",
			slog.String("token_id", token.ID),
			slog.Any("error", err))
		return "", models.ErrInternal.Wrap(err)
	}

	if err := s.userRepo.MarkVerified(ctx, token.UserID); err != nil {
		s.logger.Error("failed to mark user verified",
			slog.String("user_id", token.UserID),
			slog.Any("error", err))
		return "", models.ErrInternal.Wrap(err)
	}

	s.logger.Info("email verified", slog.String("user_id", token.UserID))
	return token.UserID, nil
}

// ResendVerification issues a new verification email. It reports success
// for unknown or already verified addresses so callers cannot probe which
// emails are registered.
func (s *EmailVerificationService) ResendVerification(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to look up user for resend", slog.Any("error", err))
		}
		return nil
	}
	if user.IsVerified {
		return nil
	}

	latest, err := s.emailVerificationRepo.GetLatestByUserID(ctx, user.ID)
	switch {
	case err == nil:
		if since := s.now().Sub(latest.CreatedAt); since < s.resendCooldown {
			s.logger.Info("resend rate limited",
				slog.String("user_id", user.ID),
				slog.Duration("time_since_last_send", since))
			return nil
		}
	case !errors.Is(err, models.ErrNotFound):
		s.logger.Error("failed to check for existing tokens",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return nil
	}

	if err := s.emailVerificationRepo.DeleteByUserID(ctx, user.ID); err != nil {
		s.logger.Warn("failed to delete old tokens",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	}

	if err := s.SendVerificationEmail(ctx, user.ID, user.Email); err != nil {
		return err
	}
	return nil
}
