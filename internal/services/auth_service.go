package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/panda-auth/internal/auth"
	"github.com/BradenHooton/panda-auth/internal/models"
	pkgauth "github.com/BradenHooton/panda-auth/pkg/auth"
	pkglogger "github.com/BradenHooton/panda-auth/pkg/logger"
)

// VerificationSender starts the email verification flow for a new account
type VerificationSender interface {
	SendVerificationEmail(ctx context.Context, userID, email string) error
}

// AuthService handles authentication business logic
type AuthService struct {
	repo        UserRepository
	tokens      TokenService
	verifier    VerificationSender
	timing      *auth.TimingDelay
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewAuthService creates a new AuthService. verifier and timing may be nil.
func NewAuthService(repo UserRepository, tokens TokenService, verifier VerificationSender, timing *auth.TimingDelay, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AuthService {
	return &AuthService{
		repo:        repo,
		tokens:      tokens,
		verifier:    verifier,
		timing:      timing,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// ClientInfo identifies the caller for audit records
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
	Username    string
	PhoneNumber string
	Bio         string
	Device      *models.Device
	Client      ClientInfo
}

type LoginInput struct {
	Email    string
	Password string
	Device   *models.Device
	Client   ClientInfo
}

// AuthResponse represents the response from auth operations
type AuthResponse struct {
	User         *models.PublicUser `json:"user"`
	AccessToken  string             `json:"access_token"`
	RefreshToken string             `json:"refresh_token"`
	Tokens       *models.TokenPair  `json:"-"`
}

func newAuthResponse(user *models.User, pair *models.TokenPair) *AuthResponse {
	return &AuthResponse{
		User:         user.Public(),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Tokens:       pair,
	}
}

// Register creates a password account and signs it in
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	// usernames are case-insensitive, matching the generated ones
	username := strings.ToLower(strings.TrimSpace(in.Username))

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		s.logger.Info("registration rejected: email in use", slog.String("email", pkglogger.SanitizedEmail(email)))
		return nil, models.ErrUserExists
	} else if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check email", slog.Any("error", err))
		return nil, models.ErrInternal.Wrap(err)
	}

	if username != "" {
		if _, err := s.repo.GetByUsername(ctx, username); err == nil {
			return nil, models.ErrUsernameTaken
		} else if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to check username", slog.Any("error", err))
			return nil, models.ErrInternal.Wrap(err)
		}
	}

	hash, err := pkgauth.HashPassword(in.Password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternal.Wrap(err)
	}

	now := s.now().UTC()
	user := &models.User{
		Email:         email,
		DisplayName:   strings.TrimSpace(in.DisplayName),
		PasswordHash:  hash,
		PhoneNumber:   strings.TrimSpace(in.PhoneNumber),
		Bio:           in.Bio,
		IsActive:      true,
		IsVerified:    false,
		Status:        models.StatusOnline,
		AuthProviders: []models.AuthProvider{},
		Devices:       []models.Device{},
	}
	if username != "" {
		user.Username = &username
	}
	if in.Device != nil && in.Device.DeviceToken != "" {
		user.AddDevice(*in.Device, now)
	}

	created, err := s.repo.Create(ctx, user)
	if err != nil {
		var conflict *models.ConflictError
		if errors.As(err, &conflict) {
			// lost a race with a concurrent registration
			if conflict.Field == "username" {
				return nil, models.ErrUsernameTaken
			}
			return nil, models.ErrUserExists
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternal.Wrap(err)
	}

	if err := s.repo.TouchLastSeen(ctx, created.ID, now); err != nil {
		s.logger.Error("failed to update last seen", slog.String("user_id", created.ID), slog.Any("error", err))
		return nil, models.ErrInternal.Wrap(err)
	}
	created.MarkSeen(now)

	pair, err := s.tokens.Issue(created.ID)
	if err != nil {
		s.logger.Error("failed to issue tokens", slog.String("user_id", created.ID), slog.Any("error", err))
		return nil, models.ErrInternal.Wrap(err)
	}

	if s.verifier != nil {
		if err := s.verifier.SendVerificationEmail(ctx, created.ID, created.Email); err != nil {
			s.logger.Warn("verification email not sent",
				slog.String("user_id", created.ID),
				slog.Any("error", err))
		}
	}

	s.logger.Info("user registered", slog.String("user_id", created.ID))
	s.auditLogger.LogAccountAction("user_registered", created.ID, in.Client.IPAddress, nil)

	created.PasswordHash = ""
	return newAuthResponse(created, pair), nil
}

// Login authenticates email and password. Unknown email and wrong password
// are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (resp *AuthResponse, err error) {
	start := time.Now()
	defer func() {
		s.timing.WaitFrom(start, err == nil)
	}()

	email := strings.ToLower(strings.TrimSpace(in.Email))
	user, err := s.repo.GetByEmailWithPassword(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("login failed: invalid credentials")
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "login_failed",
				IPAddress:     in.Client.IPAddress,
				UserAgent:     in.Client.UserAgent,
				FailureReason: "invalid_credentials",
				Success:       false,
			})
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternal.Wrap(err)
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, in.Password); err != nil {
		s.logger.Info("login failed: invalid credentials")
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			IPAddress:     in.Client.IPAddress,
			UserAgent:     in.Client.UserAgent,
			FailureReason: "invalid_credentials",
			Success:       false,
		})
		return nil, models.ErrInvalidCredentials
	}

	if !user.IsActive {
		s.logger.Info("login blocked: account disabled", slog.String("user_id", user.ID))
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			IPAddress:     in.Client.IPAddress,
			UserAgent:     in.Client.UserAgent,
			FailureReason: "account_disabled",
			Success:       false,
		})
		return nil, models.ErrAccountDisabled
	}

	now := s.now().UTC()
	if in.Device != nil && in.Device.DeviceToken != "" {
		if err := s.repo.UpsertDevice(ctx, user.ID, *in.Device); err != nil {
			s.logger.Error("failed to register device", slog.String("user_id", user.ID), slog.Any("error", err))
			return nil, models.ErrInternal.Wrap(err)
		}
		user.AddDevice(*in.Device, now)
	}

	if err := s.repo.TouchLastSeen(ctx, user.ID, now); err != nil {
		s.logger.Error("failed to update last seen", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternal.Wrap(err)
	}
	user.MarkSeen(now)

	pair, err := s.tokens.Issue(user.ID)
	if err != nil {
		s.logger.Error("failed to issue tokens", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternal.Wrap(err)
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		IPAddress: in.Client.IPAddress,
		UserAgent: in.Client.UserAgent,
		Success:   true,
	})

	user.PasswordHash = ""
	return newAuthResponse(user, pair), nil
}

// Refresh rotates both tokens for a valid refresh token
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	if refreshToken = strings.TrimSpace(refreshToken); refreshToken == "" {
		return nil, models.ErrInvalidToken
	}

	claims, err := s.tokens.Verify(refreshToken, models.TokenTypeRefresh)
	if err != nil {
		s.logger.Info("refresh token rejected", slog.Any("error", err))
		return nil, err
	}

	user, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("user not found for token refresh", slog.String("user_id", claims.UserID))
			return nil, models.ErrInvalidRefreshToken
		}
		s.logger.Error("failed to get user for token refresh", slog.String("user_id", claims.UserID), slog.Any("error", err))
		return nil, models.ErrInternal.Wrap(err)
	}

	if !user.IsActive {
		s.logger.Info("token refresh blocked: account disabled", slog.String("user_id", user.ID))
		return nil, models.ErrInvalidRefreshToken
	}

	pair, err := s.tokens.Issue(user.ID)
	if err != nil {
		s.logger.Error("failed to issue tokens", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternal.Wrap(err)
	}

	s.logger.Info("tokens refreshed", slog.String("user_id", user.ID))
	return newAuthResponse(user, pair), nil
}

// Logout forgets the given device. It never fails: tokens are stateless and
// expire on their own.
func (s *AuthService) Logout(ctx context.Context, userID, deviceToken string) {
	if deviceToken = strings.TrimSpace(deviceToken); deviceToken != "" {
		removed, err := s.repo.RemoveDevice(ctx, userID, deviceToken)
		if err != nil {
			s.logger.Warn("failed to remove device on logout",
				slog.String("user_id", userID),
				slog.Any("error", err))
		} else if removed {
			s.logger.Info("device removed", slog.String("user_id", userID))
		}
	}

	s.auditLogger.LogAccountAction("logout", userID, "", nil)
}

// Me returns the public view of the user behind an access token
func (s *AuthService) Me(ctx context.Context, userID string) (*models.PublicUser, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidToken
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternal.Wrap(err)
	}
	return user.Public(), nil
}
