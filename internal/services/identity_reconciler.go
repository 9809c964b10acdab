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

const maxDisplayNameRunes = 100

// ReconcileResult is the local identity an external login resolved to
type ReconcileResult struct {
	User      *models.User
	Tokens    *models.TokenPair
	IsNewUser bool
}

// IdentityReconciler maps a verified provider identity onto a local user.
// Lookup order is provider identity first, then email; a miss on both
// creates the account.
type IdentityReconciler struct {
	users  UserRepository
	tokens TokenIssuer
	logger *slog.Logger
	now    func() time.Time
}

func NewIdentityReconciler(users UserRepository, tokens TokenIssuer, logger *slog.Logger) *IdentityReconciler {
	return &IdentityReconciler{
		users:  users,
		tokens: tokens,
		logger: logger,
		now:    time.Now,
	}
}

func (r *IdentityReconciler) Reconcile(ctx context.Context, provider models.Provider, profile *models.ProviderProfile, tokens *models.ProviderTokens) (*ReconcileResult, error) {
	if profile == nil || profile.ID == "" {
		return nil, models.ErrOAuthProfileFetchFailed.WithDetail("provider returned no user id")
	}

	entry := models.AuthProvider{
		Provider:      provider,
		ProviderID:    profile.ID,
		ProviderEmail: strings.ToLower(strings.TrimSpace(profile.Email)),
	}
	if tokens != nil {
		entry.AccessToken = tokens.AccessToken
		entry.RefreshToken = tokens.RefreshToken
		entry.ExpiresAt = tokens.ExpiresAt
	}

	var (
		user  *models.User
		isNew bool
		err   error
	)
	// A concurrent login for the same identity can win the insert race; the
	// second pass then finds the row the other request created.
	for attempt := 0; attempt < 2; attempt++ {
		user, isNew, err = r.resolve(ctx, profile, entry)
		var conflict *models.ConflictError
		if err == nil || !errors.As(err, &conflict) || conflict.Field == "username" {
			break
		}
		r.logger.Info("identity reconcile raced, retrying",
			slog.String("provider", string(provider)),
			slog.String("conflict", conflict.Field))
	}
	if err != nil {
		var ae *models.AuthError
		if errors.As(err, &ae) {
			return nil, err
		}
		r.logger.Error("failed to reconcile provider identity",
			slog.String("provider", string(provider)),
			slog.Any("error", err))
		return nil, models.ErrInternal.Wrap(err)
	}

	pair, err := r.tokens.Issue(user.ID)
	if err != nil {
		r.logger.Error("failed to issue tokens", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternal.Wrap(err)
	}

	return &ReconcileResult{User: user, Tokens: pair, IsNewUser: isNew}, nil
}

func (r *IdentityReconciler) resolve(ctx context.Context, profile *models.ProviderProfile, entry models.AuthProvider) (*models.User, bool, error) {
	now := r.now().UTC()

	user, err := r.users.GetByAuthProvider(ctx, entry.Provider, entry.ProviderID)
	switch {
	case err == nil:
		if err := r.ensureActive(user, entry.Provider); err != nil {
			return nil, false, err
		}
		user.UpsertAuthProvider(entry, now)
		user.MarkSeen(now)
		saved, err := r.users.Save(ctx, user)
		if err != nil {
			return nil, false, fmt.Errorf("update provider link: %w", err)
		}
		return saved, false, nil
	case !errors.Is(err, models.ErrNotFound):
		return nil, false, fmt.Errorf("lookup by provider: %w", err)
	}

	if entry.ProviderEmail == "" {
		return nil, false, models.ErrEmailRequiredFromProvider
	}

	user, err = r.users.GetByEmail(ctx, entry.ProviderEmail)
	switch {
	case err == nil:
		// no link is attached to a disabled account
		if err := r.ensureActive(user, entry.Provider); err != nil {
			return nil, false, err
		}
		user.UpsertAuthProvider(entry, now)
		user.MarkSeen(now)
		saved, err := r.users.Save(ctx, user)
		if err != nil {
			return nil, false, fmt.Errorf("link provider: %w", err)
		}
		r.logger.Info("linked provider to existing account",
			slog.String("user_id", saved.ID),
			slog.String("provider", string(entry.Provider)))
		return saved, false, nil
	case !errors.Is(err, models.ErrNotFound):
		return nil, false, fmt.Errorf("lookup by email: %w", err)
	}

	created, err := r.createUser(ctx, profile, entry, now)
	if err != nil {
		return nil, false, err
	}
	r.logger.Info("created account from provider login",
		slog.String("user_id", created.ID),
		slog.String("provider", string(entry.Provider)),
		slog.String("email", pkglogger.SanitizedEmail(created.Email)))
	return created, true, nil
}

func (r *IdentityReconciler) ensureActive(user *models.User, provider models.Provider) error {
	if user.IsActive {
		return nil
	}
	r.logger.Info("provider login blocked: account disabled",
		slog.String("user_id", user.ID),
		slog.String("provider", string(provider)))
	return models.ErrAccountDisabled
}

func (r *IdentityReconciler) createUser(ctx context.Context, profile *models.ProviderProfile, entry models.AuthProvider, now time.Time) (*models.User, error) {
	hash, err := pkgauth.UnusablePasswordHash()
	if err != nil {
		return nil, fmt.Errorf("generate password placeholder: %w", err)
	}

	base := usernameBase(entry.ProviderEmail, profile.Name)
	user := &models.User{
		Email:        entry.ProviderEmail,
		DisplayName:  displayNameFor(profile.Name, entry.ProviderEmail),
		PasswordHash: hash,
		AvatarURL:    profile.PictureURL,
		IsActive:     true,
		IsVerified:   true,
	}
	user.MarkSeen(now)
	user.UpsertAuthProvider(entry, now)

	for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
		candidate := usernameCandidate(base, attempt)
		taken, err := usernameTaken(ctx, r.users, candidate)
		if err != nil {
			return nil, fmt.Errorf("check username: %w", err)
		}
		if taken {
			continue
		}

		user.Username = &candidate
		created, err := r.users.Create(ctx, user)
		if err == nil {
			return created, nil
		}
		var conflict *models.ConflictError
		if errors.As(err, &conflict) && conflict.Field == "username" {
			continue
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	r.logger.Error("username candidates exhausted", slog.String("base", base))
	return nil, models.ErrUsernameGenerationExhausted
}

func displayNameFor(name, email string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	if runes := []rune(name); len(runes) > maxDisplayNameRunes {
		name = string(runes[:maxDisplayNameRunes])
	}
	return name
}
