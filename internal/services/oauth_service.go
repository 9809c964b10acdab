package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/panda-auth/internal/models"
	"github.com/BradenHooton/panda-auth/internal/oauth"
	pkglogger "github.com/BradenHooton/panda-auth/pkg/logger"
	"github.com/google/uuid"
)

// OAuthServiceConfig tunes provider calls
type OAuthServiceConfig struct {
	// UpgradeTokens trades short-lived provider tokens for long-lived ones
	// when the provider supports it.
	UpgradeTokens bool
	// CallTimeout bounds each individual provider request. No retries.
	CallTimeout time.Duration
}

// OAuthService drives the authorization code flow: Begin stores a state
// nonce and redirects to the provider, Callback validates the nonce and
// reconciles the returned identity.
type OAuthService struct {
	providers   oauth.Registry
	states      OAuthStateStore
	reconciler  *IdentityReconciler
	cfg         OAuthServiceConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

func NewOAuthService(providers oauth.Registry, states OAuthStateStore, reconciler *IdentityReconciler, cfg OAuthServiceConfig, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *OAuthService {
	return &OAuthService{
		providers:   providers,
		states:      states,
		reconciler:  reconciler,
		cfg:         cfg,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

type CallbackInput struct {
	Provider         string
	Code             string
	State            string
	Error            string
	ErrorDescription string
	Client           ClientInfo
}

type CallbackResult struct {
	*ReconcileResult
	// ClientState is the value the frontend passed to Begin, echoed back on redirect
	ClientState string
}

func (s *OAuthService) provider(name string) (oauth.Provider, error) {
	p, ok := s.providers.Get(name)
	if !ok {
		return nil, fmt.Errorf("oauth provider %q: %w", name, models.ErrNotFound)
	}
	return p, nil
}

// Begin returns the provider authorization URL for a fresh state nonce
func (s *OAuthService) Begin(ctx context.Context, providerName, clientState string) (string, error) {
	p, err := s.provider(providerName)
	if err != nil {
		return "", err
	}

	nonce := uuid.NewString()
	state := models.OAuthState{
		Provider:    p.Name(),
		ClientState: clientState,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.states.Save(ctx, nonce, state); err != nil {
		s.logger.Error("failed to store oauth state",
			slog.String("provider", string(p.Name())),
			slog.Any("error", err))
		return "", models.ErrInternal.Wrap(err)
	}

	return p.AuthorizationURL(nonce), nil
}

// Callback completes the flow for the provider redirect
func (s *OAuthService) Callback(ctx context.Context, in CallbackInput) (*CallbackResult, error) {
	p, err := s.provider(in.Provider)
	if err != nil {
		return nil, err
	}
	name := p.Name()

	result, clientState, err := s.complete(ctx, p, in)
	if err != nil {
		s.logger.Info("oauth login failed",
			slog.String("provider", string(name)),
			slog.String("kind", models.KindOf(err).String()),
			slog.String("detail", models.DetailOf(err)))
		s.auditLogger.LogOAuthLogin(string(name), false, pkglogger.AuditEvent{
			EventType:     "oauth_login_failed",
			IPAddress:     in.Client.IPAddress,
			UserAgent:     in.Client.UserAgent,
			FailureReason: models.KindOf(err).String(),
			Success:       false,
		})
		return nil, err
	}

	s.logger.Info("oauth login",
		slog.String("provider", string(name)),
		slog.String("user_id", result.User.ID),
		slog.Bool("new_user", result.IsNewUser))
	s.auditLogger.LogOAuthLogin(string(name), result.IsNewUser, pkglogger.AuditEvent{
		EventType: "oauth_login_success",
		UserID:    result.User.ID,
		IPAddress: in.Client.IPAddress,
		UserAgent: in.Client.UserAgent,
		Success:   true,
	})

	return &CallbackResult{ReconcileResult: result, ClientState: clientState}, nil
}

func (s *OAuthService) complete(ctx context.Context, p oauth.Provider, in CallbackInput) (*ReconcileResult, string, error) {
	if in.Error != "" {
		detail := in.Error
		if in.ErrorDescription != "" {
			detail += ": " + in.ErrorDescription
		}
		return nil, "", models.ErrOAuthProviderDenied.WithDetail(detail)
	}
	if strings.TrimSpace(in.Code) == "" {
		return nil, "", models.ErrOAuthCodeMissing
	}

	state, err := s.states.Consume(ctx, in.State)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, "", models.ErrOAuthStateMismatch
		}
		return nil, "", models.ErrInternal.Wrap(err)
	}
	if state.Provider != p.Name() {
		return nil, "", models.ErrOAuthStateMismatch.WithDetail("state issued for " + string(state.Provider))
	}

	tokens, err := s.exchange(ctx, p, in.Code)
	if err != nil {
		return nil, "", err
	}

	callCtx, cancel := s.callContext(ctx)
	profile, err := p.FetchProfile(callCtx, tokens.AccessToken)
	cancel()
	if err != nil {
		return nil, "", classify(err, models.ErrOAuthProfileFetchFailed)
	}

	result, err := s.reconciler.Reconcile(ctx, p.Name(), profile, tokens)
	if err != nil {
		return nil, "", err
	}
	return result, state.ClientState, nil
}

func (s *OAuthService) exchange(ctx context.Context, p oauth.Provider, code string) (*models.ProviderTokens, error) {
	callCtx, cancel := s.callContext(ctx)
	tokens, err := p.Exchange(callCtx, code)
	cancel()
	if err != nil {
		return nil, classify(err, models.ErrOAuthExchangeFailed)
	}

	upgrader, ok := p.(oauth.TokenUpgrader)
	if !s.cfg.UpgradeTokens || !ok {
		return tokens, nil
	}

	callCtx, cancel = s.callContext(ctx)
	defer cancel()
	upgraded, err := upgrader.UpgradeToken(callCtx, tokens.AccessToken)
	if err != nil {
		return nil, classify(err, models.ErrOAuthExchangeFailed)
	}
	if upgraded.RefreshToken == "" {
		upgraded.RefreshToken = tokens.RefreshToken
	}
	return upgraded, nil
}

func (s *OAuthService) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.CallTimeout)
}

// classify keeps provider errors that are already classified and files
// anything else (timeouts, transport failures) under fallback.
func classify(err error, fallback *models.AuthError) error {
	var ae *models.AuthError
	if errors.As(err, &ae) {
		return err
	}
	return fallback.Wrap(err)
}
