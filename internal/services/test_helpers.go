package services

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/panda-auth/internal/auth"
	"github.com/BradenHooton/panda-auth/internal/models"
	pkglogger "github.com/BradenHooton/panda-auth/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/google/uuid"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc                func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc             func(ctx context.Context, email string) (*models.User, error)
	GetByUsernameFunc          func(ctx context.Context, username string) (*models.User, error)
	GetByEmailWithPasswordFunc func(ctx context.Context, email string) (*models.User, error)
	GetByAuthProviderFunc      func(ctx context.Context, provider models.Provider, providerID string) (*models.User, error)
	CreateFunc                 func(ctx context.Context, user *models.User) (*models.User, error)
	SaveFunc                   func(ctx context.Context, user *models.User) (*models.User, error)
	UpsertDeviceFunc           func(ctx context.Context, userID string, device models.Device) error
	RemoveDeviceFunc           func(ctx context.Context, userID, deviceToken string) (bool, error)
	TouchLastSeenFunc          func(ctx context.Context, userID string, at time.Time) error
	MarkVerifiedFunc           func(ctx context.Context, userID string) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	if m.GetByUsernameFunc != nil {
		return m.GetByUsernameFunc(ctx, username)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmailWithPassword(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailWithPasswordFunc != nil {
		return m.GetByEmailWithPasswordFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByAuthProvider(ctx context.Context, provider models.Provider, providerID string) (*models.User, error) {
	if m.GetByAuthProviderFunc != nil {
		return m.GetByAuthProviderFunc(ctx, provider, providerID)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternal
}

func (m *MockUserRepository) Save(ctx context.Context, user *models.User) (*models.User, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, user)
	}
	return user, nil
}

func (m *MockUserRepository) UpsertDevice(ctx context.Context, userID string, device models.Device) error {
	if m.UpsertDeviceFunc != nil {
		return m.UpsertDeviceFunc(ctx, userID, device)
	}
	return nil
}

func (m *MockUserRepository) RemoveDevice(ctx context.Context, userID, deviceToken string) (bool, error) {
	if m.RemoveDeviceFunc != nil {
		return m.RemoveDeviceFunc(ctx, userID, deviceToken)
	}
	return false, nil
}

func (m *MockUserRepository) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	if m.TouchLastSeenFunc != nil {
		return m.TouchLastSeenFunc(ctx, userID, at)
	}
	return nil
}

func (m *MockUserRepository) MarkVerified(ctx context.Context, userID string) error {
	if m.MarkVerifiedFunc != nil {
		return m.MarkVerifiedFunc(ctx, userID)
	}
	return nil
}

// memoryUsers backs a MockUserRepository with maps that follow the store's
// uniqueness rules: lowercase email, sparse username, one owner per provider
// identity and one device entry per token.
type memoryUsers struct {
	mu    sync.Mutex
	byID  map[string]*models.User
	clock func() time.Time
}

func newMemoryUserRepository(clock func() time.Time) (*MockUserRepository, *memoryUsers) {
	store := &memoryUsers{byID: make(map[string]*models.User), clock: clock}
	repo := &MockUserRepository{
		GetByIDFunc: func(_ context.Context, id string) (*models.User, error) {
			return store.find(func(u *models.User) bool { return u.ID == id })
		},
		GetByEmailFunc: func(_ context.Context, email string) (*models.User, error) {
			return store.find(func(u *models.User) bool { return u.Email == strings.ToLower(email) })
		},
		GetByEmailWithPasswordFunc: func(_ context.Context, email string) (*models.User, error) {
			return store.find(func(u *models.User) bool { return u.Email == strings.ToLower(email) })
		},
		GetByUsernameFunc: func(_ context.Context, username string) (*models.User, error) {
			return store.find(func(u *models.User) bool { return u.Username != nil && *u.Username == username })
		},
		GetByAuthProviderFunc: func(_ context.Context, provider models.Provider, providerID string) (*models.User, error) {
			return store.find(func(u *models.User) bool { return u.FindAuthProvider(provider, providerID) != nil })
		},
		CreateFunc:        store.create,
		SaveFunc:          store.save,
		UpsertDeviceFunc:  store.upsertDevice,
		RemoveDeviceFunc:  store.removeDevice,
		TouchLastSeenFunc: store.touch,
		MarkVerifiedFunc: func(_ context.Context, userID string) error {
			store.mu.Lock()
			defer store.mu.Unlock()
			u, ok := store.byID[userID]
			if !ok {
				return models.ErrNotFound
			}
			u.IsVerified = true
			return nil
		},
	}
	return repo, store
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.AuthProviders = append([]models.AuthProvider{}, u.AuthProviders...)
	c.Devices = append([]models.Device{}, u.Devices...)
	if u.Username != nil {
		name := *u.Username
		c.Username = &name
	}
	return &c
}

func (s *memoryUsers) find(match func(*models.User) bool) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		if match(u) {
			return cloneUser(u), nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *memoryUsers) conflict(user *models.User) error {
	for _, other := range s.byID {
		if other.ID == user.ID {
			continue
		}
		if other.Email == user.Email {
			return &models.ConflictError{Field: "email"}
		}
		if user.Username != nil && other.Username != nil && *other.Username == *user.Username {
			return &models.ConflictError{Field: "username"}
		}
		for _, p := range user.AuthProviders {
			if other.FindAuthProvider(p.Provider, p.ProviderID) != nil {
				return &models.ConflictError{Field: "auth_provider"}
			}
		}
	}
	return nil
}

func (s *memoryUsers) create(_ context.Context, user *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cloneUser(user)
	c.ID = uuid.NewString()
	c.Email = strings.ToLower(c.Email)
	if err := s.conflict(c); err != nil {
		return nil, err
	}
	now := s.clock()
	c.CreatedAt, c.UpdatedAt = now, now
	s.byID[c.ID] = c
	return cloneUser(c), nil
}

func (s *memoryUsers) save(_ context.Context, user *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[user.ID]; !ok {
		return nil, models.ErrNotFound
	}
	if err := s.conflict(user); err != nil {
		return nil, err
	}
	c := cloneUser(user)
	c.UpdatedAt = s.clock()
	s.byID[c.ID] = c
	return cloneUser(c), nil
}

func (s *memoryUsers) upsertDevice(_ context.Context, userID string, device models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return models.ErrNotFound
	}
	u.AddDevice(device, s.clock())
	return nil
}

func (s *memoryUsers) removeDevice(_ context.Context, userID, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return false, nil
	}
	return u.RemoveDevice(token), nil
}

func (s *memoryUsers) touch(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return models.ErrNotFound
	}
	u.MarkSeen(at)
	return nil
}

func (s *memoryUsers) get(id string) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.byID[id]; ok {
		return cloneUser(u)
	}
	return nil
}

func (s *memoryUsers) put(u *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[u.ID] = cloneUser(u)
}

// MockEmailVerificationRepository implements EmailVerificationRepository for testing
type MockEmailVerificationRepository struct {
	CreateFunc            func(ctx context.Context, userID, tokenHash, email string, expiresAt time.Time) (*models.EmailVerificationToken, error)
	GetByTokenHashFunc    func(ctx context.Context, tokenHash string) (*models.EmailVerificationToken, error)
	GetLatestByUserIDFunc func(ctx context.Context, userID string) (*models.EmailVerificationToken, error)
	MarkAsUsedFunc        func(ctx context.Context, id string) error
	DeleteByUserIDFunc    func(ctx context.Context, userID string) error
}

func (m *MockEmailVerificationRepository) Create(ctx context.Context, userID, tokenHash, email string, expiresAt time.Time) (*models.EmailVerificationToken, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, userID, tokenHash, email, expiresAt)
	}
	return &models.EmailVerificationToken{ID: "token-id", UserID: userID, TokenHash: tokenHash, Email: email, ExpiresAt: expiresAt}, nil
}

func (m *MockEmailVerificationRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.EmailVerificationToken, error) {
	if m.GetByTokenHashFunc != nil {
		return m.GetByTokenHashFunc(ctx, tokenHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockEmailVerificationRepository) GetLatestByUserID(ctx context.Context, userID string) (*models.EmailVerificationToken, error) {
	if m.GetLatestByUserIDFunc != nil {
		return m.GetLatestByUserIDFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockEmailVerificationRepository) MarkAsUsed(ctx context.Context, id string) error {
	if m.MarkAsUsedFunc != nil {
		return m.MarkAsUsedFunc(ctx, id)
	}
	return nil
}

func (m *MockEmailVerificationRepository) DeleteByUserID(ctx context.Context, userID string) error {
	if m.DeleteByUserIDFunc != nil {
		return m.DeleteByUserIDFunc(ctx, userID)
	}
	return nil
}

// MockEmailService implements EmailService for testing
type MockEmailService struct {
	SendVerificationEmailFunc func(ctx context.Context, email, token string, expiresAt time.Time) error
	Sent                      []string
}

func (m *MockEmailService) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.Sent = append(m.Sent, token)
	if m.SendVerificationEmailFunc != nil {
		return m.SendVerificationEmailFunc(ctx, email, token, expiresAt)
	}
	return nil
}

// MockVerificationSender implements VerificationSender for testing
type MockVerificationSender struct {
	SendVerificationEmailFunc func(ctx context.Context, userID, email string) error
	Calls                     int
}

func (m *MockVerificationSender) SendVerificationEmail(ctx context.Context, userID, email string) error {
	m.Calls++
	if m.SendVerificationEmailFunc != nil {
		return m.SendVerificationEmailFunc(ctx, userID, email)
	}
	return nil
}

// MockOAuthStateStore implements OAuthStateStore with single-use semantics
type MockOAuthStateStore struct {
	mu      sync.Mutex
	states  map[string]models.OAuthState
	SaveErr error
}

func NewMockOAuthStateStore() *MockOAuthStateStore {
	return &MockOAuthStateStore{states: make(map[string]models.OAuthState)}
}

func (m *MockOAuthStateStore) Save(_ context.Context, nonce string, state models.OAuthState) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[nonce] = state
	return nil
}

func (m *MockOAuthStateStore) Consume(_ context.Context, nonce string) (*models.OAuthState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[nonce]
	if !ok {
		return nil, models.ErrNotFound
	}
	delete(m.states, nonce)
	return &state, nil
}

// MockProvider implements oauth.Provider for testing
type MockProvider struct {
	ProviderName     models.Provider
	ExchangeFunc     func(ctx context.Context, code string) (*models.ProviderTokens, error)
	FetchProfileFunc func(ctx context.Context, accessToken string) (*models.ProviderProfile, error)
}

func (m *MockProvider) Name() models.Provider {
	return m.ProviderName
}

func (m *MockProvider) AuthorizationURL(state string) string {
	return "https://provider.test/authorize?state=" + state
}

func (m *MockProvider) Exchange(ctx context.Context, code string) (*models.ProviderTokens, error) {
	if m.ExchangeFunc != nil {
		return m.ExchangeFunc(ctx, code)
	}
	return &models.ProviderTokens{AccessToken: "provider-access-" + code}, nil
}

func (m *MockProvider) FetchProfile(ctx context.Context, accessToken string) (*models.ProviderProfile, error) {
	if m.FetchProfileFunc != nil {
		return m.FetchProfileFunc(ctx, accessToken)
	}
	return nil, models.ErrOAuthProfileFetchFailed
}

// MockUpgradingProvider adds the long-lived token exchange
type MockUpgradingProvider struct {
	MockProvider
	UpgradeTokenFunc func(ctx context.Context, shortLived string) (*models.ProviderTokens, error)
}

func (m *MockUpgradingProvider) UpgradeToken(ctx context.Context, shortLived string) (*models.ProviderTokens, error) {
	if m.UpgradeTokenFunc != nil {
		return m.UpgradeTokenFunc(ctx, shortLived)
	}
	return &models.ProviderTokens{AccessToken: "long-" + shortLived}, nil
}

// mockSES records SendEmail calls
type mockSES struct {
	inputs []*ses.SendEmailInput
	err    error
}

func (m *mockSES) SendEmail(_ context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func newTestTokenManager() *auth.TokenManager {
	return auth.NewTokenManager(
		"test-access-secret-with-enough-entropy-0123",
		"test-refresh-secret-with-enough-entropy-4567",
		15*time.Minute,
		168*time.Hour,
	)
}

func newTestAuditLogger() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(slog.Default())
}

// steppingClock returns a clock that advances by step on every call
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}
