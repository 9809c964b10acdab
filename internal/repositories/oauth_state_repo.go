package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/panda-auth/internal/models"
	red "github.com/redis/go-redis/v9"
)

const defaultOAuthStatePrefix = "oauth_state"

// OAuthStateRepository keeps pending OAuth authorization states in Redis.
// A state can be consumed once; expired or replayed states read as not found.
type OAuthStateRepository struct {
	client *red.Client
	prefix string
	ttl    time.Duration
}

func NewOAuthStateRepository(client *red.Client, keyPrefix string, ttl time.Duration) *OAuthStateRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultOAuthStatePrefix
	}
	return &OAuthStateRepository{client: client, prefix: prefix, ttl: ttl}
}

func (r *OAuthStateRepository) Save(ctx context.Context, nonce string, state models.OAuthState) error {
	if strings.TrimSpace(nonce) == "" {
		return errors.New("nonce must not be empty")
	}
	if r.ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode oauth state: %w", err)
	}
	if err := r.client.Set(ctx, r.key(nonce), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set oauth state: %w", err)
	}
	return nil
}

// Consume atomically reads and deletes the state for nonce.
func (r *OAuthStateRepository) Consume(ctx context.Context, nonce string) (*models.OAuthState, error) {
	if strings.TrimSpace(nonce) == "" {
		return nil, models.ErrNotFound
	}

	raw, err := r.client.GetDel(ctx, r.key(nonce)).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("redis getdel oauth state: %w", err)
	}

	var state models.OAuthState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode oauth state: %w", err)
	}
	return &state, nil
}

func (r *OAuthStateRepository) key(nonce string) string {
	return fmt.Sprintf("%s:%s", r.prefix, strings.TrimSpace(nonce))
}
