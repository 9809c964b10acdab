package services

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/BradenHooton/panda-auth/internal/models"
)

const (
	maxUsernameBaseRunes = 40
	maxUsernameAttempts  = 10000
	fallbackUsername     = "user"
)

// usernameBase derives the username stem for an OAuth-created account: the
// email local part, otherwise the display name without whitespace.
func usernameBase(email, displayName string) string {
	base, _, _ := strings.Cut(strings.TrimSpace(email), "@")
	if base == "" {
		base = strings.Join(strings.Fields(displayName), "")
	}

	base = strings.ToLower(base)
	if runes := []rune(base); len(runes) > maxUsernameBaseRunes {
		base = string(runes[:maxUsernameBaseRunes])
	}
	if base == "" {
		return fallbackUsername
	}
	return base
}

// usernameCandidate returns base for the first attempt and base1, base2, ... after.
func usernameCandidate(base string, attempt int) string {
	if attempt == 0 {
		return base
	}
	return base + strconv.Itoa(attempt)
}

func usernameTaken(ctx context.Context, users UserRepository, candidate string) (bool, error) {
	_, err := users.GetByUsername(ctx, candidate)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, models.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
