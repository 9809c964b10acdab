package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizedEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alice@example.com", "a****@*******.com"},
		{"a@example.com", "a@*******.com"},
		{"bob@mail.example.org", "b**@****.*******.org"},
		{"not-an-email", "[invalid-email]"},
		{"a@b@c", "[invalid-email]"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizedEmail(tt.in), tt.in)
	}
}

func TestSanitizeQueryString(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"", false},
		{"code=abc&state=xyz", true},
		{"state=xyz", true},
		{"error=access_denied&error_description=denied", false},
		{"Token=abc", true},
		{"codec=h264", false},
		{"page=2&refresh_token=abc", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeQueryString(tt.query), tt.query)
	}
}

func TestRedactedAttr(t *testing.T) {
	assert.Equal(t, "[REDACTED]", RedactedAttr("k", "v", "production").Value.String())
	assert.Equal(t, "v", RedactedAttr("k", "v", "development").Value.String())
}
