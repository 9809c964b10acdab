package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureAudit(t *testing.T, log func(*AuditLogger)) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	log(NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil))))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogAuthAttempt(t *testing.T) {
	entry := captureAudit(t, func(al *AuditLogger) {
		al.LogAuthAttempt(AuditEvent{
			EventType:     "login_failed",
			IPAddress:     "203.0.113.1",
			FailureReason: "invalid_credentials",
		})
	})

	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "auth", entry["audit_type"])
	assert.Equal(t, "login_failed", entry["event_type"])
	assert.Equal(t, "invalid_credentials", entry["failure_reason"])
	assert.NotContains(t, entry, "user_id")
}

func TestLogOAuthLogin(t *testing.T) {
	entry := captureAudit(t, func(al *AuditLogger) {
		al.LogOAuthLogin("google", true, AuditEvent{
			EventType: "oauth_login_success",
			UserID:    "user-1",
			Success:   true,
		})
	})

	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "oauth", entry["audit_type"])
	assert.Equal(t, "google", entry["provider"])
	assert.Equal(t, true, entry["new_user"])
	assert.Equal(t, "user-1", entry["user_id"])
}

func TestLogOAuthLogin_FailureOmitsNewUser(t *testing.T) {
	entry := captureAudit(t, func(al *AuditLogger) {
		al.LogOAuthLogin("facebook", false, AuditEvent{
			EventType:     "oauth_login_failed",
			FailureReason: "oauth state is invalid or expired",
		})
	})

	assert.Equal(t, "WARN", entry["level"])
	assert.NotContains(t, entry, "new_user")
}

func TestLogAccountAction(t *testing.T) {
	entry := captureAudit(t, func(al *AuditLogger) {
		al.LogAccountAction("user_registered", "user-1", "203.0.113.1", map[string]string{"method": "password"})
	})

	assert.Equal(t, "account", entry["audit_type"])
	assert.Equal(t, "user_registered", entry["event_type"])
	assert.Equal(t, "password", entry["method"])
}
