package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func validTestConfig() *Config {
	cfg := &Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = "zK8fP2mQ9xL4vR7nW1jT6bH3cY5dS0aG"
	cfg.Auth.Username = "admin"
	cfg.Auth.Password = "hunter2-but-long"
	cfg.Auth.BcryptCost = bcrypt.MinCost
	cfg.API.Port = 8081
	cfg.Evaluation.Concurrency = 4
	cfg.Notifications.MinSeverity = "WARNING"
	return cfg
}

func TestValidateAndHashHappyPath(t *testing.T) {
	cfg := validTestConfig()
	require.NoError(t, validateAndHash(cfg))

	assert.Empty(t, cfg.Auth.Password, "plain password must be cleared after hashing")
	assert.NotEmpty(t, cfg.Auth.HashedPassword)
	assert.True(t, cfg.VerifyAdminPassword("admin", "hunter2-but-long"))
	assert.False(t, cfg.VerifyAdminPassword("admin", "wrong"))
	assert.False(t, cfg.VerifyAdminPassword("root", "hunter2-but-long"))
}

func TestValidateAndHashRejectsShortJWTSecret(t *testing.T) {
	cfg := validTestConfig()
	cfg.Auth.JWTSecret = "too-short"
	err := validateAndHash(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 characters")
}

func TestValidateAndHashRejectsWeakJWTSecret(t *testing.T) {
	cfg := validTestConfig()
	cfg.Auth.JWTSecret = "this-is-my-supersecret-jwt-signing-key-0001"
	err := validateAndHash(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weak/default")
}

func TestValidateAndHashSkipsJWTChecksWhenAuthDisabled(t *testing.T) {
	cfg := validTestConfig()
	cfg.Auth.Enabled = false
	cfg.Auth.JWTSecret = ""
	cfg.Auth.Password = ""
	assert.NoError(t, validateAndHash(cfg))
}

func TestValidateAndHashRequiresPasswordWhenAuthEnabled(t *testing.T) {
	cfg := validTestConfig()
	cfg.Auth.Password = ""
	cfg.Auth.HashedPassword = ""
	err := validateAndHash(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no admin password")
}

func TestValidateAndHashRejectsBadPort(t *testing.T) {
	cfg := validTestConfig()
	cfg.API.Port = 0
	assert.Error(t, validateAndHash(cfg))

	cfg = validTestConfig()
	cfg.API.Port = 70000
	assert.Error(t, validateAndHash(cfg))
}

func TestValidateAndHashRejectsBadConcurrency(t *testing.T) {
	cfg := validTestConfig()
	cfg.Evaluation.Concurrency = 0
	assert.Error(t, validateAndHash(cfg))
}

func TestValidateAndHashRejectsBadMinSeverity(t *testing.T) {
	cfg := validTestConfig()
	cfg.Notifications.MinSeverity = "LOUD"
	err := validateAndHash(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min severity")
}

func TestResolveDataPaths(t *testing.T) {
	cfg := &Config{}
	cfg.ResolveDataPaths()
	assert.Equal(t, filepath.Join("./data", "opspulse.db"), cfg.DataPaths.SQLitePath)

	cfg = &Config{}
	cfg.DataPaths.DataDir = "/var/lib/opspulse"
	cfg.ResolveDataPaths()
	assert.Equal(t, filepath.Join("/var/lib/opspulse", "opspulse.db"), cfg.DataPaths.SQLitePath)

	cfg = &Config{}
	cfg.DataPaths.SQLitePath = "/custom/path.db"
	cfg.ResolveDataPaths()
	assert.Equal(t, "/custom/path.db", cfg.DataPaths.SQLitePath)
}

func TestRetentionCutoff(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	cfg := &Config{}
	cfg.Retention.ResolvedMaxAgeDays = 30
	assert.Equal(t, now.AddDate(0, 0, -30), cfg.RetentionCutoff(now))

	// Unset or nonsense ages fall back to 90 days.
	cfg.Retention.ResolvedMaxAgeDays = 0
	assert.Equal(t, now.AddDate(0, 0, -90), cfg.RetentionCutoff(now))
}
