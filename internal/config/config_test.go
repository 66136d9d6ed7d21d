package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("WRITESHARE_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	for _, key := range []string{"API_ADDR", "INVITE_POLICY", "ACCESS_TTL_SECONDS", "REDIS_URL", "MINIO_ENDPOINT", "AUTH_SECRET"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	isolateEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, InvitePolicyMembers, cfg.InvitePolicy)
	assert.Equal(t, time.Hour, cfg.AccessTTL())
	assert.Equal(t, 15*time.Minute, cfg.ReceiptTTL())
	assert.Equal(t, "./db/migrations", cfg.MigrationsDir)
	assert.Empty(t, cfg.RedisURL)
	assert.Empty(t, cfg.MinioEndpoint)
}

func TestLoadReadsEnvironment(t *testing.T) {
	isolateEnv(t)
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("INVITE_POLICY", " Owners ")
	t.Setenv("ACCESS_TTL_SECONDS", "60")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, InvitePolicyOwners, cfg.InvitePolicy)
	assert.Equal(t, time.Minute, cfg.AccessTTL())
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("REDIS_URL=redis://cache:6379/1\n"), 0o600))
	t.Setenv("WRITESHARE_ENV_FILE", path)
	t.Cleanup(func() { os.Unsetenv("REDIS_URL") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis://cache:6379/1", cfg.RedisURL)
}

func TestLoadRejectsUnknownInvitePolicy(t *testing.T) {
	isolateEnv(t)
	t.Setenv("INVITE_POLICY", "anyone")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVITE_POLICY")
}
