package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: sqlite
  dsn: "file::memory:"
auth:
  jwt_secret: secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Server.CacheTTL)
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, time.UTC, cfg.Checkin.Location)
	assert.Equal(t, 2*time.Second, cfg.Checkin.DebounceWindow)
	assert.Equal(t, 10*time.Second, cfg.Checkin.LockTTL)
	assert.Equal(t, "GYM", cfg.Checkin.CodePrefix)
	assert.Equal(t, 1, cfg.WorkerPool.Size)
	assert.Equal(t, 3600, cfg.Push.TTL)
	assert.False(t, cfg.Push.Enabled())
	assert.Equal(t, 300*time.Second, cfg.DirectorySync.Interval)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
database:
  dsn: "host=db"
auth:
  jwt_secret: from-file
checkin:
  timezone: UTC
`)
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("AUTH_JWT_SECRET", "from-env")
	t.Setenv("CHECKIN_TIMEZONE", "Asia/Kolkata")
	t.Setenv("CHECKIN_DEBOUNCE_MILLIS", "-1")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "Asia/Kolkata", cfg.Checkin.Location.String())
	assert.Zero(t, cfg.Checkin.DebounceWindow, "negative debounce disables it")
}

func TestLoad_Errors(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{
			name: "missing dsn",
			body: "auth:\n  jwt_secret: s\n",
		},
		{
			name: "unknown driver",
			body: "database:\n  driver: mysql\n  dsn: x\nauth:\n  jwt_secret: s\n",
		},
		{
			name: "missing jwt secret",
			body: "database:\n  dsn: x\n",
		},
		{
			name: "bad timezone",
			body: "database:\n  dsn: x\nauth:\n  jwt_secret: s\ncheckin:\n  timezone: Mars/Olympus\n",
		},
		{
			name: "redis without addr",
			body: "database:\n  dsn: x\nauth:\n  jwt_secret: s\nredis:\n  enabled: true\n",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
