package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "SenhaTemporaria123", cfg.Auth.TemporaryPassword)
	assert.Equal(t, 1974, cfg.Fixtures.TeamID)
	assert.False(t, cfg.Gate.FailOpen)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("CAPITANIA_AUTH_TOKEN_TTL", "30m")
	t.Setenv("CAPITANIA_AUTH_MASTER_EMAIL", "  Boss@Club.com ")
	t.Setenv("CAPITANIA_GATE_FAIL_OPEN", "true")
	t.Setenv("CAPITANIA_SERVER_ALLOWED_ORIGINS", "http://a.test,http://b.test")
	t.Setenv("CAPITANIA_DATABASE_DRIVER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, "boss@club.com", cfg.Auth.MasterEmail)
	assert.True(t, cfg.Gate.FailOpen)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "memory", cfg.Database.Driver)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("CAPITANIA_FIXTURES_TEAM_ID=42\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CAPITANIA_FIXTURES_TEAM_ID") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Fixtures.TeamID)

	_, err = Load(filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("CAPITANIA_DATABASE_DRIVER", "sqlite")
	_, err := Load("")
	require.Error(t, err)
}

func TestValidateServer(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.ValidateServer())
	cfg.Auth.JWTSecret = "0123456789abcdef"
	require.NoError(t, cfg.ValidateServer())
	cfg.Database.DSN = ""
	require.Error(t, cfg.ValidateServer())
	cfg.Database.Driver = "memory"
	require.NoError(t, cfg.ValidateServer())
}

func TestEnvKey(t *testing.T) {
	cases := map[string]string{
		"CAPITANIA_AUTH_JWT_SECRET":  "auth.jwt_secret",
		"CAPITANIA_LOG_LEVEL":        "log.level",
		"CAPITANIA_SERVER_HTTP_ADDR": "server.http_addr",
		"CAPITANIA_X":                "x",
	}
	for in, want := range cases {
		assert.Equal(t, want, envKey(in), in)
	}
}
