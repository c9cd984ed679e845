package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvToPath(t *testing.T) {
	tests := map[string]string{
		"PULSE_DATABASE_HOST":        "database.host",
		"PULSE_AUTH_JWT_SECRET":      "auth.jwt_secret",
		"PULSE_RATE_LIMIT_REQUESTS":  "rate_limit.requests",
		"PULSE_REALTIME_SEND_BUFFER": "realtime.send_buffer",
		"PULSE_SERVER_CORS_ORIGINS":  "server.cors_origins",
		"DB_HOST":                    "database.host",
		"JWT_SECRET":                 "auth.jwt_secret",
		"HOME":                       "",
		"PULSE_NOSECTION":            "",
	}
	for key, want := range tests {
		assert.Equal(t, want, envToPath(key), key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 10*time.Second, cfg.Realtime.AuthTimeout)
	assert.True(t, cfg.Reconcile.OnList)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PULSE_DATABASE_DRIVER", "sqlite")
	t.Setenv("PULSE_DATABASE_SQLITE_PATH", "/tmp/pulse-test.db")
	t.Setenv("PULSE_RATE_LIMIT_REQUESTS", "42")
	t.Setenv("PULSE_REALTIME_AUTH_TIMEOUT", "3s")
	t.Setenv("PULSE_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/pulse-test.db", cfg.Database.SQLitePath)
	assert.Equal(t, 42, cfg.RateLimit.Requests)
	assert.Equal(t, 3*time.Second, cfg.Realtime.AuthTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "9090", cfg.Server.Port)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "7000"
logging:
  level: debug
`), 0o600))
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("PULSE_LOGGING_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Database.Driver = "mysql"
	cfg.Realtime.SendBuffer = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.driver")
	assert.Contains(t, err.Error(), "realtime.send_buffer")

	prod := defaultConfig()
	prod.Server.Environment = "production"
	require.ErrorContains(t, prod.Validate(), "jwt_secret must be changed")
}
