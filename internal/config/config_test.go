package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndLegacyEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DB_DSN", "postgres://localhost/petconnect")
	t.Setenv("PETCONNECT_CHAT_RELAY_ON_COMMIT", "true")

	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v, "")
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.Equal(t, DriverPostgres, cfg.DB.Driver)
	require.Equal(t, "postgres://localhost/petconnect", cfg.DB.DSN)
	require.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	require.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	require.Equal(t, 256, cfg.Chat.SendBuffer)
	require.True(t, cfg.Chat.EnforceParticipants)
	require.True(t, cfg.Chat.RelayOnCommit)
	require.Empty(t, cfg.Redis.Addr)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "petconnect.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db:
  driver: sqlite
  dsn: /tmp/petconnect.db
auth:
  jwt_secret: from-file
  token_ttl: 2h
redis:
  addr: redis:6379
chat:
  enforce_participants: false
  events_per_second: 5
`), 0o600))

	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v, path)
	require.NoError(t, err)
	require.Equal(t, DriverSQLite, cfg.DB.Driver)
	require.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	require.Equal(t, "redis:6379", cfg.Redis.Addr)
	require.False(t, cfg.Chat.EnforceParticipants)
	require.Equal(t, 5, cfg.Chat.EventsPerSecond)
}

func TestValidate(t *testing.T) {
	base := Config{
		DB:   DBConfig{Driver: DriverPostgres, DSN: "dsn"},
		Auth: AuthConfig{JWTSecret: "x"},
		Chat: ChatConfig{EventsPerSecond: 1},
	}
	require.NoError(t, base.Validate())

	noSecret := base
	noSecret.Auth.JWTSecret = ""
	require.Error(t, noSecret.Validate())

	badDriver := base
	badDriver.DB.Driver = "mongo"
	require.Error(t, badDriver.Validate())

	noDSN := base
	noDSN.DB.DSN = ""
	require.Error(t, noDSN.Validate())
}

func TestParticipantCheckCanBeDisabledFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DB_DSN", "postgres://localhost/petconnect")
	t.Setenv("PETCONNECT_CHAT_ENFORCE_PARTICIPANTS", "false")

	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v, "")
	require.NoError(t, err)
	require.False(t, cfg.Chat.EnforceParticipants)
}
