package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"port": 9090},
		"database": {"driver": "memory"},
		"escalation": {"enabled": true, "interval": "90s"},
		"retention": {"hide_after": "1h", "delete_after": "720h"}
	}`), 0o600))

	t.Setenv("SERVER_HOST", "127.0.0.1")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 90*time.Second, cfg.Escalation.Interval.Duration)
	assert.Equal(t, time.Hour, cfg.Retention.HideAfter.Duration)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.GetServerAddr())
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Escalation.Interval.Duration)
	assert.Equal(t, "postgres", cfg.Database.Driver)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Escalation.Interval = Duration{0}
	assert.EqualError(t, cfg.Validate(), "escalation interval must be positive")

	cfg = Default()
	cfg.Retention.HideAfter = Duration{48 * time.Hour}
	cfg.Retention.DeleteAfter = Duration{time.Hour}
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Storage.Driver = "s3"
	assert.EqualError(t, cfg.Validate(), "storage bucket is required for the s3 driver")

	cfg = Default()
	cfg.Database.Driver = "mysql"
	assert.Error(t, cfg.Validate())
}

func TestDatabaseURL(t *testing.T) {
	db := DatabaseConfig{User: "portal", Password: "pw", Host: "db", Port: 5432, DBName: "studio", SSLMode: "disable"}
	assert.Equal(t, "postgres://portal:pw@db:5432/studio?sslmode=disable", db.GetDatabaseURL())
}
