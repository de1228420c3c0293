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

func TestLoadExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("HELLOASSO_CLIENT_SECRET", "s3cret")

	path := writeConfig(t, `
helloasso:
  client_id: my-client
  client_secret: ${HELLOASSO_CLIENT_SECRET}
  organization_slug: ping-club
  form_slug: tournoi-2025
fftt:
  enabled: true
  serial: SERIAL1
  password: pw
refresh:
  group_by: order
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.HelloAsso.ClientSecret)
	assert.Equal(t, "https://api.helloasso.com/oauth2/token", cfg.HelloAsso.AuthURL)
	assert.Equal(t, "https://api.helloasso.com/v5", cfg.HelloAsso.APIBase)
	assert.Equal(t, 100, cfg.HelloAsso.PageSize)
	assert.Equal(t, 50, cfg.HelloAsso.MaxPages)
	assert.Equal(t, 10, cfg.FFTT.BatchSize)
	assert.Equal(t, 24*time.Hour, cfg.FFTT.CacheTTL)
	assert.Equal(t, 10*time.Minute, cfg.Cache.PlayersTTL)
	assert.Equal(t, 60*time.Second, cfg.Refresh.RateLimitWindow)
	assert.Equal(t, GroupByOrder, cfg.Refresh.GroupBy)
	assert.Equal(t, StoreDriverRedis, cfg.Store.Driver)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: etcd\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Schedule.Enabled)
	assert.Equal(t, "@every 1m", cfg.Schedule.Spec)
	assert.Equal(t, GroupByEmail, cfg.Refresh.GroupBy)
	assert.NoError(t, cfg.Validate())
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", LogConfig{Level: "debug"}.SlogLevel().String())
	assert.Equal(t, "WARN", LogConfig{Level: "warning"}.SlogLevel().String())
	assert.Equal(t, "INFO", LogConfig{}.SlogLevel().String())
}

func TestPostgresConnectionString(t *testing.T) {
	c := PostgresConfig{User: "u", Password: "p", Host: "db", Port: 5432, Database: "tournament"}
	assert.Equal(t, "postgres://u:p@db:5432/tournament?sslmode=disable", c.ConnectionString())
}
