package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, int64(7000), cfg.Calculation.MediumServiceVisits)
	assert.Equal(t, int64(170000), cfg.Calculation.LargeServiceVisits)
	assert.Contains(t, cfg.Permissions("admin"), "values.write")
	assert.False(t, cfg.CountryScoped("admin"))
	assert.True(t, cfg.CountryScoped("national_coordinator"))
	assert.True(t, cfg.CountryScoped("unknown"))
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("log:\n  level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/api/v1", cfg.Server.BasePath)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "unknown driver",
			mutate: func(c *Config) { c.Database.Driver = "mysql" },
			errMsg: "driver",
		},
		{
			name:   "pgx without dsn",
			mutate: func(c *Config) { c.Database.Driver = "pgx" },
			errMsg: "dsn",
		},
		{
			name:   "inverted thresholds",
			mutate: func(c *Config) { c.Calculation.LargeServiceVisits = 10 },
			errMsg: "large_service_visits",
		},
		{
			name:   "missing admin role",
			mutate: func(c *Config) { delete(c.RBAC.Roles, "admin") },
			errMsg: "admin",
		},
		{
			name:   "webhook without url",
			mutate: func(c *Config) { c.Webhooks = []WebhookConfig{{Events: []string{"report.confirmed"}}} },
			errMsg: "webhooks[0].url",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadLayersFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "unr.yml"), []byte("zotero:\n  group_id: \"12345\"\nlog:\n  format: console\n"), 0o644)
	require.NoError(t, err)
	t.Setenv("UNR_AUTH_JWT_SECRET", "s3cret")

	cfg, err := Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, "12345", cfg.Zotero.GroupID)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, dir, cfg.Database.Workspace)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir(), "")
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.Error(t, InitLogger(LogConfig{Level: "loud"}))
}
