package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, StoreDriverPostgres, cfg.Engine.StoreDriver)
	assert.Equal(t, 3, cfg.Engine.MaxConflictRetries)
	assert.True(t, cfg.Engine.RequireOverrideNote)
	assert.Equal(t, 5*time.Minute, cfg.Rules.CacheTTL)
	assert.Equal(t, "lab:results:notifications", cfg.Notifications.Channel)
	assert.Equal(t, "lab-result-api", cfg.Database.ApplicationName)
	assert.Equal(t, 5*time.Second, cfg.Database.StatementTimeout)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("STORE_DRIVER", " Memory ")
	t.Setenv("ENGINE_MAX_CONFLICT_RETRIES", "0")
	t.Setenv("RULE_CACHE_ENABLED", "true")
	t.Setenv("RULE_CACHE_TTL", "not-a-duration")
	t.Setenv("DB_STATEMENT_TIMEOUT", "750ms")
	t.Setenv("ALLOWED_ORIGINS", "https://lab.example.org, ,https://lis.example.org")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreDriverMemory, cfg.Engine.StoreDriver)
	assert.Equal(t, 3, cfg.Engine.MaxConflictRetries, "non-positive retries fall back to default")
	assert.True(t, cfg.Rules.CacheEnabled)
	assert.Equal(t, 5*time.Minute, cfg.Rules.CacheTTL)
	assert.Equal(t, 750*time.Millisecond, cfg.Database.StatementTimeout)
	assert.Equal(t, []string{"https://lab.example.org", "https://lis.example.org"}, cfg.CORS.AllowedOrigins)
}
