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
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "memory", cfg.GatewayMode)
	assert.Equal(t, 3*time.Second, cfg.Poll.Artifacts)
	assert.Equal(t, 15*time.Second, cfg.Poll.ActiveConversation)
	assert.Equal(t, 20*time.Second, cfg.Poll.Conversations)
	assert.Equal(t, 100, cfg.Notification.PreviewLength)
	assert.Equal(t, 10, cfg.Notification.RecentWindow)
	assert.Equal(t, []string{"https://*", "http://*"}, cfg.AllowedOrigins)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("POLL_ARTIFACTS_INTERVAL", "5s")
	t.Setenv("GATEWAY_RPS", "7.5")
	t.Setenv("GATEWAY_LIVE_FEED", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://dig.org, https://admin.dig.org,")
	t.Setenv("RATE_LIMIT_REQUESTS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 5*time.Second, cfg.Poll.Artifacts)
	assert.Equal(t, 7.5, cfg.GatewayRPS)
	assert.True(t, cfg.GatewayLiveFeed)
	assert.Equal(t, []string{"https://dig.org", "https://admin.dig.org"}, cfg.AllowedOrigins)
	assert.Equal(t, 300, cfg.RateLimitRequests)
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
poll:
  active_conversation: 30s
notification:
  preview_length: 60
gateway:
  mode: rest
  base_url: https://backend.example
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("POLL_ACTIVE_CONVERSATION_INTERVAL", "1s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Poll.ActiveConversation)
	assert.Equal(t, 20*time.Second, cfg.Poll.Conversations)
	assert.Equal(t, 60, cfg.Notification.PreviewLength)
	assert.Equal(t, "rest", cfg.GatewayMode)
	assert.Equal(t, "https://backend.example", cfg.GatewayBaseURL)
}

func TestLoadRejectsBadConfig(t *testing.T) {
	t.Run("rest without base url", func(t *testing.T) {
		t.Setenv("GATEWAY_MODE", "rest")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("unknown mode", func(t *testing.T) {
		t.Setenv("GATEWAY_MODE", "sqlite")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("bad yaml interval", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("poll:\n  artifacts: soon\n"), 0o600))
		t.Setenv("CONFIG_FILE", path)
		_, err := Load()
		assert.Error(t, err)
	})
}
