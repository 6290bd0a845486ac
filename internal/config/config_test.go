package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapdeck/tapdeck/internal/types"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := New(path)
	require.NoError(t, cfg.Load())

	snap := cfg.Snapshot()
	assert.Equal(t, DefaultWebPort, snap.System.Port)
	assert.Equal(t, types.ModeSystem, snap.Capture.DefaultMode)
	assert.NotEmpty(t, snap.System.APIKey)

	_, err := os.Stat(path)
	assert.NoError(t, err, "default config file should be written")
}

func TestLoadExistingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		"system": {"port": 9000, "api_key": "abc"},
		"audio": {"mic_device": "USB Mic"},
		"capture": {"default_mode": "both", "auto_restart": true}
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg := New(path)
	require.NoError(t, cfg.Load())

	snap := cfg.Snapshot()
	assert.Equal(t, 9000, snap.System.Port)
	assert.Equal(t, "USB Mic", snap.Audio.MicDevice)
	assert.Equal(t, types.ModeBoth, snap.Capture.DefaultMode)
	assert.True(t, snap.Capture.AutoRestart)
}

func TestLoadRejectsInvalidMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"capture": {"default_mode": "everything"}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg := New(path)
	assert.Error(t, cfg.Load())
}

func TestSettersPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := New(path)
	require.NoError(t, cfg.Load())

	require.NoError(t, cfg.SetDefaultMode(types.ModeMic))
	require.NoError(t, cfg.SetWebhookURL("https://example.com/hook"))

	reloaded := New(path)
	require.NoError(t, reloaded.Load())
	snap := reloaded.Snapshot()
	assert.Equal(t, types.ModeMic, snap.Capture.DefaultMode)
	assert.Equal(t, "https://example.com/hook", snap.Notifications.WebhookURL)
}

func TestSetWebhookRejectsInvalidURL(t *testing.T) {
	cfg := New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())
	assert.Error(t, cfg.SetWebhookURL("not a url"))
}
