// Package config provides application configuration management.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/tapdeck/tapdeck/internal/types"
	"github.com/tapdeck/tapdeck/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort     = 8390
	DefaultCaptureName = "tapdeck-capture"
	DefaultMode        = types.ModeSystem
)

// validate checks struct tags on load and on every mutation.
var validate = validator.New(validator.WithRequiredStructEnabled())

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	// CaptureBinary is the path to the capture subprocess binary
	// (empty = look next to the executable, then PATH).
	CaptureBinary string `json:"capture_binary" validate:"omitempty,max=4096"`
	// Port is the control server port.
	Port int `json:"port" validate:"gte=1,lte=65535"`
	// APIKey authenticates REST control requests.
	APIKey string `json:"api_key" validate:"omitempty,max=128"`
}

// AudioConfig holds audio source settings passed to the subprocess.
type AudioConfig struct {
	// MicDevice is the microphone device name (empty = system default).
	MicDevice string `json:"mic_device" validate:"omitempty,max=256"`
	// SystemDevice is the loopback/monitor device name for system audio
	// on platforms that need one (empty = platform default).
	SystemDevice string `json:"system_device" validate:"omitempty,max=256"`
	// VoiceIsolation requests the platform microphone voice-isolation
	// filter where available. Logged and ignored elsewhere.
	VoiceIsolation bool `json:"voice_isolation"`
}

// CaptureConfig holds capture session behavior settings.
type CaptureConfig struct {
	// DefaultMode is the mode used when a start request names none.
	DefaultMode types.CaptureMode `json:"default_mode" validate:"oneof=system mic both"`
	// AutoRestart restarts a session that died unexpectedly, with
	// exponential backoff. A requested Stop never triggers a restart.
	AutoRestart bool `json:"auto_restart"`
}

// NotificationsConfig holds lifecycle notification settings.
type NotificationsConfig struct {
	// WebhookURL receives capture started/stopped/died events (empty = disabled).
	WebhookURL string `json:"webhook_url" validate:"omitempty,url,max=2048"`
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system"`
	Audio         AudioConfig         `json:"audio"`
	Capture       CaptureConfig       `json:"capture"`
	Notifications NotificationsConfig `json:"notifications"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	return &Config{
		System: SystemConfig{
			Port: DefaultWebPort,
		},
		Capture: CaptureConfig{
			DefaultMode: DefaultMode,
		},
		filePath: filePath,
	}
}

// Load reads config from file, creating a default one if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		c.applyDefaults()
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	if err := validate.Struct(c); err != nil {
		return util.WrapError("validate config", err)
	}

	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	if c.System.APIKey == "" {
		c.System.APIKey = generateAPIKey()
	}
	if c.Capture.DefaultMode == "" {
		c.Capture.DefaultMode = DefaultMode
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// Snapshot returns a copy of the current configuration values.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{
		System:        c.System,
		Audio:         c.Audio,
		Capture:       c.Capture,
		Notifications: c.Notifications,
	}
}

// setAndSave validates and persists a mutation applied under the lock.
func (c *Config) setAndSave(apply func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	apply()
	if err := validate.Struct(c); err != nil {
		return util.WrapError("validate config", err)
	}
	return c.saveLocked()
}

// SetMicDevice updates the microphone device and saves.
func (c *Config) SetMicDevice(device string) error {
	return c.setAndSave(func() { c.Audio.MicDevice = device })
}

// SetSystemDevice updates the system loopback device and saves.
func (c *Config) SetSystemDevice(device string) error {
	return c.setAndSave(func() { c.Audio.SystemDevice = device })
}

// SetVoiceIsolation updates the voice isolation flag and saves.
func (c *Config) SetVoiceIsolation(enabled bool) error {
	return c.setAndSave(func() { c.Audio.VoiceIsolation = enabled })
}

// SetDefaultMode updates the default capture mode and saves.
func (c *Config) SetDefaultMode(mode types.CaptureMode) error {
	return c.setAndSave(func() { c.Capture.DefaultMode = mode })
}

// SetAutoRestart updates the watchdog flag and saves.
func (c *Config) SetAutoRestart(enabled bool) error {
	return c.setAndSave(func() { c.Capture.AutoRestart = enabled })
}

// SetWebhookURL updates the lifecycle webhook URL and saves.
func (c *Config) SetWebhookURL(url string) error {
	return c.setAndSave(func() { c.Notifications.WebhookURL = url })
}

// APIKey returns the configured control API key.
func (c *Config) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.APIKey
}

// generateAPIKey returns a random hex API key.
func generateAPIKey() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
