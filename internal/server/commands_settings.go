package server

import (
	"runtime"

	"github.com/tapdeck/tapdeck/internal/notify"
	"github.com/tapdeck/tapdeck/internal/types"
)

// handleSettingsUpdate applies the provided settings fields and persists
// the configuration. Nil fields are untouched.
func (h *CommandHandler) handleSettingsUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *SettingsUpdateRequest) error {
		if req.MicDevice != nil {
			if err := h.cfg.SetMicDevice(*req.MicDevice); err != nil {
				return err
			}
		}
		if req.SystemDevice != nil {
			if err := h.cfg.SetSystemDevice(*req.SystemDevice); err != nil {
				return err
			}
		}
		if req.VoiceIsolation != nil {
			if err := h.cfg.SetVoiceIsolation(*req.VoiceIsolation); err != nil {
				return err
			}
		}
		if req.DefaultMode != nil {
			if err := h.cfg.SetDefaultMode(types.CaptureMode(*req.DefaultMode)); err != nil {
				return err
			}
		}
		if req.AutoRestart != nil {
			if err := h.cfg.SetAutoRestart(*req.AutoRestart); err != nil {
				return err
			}
			if h.watchdog != nil {
				h.watchdog.SetEnabled(*req.AutoRestart)
			}
		}
		return nil
	})
}

// handleSettingsGet returns the current settings.
func (h *CommandHandler) handleSettingsGet(send chan<- any) {
	cfg := h.cfg.Snapshot()
	SendSuccess(send, "settings/get", map[string]any{
		"mic_device":      cfg.Audio.MicDevice,
		"system_device":   cfg.Audio.SystemDevice,
		"voice_isolation": cfg.Audio.VoiceIsolation,
		"default_mode":    cfg.Capture.DefaultMode,
		"auto_restart":    cfg.Capture.AutoRestart,
		"platform":        runtime.GOOS,
	})
}

// handleWebhookUpdate stores the notification webhook URL.
func (h *CommandHandler) handleWebhookUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *WebhookUpdateRequest) error {
		return h.cfg.SetWebhookURL(req.URL)
	})
}

// handleWebhookTest fires a test notification at the configured URL.
func (h *CommandHandler) handleWebhookTest(cmd WSCommand, send chan<- any) {
	url := h.cfg.Snapshot().Notifications.WebhookURL
	HandleActionAsync(cmd, send, func() (any, error) {
		return nil, notify.SendTestWebhook(url)
	})
}

// handleWebhookGet returns the configured webhook URL.
func (h *CommandHandler) handleWebhookGet(send chan<- any) {
	SendSuccess(send, "notifications/webhook/get", map[string]any{
		"url": h.cfg.Snapshot().Notifications.WebhookURL,
	})
}
