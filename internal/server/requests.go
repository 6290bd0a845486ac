package server

// Request types for WebSocket commands with validation tags.
// These types define the expected input for each command and use
// go-playground/validator struct tags for automatic validation.

// --- Capture session ---

// CaptureStartRequest is the request body for capture/start. An empty
// mode falls back to the configured default.
type CaptureStartRequest struct {
	Mode string `json:"mode" validate:"omitempty,oneof=system mic both"`
}

// CaptureMuteRequest is the request body for capture/mute.
type CaptureMuteRequest struct {
	Channel string `json:"channel" validate:"required,oneof=mic system"`
	Muted   bool   `json:"muted"`
}

// --- Settings ---

// SettingsUpdateRequest is the request body for settings/update. Nil
// fields are left unchanged.
type SettingsUpdateRequest struct {
	MicDevice      *string `json:"mic_device" validate:"omitempty,max=256"`
	SystemDevice   *string `json:"system_device" validate:"omitempty,max=256"`
	VoiceIsolation *bool   `json:"voice_isolation"`
	DefaultMode    *string `json:"default_mode" validate:"omitempty,oneof=system mic both"`
	AutoRestart    *bool   `json:"auto_restart"`
}

// --- Notification settings ---

// WebhookUpdateRequest is the request body for notifications/webhook/update.
type WebhookUpdateRequest struct {
	URL string `json:"url" validate:"omitempty,url,max=2048"`
}
