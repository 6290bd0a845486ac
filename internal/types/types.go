// Package types provides shared type definitions used across the capture daemon.
package types

import (
	"time"
)

// CaptureState represents the current state of a capture session.
type CaptureState string

const (
	// StateIdle indicates no capture session has been started yet.
	StateIdle CaptureState = "idle"
	// StateStarting indicates the capture subprocess is being spawned.
	StateStarting CaptureState = "starting"
	// StateRunning indicates the subprocess is confirmed ready and streaming frames.
	StateRunning CaptureState = "running"
	// StateStopping indicates the shutdown sequence is in progress.
	StateStopping CaptureState = "stopping"
	// StateStopped indicates the subprocess has exited and the OS tap is released.
	StateStopped CaptureState = "stopped"
)

// CaptureMode selects which audio sources the subprocess opens.
type CaptureMode string

const (
	// ModeSystem captures the operating system's mixed output audio only.
	ModeSystem CaptureMode = "system"
	// ModeMic captures the microphone only.
	ModeMic CaptureMode = "mic"
	// ModeBoth captures system audio and microphone simultaneously.
	ModeBoth CaptureMode = "both"
)

// Valid reports whether the mode is one of the recognized capture modes.
func (m CaptureMode) Valid() bool {
	switch m {
	case ModeSystem, ModeMic, ModeBoth:
		return true
	}
	return false
}

// Audio format constants shared by the subprocess and the controller.
const (
	// TargetSampleRate is the sample rate of every emitted frame, in Hz.
	// Sources with a different native rate are resampled before emission.
	TargetSampleRate = 48000
	// SystemChannels is the channel count the system tap is opened with
	// before down-mixing to mono.
	SystemChannels = 2
	// MaxFrameSamples is the sanity bound on a frame's sample count.
	// Anything above it is treated as stream corruption, not real audio.
	MaxFrameSamples = 1_000_000
)

// Subprocess lifecycle timing.
const (
	// StartTimeout is how long the controller waits for the subprocess
	// to report readiness before giving up.
	StartTimeout = 10000 * time.Millisecond
	// ShutdownTimeout is how long the controller waits for the subprocess
	// to exit after SIGINT before force-killing it.
	ShutdownTimeout = 8000 * time.Millisecond
	// SettleDelay is the pause after subprocess exit that lets the OS
	// fully reclaim the audio tap. Skipping it can leave the tap in a
	// state that blocks other applications from capturing.
	SettleDelay = 500 * time.Millisecond
	// PollInterval is the interval for polling process state.
	PollInterval = 50 * time.Millisecond
)

// Watchdog restart tuning (used only when auto-restart is enabled).
const (
	// InitialRetryDelay is the starting delay between restart attempts.
	InitialRetryDelay = 3000 * time.Millisecond
	// MaxRetryDelay is the maximum delay between restart attempts.
	MaxRetryDelay = 60000 * time.Millisecond
	// MaxRetries is the maximum number of automatic restart attempts.
	MaxRetries = 10
	// SuccessThreshold is the run duration after which the retry count resets.
	SuccessThreshold = 30000 * time.Millisecond
)

// DeliveryQueueDepth is the buffer depth of the frame delivery queue.
// A full queue stalls the frame reader, which stalls the subprocess's
// writes; audio loss beats unbounded buffering.
const DeliveryQueueDepth = 1024

// CaptureStatus contains a summary of the capture session's operational state.
type CaptureStatus struct {
	State       CaptureState `json:"state"`                  // Current session state
	Mode        CaptureMode  `json:"mode,omitzero"`          // Mode of the active/last session
	Uptime      string       `json:"uptime,omitzero"`        // Time since the session reached running
	Died        bool         `json:"died,omitzero"`          // Subprocess exited without a stop request
	LastError   string       `json:"last_error,omitzero"`    // Most recent error
	MicMuted    bool         `json:"mic_muted"`              // Microphone channel mute flag
	SystemMuted bool         `json:"system_muted"`           // System channel mute flag
	RetryCount  int          `json:"retry_count,omitzero"`   // Watchdog restart attempts
	MaxRetries  int          `json:"max_retries,omitempty"`  // Watchdog restart limit
	ForcedKill  bool         `json:"forced_kill,omitzero"`   // Last shutdown needed a forced kill
}

// ChannelLevels contains level measurements for one logical channel.
type ChannelLevels struct {
	RMS  float64 `json:"rms"`  // RMS level in dBFS
	Peak float64 `json:"peak"` // Held peak level in dBFS
	Clip int     `json:"clip,omitzero"`
}

// AudioLevels contains current level measurements for both logical channels.
type AudioLevels struct {
	Mic    ChannelLevels `json:"mic"`
	System ChannelLevels `json:"system"`
}

// Device represents an available audio capture device.
type Device struct {
	ID   string `json:"id"`   // Device identifier
	Name string `json:"name"` // Device display name
}

// WSStatusResponse is sent to clients with full capture status.
type WSStatusResponse struct {
	Type     string        `json:"type"`     // Message type identifier
	Capture  CaptureStatus `json:"capture"`  // Capture session status
	Devices  []Device      `json:"devices"`  // Available capture devices
	Settings WSSettings    `json:"settings"` // Current settings
	Version  VersionInfo   `json:"version"`  // Version information
}

// WSSettings contains the settings sub-object in status responses.
type WSSettings struct {
	MicDevice    string `json:"mic_device"`    // Selected microphone device
	SystemDevice string `json:"system_device"` // Selected system loopback device
	Platform     string `json:"platform"`      // Operating system platform
}

// WSLevelsResponse is sent to clients with audio level updates.
type WSLevelsResponse struct {
	Type   string      `json:"type"`   // Message type identifier
	Levels AudioLevels `json:"levels"` // Current per-channel levels
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
