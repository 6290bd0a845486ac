package server

import (
	"runtime"

	"github.com/tapdeck/tapdeck/internal/audio"
	"github.com/tapdeck/tapdeck/internal/notify"
	"github.com/tapdeck/tapdeck/internal/types"
	"github.com/tapdeck/tapdeck/internal/util"
	"github.com/tapdeck/tapdeck/internal/wire"
)

// handleCaptureStart starts a session. The controller blocks until the
// subprocess is ready, so the action runs off the event loop.
func (h *CommandHandler) handleCaptureStart(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	var req CaptureStartRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}

	mode := h.cfg.Snapshot().Capture.DefaultMode
	if req.Mode != "" {
		mode = types.CaptureMode(req.Mode)
	}

	HandleActionAsync(cmd, send, func() (any, error) {
		if h.watchdog != nil {
			h.watchdog.NoteStart()
		}
		if err := h.controller.Start(mode); err != nil {
			return nil, err
		}
		triggerStatusUpdate()
		go util.LogNotifyResult(func() error {
			return notify.SendCaptureStarted(h.cfg.Snapshot().Notifications.WebhookURL, mode)
		}, "webhook")
		return h.controller.Status(), nil
	})
}

// handleCaptureStop stops the session. The full shutdown sequence takes
// up to the shutdown timeout plus the settle delay, so it also runs off
// the event loop.
func (h *CommandHandler) handleCaptureStop(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	mode := h.controller.Status().Mode

	HandleActionAsync(cmd, send, func() (any, error) {
		if err := h.controller.Stop(); err != nil {
			return nil, err
		}
		triggerStatusUpdate()
		go util.LogNotifyResult(func() error {
			return notify.SendCaptureStopped(h.cfg.Snapshot().Notifications.WebhookURL, mode)
		}, "webhook")
		return h.controller.Status(), nil
	})
}

// handleCaptureMute flips the mute flag for one logical channel.
func (h *CommandHandler) handleCaptureMute(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *CaptureMuteRequest) error {
		ch := wire.ChannelMicrophone
		if req.Channel == "system" {
			ch = wire.ChannelSystem
		}
		return h.controller.SetChannelMute(ch, req.Muted)
	})
}

// handleDevicesGet enumerates capture devices. Device enumeration talks
// to the OS audio service and can stall, so it runs asynchronously.
func (h *CommandHandler) handleDevicesGet(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func() (any, error) {
		devices, err := audio.ListCaptureDevices()
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"devices":  devices,
			"platform": runtime.GOOS,
		}, nil
	})
}
