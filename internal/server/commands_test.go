package server

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapdeck/tapdeck/internal/capture"
	"github.com/tapdeck/tapdeck/internal/config"
	"github.com/tapdeck/tapdeck/internal/types"
)

func newTestHandler(t *testing.T) (*CommandHandler, *capture.Controller, chan any) {
	t.Helper()
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())

	ctrl := capture.New(cfg, "") // no binary: session starts fail fast
	h := NewCommandHandler(cfg, ctrl, nil)
	return h, ctrl, make(chan any, 16)
}

func nextResult(t *testing.T, send chan any) map[string]any {
	t.Helper()
	select {
	case msg := <-send:
		result, ok := msg.(map[string]any)
		require.True(t, ok, "unexpected message type %T", msg)
		return result
	case <-time.After(2 * time.Second):
		t.Fatal("no response received")
		return nil
	}
}

func TestCaptureStartWithoutBinary(t *testing.T) {
	h, _, send := newTestHandler(t)

	h.Handle(WSCommand{Type: "capture/start"}, send, func() {})

	result := nextResult(t, send)
	assert.Equal(t, "capture/start_result", result["type"])
	assert.Equal(t, false, result["success"])
	assert.Contains(t, result["error"], "capture binary")
}

func TestCaptureStartRejectsBadMode(t *testing.T) {
	h, _, send := newTestHandler(t)

	h.Handle(WSCommand{
		Type: "capture/start",
		Data: json.RawMessage(`{"mode":"stereo"}`),
	}, send, func() {})

	result := nextResult(t, send)
	assert.Equal(t, false, result["success"])
	verr, ok := result["error"].(*types.ValidationError)
	require.True(t, ok)
	require.Len(t, verr.Errors, 1)
	assert.Equal(t, "mode", verr.Errors[0].Field)
}

func TestCaptureMuteUpdatesController(t *testing.T) {
	h, ctrl, send := newTestHandler(t)

	h.Handle(WSCommand{
		Type: "capture/mute",
		Data: json.RawMessage(`{"channel":"mic","muted":true}`),
	}, send, func() {})

	result := nextResult(t, send)
	assert.Equal(t, true, result["success"])
	assert.True(t, ctrl.Status().MicMuted)
	assert.False(t, ctrl.Status().SystemMuted)
}

func TestCaptureMuteRequiresChannel(t *testing.T) {
	h, _, send := newTestHandler(t)

	h.Handle(WSCommand{
		Type: "capture/mute",
		Data: json.RawMessage(`{"muted":true}`),
	}, send, func() {})

	result := nextResult(t, send)
	assert.Equal(t, false, result["success"])
}

func TestSettingsUpdatePersists(t *testing.T) {
	h, _, send := newTestHandler(t)

	h.Handle(WSCommand{
		Type: "settings/update",
		Data: json.RawMessage(`{"default_mode":"mic","auto_restart":true}`),
	}, send, func() {})

	result := nextResult(t, send)
	assert.Equal(t, true, result["success"])

	cfg := h.cfg.Snapshot()
	assert.Equal(t, types.ModeMic, cfg.Capture.DefaultMode)
	assert.True(t, cfg.Capture.AutoRestart)
}

func TestSettingsGetReturnsCurrentValues(t *testing.T) {
	h, _, send := newTestHandler(t)
	require.NoError(t, h.cfg.SetMicDevice("USB Microphone"))

	h.Handle(WSCommand{Type: "settings/get"}, send, func() {})

	result := nextResult(t, send)
	assert.Equal(t, true, result["success"])
	data, ok := result["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "USB Microphone", data["mic_device"])
}

func TestWebhookUpdateRejectsInvalidURL(t *testing.T) {
	h, _, send := newTestHandler(t)

	h.Handle(WSCommand{
		Type: "notifications/webhook/update",
		Data: json.RawMessage(`{"url":"not a url"}`),
	}, send, func() {})

	result := nextResult(t, send)
	assert.Equal(t, false, result["success"])
}

func TestHandleTriggersStatusUpdate(t *testing.T) {
	h, _, send := newTestHandler(t)

	triggered := false
	h.Handle(WSCommand{Type: "status/get"}, send, func() { triggered = true })
	assert.True(t, triggered)
}
