//go:build windows

package tap

import (
	"log/slog"

	"github.com/gen2brain/malgo"

	"github.com/tapdeck/tapdeck/internal/audio"
	"github.com/tapdeck/tapdeck/internal/types"
)

// systemCaptureConfig selects the loopback source on Windows. WASAPI
// supports loopback capture natively: a loopback device records whatever
// a playback device renders, so no virtual driver is needed.
func systemCaptureConfig(ctx *malgo.AllocatedContext, name string) (malgo.DeviceConfig, error) {
	cfg := malgo.DefaultDeviceConfig(malgo.Loopback)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = types.SystemChannels
	cfg.SampleRate = types.TargetSampleRate

	// A named device here is a playback device to tap, not a capture one.
	id, err := audio.FindDevice(ctx, malgo.Playback, name)
	if err != nil {
		return cfg, err
	}
	if id != nil {
		cfg.Capture.DeviceID = id.Pointer()
	}
	return cfg, nil
}

// noteVoiceIsolation logs that voice isolation is unavailable here; it
// is an OS microphone mode, not something the capture client controls.
func noteVoiceIsolation() {
	slog.Info("voice isolation is not available on this platform")
}
