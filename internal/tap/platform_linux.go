//go:build linux

package tap

import (
	"log/slog"

	"github.com/gen2brain/malgo"

	"github.com/tapdeck/tapdeck/internal/audio"
	"github.com/tapdeck/tapdeck/internal/types"
)

// systemCaptureConfig selects the loopback source on Linux. PulseAudio
// and PipeWire expose every output sink's "monitor" as a regular capture
// device, so system audio is just a capture open on that device.
func systemCaptureConfig(ctx *malgo.AllocatedContext, name string) (malgo.DeviceConfig, error) {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = types.SystemChannels
	cfg.SampleRate = types.TargetSampleRate
	cfg.Alsa.NoMMap = 1

	if name == "" {
		name = "monitor"
	}
	id, err := audio.FindDevice(ctx, malgo.Capture, name)
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
