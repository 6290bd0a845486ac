//go:build darwin

package tap

import (
	"fmt"
	"log/slog"

	"github.com/gen2brain/malgo"

	"github.com/tapdeck/tapdeck/internal/audio"
	"github.com/tapdeck/tapdeck/internal/types"
)

// loopbackCandidates are the common macOS virtual loopback drivers, in
// preference order, tried when no device is configured.
var loopbackCandidates = []string{"BlackHole", "Loopback", "Soundflower"}

// systemCaptureConfig selects the loopback source on macOS. Core Audio
// has no built-in system capture, so a virtual loopback driver must be
// installed and set as (part of) the output device.
func systemCaptureConfig(ctx *malgo.AllocatedContext, name string) (malgo.DeviceConfig, error) {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = types.SystemChannels
	cfg.SampleRate = types.TargetSampleRate

	names := loopbackCandidates
	if name != "" {
		names = []string{name}
	}
	for _, candidate := range names {
		id, err := audio.FindDevice(ctx, malgo.Capture, candidate)
		if err != nil {
			continue
		}
		if id != nil {
			cfg.Capture.DeviceID = id.Pointer()
			slog.Info("system capture device selected", "device", candidate)
		}
		return cfg, nil
	}
	return cfg, fmt.Errorf("no loopback device found (install BlackHole or name one explicitly)")
}

// noteVoiceIsolation logs the state of the macOS voice-isolation mic
// mode. The mode is chosen by the user in Control Center per app; the
// capture client only inherits it.
func noteVoiceIsolation() {
	slog.Info("voice isolation follows the system microphone mode setting")
}
