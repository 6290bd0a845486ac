package audio

import (
	"fmt"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/tapdeck/tapdeck/internal/types"
)

// ListCaptureDevices enumerates the available capture devices, including
// loopback-style devices that expose system output as a capture source.
// It opens a short-lived audio context of its own, so it is safe to call
// while the capture subprocess holds its devices.
func ListCaptureDevices() ([]types.Device, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate capture devices: %w", err)
	}

	devices := make([]types.Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, types.Device{
			ID:   DeviceIDString(info.ID),
			Name: info.Name(),
		})
	}
	return devices, nil
}

// FindDevice resolves a device of the given kind by case-insensitive
// substring match on its name. An empty name selects the system default
// (nil ID).
func FindDevice(ctx *malgo.AllocatedContext, kind malgo.DeviceType, name string) (*malgo.DeviceID, error) {
	if name == "" {
		return nil, nil
	}

	infos, err := ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	needle := strings.ToLower(name)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), needle) {
			id := info.ID
			return &id, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", name)
}

// DeviceIDString renders a device ID as a printable identifier.
func DeviceIDString(id malgo.DeviceID) string {
	var b strings.Builder
	for _, c := range id[:32] {
		if c == 0 {
			break
		}
		b.WriteByte(c)
	}
	if b.Len() == 0 {
		return fmt.Sprintf("%x", id[:8])
	}
	return b.String()
}
