package audio

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMeterSilence(t *testing.T) {
	m := NewMeter()
	levels := m.Snapshot(time.Now())
	assert.Equal(t, MinDB, levels.RMS)
	assert.Equal(t, MinDB, levels.Peak)
	assert.Zero(t, levels.Clip)
}

func TestMeterFullScale(t *testing.T) {
	m := NewMeter()
	samples := make([]float32, 480)
	for i := range samples {
		samples[i] = 1.0
	}
	m.Process(samples)

	levels := m.Snapshot(time.Now())
	assert.InDelta(t, 0, levels.RMS, 0.01)
	assert.InDelta(t, 0, levels.Peak, 0.01)
	assert.Equal(t, 480, levels.Clip)
}

func TestMeterHalfScale(t *testing.T) {
	m := NewMeter()
	samples := make([]float32, 1000)
	for i := range samples {
		samples[i] = 0.5
	}
	m.Process(samples)

	levels := m.Snapshot(time.Now())
	want := 20 * math.Log10(0.5) // ~ -6.02 dBFS
	assert.InDelta(t, want, levels.RMS, 0.01)
	assert.InDelta(t, want, levels.Peak, 0.01)
	assert.Zero(t, levels.Clip)
}

func TestMeterSnapshotResetsWindow(t *testing.T) {
	m := NewMeter()
	m.Process([]float32{0.5, -0.5})
	m.Snapshot(time.Now())

	levels := m.Snapshot(time.Now())
	assert.Equal(t, MinDB, levels.RMS)
}

func TestPeakHolderHoldsThenDecays(t *testing.T) {
	p := NewPeakHolder()
	now := time.Now()

	held := p.Update(-6, now)
	assert.Equal(t, -6.0, held)

	// A lower peak inside the hold window keeps the held value.
	held = p.Update(-20, now.Add(time.Second))
	assert.Equal(t, -6.0, held)

	// After the hold duration the lower value takes over.
	held = p.Update(-20, now.Add(DefaultPeakHoldDuration+time.Second))
	assert.Equal(t, -20.0, held)
}

func TestPeakHolderHigherPeakAlwaysWins(t *testing.T) {
	p := NewPeakHolder()
	now := time.Now()

	p.Update(-12, now)
	held := p.Update(-3, now.Add(time.Millisecond))
	assert.Equal(t, -3.0, held)
}
