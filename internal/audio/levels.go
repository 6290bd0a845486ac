package audio

import (
	"math"
	"sync"
	"time"
)

const (
	// MinDB is the floor level reported for silence, in dBFS.
	MinDB = -60.0
	// ClipThreshold is slightly below full scale to catch near-clips.
	ClipThreshold float32 = 0.999
)

// Levels contains calculated levels for one channel in dBFS.
type Levels struct {
	RMS  float64
	Peak float64
	Clip int
}

// Meter accumulates float32 mono samples for one logical channel and
// reports RMS and held-peak levels. It is safe for concurrent use: the
// frame routing path writes while the status push path reads.
type Meter struct {
	mu         sync.Mutex
	sumSquares float64
	peak       float64
	clipCount  int
	count      int
	hold       *PeakHolder
}

// NewMeter returns a Meter with an attached peak holder.
func NewMeter() *Meter {
	return &Meter{hold: NewPeakHolder()}
}

// Process accumulates one batch of samples.
func (m *Meter) Process(samples []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range samples {
		f := float64(s)
		m.sumSquares += f * f
		if abs := math.Abs(f); abs > m.peak {
			m.peak = abs
		}
		if s >= ClipThreshold || s <= -ClipThreshold {
			m.clipCount++
		}
	}
	m.count += len(samples)
}

// Snapshot computes levels from the accumulated window, applies peak hold,
// and resets the accumulators for the next window.
func (m *Meter) Snapshot(now time.Time) Levels {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count == 0 {
		held := m.hold.Update(MinDB, now)
		return Levels{RMS: MinDB, Peak: held}
	}

	rms := math.Sqrt(m.sumSquares / float64(m.count))
	levels := Levels{
		RMS:  max(toDB(rms), MinDB),
		Peak: m.hold.Update(max(toDB(m.peak), MinDB), now),
		Clip: m.clipCount,
	}

	m.sumSquares = 0
	m.peak = 0
	m.clipCount = 0
	m.count = 0

	return levels
}

// Reset clears accumulators and held peaks.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sumSquares = 0
	m.peak = 0
	m.clipCount = 0
	m.count = 0
	m.hold.Reset()
}

// toDB converts a full-scale-relative linear amplitude to dBFS.
func toDB(v float64) float64 {
	if v <= 0 {
		return MinDB
	}
	return 20 * math.Log10(v)
}
