// Package audio provides the sample-domain utilities of the capture path:
// sample-rate conversion, stereo down-mixing and level metering.
package audio

// Resample converts samples from fromRate to toRate using linear
// interpolation. Equal or non-positive rates return the input unchanged.
//
// This is intentionally a cheap approximation rather than a windowed
// resampler: it runs inside the real-time capture path on every buffer,
// and the requirement is low audible artifact, not bit-exact fidelity.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(samples)) / ratio)
	out := make([]float32, outLen)

	for i := 0; i < outLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		if srcIdx+1 < len(samples) {
			out[i] = samples[srcIdx]*(1-frac) + samples[srcIdx+1]*frac
		} else if srcIdx < len(samples) {
			out[i] = samples[srcIdx]
		}
	}

	return out
}

// DownmixInterleaved averages interleaved multi-channel float32 PCM into
// mono. Frames with fewer samples than channels yield an empty slice.
func DownmixInterleaved(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}

	frames := len(samples) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += samples[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}
