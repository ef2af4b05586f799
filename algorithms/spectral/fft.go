package spectral

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// FFT provides real-input Fast Fourier Transform helpers
type FFT struct {
	scratch []float64
}

// NewFFT creates a new FFT calculator
func NewFFT() *FFT {
	return &FFT{}
}

// Compute computes the FFT of a real signal using mjibson/go-dsp
func (f *FFT) Compute(x []float64) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}

	// mjibson/go-dsp handles all sizes efficiently, including non-power-of-2
	return fft.FFTReal(x)
}

// Magnitude returns the one-sided magnitude spectrum (len(x)/2+1 bins) of a
// real signal, the same bins numpy's rfft produces.
func (f *FFT) Magnitude(x []float64) []float64 {
	if len(x) == 0 {
		return []float64{}
	}

	spectrum := f.Compute(x)
	half := len(x)/2 + 1

	magnitudes := make([]float64, half)
	for i := 0; i < half; i++ {
		magnitudes[i] = cmplx.Abs(spectrum[i])
	}
	return magnitudes
}

// MagnitudePCM widens 16-bit PCM to float64 (reusing an internal buffer) and
// returns its one-sided magnitude spectrum. Samples keep their raw integer scale.
func (f *FFT) MagnitudePCM(samples []int16) []float64 {
	if cap(f.scratch) < len(samples) {
		f.scratch = make([]float64, len(samples))
	}
	f.scratch = f.scratch[:len(samples)]
	for i, s := range samples {
		f.scratch[i] = float64(s)
	}
	return f.Magnitude(f.scratch)
}

// BinFrequency returns the center frequency of bin for a frame of frameSize samples
func BinFrequency(bin, frameSize, sampleRate int) float64 {
	if frameSize <= 0 {
		return 0.0
	}
	return float64(bin) * float64(sampleRate) / float64(frameSize)
}

// BinRange converts an inclusive [lowHz, highHz] band into inclusive bin indices,
// clamped to the one-sided spectrum and skipping the DC bin.
func BinRange(lowHz, highHz float64, frameSize, sampleRate int) (int, int) {
	if frameSize <= 0 || sampleRate <= 0 {
		return 0, -1
	}

	binHz := BinFrequency(1, frameSize, sampleRate)
	lastBin := frameSize / 2

	lo := max(int(lowHz/binHz+0.5), 1)
	hi := min(int(highHz/binHz+0.5), lastBin)
	return lo, hi
}
