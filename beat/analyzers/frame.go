package analyzers

import (
	"math"

	"github.com/RyanBlaney/sonido-pulse/algorithms/common"
	"github.com/RyanBlaney/sonido-pulse/algorithms/filters"
	"github.com/RyanBlaney/sonido-pulse/algorithms/spectral"
	"github.com/RyanBlaney/sonido-pulse/beat/config"
)

// FeatureSet holds the per-frame features, each normalized and clamped to [0,1]
type FeatureSet struct {
	Energy float64 `json:"energy"` // overall RMS
	Bass   float64 `json:"bass"`
	Mid    float64 `json:"mid"`
	High   float64 `json:"high"`
	Flux   float64 `json:"flux"`
}

type bandBins struct {
	lo, hi        int
	normalization float64
}

// FrameAnalyzer turns one PCM frame into a FeatureSet. It keeps the previous
// magnitude spectrum for flux, so it must only be driven by the capture path.
type FrameAnalyzer struct {
	cfg  config.AnalyzerConfig
	fft  *spectral.FFT
	flux *spectral.SpectralFlux

	// optional DC blocker and its output buffer
	dc       *filters.DCRemoval
	filtered []float64

	frameSize int
	bass      bandBins
	mid       bandBins
	high      bandBins
}

// NewFrameAnalyzer creates an analyzer for the configured frame size and sample rate
func NewFrameAnalyzer(cfg config.AnalyzerConfig) *FrameAnalyzer {
	fa := &FrameAnalyzer{
		cfg:  cfg,
		fft:  spectral.NewFFT(),
		flux: spectral.NewSpectralFlux(),
	}
	if cfg.DCCutoffHz > 0 {
		fa.dc = filters.NewDCRemovalWithCutoff(cfg.SampleRate, cfg.DCCutoffHz)
	}
	fa.resize(cfg.FrameSize)
	return fa
}

// resize recomputes band bin ranges for frames of n samples
func (fa *FrameAnalyzer) resize(n int) {
	fa.frameSize = n
	fa.bass = fa.bins(fa.cfg.Bass, n)
	fa.mid = fa.bins(fa.cfg.Mid, n)
	fa.high = fa.bins(fa.cfg.High, n)
	fa.flux.Reset()
}

func (fa *FrameAnalyzer) bins(band config.Band, n int) bandBins {
	lo, hi := spectral.BinRange(band.LowHz, band.HighHz, n, fa.cfg.SampleRate)
	return bandBins{lo: lo, hi: hi, normalization: band.Normalization}
}

// Analyze computes the FeatureSet of one frame. Frames of a different length
// than the last one re-derive the band bins and restart the flux reference.
func (fa *FrameAnalyzer) Analyze(samples []int16) FeatureSet {
	if len(samples) == 0 {
		return FeatureSet{}
	}
	if len(samples) != fa.frameSize {
		fa.resize(len(samples))
	}

	var magnitudes []float64
	var rms float64
	if fa.dc != nil {
		fa.filtered = fa.dc.ProcessPCM(samples, fa.filtered)
		magnitudes = fa.fft.Magnitude(fa.filtered)
		rms = floatRMS(fa.filtered)
	} else {
		magnitudes = fa.fft.MagnitudePCM(samples)
		rms = pcmRMS(samples)
	}

	return FeatureSet{
		Energy: normalize(rms, fa.cfg.EnergyNormalization),
		Bass:   fa.bandEnergy(magnitudes, fa.bass),
		Mid:    fa.bandEnergy(magnitudes, fa.mid),
		High:   fa.bandEnergy(magnitudes, fa.high),
		Flux:   normalize(fa.flux.Next(magnitudes), fa.cfg.FluxNormalization),
	}
}

// Reset forgets the previous spectrum and filter state
func (fa *FrameAnalyzer) Reset() {
	fa.flux.Reset()
	if fa.dc != nil {
		fa.dc.Reset()
	}
}

func (fa *FrameAnalyzer) bandEnergy(magnitudes []float64, band bandBins) float64 {
	if band.hi < band.lo || band.lo >= len(magnitudes) {
		return 0.0
	}
	hi := min(band.hi, len(magnitudes)-1)
	return normalize(common.Sum(magnitudes[band.lo:hi+1]), band.normalization)
}

func pcmRMS(samples []int16) float64 {
	sumSquares := 0.0
	for _, s := range samples {
		v := float64(s)
		sumSquares += v * v
	}
	return math.Sqrt(sumSquares / float64(len(samples)))
}

func floatRMS(samples []float64) float64 {
	sumSquares := 0.0
	for _, v := range samples {
		sumSquares += v * v
	}
	return math.Sqrt(sumSquares / float64(len(samples)))
}

func normalize(value, scale float64) float64 {
	if scale <= 0 {
		return 0.0
	}
	return common.Clamp01(value / scale)
}
