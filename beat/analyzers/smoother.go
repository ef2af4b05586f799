package analyzers

import (
	"github.com/RyanBlaney/sonido-pulse/algorithms/common"
	"github.com/RyanBlaney/sonido-pulse/algorithms/windowing"
	"github.com/RyanBlaney/sonido-pulse/beat/config"
)

const (
	MinAlpha      = 0.3
	MaxAlpha      = 0.9
	MinFluxWindow = 1
	MaxFluxWindow = 7
)

// ema is an exponential moving average seeded by its first observation
type ema struct {
	value  float64
	seeded bool
}

func (e *ema) next(x, alpha float64) float64 {
	if !e.seeded {
		e.value = x
		e.seeded = true
		return x
	}
	e.value = alpha*x + (1-alpha)*e.value
	return e.value
}

// Smoother suppresses frame-to-frame jitter: an EMA per band feature and a
// Hamming-weighted moving window over spectral flux.
type Smoother struct {
	alpha float64

	energy ema
	bass   ema
	mid    ema
	high   ema

	fluxWeights []float64
	fluxRecent  *common.RingBuffer
}

// NewSmoother creates a smoother from the smoothing config
func NewSmoother(cfg config.SmoothingConfig) *Smoother {
	s := &Smoother{}
	s.SetAlpha(cfg.Alpha)
	s.SetFluxWeights(FluxWeights(cfg.FluxWindow))
	return s
}

// FluxWeights builds the flux window weights for n samples (clamped to 1–7),
// newest last. Computing them involves trigonometry, so callers holding a
// lock build them first and install them with SetFluxWeights.
func FluxWeights(n int) []float64 {
	n = min(max(n, MinFluxWindow), MaxFluxWindow)
	return windowing.RisingWeights(n)
}

// SetAlpha sets the EMA coefficient, clamped to [0.3, 0.9]. Smaller is smoother.
func (s *Smoother) SetAlpha(alpha float64) {
	s.alpha = common.Clamp(alpha, MinAlpha, MaxAlpha)
}

// Alpha returns the EMA coefficient
func (s *Smoother) Alpha() float64 {
	return s.alpha
}

// SetFluxWeights installs flux window weights and restarts the window
func (s *Smoother) SetFluxWeights(weights []float64) {
	if len(weights) == 0 {
		weights = []float64{1.0}
	}
	s.fluxWeights = weights
	s.fluxRecent = common.NewRingBuffer(len(weights))
}

// FluxWindow returns the flux window length
func (s *Smoother) FluxWindow() int {
	return len(s.fluxWeights)
}

// Apply returns the smoothed copy of f
func (s *Smoother) Apply(f FeatureSet) FeatureSet {
	return FeatureSet{
		Energy: s.energy.next(f.Energy, s.alpha),
		Bass:   s.bass.next(f.Bass, s.alpha),
		Mid:    s.mid.next(f.Mid, s.alpha),
		High:   s.high.next(f.High, s.alpha),
		Flux:   s.smoothFlux(f.Flux),
	}
}

// smoothFlux is the weighted mean of the recent flux values. While the
// window fills, the newest weights are used so the newest value still weighs most.
func (s *Smoother) smoothFlux(x float64) float64 {
	s.fluxRecent.Push(x)
	mean, ok := windowing.WeightedMean(s.fluxRecent.Values(), s.fluxWeights)
	if !ok {
		return x
	}
	return common.Clamp01(mean)
}

// Reset drops all smoothing state; the next frame seeds the averages again
func (s *Smoother) Reset() {
	s.energy = ema{}
	s.bass = ema{}
	s.mid = ema{}
	s.high = ema{}
	s.fluxRecent.Clear()
}
