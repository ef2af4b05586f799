package sensitivity

import (
	"math"
	"time"

	"github.com/RyanBlaney/sonido-pulse/algorithms/common"
	"github.com/RyanBlaney/sonido-pulse/beat/config"
)

// Measurements are the recent signal statistics recalibration works from
type Measurements struct {
	BassMean      float64
	BassStd       float64
	HighMean      float64
	Density       float64 // beats per second over the density window
	BassHighRatio float64
	Variability   float64 // bass std / bass mean
	SinceLastBeat time.Duration
}

// Adjustment lists the individual rule contributions of one recalibration
type Adjustment struct {
	Level       float64
	Density     float64
	Variability float64
	Silence     float64
}

// Total is the sum of all contributions
func (a Adjustment) Total() float64 {
	return a.Level + a.Density + a.Variability + a.Silence
}

// Controller recomputes sensitivity from recent statistics. It is stateless:
// the engine owns the current sensitivity.
type Controller struct {
	cfg config.SensitivityConfig
}

// NewController creates a controller
func NewController(cfg config.SensitivityConfig) *Controller {
	return &Controller{cfg: cfg}
}

// Measure computes the statistics from copies of the bass/high histories and
// beat log. reference is the last beat (or session start when no beat fired yet).
// It reports false when either history holds fewer than MinHistory values.
func (c *Controller) Measure(bass, high []float64, beats []time.Time, reference, now time.Time) (Measurements, bool) {
	if len(bass) < c.cfg.MinHistory || len(high) < c.cfg.MinHistory {
		return Measurements{}, false
	}

	m := Measurements{}
	m.BassMean, m.BassStd = common.MeanStd(bass)
	m.HighMean = common.Mean(high)

	window := c.cfg.DensityWindow
	if window > 0 {
		cutoff := now.Add(-window)
		recent := 0
		for _, ts := range beats {
			if ts.After(cutoff) {
				recent++
			}
		}
		m.Density = float64(recent) / window.Seconds()
	}

	if m.HighMean > 0 {
		m.BassHighRatio = m.BassMean / m.HighMean
	}
	if m.BassMean > 0 {
		m.Variability = m.BassStd / m.BassMean
	}
	if !reference.IsZero() && now.After(reference) {
		m.SinceLastBeat = now.Sub(reference)
	}
	return m, true
}

// Adjust evaluates every rule independently against m
func (c *Controller) Adjust(m Measurements) Adjustment {
	var a Adjustment

	if m.BassMean < c.cfg.QuietLevel {
		a.Level -= c.cfg.LevelStep
	}
	if m.BassMean > c.cfg.LoudLevel {
		a.Level += c.cfg.LevelStep
	}

	if m.Density > c.cfg.DenseRate {
		a.Density += c.cfg.DensityStep
	}
	if m.Density < c.cfg.SparseRate {
		a.Density += c.cfg.DensityStep
	}

	if m.Variability < c.cfg.LowVariability {
		a.Variability -= c.cfg.VariabilityStep
	}
	if m.Variability > c.cfg.HighVariability {
		a.Variability += c.cfg.VariabilityStep
	}

	if m.SinceLastBeat > c.cfg.SilenceAfter {
		a.Silence = math.Min(c.cfg.SilenceMaxStep, m.SinceLastBeat.Seconds()/10.0)
	}

	return a
}

// Target is baseline plus all adjustments, clamped to [Min, Max]
func (c *Controller) Target(m Measurements) float64 {
	return c.clamp(c.cfg.Baseline + c.Adjust(m).Total())
}

// Blend damps the move from previous toward target: Inertia×previous +
// (1−Inertia)×target, clamped to [Min, Max].
func (c *Controller) Blend(previous, target float64) float64 {
	blended := c.cfg.Inertia*previous + (1-c.cfg.Inertia)*target
	return c.clamp(blended)
}

func (c *Controller) clamp(v float64) float64 {
	return common.Clamp(v, c.cfg.Min, c.cfg.Max)
}
