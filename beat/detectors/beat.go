package detectors

import (
	"time"

	"github.com/RyanBlaney/sonido-pulse/algorithms/common"
	"github.com/RyanBlaney/sonido-pulse/beat/config"
)

// BeatType classifies which band combination produced a beat
type BeatType int

const (
	Kick BeatType = iota // flux and bass together
	Bass
	High
	Flux
)

func (t BeatType) String() string {
	switch t {
	case Kick:
		return "KICK"
	case Bass:
		return "BASS"
	case High:
		return "HIGH"
	case Flux:
		return "FLUX"
	default:
		return "UNKNOWN"
	}
}

// BeatEvent is one detected beat. It is never mutated after creation.
type BeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Intensity float64   `json:"intensity"` // [0,1]
	Type      BeatType  `json:"type"`
}

// Bands records which bands fired on a frame
type Bands struct {
	Flux bool
	Bass bool
	High bool
}

// Any reports whether at least one band fired
func (b Bands) Any() bool {
	return b.Flux || b.Bass || b.High
}

// Levels are the smoothed values of the current frame
type Levels struct {
	Bass float64
	High float64
	Flux float64
}

// Classify resolves the beat type and intensity from the fired bands, in
// priority order KICK, BASS, HIGH, FLUX. ok is false when nothing fired.
func Classify(fired Bands, levels Levels) (BeatType, float64, bool) {
	switch {
	case fired.Flux && fired.Bass:
		return Kick, common.Clamp01(0.8*levels.Bass + 0.3*levels.Flux), true
	case fired.Bass:
		return Bass, common.Clamp01(levels.Bass), true
	case fired.High:
		return High, common.Clamp01(0.9 * levels.High), true
	case fired.Flux:
		return Flux, common.Clamp01(0.8 * levels.Flux), true
	default:
		return Flux, 0.0, false
	}
}

// Snapshot is the slice of shared state a detection pass needs. Each series is
// oldest first, ends with the current frame, and holds at most LongWindow values.
type Snapshot struct {
	Bass []float64
	High []float64
	Flux []float64

	Sensitivity     float64
	EnergyThreshold float64
}

// Thresholds are the dynamic per-band thresholds of one pass
type Thresholds struct {
	Bass float64
	High float64
	Flux float64
}

// Decision is the outcome of evaluating one frame
type Decision struct {
	Fired      Bands
	Levels     Levels
	Thresholds Thresholds
	ShortTerm  Levels
	LongTerm   Levels
	Type       BeatType
	Intensity  float64
}

// BeatDetector fuses per-band onset decisions into a beat decision. It holds
// no mutable state: the engine copies a Snapshot out under its lock and
// evaluates it after releasing the lock.
type BeatDetector struct {
	cfg    config.DetectionConfig
	onsets *OnsetClassifier
}

// NewBeatDetector creates a detector from the detection config
func NewBeatDetector(cfg config.DetectionConfig) *BeatDetector {
	return &BeatDetector{
		cfg:    cfg,
		onsets: NewOnsetClassifier(cfg),
	}
}

// LongWindow is how many trailing values Evaluate looks at
func (bd *BeatDetector) LongWindow() int {
	return max(bd.cfg.LongWindow, bd.cfg.ShortWindow, bd.cfg.MinOnsetHistory)
}

// Evaluate decides whether the frame at the end of the snapshot is a beat.
// It returns false until every series holds MinOnsetHistory values.
func (bd *BeatDetector) Evaluate(s Snapshot) (Decision, bool) {
	minLen := bd.cfg.MinOnsetHistory
	if len(s.Bass) < minLen || len(s.High) < minLen || len(s.Flux) < minLen {
		return Decision{}, false
	}

	d := Decision{
		Levels: Levels{
			Bass: s.Bass[len(s.Bass)-1],
			High: s.High[len(s.High)-1],
			Flux: s.Flux[len(s.Flux)-1],
		},
		ShortTerm: Levels{
			Bass: trailingMean(s.Bass, bd.cfg.ShortWindow),
			High: trailingMean(s.High, bd.cfg.ShortWindow),
			Flux: trailingMean(s.Flux, bd.cfg.ShortWindow),
		},
		LongTerm: Levels{
			Bass: trailingMean(s.Bass, bd.cfg.LongWindow),
			High: trailingMean(s.High, bd.cfg.LongWindow),
			Flux: trailingMean(s.Flux, bd.cfg.LongWindow),
		},
	}

	d.Thresholds = Thresholds{
		Flux: d.LongTerm.Flux * (1 - s.Sensitivity*bd.cfg.FluxSensitivityScale),
		Bass: d.LongTerm.Bass * s.EnergyThreshold,
		High: d.LongTerm.High * s.EnergyThreshold * bd.cfg.HighThresholdScale,
	}

	d.Fired = Bands{
		Flux: bd.onsets.IsTrueOnset(d.Levels.Flux, s.Flux, bd.cfg.FluxOnsetFactor) && d.Levels.Flux > d.Thresholds.Flux,
		Bass: bd.onsets.IsTrueOnset(d.Levels.Bass, s.Bass, bd.cfg.BassOnsetFactor) && d.Levels.Bass > d.Thresholds.Bass,
		High: bd.onsets.IsTrueOnset(d.Levels.High, s.High, bd.cfg.HighOnsetFactor) && d.Levels.High > d.Thresholds.High,
	}

	beatType, intensity, ok := Classify(d.Fired, d.Levels)
	if !ok {
		return d, false
	}
	d.Type = beatType
	d.Intensity = intensity
	return d, true
}

// trailingMean averages the last n values, or all of them when fewer exist
func trailingMean(values []float64, n int) float64 {
	if n <= 0 || n > len(values) {
		n = len(values)
	}
	return common.Mean(values[len(values)-n:])
}
