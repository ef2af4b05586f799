package detectors

import (
	"github.com/RyanBlaney/sonido-pulse/algorithms/common"
	"github.com/RyanBlaney/sonido-pulse/beat/config"
)

// OnsetClassifier is a statistical gate separating local transients from slow
// drift and isolated noise that merely crosses a global threshold.
type OnsetClassifier struct {
	window int
	floor  float64
}

// NewOnsetClassifier creates a classifier using the last cfg.MinOnsetHistory entries
func NewOnsetClassifier(cfg config.DetectionConfig) *OnsetClassifier {
	return &OnsetClassifier{
		window: max(cfg.MinOnsetHistory, 2),
		floor:  cfg.OnsetFloor,
	}
}

// IsTrueOnset reports whether current is a genuine onset. history is oldest
// first and ends with the current frame's value. It needs at least window
// entries and requires all of:
//   - current > mean + thresholdFactor×std over the last window entries
//   - current rose relative to history[len-2]
//   - current exceeds the absolute floor
func (oc *OnsetClassifier) IsTrueOnset(current float64, history []float64, thresholdFactor float64) bool {
	if len(history) < oc.window {
		return false
	}

	mean, std := common.MeanStd(history[len(history)-oc.window:])
	derivative := current - history[len(history)-2]

	return current > mean+thresholdFactor*std &&
		derivative > 0 &&
		current > oc.floor
}
