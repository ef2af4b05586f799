package anticipation

import (
	"time"

	"github.com/RyanBlaney/sonido-pulse/algorithms/common"
	"github.com/RyanBlaney/sonido-pulse/beat/config"
)

// Prediction is the expected time of the next beat
type Prediction struct {
	At         time.Time
	Position   int // 0-based bar position of the predicted beat
	Downbeat   bool
	Confidence float64 // rhythm pattern confidence the prediction was made with
}

// Pulse is an anticipatory output value fired ahead of a predicted beat
type Pulse struct {
	Intensity float64
	Lead      time.Duration // time remaining until the predicted beat
}

// Anticipator turns the current tempo and rhythm state into beat predictions.
// It holds no state; lockout bookkeeping lives with the caller.
type Anticipator struct {
	cfg config.AnticipationConfig
}

func NewAnticipator(cfg config.AnticipationConfig) *Anticipator {
	return &Anticipator{cfg: cfg}
}

// Predict returns last + 60/bpm. With a pattern confidence above the gate a
// predicted downbeat is pulled earlier and beats on positions 1 and 3 are
// pushed later.
func (a *Anticipator) Predict(last time.Time, bpm float64, nextPosition int, confidence float64) (Prediction, bool) {
	if last.IsZero() || bpm <= 0 {
		return Prediction{}, false
	}

	interval := time.Duration(60.0 / bpm * float64(time.Second))
	pred := Prediction{
		At:         last.Add(interval),
		Position:   nextPosition,
		Downbeat:   nextPosition == 0,
		Confidence: confidence,
	}

	if confidence > a.cfg.ConfidenceGate {
		switch nextPosition {
		case 0:
			pred.At = pred.At.Add(-a.cfg.DownbeatLead)
		case 1, 3:
			pred.At = pred.At.Add(a.cfg.UpbeatLag)
		}
	}
	return pred, true
}

// Window is how long before the predicted time a pulse may fire
func (a *Anticipator) Window(pred Prediction) time.Duration {
	base := a.cfg.BeatWindow
	if pred.Downbeat {
		base = a.cfg.DownbeatWindow
	}
	return time.Duration(float64(base) * (1 + pred.Confidence*a.cfg.WindowConfidenceScale))
}

// PulseAt reports the pulse for now, if now lies inside the window before
// pred.At. Intensity ramps linearly from 0 at the window start to the cap at
// the predicted time.
func (a *Anticipator) PulseAt(pred Prediction, now time.Time) (Pulse, bool) {
	window := a.Window(pred)
	lead := pred.At.Sub(now)
	if window <= 0 || lead <= 0 || lead > window {
		return Pulse{}, false
	}

	limit := a.cfg.BeatCap
	if pred.Downbeat {
		limit = a.cfg.DownbeatCap
	}
	limit *= 1 + pred.Confidence*a.cfg.IntensityConfidenceScale

	progress := 1 - float64(lead)/float64(window)
	return Pulse{
		Intensity: common.Clamp01(progress * limit),
		Lead:      lead,
	}, true
}
