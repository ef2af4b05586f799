package anticipation

import (
	"math"
	"testing"
	"time"

	"github.com/RyanBlaney/sonido-pulse/beat/config"
)

var origin = time.Unix(0, 0).Add(time.Hour)

func TestPredict(t *testing.T) {
	a := NewAnticipator(config.DefaultAnticipationConfig())

	tests := []struct {
		name       string
		position   int
		confidence float64
		want       time.Duration
	}{
		{name: "no pattern", position: 0, confidence: 0, want: 500 * time.Millisecond},
		{name: "downbeat", position: 0, confidence: 0.6, want: 485 * time.Millisecond},
		{name: "second beat", position: 1, confidence: 0.6, want: 510 * time.Millisecond},
		{name: "third beat", position: 2, confidence: 0.6, want: 500 * time.Millisecond},
		{name: "fourth beat", position: 3, confidence: 0.6, want: 510 * time.Millisecond},
		{name: "at gate", position: 0, confidence: 0.4, want: 500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, ok := a.Predict(origin, 120, tt.position, tt.confidence)
			if !ok {
				t.Fatal("expected a prediction")
			}
			if got := pred.At.Sub(origin); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPredictNeedsTempoAndBeat(t *testing.T) {
	a := NewAnticipator(config.DefaultAnticipationConfig())
	if _, ok := a.Predict(origin, 0, 0, 1); ok {
		t.Fatal("zero bpm should not predict")
	}
	if _, ok := a.Predict(time.Time{}, 120, 0, 1); ok {
		t.Fatal("missing last beat should not predict")
	}
}

func TestPulseRamp(t *testing.T) {
	a := NewAnticipator(config.DefaultAnticipationConfig())
	pred := Prediction{At: origin.Add(time.Second), Position: 2}

	if got := a.Window(pred); got != 100*time.Millisecond {
		t.Fatalf("window: got %v", got)
	}
	if _, ok := a.PulseAt(pred, origin.Add(850*time.Millisecond)); ok {
		t.Fatal("pulse before the window opened")
	}
	if _, ok := a.PulseAt(pred, origin.Add(time.Second)); ok {
		t.Fatal("pulse at the predicted time")
	}

	early, ok := a.PulseAt(pred, origin.Add(925*time.Millisecond))
	if !ok {
		t.Fatal("expected a pulse inside the window")
	}
	late, _ := a.PulseAt(pred, origin.Add(975*time.Millisecond))
	if math.Abs(early.Intensity-0.125) > 1e-9 || math.Abs(late.Intensity-0.375) > 1e-9 {
		t.Fatalf("ramp: got %v then %v", early.Intensity, late.Intensity)
	}
}

func TestPulseDownbeatScaling(t *testing.T) {
	a := NewAnticipator(config.DefaultAnticipationConfig())
	pred := Prediction{At: origin.Add(time.Second), Downbeat: true, Confidence: 1}

	if got := a.Window(pred); got != 225*time.Millisecond {
		t.Fatalf("window: got %v, want 225ms", got)
	}

	p, ok := a.PulseAt(pred, origin.Add(time.Second-time.Nanosecond))
	if !ok {
		t.Fatal("expected a pulse")
	}
	if math.Abs(p.Intensity-0.84) > 1e-6 {
		t.Fatalf("intensity near the beat: got %v, want ~0.84", p.Intensity)
	}
}
