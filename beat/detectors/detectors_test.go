package detectors

import (
	"math"
	"testing"

	"github.com/RyanBlaney/sonido-pulse/beat/config"
)

func TestIsTrueOnset(t *testing.T) {
	oc := NewOnsetClassifier(config.DefaultDetectionConfig())

	tests := []struct {
		name    string
		history []float64
		factor  float64
		want    bool
	}{
		{name: "too short", history: []float64{0.1, 0.1, 0.1, 0.5}, factor: 1.2, want: false},
		{name: "sharp spike", history: []float64{0.1, 0.1, 0.1, 0.1, 0.5}, factor: 1.3, want: true},
		{name: "spike below floor", history: []float64{0.01, 0.01, 0.01, 0.01, 0.07}, factor: 1.3, want: false},
		{name: "falling value", history: []float64{0.1, 0.1, 0.1, 0.9, 0.5}, factor: 1.2, want: false},
		{name: "rise within local spread", history: []float64{0.30, 0.36, 0.31, 0.35, 0.36}, factor: 1.2, want: false},
		{name: "flat signal", history: []float64{0.4, 0.4, 0.4, 0.4, 0.4}, factor: 1.2, want: false},
		{name: "uses only last five", history: []float64{0.9, 0.9, 0.9, 0.1, 0.1, 0.1, 0.1, 0.5}, factor: 1.4, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := tt.history[len(tt.history)-1]
			if got := oc.IsTrueOnset(current, tt.history, tt.factor); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyEveryCombination(t *testing.T) {
	levels := Levels{Bass: 0.6, High: 0.5, Flux: 0.4}

	tests := []struct {
		fired         Bands
		wantType      BeatType
		wantIntensity float64
		wantOK        bool
	}{
		{fired: Bands{}, wantOK: false},
		{fired: Bands{High: true}, wantType: High, wantIntensity: 0.45, wantOK: true},
		{fired: Bands{Bass: true}, wantType: Bass, wantIntensity: 0.6, wantOK: true},
		{fired: Bands{Bass: true, High: true}, wantType: Bass, wantIntensity: 0.6, wantOK: true},
		{fired: Bands{Flux: true}, wantType: Flux, wantIntensity: 0.32, wantOK: true},
		{fired: Bands{Flux: true, High: true}, wantType: High, wantIntensity: 0.45, wantOK: true},
		{fired: Bands{Flux: true, Bass: true}, wantType: Kick, wantIntensity: 0.6, wantOK: true},
		{fired: Bands{Flux: true, Bass: true, High: true}, wantType: Kick, wantIntensity: 0.6, wantOK: true},
	}

	for _, tt := range tests {
		beatType, intensity, ok := Classify(tt.fired, levels)
		if ok != tt.wantOK {
			t.Fatalf("%+v: ok got %v, want %v", tt.fired, ok, tt.wantOK)
		}
		if !ok {
			continue
		}
		if beatType != tt.wantType {
			t.Fatalf("%+v: type got %v, want %v", tt.fired, beatType, tt.wantType)
		}
		if math.Abs(intensity-tt.wantIntensity) > 1e-12 {
			t.Fatalf("%+v: intensity got %v, want %v", tt.fired, intensity, tt.wantIntensity)
		}
	}
}

func TestClassifyKickIntensityClamped(t *testing.T) {
	_, intensity, _ := Classify(Bands{Flux: true, Bass: true}, Levels{Bass: 1, Flux: 1})
	if intensity != 1 {
		t.Fatalf("kick intensity should clamp to 1, got %v", intensity)
	}
}

func quietSeries(n int, level, last float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = level
	}
	s[n-1] = last
	return s
}

func TestEvaluate(t *testing.T) {
	bd := NewBeatDetector(config.DefaultDetectionConfig())
	threshold := config.LinearThreshold(0.5)

	tests := []struct {
		name     string
		snap     Snapshot
		wantBeat bool
		wantType BeatType
	}{
		{
			name: "not enough history",
			snap: Snapshot{
				Bass: []float64{0.1, 0.9}, High: []float64{0.1, 0.1}, Flux: []float64{0.1, 0.1},
				Sensitivity: 0.5, EnergyThreshold: threshold,
			},
			wantBeat: false,
		},
		{
			name: "kick",
			snap: Snapshot{
				Bass: quietSeries(20, 0.02, 0.5), High: quietSeries(20, 0.02, 0.02), Flux: quietSeries(20, 0.01, 0.4),
				Sensitivity: 0.5, EnergyThreshold: threshold,
			},
			wantBeat: true, wantType: Kick,
		},
		{
			name: "hi-hat",
			snap: Snapshot{
				Bass: quietSeries(20, 0.02, 0.02), High: quietSeries(20, 0.02, 0.4), Flux: quietSeries(20, 0.01, 0.01),
				Sensitivity: 0.5, EnergyThreshold: threshold,
			},
			wantBeat: true, wantType: High,
		},
		{
			name: "steady loud bass is not a beat",
			snap: Snapshot{
				Bass: quietSeries(20, 0.6, 0.6), High: quietSeries(20, 0.02, 0.02), Flux: quietSeries(20, 0.01, 0.01),
				Sensitivity: 0.5, EnergyThreshold: threshold,
			},
			wantBeat: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, beat := bd.Evaluate(tt.snap)
			if beat != tt.wantBeat {
				t.Fatalf("beat: got %v, want %v (decision %+v)", beat, tt.wantBeat, d)
			}
			if beat && d.Type != tt.wantType {
				t.Fatalf("type: got %v, want %v", d.Type, tt.wantType)
			}
		})
	}
}

func TestEvaluateThresholds(t *testing.T) {
	bd := NewBeatDetector(config.DefaultDetectionConfig())
	snap := Snapshot{
		Bass: quietSeries(10, 0.2, 0.2), High: quietSeries(10, 0.1, 0.1), Flux: quietSeries(10, 0.4, 0.4),
		Sensitivity: 0.4, EnergyThreshold: 2.0,
	}

	d, _ := bd.Evaluate(snap)
	if math.Abs(d.Thresholds.Bass-0.4) > 1e-12 {
		t.Fatalf("bass threshold: got %v, want 0.4", d.Thresholds.Bass)
	}
	if math.Abs(d.Thresholds.High-0.24) > 1e-12 {
		t.Fatalf("high threshold: got %v, want 0.24", d.Thresholds.High)
	}
	if math.Abs(d.Thresholds.Flux-0.16) > 1e-12 {
		t.Fatalf("flux threshold: got %v, want 0.16", d.Thresholds.Flux)
	}
}
