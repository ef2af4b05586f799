package beat

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/RyanBlaney/sonido-pulse/beat/config"
	"github.com/RyanBlaney/sonido-pulse/beat/detectors"
	"github.com/RyanBlaney/sonido-pulse/beat/tempo"
	"github.com/RyanBlaney/sonido-pulse/logging"
)

const frameSize = 1024

var frameDuration = time.Second * frameSize / 44100

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingLogger struct {
	logging.NoOpLogger

	mu     sync.Mutex
	errors []string
}

func (r *recordingLogger) Error(err error, msg string, fields ...logging.Fields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

func (r *recordingLogger) WithFields(fields logging.Fields) logging.Logger {
	return r
}

func (r *recordingLogger) WithContext(ctx context.Context) logging.Logger {
	return r
}

func (r *recordingLogger) count(msg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.errors {
		if m == msg {
			n++
		}
	}
	return n
}

func newTestEngine(t *testing.T) (*Engine, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	e := NewEngine(config.DefaultConfig())
	e.now = clock.Now
	e.SetLogger(&logging.NoOpLogger{})
	return e, clock
}

func sine(freq, amplitude float64) []int16 {
	out := make([]int16, frameSize)
	for i := range out {
		out[i] = int16(amplitude * math.Sin(2*math.Pi*freq*float64(i)/44100))
	}
	return out
}

// feedPulses plays a quiet 100Hz tone with a loud burst every period frames
func feedPulses(e *Engine, clock *fakeClock, frames, period int) {
	quiet := sine(100, 500)
	loud := sine(100, 30000)
	for i := 1; i <= frames; i++ {
		clock.Advance(frameDuration)
		if i%period == 0 {
			e.ProcessFrame(loud)
		} else {
			e.ProcessFrame(quiet)
		}
	}
}

func TestLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)

	if err := e.Stop(); !errors.Is(err, ErrNotListening) {
		t.Fatalf("stop before start: got %v", err)
	}

	e.ProcessFrame(sine(100, 5000))
	if s := e.Snapshot(); s.Frames != 0 {
		t.Fatal("frames processed while idle")
	}

	if err := e.Start(nil); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(nil); !errors.Is(err, ErrAlreadyListening) {
		t.Fatalf("double start: got %v", err)
	}
	if !e.IsListening() {
		t.Fatal("expected listening")
	}

	e.SetSensitivity(0.7)
	e.ProcessFrame(sine(100, 5000))
	if e.EnergyLevel() <= 0 {
		t.Fatal("energy level should be positive for a tone")
	}

	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
	if e.EnergyLevel() != 0 {
		t.Fatal("energy level should be 0 when idle")
	}

	if err := e.Start(nil); err != nil {
		t.Fatal(err)
	}
	s := e.Snapshot()
	if s.Frames != 0 || s.BeatCount != 0 {
		t.Fatalf("state not cleared on restart: %+v", s)
	}
	if s.Sensitivity != 0.7 {
		t.Fatalf("sensitivity should survive a restart, got %v", s.Sensitivity)
	}
	if s.Session == "" {
		t.Fatal("expected a session id")
	}
}

func TestDetectsPulsesAndTempo(t *testing.T) {
	e, clock := newTestEngine(t)

	var intensities []float64
	if err := e.Start(func(intensity float64) error {
		intensities = append(intensities, intensity)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	feedPulses(e, clock, 200, 20)

	if len(intensities) < 8 {
		t.Fatalf("expected a beat per burst, got %d", len(intensities))
	}
	for _, v := range intensities {
		if v < 0 || v > 1 {
			t.Fatalf("intensity %v out of range", v)
		}
	}

	bpm, ok := e.EstimateBPM()
	if !ok {
		t.Fatal("expected a tempo")
	}
	want := 60.0 / (20 * frameDuration).Seconds()
	if math.Abs(bpm-want) > 2 {
		t.Fatalf("bpm: got %v, want %v", bpm, want)
	}

	s := e.Snapshot()
	if s.LastBeat.Type != detectors.Kick && s.LastBeat.Type != detectors.Bass {
		t.Fatalf("a bass burst should be KICK or BASS, got %v", s.LastBeat.Type)
	}
}

func TestMinimumBeatInterval(t *testing.T) {
	e, clock := newTestEngine(t)
	if err := e.Start(nil); err != nil {
		t.Fatal(err)
	}

	d := detectors.Decision{Type: detectors.Bass, Intensity: 0.5}
	base := clock.Now()

	tests := []struct {
		offset time.Duration
		want   bool
	}{
		{0, true},
		{3 * time.Millisecond, false},
		{7 * time.Millisecond, false},
		{8 * time.Millisecond, true},
		{14 * time.Millisecond, false},
		{16 * time.Millisecond, true},
	}

	for _, tt := range tests {
		_, _, got := e.commitBeat(d, base.Add(tt.offset))
		if got != tt.want {
			t.Fatalf("beat at +%v: got %v, want %v", tt.offset, got, tt.want)
		}
	}
}

func TestBeatsNeverCloserThanMinimumInterval(t *testing.T) {
	e, clock := newTestEngine(t)
	rng := rand.New(rand.NewSource(7))

	var emitted []time.Time
	if err := e.Start(func(float64) error {
		emitted = append(emitted, clock.Now())
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	quiet := sine(100, 300)
	frames := [][]int16{sine(100, 30000), sine(8000, 20000), sine(3000, 25000)}
	for i := 0; i < 3000; i++ {
		// arrival jitter well below the minimum interval
		clock.Advance(time.Duration(rng.Intn(12)) * time.Millisecond)
		if rng.Intn(4) == 0 {
			e.ProcessFrame(frames[rng.Intn(len(frames))])
		} else {
			e.ProcessFrame(quiet)
		}
	}

	if len(emitted) == 0 {
		t.Fatal("expected some beats")
	}
	minInterval := config.DefaultDetectionConfig().MinBeatInterval
	for i := 1; i < len(emitted); i++ {
		if gap := emitted[i].Sub(emitted[i-1]); gap <= minInterval {
			t.Fatalf("beats %d and %d only %v apart", i-1, i, gap)
		}
	}
}

func TestSilenceResetsThresholds(t *testing.T) {
	e, clock := newTestEngine(t)
	if err := e.Start(nil); err != nil {
		t.Fatal(err)
	}
	e.SetSensitivity(0.85)

	clock.Advance(100 * time.Millisecond)
	if _, _, ok := e.commitBeat(detectors.Decision{Type: detectors.Kick, Intensity: 0.9}, clock.Now()); !ok {
		t.Fatal("beat rejected")
	}

	silence := make([]int16, frameSize)
	for clock.Now().Sub(e.Snapshot().LastBeat.Timestamp) < 7*time.Second {
		clock.Advance(frameDuration)
		e.ProcessFrame(silence)
	}
	if s := e.Snapshot(); s.Sensitivity != 0.85 || e.beatLog.Len() != 1 {
		t.Fatalf("reset fired early: %+v", s)
	}

	for clock.Now().Sub(e.Snapshot().LastBeat.Timestamp) < 8*time.Second+frameDuration {
		clock.Advance(frameDuration)
		e.ProcessFrame(silence)
	}

	s := e.Snapshot()
	if e.beatLog.Len() != 0 || s.RecentBeats != 0 {
		t.Fatalf("beat log should be empty, has %d", e.beatLog.Len())
	}
	if s.Sensitivity != 0.5 {
		t.Fatalf("sensitivity: got %v, want 0.5", s.Sensitivity)
	}
	if math.Abs(s.EnergyThreshold-1.75) > 1e-12 {
		t.Fatalf("energy threshold: got %v, want 1.75", s.EnergyThreshold)
	}
	if _, ok := e.EstimateBPM(); ok {
		t.Fatal("no tempo expected after silence")
	}
}

// seedBeats commits n beats spaced by gap
func seedBeats(t *testing.T, e *Engine, clock *fakeClock, n int, gap time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		clock.Advance(gap)
		if _, _, ok := e.commitBeat(detectors.Decision{Type: detectors.Kick, Intensity: 0.8}, clock.Now()); !ok {
			t.Fatal("beat rejected")
		}
	}
}

func TestTempoEstimateDiscardedAfterReset(t *testing.T) {
	e, clock := newTestEngine(t)
	if err := e.Start(nil); err != nil {
		t.Fatal(err)
	}
	seedBeats(t, e, clock, 6, 500*time.Millisecond)

	// the capture path hits the silence reset while the estimate runs
	e.estimateTempo = func(beats []time.Time, now time.Time, cfg config.TempoConfig) (float64, bool) {
		e.mu.Lock()
		e.checkSilenceLocked(now.Add(9 * time.Second))
		e.mu.Unlock()
		return tempo.Estimate(beats, now, cfg)
	}

	if bpm, ok := e.EstimateBPM(); ok {
		t.Fatalf("estimate from pre-reset beats returned %v", bpm)
	}
	if h := e.tempo.History(); len(h) != 0 {
		t.Fatalf("tempo history after reset: got %v, want empty", h)
	}

	e.estimateTempo = tempo.Estimate
	seedBeats(t, e, clock, 6, 500*time.Millisecond)
	bpm, ok := e.EstimateBPM()
	if !ok || math.Abs(bpm-120) > 1 {
		t.Fatalf("bpm after new beats: got %v %v, want 120", bpm, ok)
	}
	if h := e.tempo.History(); len(h) != 1 {
		t.Fatalf("tempo history: got %v, want one entry", h)
	}
}

func TestConcurrentTempoEstimatesRecordOnce(t *testing.T) {
	e, clock := newTestEngine(t)
	if err := e.Start(nil); err != nil {
		t.Fatal(err)
	}
	seedBeats(t, e, clock, 6, 500*time.Millisecond)

	// both callers miss the cache before either records
	var arrived sync.WaitGroup
	arrived.Add(2)
	e.estimateTempo = func(beats []time.Time, now time.Time, cfg config.TempoConfig) (float64, bool) {
		arrived.Done()
		arrived.Wait()
		return tempo.Estimate(beats, now, cfg)
	}

	results := make([]float64, 2)
	var wg sync.WaitGroup
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = e.EstimateBPM()
		}()
	}
	wg.Wait()

	if h := e.tempo.History(); len(h) != 1 {
		t.Fatalf("tempo history: got %v, want one entry", h)
	}
	if results[0] != results[1] || math.Abs(results[0]-120) > 1 {
		t.Fatalf("results: got %v, want 120 twice", results)
	}
}

func TestCallbackFailuresAreIsolated(t *testing.T) {
	tests := []struct {
		name string
		cb   BeatCallback
		msg  string
	}{
		{
			name: "error",
			cb:   func(float64) error { return errors.New("serial write failed") },
			msg:  "Beat callback failed",
		},
		{
			name: "panic",
			cb:   func(float64) error { panic("led strip unplugged") },
			msg:  "Beat callback panicked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, clock := newTestEngine(t)
			rec := &recordingLogger{}
			e.SetLogger(rec)
			if err := e.Start(tt.cb); err != nil {
				t.Fatal(err)
			}

			feedPulses(e, clock, 100, 20)

			s := e.Snapshot()
			if s.BeatCount < 3 {
				t.Fatalf("detection stopped after callback failure: %d beats", s.BeatCount)
			}
			if got := rec.count(tt.msg); got != int(s.BeatCount) {
				t.Fatalf("logged %d failures for %d beats", got, s.BeatCount)
			}
		})
	}
}

func TestRecalibrateStaysInRange(t *testing.T) {
	e, clock := newTestEngine(t)
	if _, ok := e.Recalibrate(); ok {
		t.Fatal("recalibrate should not run while idle")
	}
	if err := e.Start(nil); err != nil {
		t.Fatal(err)
	}

	feedPulses(e, clock, 5, 20)
	if _, ok := e.Recalibrate(); ok {
		t.Fatal("recalibrate needs 10 history entries")
	}

	feedPulses(e, clock, 120, 20)
	for i := 0; i < 20; i++ {
		c, ok := e.Recalibrate()
		if !ok {
			t.Fatal("expected a calibration")
		}
		if c.Sensitivity < 0.2 || c.Sensitivity > 0.9 {
			t.Fatalf("sensitivity %v out of range", c.Sensitivity)
		}
		if math.Abs(c.EnergyThreshold-config.LinearThreshold(c.Sensitivity)) > 1e-12 {
			t.Fatalf("threshold %v does not follow sensitivity %v", c.EnergyThreshold, c.Sensitivity)
		}
		clock.Advance(50 * time.Millisecond)
	}
}

func TestThresholdPolicy(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetSensitivity(0.5)

	e.SetThresholdPolicy(config.InverseThreshold)
	if _, th := e.Sensitivity(); math.Abs(th-1.75) > 1e-12 {
		t.Fatalf("inverse at 0.5: got %v", th)
	}
	e.SetSensitivity(0.8)
	if _, th := e.Sensitivity(); math.Abs(th-1.3) > 1e-12 {
		t.Fatalf("inverse at 0.8: got %v", th)
	}

	e.SetThresholdPolicy(nil)
	if _, th := e.Sensitivity(); math.Abs(th-2.2) > 1e-12 {
		t.Fatalf("linear at 0.8: got %v", th)
	}
}

func TestSmoothingSetters(t *testing.T) {
	e, _ := newTestEngine(t)

	e.SetSmoothing(0.1)
	e.SetFluxWindow(12)
	s := e.Snapshot()
	if s.Smoothing != 0.3 || s.FluxWindow != 7 {
		t.Fatalf("setters not clamped: alpha %v window %d", s.Smoothing, s.FluxWindow)
	}
}

func TestAnticipation(t *testing.T) {
	e, clock := newTestEngine(t)
	if err := e.Start(nil); err != nil {
		t.Fatal(err)
	}

	d := detectors.Decision{Type: detectors.Kick, Intensity: 0.8}
	for i := 0; i < 6; i++ {
		clock.Advance(500 * time.Millisecond)
		if _, _, ok := e.commitBeat(d, clock.Now()); !ok {
			t.Fatal("beat rejected")
		}
	}
	last := clock.Now()

	pred, ok := e.PredictNextBeat()
	if !ok {
		t.Fatal("expected a prediction")
	}
	// steady 0.5s beats sit on bar position 3, so the next beat is an upbeat
	if got := pred.At.Sub(last); got != 510*time.Millisecond {
		t.Fatalf("prediction: got +%v, want +510ms", got)
	}

	clock.Advance(300 * time.Millisecond)
	if _, ok := e.Anticipate(); ok {
		t.Fatal("pulse before the window opened")
	}

	clock.Advance(150 * time.Millisecond)
	pulse, ok := e.Anticipate()
	if !ok {
		t.Fatal("expected a pulse inside the window")
	}
	if math.Abs(pulse.Intensity-0.36) > 1e-9 {
		t.Fatalf("intensity: got %v, want 0.36", pulse.Intensity)
	}

	clock.Advance(10 * time.Millisecond)
	if _, ok := e.Anticipate(); ok {
		t.Fatal("lockout should suppress a second pulse")
	}

	// a real beat clears the lockout
	clock.Advance(40 * time.Millisecond)
	if _, _, ok := e.commitBeat(d, clock.Now()); !ok {
		t.Fatal("beat rejected")
	}
	clock.Advance(450 * time.Millisecond)
	if _, ok := e.Anticipate(); !ok {
		t.Fatal("expected a pulse after the lockout was cleared")
	}
}

func TestConcurrentFramesAndRecalibration(t *testing.T) {
	e := NewEngine(config.DefaultConfig())
	e.SetLogger(&logging.NoOpLogger{})
	if err := e.Start(func(float64) error { return nil }); err != nil {
		t.Fatal(err)
	}

	quiet := sine(100, 500)
	loud := sine(100, 30000)

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			if i%10 == 0 {
				e.ProcessFrame(loud)
			} else {
				e.ProcessFrame(quiet)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			e.Recalibrate()
			e.EstimateBPM()
			e.Anticipate()
			e.Snapshot()
			e.EnergyLevel()
			if i%50 == 0 {
				e.SetFluxWindow(3 + i%3)
				e.SetSmoothing(0.6)
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("frame processing and recalibration deadlocked")
	}

	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
}
