package beat

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RyanBlaney/sonido-pulse/algorithms/common"
	"github.com/RyanBlaney/sonido-pulse/beat/analyzers"
	"github.com/RyanBlaney/sonido-pulse/beat/anticipation"
	"github.com/RyanBlaney/sonido-pulse/beat/config"
	"github.com/RyanBlaney/sonido-pulse/beat/detectors"
	"github.com/RyanBlaney/sonido-pulse/beat/rhythm"
	"github.com/RyanBlaney/sonido-pulse/beat/sensitivity"
	"github.com/RyanBlaney/sonido-pulse/beat/tempo"
	"github.com/RyanBlaney/sonido-pulse/logging"
)

var (
	ErrAlreadyListening = errors.New("beat engine is already listening")
	ErrNotListening     = errors.New("beat engine is not listening")
)

// BeatCallback receives the intensity of every detected beat. It runs on the
// frame path and must not block. Returned errors and panics are logged.
type BeatCallback func(intensity float64) error

// Engine owns all shared detection state behind one mutex. ProcessFrame is
// called from the capture context; everything else is meant for a control
// loop running at a lower rate.
//
// Lock discipline: mu is never held during FFT, statistics or tempo
// estimation. Those run on copies taken under mu, and the results are
// written back in a second short critical section.
type Engine struct {
	// frameMu serializes ProcessFrame callers; it guards the analyzer, which
	// carries the previous spectrum between frames.
	frameMu  sync.Mutex
	analyzer *analyzers.FrameAnalyzer

	mu sync.Mutex

	cfg         *config.Config
	baseLogger  logging.Logger
	logger      logging.Logger
	now         func() time.Time
	detector    *detectors.BeatDetector
	controller  *sensitivity.Controller
	anticipator *anticipation.Anticipator

	listening     bool
	session       string
	callback      BeatCallback
	resetAnalyzer bool

	smoother *analyzers.Smoother
	energy   *common.RingBuffer
	bass     *common.RingBuffer
	mid      *common.RingBuffer
	high     *common.RingBuffer
	flux     *common.RingBuffer
	latest   analyzers.FeatureSet

	beatLog   *common.Ring[time.Time]
	lastBeat  detectors.BeatEvent
	beatCount uint64
	frames    uint64

	startedAt        time.Time
	lastSilenceReset time.Time

	sensitivity     float64
	energyThreshold float64
	policy          config.ThresholdPolicy

	rhythm *rhythm.Context
	tempo  *tempo.Estimator

	// tempoGen counts tempo resets; an estimate computed from beats copied
	// before a reset is discarded
	tempoGen      uint64
	estimateTempo func([]time.Time, time.Time, config.TempoConfig) (float64, bool)

	anticipationLocked bool
	lockedAt           time.Time
}

// NewEngine builds an idle engine. A nil config uses DefaultConfig.
func NewEngine(cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	history := max(cfg.Detection.HistorySize, 1)
	// a failing actuator reports once per beat otherwise
	logger := logging.NewThrottled(
		logging.WithFields(logging.Fields{"component": "beat_engine"}),
		time.Second,
	)
	e := &Engine{
		analyzer:    analyzers.NewFrameAnalyzer(cfg.Analyzer),
		cfg:         cfg,
		baseLogger:  logger,
		logger:      logger,
		now:         time.Now,
		detector:    detectors.NewBeatDetector(cfg.Detection),
		controller:  sensitivity.NewController(cfg.Sensitivity),
		anticipator: anticipation.NewAnticipator(cfg.Anticipation),
		smoother:    analyzers.NewSmoother(cfg.Smoothing),
		energy:      common.NewRingBuffer(history),
		bass:        common.NewRingBuffer(history),
		mid:         common.NewRingBuffer(history),
		high:        common.NewRingBuffer(history),
		flux:        common.NewRingBuffer(history),
		beatLog:     common.NewRing[time.Time](max(cfg.Detection.BeatLogCapacity, 1)),
		policy:      config.LinearThreshold,
		rhythm:      rhythm.NewContext(cfg.Rhythm),
		tempo:       tempo.NewEstimator(cfg.Tempo),

		estimateTempo: tempo.Estimate,
	}
	e.sensitivity = common.Clamp01(cfg.Sensitivity.Initial)
	e.energyThreshold = e.policy(e.sensitivity)
	return e
}

// SetLogger replaces the engine logger. A nil logger silences the engine.
func (e *Engine) SetLogger(logger logging.Logger) {
	if logger == nil {
		logger = &logging.NoOpLogger{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseLogger = logger
	e.logger = logger
	if e.session != "" {
		e.logger = logger.WithFields(logging.Fields{"session": e.session})
	}
}

// Start clears all rolling state and begins accepting frames. cb may be nil.
func (e *Engine) Start(cb BeatCallback) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listening {
		return ErrAlreadyListening
	}

	e.resetLocked(e.now())
	e.callback = cb
	e.listening = true
	e.session = uuid.NewString()
	e.logger = e.baseLogger.WithFields(logging.Fields{"session": e.session})

	e.logger.Info("Listening started", logging.Fields{
		"sample_rate": e.cfg.Analyzer.SampleRate,
		"frame_size":  e.cfg.Analyzer.FrameSize,
		"sensitivity": e.sensitivity,
		"smoothing":   e.smoother.Alpha(),
		"flux_window": e.smoother.FluxWindow(),
	})
	return nil
}

// Stop stops accepting frames and clears all rolling state
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.listening {
		return ErrNotListening
	}

	e.logger.Info("Listening stopped", logging.Fields{
		"beats":  e.beatCount,
		"frames": e.frames,
	})

	e.listening = false
	e.callback = nil
	e.resetLocked(e.now())
	return nil
}

// IsListening reports whether frames are being processed
func (e *Engine) IsListening() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listening
}

// resetLocked clears the rolling structures. Sensitivity and smoothing
// settings survive a restart.
func (e *Engine) resetLocked(now time.Time) {
	e.energy.Clear()
	e.bass.Clear()
	e.mid.Clear()
	e.high.Clear()
	e.flux.Clear()
	e.latest = analyzers.FeatureSet{}
	e.smoother.Reset()
	e.resetAnalyzer = true

	e.beatLog.Clear()
	e.lastBeat = detectors.BeatEvent{}
	e.beatCount = 0
	e.frames = 0

	e.rhythm.Reset()
	e.tempo.Reset()
	e.tempoGen++

	e.startedAt = now
	e.lastSilenceReset = time.Time{}
	e.anticipationLocked = false
	e.lockedAt = time.Time{}
}

// ProcessFrame runs one frame of mono int16 PCM through the pipeline and
// fires the beat callback when a beat is detected. Frames are dropped while
// the engine is not listening.
func (e *Engine) ProcessFrame(samples []int16) {
	if len(samples) == 0 {
		return
	}

	e.frameMu.Lock()
	defer e.frameMu.Unlock()

	e.mu.Lock()
	if !e.listening {
		e.mu.Unlock()
		return
	}
	resetAnalyzer := e.resetAnalyzer
	e.resetAnalyzer = false
	e.mu.Unlock()

	if resetAnalyzer {
		e.analyzer.Reset()
	}
	raw := e.analyzer.Analyze(samples)
	now := e.now()

	snapshot, ok := e.recordFeatures(raw, now)
	if !ok {
		return
	}

	decision, ok := e.detector.Evaluate(snapshot)
	if !ok {
		return
	}

	event, cb, ok := e.commitBeat(decision, now)
	if !ok {
		return
	}
	e.notify(cb, event)
}

// recordFeatures smooths the raw features, appends them to the histories and
// copies out what the detector needs.
func (e *Engine) recordFeatures(raw analyzers.FeatureSet, now time.Time) (detectors.Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.listening {
		return detectors.Snapshot{}, false
	}

	f := e.smoother.Apply(raw)
	e.energy.Push(f.Energy)
	e.bass.Push(f.Bass)
	e.mid.Push(f.Mid)
	e.high.Push(f.High)
	e.flux.Push(f.Flux)
	e.latest = f
	e.frames++

	e.checkSilenceLocked(now)

	window := e.detector.LongWindow()
	return detectors.Snapshot{
		Bass:            e.bass.Last(window),
		High:            e.high.Last(window),
		Flux:            e.flux.Last(window),
		Sensitivity:     e.sensitivity,
		EnergyThreshold: e.energyThreshold,
	}, true
}

// checkSilenceLocked relaxes the thresholds to baseline and drops the beat log
// once no beat has fired for SilenceReset. It re-arms after another full period.
func (e *Engine) checkSilenceLocked(now time.Time) {
	period := e.cfg.Detection.SilenceReset
	if period <= 0 {
		return
	}

	reference := e.startedAt
	if e.lastBeat.Timestamp.After(reference) {
		reference = e.lastBeat.Timestamp
	}
	if e.lastSilenceReset.After(reference) {
		reference = e.lastSilenceReset
	}
	if now.Sub(reference) < period {
		return
	}

	e.sensitivity = common.Clamp01(e.cfg.Sensitivity.Baseline)
	e.energyThreshold = e.policy(e.sensitivity)
	e.beatLog.Clear()
	e.tempo.Reset()
	e.tempoGen++
	e.lastSilenceReset = now

	e.logger.Debug("No beats detected, thresholds relaxed to baseline", logging.Fields{
		"silence":          now.Sub(reference).String(),
		"sensitivity":      e.sensitivity,
		"energy_threshold": e.energyThreshold,
	})
}

// commitBeat applies the minimum inter-beat interval and records an accepted
// beat in the shared state.
func (e *Engine) commitBeat(d detectors.Decision, now time.Time) (detectors.BeatEvent, BeatCallback, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.listening {
		return detectors.BeatEvent{}, nil, false
	}
	if !e.lastBeat.Timestamp.IsZero() && now.Sub(e.lastBeat.Timestamp) <= e.cfg.Detection.MinBeatInterval {
		return detectors.BeatEvent{}, nil, false
	}

	event := detectors.BeatEvent{
		Timestamp: now,
		Intensity: d.Intensity,
		Type:      d.Type,
	}

	e.lastBeat = event
	e.beatCount++
	e.beatLog.Push(now)
	e.rhythm.AddBeat(now, event.Intensity, event.Type)
	e.anticipationLocked = false

	return event, e.callback, true
}

// notify calls the beat callback outside the lock. Failures are logged and
// never reach the capture context.
func (e *Engine) notify(cb BeatCallback, event detectors.BeatEvent) {
	if cb == nil {
		return
	}

	logger := e.currentLogger()
	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Errorf("panic: %v", r), "Beat callback panicked", logging.Fields{
				"type":      event.Type.String(),
				"intensity": event.Intensity,
			})
		}
	}()

	if err := cb(event.Intensity); err != nil {
		logger.Error(err, "Beat callback failed", logging.Fields{
			"type":      event.Type.String(),
			"intensity": event.Intensity,
		})
	}
}

func (e *Engine) currentLogger() logging.Logger {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.logger
}

// recentBeatsLocked copies the beat log entries inside the trailing window
func (e *Engine) recentBeatsLocked(now time.Time) []time.Time {
	cutoff := now.Add(-e.cfg.Detection.BeatLogWindow)
	out := make([]time.Time, 0, e.beatLog.Len())
	for i, n := 0, e.beatLog.Len(); i < n; i++ {
		if ts := e.beatLog.At(i); ts.After(cutoff) {
			out = append(out, ts)
		}
	}
	return out
}

// EstimateBPM returns the stable tempo, or false when there are too few
// recent beats. Results are cached for the tempo CacheTTL.
func (e *Engine) EstimateBPM() (float64, bool) {
	now := e.now()

	e.mu.Lock()
	if bpm, ok, fresh := e.tempo.Cached(now); fresh {
		e.mu.Unlock()
		return bpm, ok
	}
	beats := e.recentBeatsLocked(now)
	gen := e.tempoGen
	e.mu.Unlock()

	raw, ok := e.estimateTempo(beats, now, e.cfg.Tempo)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tempoGen != gen {
		return 0.0, false
	}
	// another caller recorded while this one was estimating
	if bpm, ok, fresh := e.tempo.Cached(now); fresh {
		return bpm, ok
	}
	return e.tempo.Record(raw, ok, now)
}

// Calibration describes one sensitivity recalibration
type Calibration struct {
	Measurements    sensitivity.Measurements
	Target          float64
	Sensitivity     float64
	EnergyThreshold float64
	BPM             float64
	HasTempo        bool
}

// Recalibrate adapts sensitivity to the recent signal. It reports false when
// the engine is idle or the histories are still too short.
func (e *Engine) Recalibrate() (Calibration, bool) {
	now := e.now()

	e.mu.Lock()
	if !e.listening {
		e.mu.Unlock()
		return Calibration{}, false
	}
	bass := e.bass.Values()
	high := e.high.Values()
	beats := e.recentBeatsLocked(now)
	reference := e.startedAt
	if e.lastBeat.Timestamp.After(reference) {
		reference = e.lastBeat.Timestamp
	}
	e.mu.Unlock()

	m, ok := e.controller.Measure(bass, high, beats, reference, now)
	if !ok {
		return Calibration{}, false
	}
	target := e.controller.Target(m)
	bpm, hasTempo := e.EstimateBPM()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.listening {
		return Calibration{}, false
	}
	e.sensitivity = e.controller.Blend(e.sensitivity, target)
	e.energyThreshold = e.policy(e.sensitivity)

	c := Calibration{
		Measurements:    m,
		Target:          target,
		Sensitivity:     e.sensitivity,
		EnergyThreshold: e.energyThreshold,
		BPM:             bpm,
		HasTempo:        hasTempo,
	}
	e.logger.Debug("Sensitivity recalibrated", logging.Fields{
		"bass_mean":        m.BassMean,
		"density":          m.Density,
		"variability":      m.Variability,
		"target":           target,
		"sensitivity":      c.Sensitivity,
		"energy_threshold": c.EnergyThreshold,
		"bpm":              bpm,
	})
	return c, true
}

// PredictNextBeat predicts when the next beat lands from the stable tempo,
// the last beat and the rhythm pattern.
func (e *Engine) PredictNextBeat() (anticipation.Prediction, bool) {
	bpm, ok := e.EstimateBPM()
	if !ok {
		return anticipation.Prediction{}, false
	}

	e.mu.Lock()
	last := e.lastBeat.Timestamp
	next := e.rhythm.NextPosition()
	confidence := e.rhythm.Confidence()
	e.mu.Unlock()

	return e.anticipator.Predict(last, bpm, next, confidence)
}

// Anticipate returns an anticipatory pulse when now falls inside the window
// before the predicted beat. Only one pulse fires per prediction: the lockout
// clears when a real beat fires or after the lockout period.
func (e *Engine) Anticipate() (anticipation.Pulse, bool) {
	pred, ok := e.PredictNextBeat()
	if !ok {
		return anticipation.Pulse{}, false
	}

	now := e.now()
	pulse, inWindow := e.anticipator.PulseAt(pred, now)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.anticipationLocked {
		if now.Sub(e.lockedAt) < e.cfg.Anticipation.Lockout {
			return anticipation.Pulse{}, false
		}
		e.anticipationLocked = false
	}
	if !inWindow || !e.listening {
		return anticipation.Pulse{}, false
	}

	e.anticipationLocked = true
	e.lockedAt = now
	return pulse, true
}

// SetSensitivity sets the sensitivity (clamped to [0,1]) and derives the
// energy threshold from the threshold policy.
func (e *Engine) SetSensitivity(s float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sensitivity = common.Clamp01(s)
	e.energyThreshold = e.policy(e.sensitivity)
}

// Sensitivity returns the current sensitivity and energy threshold
func (e *Engine) Sensitivity() (float64, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sensitivity, e.energyThreshold
}

// SetThresholdPolicy swaps the sensitivity→threshold mapping. nil restores
// the linear default.
func (e *Engine) SetThresholdPolicy(policy config.ThresholdPolicy) {
	if policy == nil {
		policy = config.LinearThreshold
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = policy
	e.energyThreshold = policy(e.sensitivity)
}

// SetSmoothing sets the EMA coefficient, clamped to [0.3, 0.9]
func (e *Engine) SetSmoothing(alpha float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.smoother.SetAlpha(alpha)
}

// SetFluxWindow sets the flux window length, clamped to 1–7 samples
func (e *Engine) SetFluxWindow(n int) {
	weights := analyzers.FluxWeights(n)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.smoother.SetFluxWeights(weights)
}

// EnergyLevel returns the latest smoothed overall energy, 0 when idle
func (e *Engine) EnergyLevel() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.listening {
		return 0.0
	}
	return e.latest.Energy
}

// State is a point-in-time copy of the engine state for control loops
type State struct {
	Listening       bool
	Session         string
	Features        analyzers.FeatureSet
	Sensitivity     float64
	EnergyThreshold float64
	Smoothing       float64
	FluxWindow      int
	Pattern         []detectors.BeatType
	Confidence      float64
	BarPosition     int
	LastBeat        detectors.BeatEvent
	RecentBeats     int
	BeatCount       uint64
	Frames          uint64
}

// Snapshot copies the current state
func (e *Engine) Snapshot() State {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	pattern, confidence := e.rhythm.Pattern()
	return State{
		Listening:       e.listening,
		Session:         e.session,
		Features:        e.latest,
		Sensitivity:     e.sensitivity,
		EnergyThreshold: e.energyThreshold,
		Smoothing:       e.smoother.Alpha(),
		FluxWindow:      e.smoother.FluxWindow(),
		Pattern:         pattern,
		Confidence:      confidence,
		BarPosition:     e.rhythm.Position(),
		LastBeat:        e.lastBeat,
		RecentBeats:     len(e.recentBeatsLocked(now)),
		BeatCount:       e.beatCount,
		Frames:          e.frames,
	}
}
