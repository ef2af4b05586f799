package config

import "time"

// Config gathers every tunable of the beat engine. DefaultConfig returns the
// calibrated values; callers adjust fields before building an engine.
type Config struct {
	Analyzer     AnalyzerConfig     `json:"analyzer"`
	Smoothing    SmoothingConfig    `json:"smoothing"`
	Detection    DetectionConfig    `json:"detection"`
	Tempo        TempoConfig        `json:"tempo"`
	Rhythm       RhythmConfig       `json:"rhythm"`
	Sensitivity  SensitivityConfig  `json:"sensitivity"`
	Anticipation AnticipationConfig `json:"anticipation"`
}

// Band is an inclusive frequency span with the empirical constant its summed
// magnitude is divided by.
type Band struct {
	LowHz         float64 `json:"low_hz"`
	HighHz        float64 `json:"high_hz"`
	Normalization float64 `json:"normalization"`
}

type AnalyzerConfig struct {
	SampleRate int `json:"sample_rate"`
	FrameSize  int `json:"frame_size"` // 1024 or 2048

	// Normalization constants are calibrated for raw int16 amplitudes
	EnergyNormalization float64 `json:"energy_normalization"`
	Bass                Band    `json:"bass"`
	Mid                 Band    `json:"mid"`
	High                Band    `json:"high"`
	FluxNormalization   float64 `json:"flux_normalization"`

	// DCCutoffHz enables a DC blocking filter ahead of analysis; 0 disables it
	DCCutoffHz float64 `json:"dc_cutoff_hz"`
}

type SmoothingConfig struct {
	Alpha      float64 `json:"alpha"`       // EMA weight of the newest value, [0.3, 0.9]
	FluxWindow int     `json:"flux_window"` // Hamming-weighted flux window, 1-7 samples
}

type DetectionConfig struct {
	HistorySize     int `json:"history_size"`
	ShortWindow     int `json:"short_window"`
	LongWindow      int `json:"long_window"`
	MinOnsetHistory int `json:"min_onset_history"`

	OnsetFloor      float64 `json:"onset_floor"`
	FluxOnsetFactor float64 `json:"flux_onset_factor"`
	BassOnsetFactor float64 `json:"bass_onset_factor"`
	HighOnsetFactor float64 `json:"high_onset_factor"`

	FluxSensitivityScale float64 `json:"flux_sensitivity_scale"` // flux threshold = long × (1 − s×scale)
	HighThresholdScale   float64 `json:"high_threshold_scale"`   // high threshold = long × energy_threshold × scale

	MinBeatInterval time.Duration `json:"min_beat_interval"`
	SilenceReset    time.Duration `json:"silence_reset"`
	BeatLogWindow   time.Duration `json:"beat_log_window"`
	BeatLogCapacity int           `json:"beat_log_capacity"`
}

type TempoConfig struct {
	Window        time.Duration `json:"window"`
	MinBeats      int           `json:"min_beats"`
	ClusterGap    time.Duration `json:"cluster_gap"`
	MinClustered  int           `json:"min_clustered"`
	MinInterval   time.Duration `json:"min_interval"` // exclusive
	MaxInterval   time.Duration `json:"max_interval"` // exclusive
	MinIntervals  int           `json:"min_intervals"`
	HistogramBins int           `json:"histogram_bins"`
	OctaveHigh    float64       `json:"octave_high"` // halve above
	OctaveLow     float64       `json:"octave_low"`  // double below
	HistorySize   int           `json:"history_size"`
	CacheTTL      time.Duration `json:"cache_ttl"`
}

type RhythmConfig struct {
	HistorySize     int           `json:"history_size"`
	BeatsPerBar     int           `json:"beats_per_bar"`
	MinInterval     time.Duration `json:"min_interval"`
	MaxInterval     time.Duration `json:"max_interval"`
	FourBeatMatches int           `json:"four_beat_matches"` // out of 8
	TwoBeatMatches  int           `json:"two_beat_matches"`  // out of 4
	ConfidenceDecay float64       `json:"confidence_decay"`
}

type SensitivityConfig struct {
	Initial    float64 `json:"initial"`
	Baseline   float64 `json:"baseline"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	MinHistory int     `json:"min_history"`

	DensityWindow time.Duration `json:"density_window"`

	QuietLevel float64 `json:"quiet_level"`
	LoudLevel  float64 `json:"loud_level"`
	LevelStep  float64 `json:"level_step"`

	DenseRate   float64 `json:"dense_rate"`  // beats/s
	SparseRate  float64 `json:"sparse_rate"` // beats/s
	DensityStep float64 `json:"density_step"`

	LowVariability  float64 `json:"low_variability"`
	HighVariability float64 `json:"high_variability"`
	VariabilityStep float64 `json:"variability_step"`

	SilenceAfter   time.Duration `json:"silence_after"`
	SilenceMaxStep float64       `json:"silence_max_step"`

	// Inertia is the weight kept from the previous sensitivity when blending
	Inertia float64 `json:"inertia"`
}

type AnticipationConfig struct {
	ConfidenceGate float64       `json:"confidence_gate"`
	DownbeatLead   time.Duration `json:"downbeat_lead"`
	UpbeatLag      time.Duration `json:"upbeat_lag"`

	DownbeatWindow        time.Duration `json:"downbeat_window"`
	BeatWindow            time.Duration `json:"beat_window"`
	WindowConfidenceScale float64       `json:"window_confidence_scale"`

	DownbeatCap              float64 `json:"downbeat_cap"`
	BeatCap                  float64 `json:"beat_cap"`
	IntensityConfidenceScale float64 `json:"intensity_confidence_scale"`

	Lockout time.Duration `json:"lockout"`
}

// DefaultConfig returns the calibrated defaults for 44.1kHz mono int16 capture
func DefaultConfig() *Config {
	return &Config{
		Analyzer:     DefaultAnalyzerConfig(),
		Smoothing:    DefaultSmoothingConfig(),
		Detection:    DefaultDetectionConfig(),
		Tempo:        DefaultTempoConfig(),
		Rhythm:       DefaultRhythmConfig(),
		Sensitivity:  DefaultSensitivityConfig(),
		Anticipation: DefaultAnticipationConfig(),
	}
}

func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		SampleRate:          44100,
		FrameSize:           1024,
		EnergyNormalization: 10000.0,
		Bass:                Band{LowHz: 60, HighHz: 250, Normalization: 40_000_000},
		Mid:                 Band{LowHz: 500, HighHz: 2000, Normalization: 100_000_000},
		High:                Band{LowHz: 5000, HighHz: 15000, Normalization: 50_000_000},
		FluxNormalization:   100_000_000,
	}
}

func DefaultSmoothingConfig() SmoothingConfig {
	return SmoothingConfig{
		Alpha:      0.7,
		FluxWindow: 3,
	}
}

func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		HistorySize:          50,
		ShortWindow:          5,
		LongWindow:           20,
		MinOnsetHistory:      5,
		OnsetFloor:           0.08,
		FluxOnsetFactor:      1.3,
		BassOnsetFactor:      1.2,
		HighOnsetFactor:      1.4,
		FluxSensitivityScale: 1.5,
		HighThresholdScale:   1.2,
		MinBeatInterval:      7 * time.Millisecond,
		SilenceReset:         8 * time.Second,
		BeatLogWindow:        10 * time.Second,
		BeatLogCapacity:      256,
	}
}

func DefaultTempoConfig() TempoConfig {
	return TempoConfig{
		Window:        10 * time.Second,
		MinBeats:      5,
		ClusterGap:    250 * time.Millisecond,
		MinClustered:  4,
		MinInterval:   250 * time.Millisecond,
		MaxInterval:   1500 * time.Millisecond,
		MinIntervals:  3,
		HistogramBins: 8,
		OctaveHigh:    160,
		OctaveLow:     70,
		HistorySize:   5,
		CacheTTL:      100 * time.Millisecond,
	}
}

func DefaultRhythmConfig() RhythmConfig {
	return RhythmConfig{
		HistorySize:     8,
		BeatsPerBar:     4,
		MinInterval:     200 * time.Millisecond,
		MaxInterval:     time.Second,
		FourBeatMatches: 6,
		TwoBeatMatches:  2,
		ConfidenceDecay: 0.1,
	}
}

func DefaultSensitivityConfig() SensitivityConfig {
	return SensitivityConfig{
		Initial:         0.5,
		Baseline:        0.5,
		Min:             0.2,
		Max:             0.9,
		MinHistory:      10,
		DensityWindow:   5 * time.Second,
		QuietLevel:      0.1,
		LoudLevel:       0.4,
		LevelStep:       0.15,
		DenseRate:       2.5,
		SparseRate:      0.5,
		DensityStep:     0.1,
		LowVariability:  0.3,
		HighVariability: 0.7,
		VariabilityStep: 0.08,
		SilenceAfter:    3 * time.Second,
		SilenceMaxStep:  0.2,
		Inertia:         0.7,
	}
}

func DefaultAnticipationConfig() AnticipationConfig {
	return AnticipationConfig{
		ConfidenceGate:           0.4,
		DownbeatLead:             15 * time.Millisecond,
		UpbeatLag:                10 * time.Millisecond,
		DownbeatWindow:           150 * time.Millisecond,
		BeatWindow:               100 * time.Millisecond,
		WindowConfidenceScale:    0.5,
		DownbeatCap:              0.7,
		BeatCap:                  0.5,
		IntensityConfidenceScale: 0.2,
		Lockout:                  500 * time.Millisecond,
	}
}
