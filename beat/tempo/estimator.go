package tempo

import (
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/RyanBlaney/sonido-pulse/algorithms/common"
	"github.com/RyanBlaney/sonido-pulse/beat/config"
)

// Estimate derives a raw BPM from beat timestamps. It only looks at beats in
// the trailing cfg.Window before now and reports false when there are too few
// beats, clusters or plausible intervals. It touches no shared state.
func Estimate(timestamps []time.Time, now time.Time, cfg config.TempoConfig) (float64, bool) {
	cutoff := now.Add(-cfg.Window)
	recent := make([]time.Time, 0, len(timestamps))
	for _, ts := range timestamps {
		if !ts.Before(cutoff) {
			recent = append(recent, ts)
		}
	}
	if len(recent) < cfg.MinBeats {
		return 0.0, false
	}

	slices.SortFunc(recent, func(a, b time.Time) int { return a.Compare(b) })

	clustered := cluster(recent, cfg.ClusterGap)
	if len(clustered) < cfg.MinClustered {
		return 0.0, false
	}

	minIv := cfg.MinInterval.Seconds()
	maxIv := cfg.MaxInterval.Seconds()
	intervals := make([]float64, 0, len(clustered)-1)
	for i := 1; i < len(clustered); i++ {
		iv := clustered[i].Sub(clustered[i-1]).Seconds()
		if iv > minIv && iv < maxIv {
			intervals = append(intervals, iv)
		}
	}
	if len(intervals) < cfg.MinIntervals {
		return 0.0, false
	}

	beatPeriod := modalMean(intervals, cfg.HistogramBins)
	if beatPeriod <= 0 {
		return 0.0, false
	}

	return OctaveCorrect(60.0/beatPeriod, cfg.OctaveLow, cfg.OctaveHigh), true
}

// cluster merges beats closer than gap to the last kept beat, keeping the
// first of each group. Input must be sorted.
func cluster(sorted []time.Time, gap time.Duration) []time.Time {
	if len(sorted) == 0 {
		return nil
	}
	kept := []time.Time{sorted[0]}
	for _, ts := range sorted[1:] {
		if ts.Sub(kept[len(kept)-1]) < gap {
			continue
		}
		kept = append(kept, ts)
	}
	return kept
}

// modalMean builds a histogram of the intervals and averages only those in
// the fullest bin, which keeps syncopated off-beat intervals out of the mean.
func modalMean(intervals []float64, bins int) float64 {
	sorted := make([]float64, len(intervals))
	copy(sorted, intervals)
	slices.Sort(sorted)

	lo, hi := sorted[0], sorted[len(sorted)-1]
	if bins < 1 || hi-lo < 1e-9 {
		return common.Mean(sorted)
	}

	dividers := make([]float64, bins+1)
	floats.Span(dividers, lo, hi)
	// the top divider is exclusive in gonum, nudge it so hi lands in the last bin
	dividers[bins] = math.Nextafter(hi, math.Inf(1))

	counts := stat.Histogram(nil, dividers, sorted, nil)
	modal := floats.MaxIdx(counts)

	members := make([]float64, 0, len(sorted))
	for _, iv := range sorted {
		if iv >= dividers[modal] && iv < dividers[modal+1] {
			members = append(members, iv)
		}
	}
	if len(members) == 0 {
		return common.Mean(sorted)
	}
	return common.Mean(members)
}

// OctaveCorrect halves tempos above high and doubles tempos below low
func OctaveCorrect(bpm, low, high float64) float64 {
	if bpm > high {
		return bpm / 2
	}
	if bpm < low {
		return bpm * 2
	}
	return bpm
}

// Estimator holds the tempo state: the last few raw estimates and a short
// lived cache of the stable (median) BPM. It is not safe for concurrent use;
// the engine guards it with its lock and runs Estimate outside of it.
type Estimator struct {
	cfg     config.TempoConfig
	history *common.RingBuffer

	cached   float64
	cachedOK bool
	cachedAt time.Time
	hasCache bool
}

// NewEstimator creates the tempo state
func NewEstimator(cfg config.TempoConfig) *Estimator {
	return &Estimator{
		cfg:     cfg,
		history: common.NewRingBuffer(max(cfg.HistorySize, 1)),
	}
}

// Cached returns the cached stable BPM when it was computed less than
// CacheTTL before now; fresh is false otherwise.
func (e *Estimator) Cached(now time.Time) (bpm float64, ok bool, fresh bool) {
	if !e.hasCache {
		return 0.0, false, false
	}
	age := now.Sub(e.cachedAt)
	if age < 0 || age >= e.cfg.CacheTTL {
		return e.cached, e.cachedOK, false
	}
	return e.cached, e.cachedOK, true
}

// Record folds a raw estimate into the rolling history and caches the median.
// A missing estimate is cached as missing.
func (e *Estimator) Record(raw float64, ok bool, now time.Time) (float64, bool) {
	e.hasCache = true
	e.cachedAt = now

	if !ok {
		e.cached, e.cachedOK = 0.0, false
		return e.cached, e.cachedOK
	}

	e.history.Push(raw)
	e.cached, e.cachedOK = common.Median(e.history.Values()), true
	return e.cached, e.cachedOK
}

// Estimate is the single-threaded convenience: cache lookup, raw estimate, record
func (e *Estimator) Estimate(timestamps []time.Time, now time.Time) (float64, bool) {
	if bpm, ok, fresh := e.Cached(now); fresh {
		return bpm, ok
	}
	raw, ok := Estimate(timestamps, now, e.cfg)
	return e.Record(raw, ok, now)
}

// History returns the recent raw estimates, oldest first
func (e *Estimator) History() []float64 {
	return e.history.Values()
}

// Reset clears the history and cache
func (e *Estimator) Reset() {
	e.history.Clear()
	e.cached, e.cachedOK, e.hasCache = 0.0, false, false
	e.cachedAt = time.Time{}
}
