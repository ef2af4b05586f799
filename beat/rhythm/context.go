package rhythm

import (
	"math"
	"slices"
	"time"

	"github.com/RyanBlaney/sonido-pulse/algorithms/common"
	"github.com/RyanBlaney/sonido-pulse/beat/config"
	"github.com/RyanBlaney/sonido-pulse/beat/detectors"
)

// Strength is one entry of the beat-strength history
type Strength struct {
	Timestamp time.Time
	Intensity float64
	Type      detectors.BeatType
}

// Position is one entry of the bar-position history
type Position struct {
	Timestamp time.Time
	Bar       int // 1..BeatsPerBar
}

// Context tracks recent beat types and bar positions and infers a repeating
// 2- or 4-beat pattern with a confidence score. Not safe for concurrent use.
type Context struct {
	cfg config.RhythmConfig

	strengths *common.Ring[Strength]
	positions *common.Ring[Position]

	pattern    []detectors.BeatType
	confidence float64
}

// NewContext creates an empty rhythm context
func NewContext(cfg config.RhythmConfig) *Context {
	return &Context{
		cfg:       cfg,
		strengths: common.NewRing[Strength](cfg.HistorySize),
		positions: common.NewRing[Position](cfg.HistorySize),
	}
}

// AddBeat records a beat, estimates its bar position and re-runs pattern detection
func (c *Context) AddBeat(ts time.Time, intensity float64, beatType detectors.BeatType) {
	bar := 1
	if prev, ok := c.positions.Latest(); ok {
		bar = c.barPosition(ts.Sub(prev.Timestamp))
	}

	c.strengths.Push(Strength{Timestamp: ts, Intensity: intensity, Type: beatType})
	c.positions.Push(Position{Timestamp: ts, Bar: bar})

	c.detectPattern()
}

// barPosition maps the interval since the previous beat onto the bar. An
// interval outside [MinInterval, MaxInterval] is taken as a restart on the downbeat.
func (c *Context) barPosition(interval time.Duration) int {
	if interval < c.cfg.MinInterval || interval > c.cfg.MaxInterval {
		return 1
	}
	beats := float64(c.cfg.BeatsPerBar)
	pos := int(math.Round(math.Mod(interval.Seconds()*beats, beats) + 1))
	return min(max(pos, 1), c.cfg.BeatsPerBar)
}

func (c *Context) detectPattern() {
	strengths := c.strengths.Values()
	positions := c.positions.Values()
	n := len(strengths)

	if n >= 8 {
		matches := compare(strengths[n-8:n-4], strengths[n-4:], positions[n-8:n-4], positions[n-4:])
		if matches >= c.cfg.FourBeatMatches {
			pattern := types(strengths[n-4:])
			// ABAB is really a two-beat pattern
			if slices.Equal(pattern[:2], pattern[2:]) && c.detectTwoBeat(strengths, positions) {
				return
			}
			c.pattern = pattern
			c.confidence = float64(matches) / 8.0
			return
		}
	}

	if n >= 4 && c.detectTwoBeat(strengths, positions) {
		return
	}

	c.confidence = max(0.0, c.confidence-c.cfg.ConfidenceDecay)
	if c.confidence == 0 {
		c.pattern = nil
	}
}

// detectTwoBeat compares the two most recent beats with the two before them
func (c *Context) detectTwoBeat(strengths []Strength, positions []Position) bool {
	n := len(strengths)
	matches := compare(strengths[n-4:n-2], strengths[n-2:], positions[n-4:n-2], positions[n-2:])
	confidence := float64(matches) / 4.0
	if matches < c.cfg.TwoBeatMatches || confidence <= 0.5 {
		return false
	}
	c.pattern = types(strengths[n-2:])
	c.confidence = confidence
	return true
}

// compare counts element-wise type matches plus position matches
func compare(sa, sb []Strength, pa, pb []Position) int {
	matches := 0
	for i := range sa {
		if sa[i].Type == sb[i].Type {
			matches++
		}
		if pa[i].Bar == pb[i].Bar {
			matches++
		}
	}
	return matches
}

func types(strengths []Strength) []detectors.BeatType {
	out := make([]detectors.BeatType, len(strengths))
	for i, s := range strengths {
		out[i] = s.Type
	}
	return out
}

// Pattern returns a copy of the detected pattern (nil when none) and its confidence
func (c *Context) Pattern() ([]detectors.BeatType, float64) {
	if c.pattern == nil {
		return nil, c.confidence
	}
	return slices.Clone(c.pattern), c.confidence
}

// Confidence returns the pattern confidence in [0,1]
func (c *Context) Confidence() float64 {
	return c.confidence
}

// Position returns the bar position (1-based) of the latest beat, 0 when empty
func (c *Context) Position() int {
	if p, ok := c.positions.Latest(); ok {
		return p.Bar
	}
	return 0
}

// NextPosition returns the 0-based bar index of the beat after the latest one.
// 0 is the downbeat.
func (c *Context) NextPosition() int {
	p := c.Position()
	if p == 0 {
		return 0
	}
	return p % c.cfg.BeatsPerBar
}

// Strengths returns the beat-strength history, oldest first
func (c *Context) Strengths() []Strength {
	return c.strengths.Values()
}

// Positions returns the bar-position history, oldest first
func (c *Context) Positions() []Position {
	return c.positions.Values()
}

// Reset clears all histories and the pattern
func (c *Context) Reset() {
	c.strengths.Clear()
	c.positions.Clear()
	c.pattern = nil
	c.confidence = 0
}
