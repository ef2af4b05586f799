package transport

import (
	"time"

	"github.com/RyanBlaney/sonido-pulse/algorithms/common"
)

// BeatOutput turns beat intensities into LED brightness: an amplified flash
// on the beat followed by a fade a moment later.
type BeatOutput struct {
	dispatcher *Dispatcher
	gain       float64
	fadeRatio  float64
	fadeDelay  time.Duration
	after      func(time.Duration, func())
}

func NewBeatOutput(d *Dispatcher, cfg *Config) *BeatOutput {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &BeatOutput{
		dispatcher: d,
		gain:       cfg.BeatGain,
		fadeRatio:  cfg.FadeRatio,
		fadeDelay:  cfg.FadeDelay,
		after: func(delay time.Duration, fn func()) {
			time.AfterFunc(delay, fn)
		},
	}
}

// OnBeat has the signature of a beat callback. It never blocks.
func (o *BeatOutput) OnBeat(intensity float64) error {
	brightness := common.Clamp01(intensity * o.gain)
	o.dispatcher.Submit(brightness)

	if o.fadeDelay > 0 {
		fade := brightness * o.fadeRatio
		o.after(o.fadeDelay, func() {
			o.dispatcher.Submit(fade)
		})
	}
	return nil
}

// Pulse sends an anticipatory pulse as is
func (o *BeatOutput) Pulse(intensity float64) {
	o.dispatcher.Submit(common.Clamp01(intensity))
}
