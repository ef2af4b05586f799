// Package capture delivers fixed-size frames of mono int16 PCM to the beat
// engine from a file, an ffmpeg pipe or a live input device.
package capture

import (
	"context"
	"errors"
)

// FrameFunc receives one frame. The slice is reused for the next frame and
// must not be retained.
type FrameFunc func(frame []int16)

// Source produces frames until its input ends, ctx is cancelled or an error
// occurs. Reaching the end of a finite input is not an error.
type Source interface {
	Stream(ctx context.Context, fn FrameFunc) error
	SampleRate() int
	Close() error
}

var ErrMicrophoneUnavailable = errors.New("microphone capture not built in (rebuild with -tags portaudio)")

// Config describes the frames a source should produce
type Config struct {
	SampleRate int  `json:"sample_rate"`
	FrameSize  int  `json:"frame_size"`
	Realtime   bool `json:"realtime"` // pace file playback at the sample rate
}

func DefaultConfig() Config {
	return Config{
		SampleRate: 44100,
		FrameSize:  1024,
	}
}

// framer collects mono samples into fixed-size frames
type framer struct {
	frame []int16
	n     int
}

func newFramer(size int) *framer {
	if size < 1 {
		size = 1024
	}
	return &framer{frame: make([]int16, size)}
}

// add appends one sample and reports whether a frame is complete
func (f *framer) add(s int16) bool {
	f.frame[f.n] = s
	f.n++
	if f.n < len(f.frame) {
		return false
	}
	f.n = 0
	return true
}

// downmix averages one interleaved sample group of any bit depth into int16
func downmix(group []int, bitDepth int) int16 {
	if len(group) == 0 {
		return 0
	}
	sum := 0
	for _, v := range group {
		sum += toInt16Range(v, bitDepth)
	}
	return int16(sum / len(group))
}

func toInt16Range(v, bitDepth int) int {
	switch {
	case bitDepth == 8:
		// 8-bit PCM is unsigned
		return (v - 128) << 8
	case bitDepth > 16:
		return v >> (bitDepth - 16)
	default:
		return v
	}
}
