//go:build !portaudio

package capture

import "context"

// Microphone is unavailable without the portaudio build tag; use an ffmpeg
// source with a device input instead.
type Microphone struct{}

func NewMicrophone(cfg Config) (*Microphone, error) {
	return nil, ErrMicrophoneUnavailable
}

func (m *Microphone) SampleRate() int {
	return 0
}

func (m *Microphone) Stream(ctx context.Context, fn FrameFunc) error {
	return ErrMicrophoneUnavailable
}

func (m *Microphone) Close() error {
	return nil
}
