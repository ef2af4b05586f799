//go:build portaudio

package capture

import (
	"context"
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/RyanBlaney/sonido-pulse/logging"
)

// Microphone captures the default input device through PortAudio. fn runs
// on the PortAudio callback thread.
type Microphone struct {
	config Config
	logger logging.Logger
}

func NewMicrophone(cfg Config) (*Microphone, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	return &Microphone{
		config: cfg,
		logger: logging.WithFields(logging.Fields{"component": "microphone"}),
	}, nil
}

func (m *Microphone) SampleRate() int {
	return m.config.SampleRate
}

func (m *Microphone) Stream(ctx context.Context, fn FrameFunc) error {
	stream, err := portaudio.OpenDefaultStream(
		1, // mono input
		0,
		float64(m.config.SampleRate),
		m.config.FrameSize,
		func(in []int16) {
			fn(in)
		},
	)
	if err != nil {
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	m.logger.Info("Microphone capture started", logging.Fields{
		"sample_rate": m.config.SampleRate,
		"frame_size":  m.config.FrameSize,
	})

	<-ctx.Done()

	if err := stream.Stop(); err != nil {
		m.logger.Error(err, "Failed to stop input stream")
	}
	return ctx.Err()
}

func (m *Microphone) Close() error {
	return portaudio.Terminate()
}
