package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/RyanBlaney/sonido-pulse/logging"
)

// WAVSource replays a PCM WAV file. Multi-channel audio is mixed down to mono.
type WAVSource struct {
	file    *os.File
	decoder *wav.Decoder
	config  Config
	logger  logging.Logger

	sampleRate int
	channels   int
	bitDepth   int
}

// OpenWAV opens a WAV file and reads its header. cfg.SampleRate is ignored;
// the file's own rate is reported by SampleRate.
func OpenWAV(path string, cfg Config) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open wav file: %w", err)
	}

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("not a valid wav file: %s", path)
	}
	decoder.ReadInfo()
	if err := decoder.Err(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read wav header: %w", err)
	}

	src := &WAVSource{
		file:       f,
		decoder:    decoder,
		config:     cfg,
		sampleRate: int(decoder.SampleRate),
		channels:   max(int(decoder.NumChans), 1),
		bitDepth:   int(decoder.BitDepth),
		logger: logging.WithFields(logging.Fields{
			"component": "wav_source",
			"file":      path,
		}),
	}

	src.logger.Debug("WAV file opened", logging.Fields{
		"sample_rate": src.sampleRate,
		"channels":    src.channels,
		"bit_depth":   src.bitDepth,
	})
	return src, nil
}

func (s *WAVSource) SampleRate() int {
	return s.sampleRate
}

// Stream decodes the file frame by frame. With Realtime set, frames are
// delivered at the pace they would arrive from a live device.
func (s *WAVSource) Stream(ctx context.Context, fn FrameFunc) error {
	if err := s.decoder.FwdToPCM(); err != nil {
		return fmt.Errorf("failed to seek to pcm data: %w", err)
	}

	fr := newFramer(s.config.FrameSize)
	frameDuration := time.Duration(float64(len(fr.frame)) / float64(s.sampleRate) * float64(time.Second))

	var ticker *time.Ticker
	if s.config.Realtime {
		ticker = time.NewTicker(frameDuration)
		defer ticker.Stop()
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: s.channels, SampleRate: s.sampleRate},
		Data:   make([]int, len(fr.frame)*s.channels),
	}

	frames := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := s.decoder.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to decode pcm: %w", err)
		}
		if n == 0 {
			break
		}

		for i := 0; i+s.channels <= n; i += s.channels {
			if !fr.add(downmix(buf.Data[i:i+s.channels], s.bitDepth)) {
				continue
			}
			if ticker != nil {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}
			fn(fr.frame)
			frames++
		}

		if errors.Is(err, io.EOF) {
			break
		}
	}

	s.logger.Debug("WAV playback finished", logging.Fields{
		"frames": frames,
	})
	return nil
}

func (s *WAVSource) Close() error {
	return s.file.Close()
}
