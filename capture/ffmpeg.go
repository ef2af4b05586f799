package capture

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-pulse/logging"
)

// FFmpegConfig describes an ffmpeg input. Input can be a file, a URL or a
// device name understood by InputFormat (e.g. "pulse", "alsa", "avfoundation").
type FFmpegConfig struct {
	FFmpegPath  string `json:"ffmpeg_path"`
	Input       string `json:"input"`
	InputFormat string `json:"input_format,omitempty"`
	StreamType  string `json:"stream_type,omitempty"` // "icecast", "hls" or empty
	ReadRate    bool   `json:"read_rate"`             // read file inputs at native speed
}

func DefaultFFmpegConfig() FFmpegConfig {
	return FFmpegConfig{
		FFmpegPath: "ffmpeg",
	}
}

// FFmpegSource decodes any input ffmpeg can read into mono s16le at the
// configured sample rate and streams it as frames.
type FFmpegSource struct {
	ffmpeg FFmpegConfig
	config Config
	logger logging.Logger
}

func NewFFmpegSource(ffmpeg FFmpegConfig, cfg Config) *FFmpegSource {
	if ffmpeg.FFmpegPath == "" {
		ffmpeg.FFmpegPath = "ffmpeg"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultConfig().SampleRate
	}
	return &FFmpegSource{
		ffmpeg: ffmpeg,
		config: cfg,
		logger: logging.WithFields(logging.Fields{
			"component": "ffmpeg_source",
			"input":     ffmpeg.Input,
		}),
	}
}

func (s *FFmpegSource) SampleRate() int {
	return s.config.SampleRate
}

// Args builds the ffmpeg command line
func (s *FFmpegSource) Args() []string {
	args := []string{"-v", "error", "-nostdin"}

	switch s.ffmpeg.StreamType {
	case "icecast":
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "1",
			"-fflags", "+nobuffer",
			"-rw_timeout", "5000000",
		)
	case "hls":
		args = append(args,
			"-live_start_index", "-1",
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "2",
			"-rw_timeout", "30000000",
		)
	}

	if s.ffmpeg.ReadRate {
		args = append(args, "-re")
	}
	if s.ffmpeg.InputFormat != "" {
		args = append(args, "-f", s.ffmpeg.InputFormat)
	}

	args = append(args,
		"-i", s.ffmpeg.Input,
		"-map", "0:a:0?",
		"-vn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(s.config.SampleRate),
		"pipe:1",
	)
	return args
}

// Stream runs ffmpeg until its output ends or ctx is cancelled
func (s *FFmpegSource) Stream(ctx context.Context, fn FrameFunc) error {
	if s.ffmpeg.Input == "" {
		return errors.New("ffmpeg source needs an input")
	}

	args := s.Args()
	cmd := exec.CommandContext(ctx, s.ffmpeg.FFmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create ffmpeg pipe: %w", err)
	}

	s.logger.Debug("Starting FFmpeg", logging.Fields{
		"command": fmt.Sprintf("%s %s", s.ffmpeg.FFmpegPath, strings.Join(args, " ")),
	})

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	startTime := time.Now()
	frames, readErr := readFrames(ctx, bufio.NewReader(stdout), s.config.FrameSize, fn)
	waitErr := cmd.Wait()

	s.logger.Debug("FFmpeg stream ended", logging.Fields{
		"frames":   frames,
		"duration": time.Since(startTime).Seconds(),
	})

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if readErr != nil {
		return readErr
	}
	if waitErr != nil {
		return fmt.Errorf("ffmpeg failed: %w, stderr: %s", waitErr, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (s *FFmpegSource) Close() error {
	return nil
}

// readFrames reads little-endian int16 frames from r until EOF. A trailing
// partial frame is dropped.
func readFrames(ctx context.Context, r io.Reader, frameSize int, fn FrameFunc) (int, error) {
	fr := newFramer(frameSize)
	raw := make([]byte, len(fr.frame)*2)

	frames := 0
	for {
		if err := ctx.Err(); err != nil {
			return frames, err
		}

		if _, err := io.ReadFull(r, raw); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return frames, nil
			}
			return frames, fmt.Errorf("failed to read pcm: %w", err)
		}

		for i := range fr.frame {
			fr.frame[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
		}
		fn(fr.frame)
		frames++
	}
}
