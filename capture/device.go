package capture

import (
	"errors"
	"runtime"

	"github.com/RyanBlaney/sonido-pulse/logging"
)

// DeviceFFmpegConfig returns an ffmpeg input reading the default capture
// device on goos. ok is false for platforms without a known default.
func DeviceFFmpegConfig(goos string) (cfg FFmpegConfig, ok bool) {
	cfg = DefaultFFmpegConfig()
	switch goos {
	case "linux":
		cfg.InputFormat, cfg.Input = "pulse", "default"
	case "darwin":
		cfg.InputFormat, cfg.Input = "avfoundation", ":0"
	default:
		return FFmpegConfig{}, false
	}
	return cfg, true
}

// OpenDefaultInput opens the PortAudio microphone when it is built in.
// Otherwise it captures the platform's default device through ffmpeg.
func OpenDefaultInput(cfg Config) (Source, error) {
	return openDefaultInput(cfg, runtime.GOOS)
}

func openDefaultInput(cfg Config, goos string) (Source, error) {
	mic, err := NewMicrophone(cfg)
	if err == nil {
		return mic, nil
	}
	if !errors.Is(err, ErrMicrophoneUnavailable) {
		return nil, err
	}

	ff, ok := DeviceFFmpegConfig(goos)
	if !ok {
		return nil, err
	}
	logging.WithFields(logging.Fields{"component": "capture"}).Warn(
		"PortAudio not built in, capturing the default device through ffmpeg (rebuild with -tags portaudio for direct capture)",
		logging.Fields{"input_format": ff.InputFormat, "input": ff.Input},
	)
	return NewFFmpegSource(ff, cfg), nil
}
