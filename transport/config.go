// Package transport drives the LED actuator over a serial link.
package transport

import "time"

// Config holds the serial link and output settings
type Config struct {
	Ports       []string      `json:"ports"` // tried in order
	BaudRate    int           `json:"baud_rate"`
	ResetDelay  time.Duration `json:"reset_delay"` // the board resets when the port opens
	ReadTimeout time.Duration `json:"read_timeout"`
	Binary      bool          `json:"binary"` // binary sequence protocol instead of text

	QueueSize int `json:"queue_size"`

	BeatGain  float64       `json:"beat_gain"`
	FadeRatio float64       `json:"fade_ratio"`
	FadeDelay time.Duration `json:"fade_delay"`
}

// DefaultPorts are the usual device paths of USB serial boards on Linux
var DefaultPorts = []string{"/dev/ttyACM1", "/dev/ttyACM0", "/dev/ttyUSB0"}

func DefaultConfig() *Config {
	return &Config{
		Ports:       append([]string(nil), DefaultPorts...),
		BaudRate:    250000,
		ResetDelay:  time.Second,
		ReadTimeout: 500 * time.Millisecond,
		QueueSize:   64,
		BeatGain:    1.5,
		FadeRatio:   0.5,
		FadeDelay:   100 * time.Millisecond,
	}
}
