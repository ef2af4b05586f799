package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/RyanBlaney/sonido-pulse/logging"
)

var ErrNotConnected = errors.New("serial link not connected")

// Port is the subset of a serial port the link uses
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	Drain() error
}

type opener func(name string, baud int) (Port, error)

func openSerial(name string, baud int) (Port, error) {
	return serial.Open(name, &serial.Mode{BaudRate: baud})
}

// ListPorts returns the serial ports present on the system
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// Link is a serial connection to the LED controller. Incoming text is read
// by a background goroutine so HasData and ReadLine never block.
type Link struct {
	config *Config
	open   opener
	sleep  func(time.Duration)
	logger logging.Logger

	mu       sync.Mutex
	port     Port
	portName string
	incoming bytes.Buffer
	done     chan struct{}
	readers  sync.WaitGroup
}

func NewLink(cfg *Config) *Link {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Link{
		config: cfg,
		open:   openSerial,
		sleep:  time.Sleep,
		logger: logging.WithFields(logging.Fields{"component": "serial_link"}),
	}
}

// Connect tries each candidate port in order (the configured ports when none
// are given) and keeps the first that opens. Failure is reported, not raised.
func (l *Link) Connect(candidates ...string) (bool, string) {
	if len(candidates) == 0 {
		candidates = l.config.Ports
	}
	if len(candidates) == 0 {
		candidates = DefaultPorts
	}

	l.Close()

	for _, name := range candidates {
		logger := l.logger.WithFields(logging.Fields{
			"port": name,
			"baud": l.config.BaudRate,
		})
		logger.Debug("Trying serial port")

		port, err := l.open(name, l.config.BaudRate)
		if err != nil {
			logger.Warn("Failed to open serial port", logging.Fields{"error": err.Error()})
			continue
		}
		if l.config.ReadTimeout > 0 {
			if err := port.SetReadTimeout(l.config.ReadTimeout); err != nil {
				logger.Warn("Failed to set read timeout", logging.Fields{"error": err.Error()})
			}
		}
		if l.config.ResetDelay > 0 {
			l.sleep(l.config.ResetDelay)
		}

		l.mu.Lock()
		l.port = port
		l.portName = name
		l.incoming.Reset()
		l.done = make(chan struct{})
		l.readers.Add(1)
		go l.readLoop(port, l.done)
		l.mu.Unlock()

		logger.Info("Serial link connected")
		return true, fmt.Sprintf("Connected on %s", name)
	}

	return false, fmt.Sprintf("Could not connect on any of %v", candidates)
}

// IsConnected reports whether a port is open
func (l *Link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

// PortName returns the connected port, or "" when disconnected
func (l *Link) PortName() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.portName
}

// SendValue writes one value with the text protocol
func (l *Link) SendValue(value float64) error {
	return l.write(EncodeText(value), false)
}

// SendSequence writes values with the binary protocol and waits for the
// bytes to leave the output buffer.
func (l *Link) SendSequence(values []float64) error {
	data, err := EncodeBinary(values)
	if err != nil {
		return err
	}
	return l.write(data, true)
}

func (l *Link) write(data []byte, drain bool) error {
	l.mu.Lock()
	port := l.port
	l.mu.Unlock()

	if port == nil {
		return ErrNotConnected
	}
	if _, err := port.Write(data); err != nil {
		return fmt.Errorf("serial write failed: %w", err)
	}
	if drain {
		if err := port.Drain(); err != nil {
			return fmt.Errorf("serial drain failed: %w", err)
		}
	}
	return nil
}

// HasData reports whether unread input is waiting
func (l *Link) HasData() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil && l.incoming.Len() > 0
}

// ReadLine returns the next complete line without its line ending, or ""
// when no complete line has arrived.
func (l *Link) ReadLine() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := bytes.IndexByte(l.incoming.Bytes(), '\n')
	if i < 0 {
		return ""
	}
	line := l.incoming.Next(i + 1)
	return string(bytes.TrimSpace(line))
}

func (l *Link) readLoop(port Port, done chan struct{}) {
	defer l.readers.Done()

	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			l.mu.Lock()
			l.incoming.Write(buf[:n])
			l.mu.Unlock()
		}

		select {
		case <-done:
			return
		default:
		}

		if err != nil {
			l.logger.Warn("Serial read failed, stopping reader", logging.Fields{"error": err.Error()})
			return
		}
	}
}

// Close closes the port. It is safe to call when not connected.
func (l *Link) Close() error {
	l.mu.Lock()
	port := l.port
	done := l.done
	l.port = nil
	l.portName = ""
	l.done = nil
	l.mu.Unlock()

	if port == nil {
		return nil
	}

	close(done)
	err := port.Close()
	l.readers.Wait()
	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	l.logger.Info("Serial link closed")
	return nil
}
