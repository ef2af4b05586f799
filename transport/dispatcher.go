package transport

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RyanBlaney/sonido-pulse/logging"
)

// Sink accepts actuator values. *Link is the production sink.
type Sink interface {
	SendValue(value float64) error
	SendSequence(values []float64) error
}

// Dispatcher moves actuator writes off the audio path. A single worker keeps
// the writes in order; Submit never blocks and drops values when the queue
// is full.
type Dispatcher struct {
	sink   Sink
	binary bool
	logger logging.Logger

	mu      sync.RWMutex
	jobs    chan []float64
	stopped bool
	wg      sync.WaitGroup

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewDispatcher creates a dispatcher writing to sink. With binary set, each
// submission goes out as one binary sequence; otherwise every value is sent
// with the text protocol.
func NewDispatcher(sink Sink, queueSize int, binary bool) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		sink:   sink,
		binary: binary,
		jobs:   make(chan []float64, queueSize),
		logger: logging.NewThrottled(
			logging.WithFields(logging.Fields{"component": "output_dispatcher"}),
			time.Second,
		),
	}
}

// Start launches the worker goroutine
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for values := range d.jobs {
			d.send(values)
		}
	}()
}

// Stop flushes the queue and waits for the worker to finish
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Debug("Dispatcher stopped", logging.Fields{
		"sent":    d.sent.Load(),
		"dropped": d.dropped.Load(),
		"failed":  d.failed.Load(),
	})
}

// Submit queues values without blocking. It returns false when the values
// were dropped.
func (d *Dispatcher) Submit(values ...float64) bool {
	if len(values) == 0 {
		return true
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return false
	}

	select {
	case d.jobs <- values:
		return true
	default:
		d.dropped.Add(1)
		d.logger.Warn("Output queue full, dropping values", logging.Fields{
			"values": len(values),
		})
		return false
	}
}

func (d *Dispatcher) send(values []float64) {
	var err error
	if d.binary {
		err = d.sink.SendSequence(values)
	} else {
		for _, v := range values {
			if err = d.sink.SendValue(v); err != nil {
				break
			}
		}
	}

	if err != nil {
		d.failed.Add(1)
		if !errors.Is(err, ErrNotConnected) {
			d.logger.Warn("Output write failed", logging.Fields{"error": err.Error()})
		}
		return
	}
	d.sent.Add(1)
}

// Stats returns the sent, dropped and failed submission counts
func (d *Dispatcher) Stats() (sent, dropped, failed uint64) {
	return d.sent.Load(), d.dropped.Load(), d.failed.Load()
}
