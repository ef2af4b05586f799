package logging

import (
	"context"
	"sync"
	"time"
)

// Throttled wraps a Logger so that a Warn or Error message repeated within
// interval is counted rather than written. The next occurrence that gets
// through carries the count in a "suppressed" field. Debug and Info pass
// through untouched.
type Throttled struct {
	Logger
	interval time.Duration
	state    *throttleState
}

type throttleState struct {
	mu         sync.Mutex
	now        func() time.Time
	last       map[string]time.Time
	suppressed map[string]int
}

func NewThrottled(logger Logger, interval time.Duration) *Throttled {
	return &Throttled{
		Logger:   logger,
		interval: interval,
		state: &throttleState{
			now:        time.Now,
			last:       make(map[string]time.Time),
			suppressed: make(map[string]int),
		},
	}
}

func (t *Throttled) allow(msg string) (Fields, bool) {
	s := t.state
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if last, ok := s.last[msg]; ok && now.Sub(last) < t.interval {
		s.suppressed[msg]++
		return nil, false
	}
	s.last[msg] = now

	n := s.suppressed[msg]
	delete(s.suppressed, msg)
	if n == 0 {
		return nil, true
	}
	return Fields{"suppressed": n}, true
}

func (t *Throttled) Warn(msg string, fields ...Fields) {
	if extra, ok := t.allow(msg); ok {
		t.Logger.Warn(msg, append(fields, extra)...)
	}
}

func (t *Throttled) Error(err error, msg string, fields ...Fields) {
	if extra, ok := t.allow(msg); ok {
		t.Logger.Error(err, msg, append(fields, extra)...)
	}
}

// WithFields keeps sharing the suppression state with t
func (t *Throttled) WithFields(fields Fields) Logger {
	return &Throttled{Logger: t.Logger.WithFields(fields), interval: t.interval, state: t.state}
}

func (t *Throttled) WithContext(ctx context.Context) Logger {
	return &Throttled{Logger: t.Logger.WithContext(ctx), interval: t.interval, state: t.state}
}
