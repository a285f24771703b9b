package interview

import (
	"sync"
	"time"
)

// Stopwatch measures session time against a limit. It is frozen by Stop.
type Stopwatch struct {
	mu      sync.Mutex
	now     func() time.Time
	limit   time.Duration
	started time.Time
	frozen  time.Duration
	running bool
	stopped bool
}

// NewStopwatch creates a stopped stopwatch with the given limit
func NewStopwatch(limit time.Duration, now func() time.Time) *Stopwatch {
	if now == nil {
		now = time.Now
	}
	return &Stopwatch{now: now, limit: limit}
}

// Start begins measuring; it has no effect once stopped
func (w *Stopwatch) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running || w.stopped {
		return
	}
	w.started = w.now()
	w.running = true
}

// Stop freezes the elapsed time for good
func (w *Stopwatch) Stop() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		w.frozen = w.elapsed()
		w.running = false
	}
	w.stopped = true
	return w.frozen
}

// Elapsed is the measured time, never negative
func (w *Stopwatch) Elapsed() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return w.frozen
	}
	return w.elapsed()
}

func (w *Stopwatch) elapsed() time.Duration {
	d := w.now().Sub(w.started)
	if d < 0 {
		return 0
	}
	return d
}

// Progress is elapsed/limit clamped to [0,1]
func (w *Stopwatch) Progress() float64 {
	if w.limit <= 0 {
		return 1
	}
	p := float64(w.Elapsed()) / float64(w.limit)
	if p > 1 {
		return 1
	}
	return p
}

// Expired reports whether the limit has been reached
func (w *Stopwatch) Expired() bool {
	return w.Elapsed() >= w.limit
}

// Limit returns the configured limit
func (w *Stopwatch) Limit() time.Duration {
	return w.limit
}
