// Package timing provides named stopwatches that log their durations.
package timing

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dreamware/halomesh/internal/logging"
)

// Timer tracks any number of named, concurrently running stopwatches.
type Timer struct {
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	started map[string]time.Time
}

// New returns a Timer reading clk and logging to logger. Nil arguments fall
// back to the wall clock and the default logger.
func New(clk clock.Clock, logger *slog.Logger) *Timer {
	if clk == nil {
		clk = clock.New()
	}
	return &Timer{
		clock:   clk,
		logger:  logging.OrDefault(logger),
		started: make(map[string]time.Time),
	}
}

// Start (re)starts the stopwatch name.
func (t *Timer) Start(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started[name] = t.clock.Now()
}

// Stop ends the stopwatch name, logs its duration with any extra attributes
// and returns it. Stopping a stopwatch that is not running returns 0 and
// logs nothing.
func (t *Timer) Stop(name string, attrs ...any) time.Duration {
	t.mu.Lock()
	start, ok := t.started[name]
	delete(t.started, name)
	t.mu.Unlock()
	if !ok {
		return 0
	}
	d := t.clock.Since(start)
	t.logger.Info("timer", append([]any{"name", name, "duration", d}, attrs...)...)
	return d
}

// StopAll stops every running stopwatch in name order.
func (t *Timer) StopAll() map[string]time.Duration {
	t.mu.Lock()
	names := make([]string, 0, len(t.started))
	for n := range t.started {
		names = append(names, n)
	}
	t.mu.Unlock()
	sort.Strings(names)

	out := make(map[string]time.Duration, len(names))
	for _, n := range names {
		out[n] = t.Stop(n)
	}
	return out
}

// Running reports whether name is running.
func (t *Timer) Running(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.started[name]
	return ok
}
