// Package eventlog keeps a capped in-memory ring of notable client events
// for the status endpoint. It is not a logging backend; structured logs
// still go through slog, and only events worth surfacing to an operator
// land here.
package eventlog

import (
	"sync"
	"time"
)

const defaultCapacity = 128

// Event is one entry in the ring.
type Event struct {
	Time      time.Time `json:"time"`
	Level     string    `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
}

// Log is a fixed-capacity ring buffer of events. When full, the oldest
// entry is overwritten.
type Log struct {
	mu    sync.Mutex
	buf   []Event
	next  int
	total int
}

// New creates a Log with the given capacity; zero or negative uses the
// default.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Log{buf: make([]Event, capacity)}
}

// Record appends an event with the current time.
func (l *Log) Record(level, component, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = Event{
		Time:      time.Now(),
		Level:     level,
		Component: component,
		Message:   message,
	}
	l.next = (l.next + 1) % len(l.buf)
	l.total++
}

// Info records an info-level event.
func (l *Log) Info(component, message string) { l.Record("info", component, message) }

// Warn records a warning-level event.
func (l *Log) Warn(component, message string) { l.Record("warn", component, message) }

// Error records an error-level event.
func (l *Log) Error(component, message string) { l.Record("error", component, message) }

// Snapshot returns the retained events in chronological order.
func (l *Log) Snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.total
	if n > len(l.buf) {
		n = len(l.buf)
	}
	out := make([]Event, 0, n)
	start := l.next - n
	if start < 0 {
		start += len(l.buf)
	}
	for i := 0; i < n; i++ {
		out = append(out, l.buf[(start+i)%len(l.buf)])
	}
	return out
}

// Total reports how many events have ever been recorded, including ones
// the ring has since dropped.
func (l *Log) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
