package logmux

import (
	"fmt"
	"sync"
	"time"

	"github.com/Paintersrp/tether/internal/process"
	"github.com/Paintersrp/tether/internal/supervisor"
)

// Mux relays supervisor events through a bounded channel. Backend log lines are
// dropped when the consumer cannot keep up; the number discarded is surfaced
// through a synthesized warning once there is room again. Lifecycle events are
// never dropped.
type Mux struct {
	out chan supervisor.Event

	mu     sync.Mutex
	closed bool
	drops  map[string]int
}

// New constructs a mux backed by a channel of the provided size. A size of
// zero results in a minimally buffered channel.
func New(size int) *Mux {
	if size <= 0 {
		size = 1
	}
	return &Mux{
		out:   make(chan supervisor.Event, size),
		drops: make(map[string]int),
	}
}

// Output exposes the relayed event channel.
func (m *Mux) Output() <-chan supervisor.Event {
	return m.out
}

// Publish relays evt. It is safe to call after Close; the event is discarded.
func (m *Mux) Publish(evt supervisor.Event) {
	evt = normalize(evt)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	if evt.Type != supervisor.EventTypeLog {
		m.flushDropsLocked()
		m.out <- evt
		return
	}
	if !m.flushPendingLocked(evt.Source) || !m.trySend(evt) {
		m.drops[evt.Source]++
	}
}

// Close emits any pending drop warnings and closes the output channel. The
// consumer must keep draining Output until it is closed.
func (m *Mux) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.flushDropsLocked()
	m.closed = true
	close(m.out)
}

func (m *Mux) flushPendingLocked(source string) bool {
	count := m.drops[source]
	if count == 0 {
		return true
	}
	if !m.trySend(synthesizeDropEvent(source, count)) {
		return false
	}
	delete(m.drops, source)
	return true
}

func (m *Mux) flushDropsLocked() {
	for _, source := range []string{process.LogSourceStdout, process.LogSourceStderr} {
		if count := m.drops[source]; count > 0 {
			m.out <- synthesizeDropEvent(source, count)
			delete(m.drops, source)
		}
	}
}

func (m *Mux) trySend(evt supervisor.Event) bool {
	select {
	case m.out <- evt:
		return true
	default:
		return false
	}
}

func normalize(evt supervisor.Event) supervisor.Event {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.Type != supervisor.EventTypeLog {
		return evt
	}
	if evt.Source == "" {
		evt.Source = process.LogSourceStdout
	}
	if evt.Level == "" {
		if evt.Source == process.LogSourceStderr {
			evt.Level = "warn"
		} else {
			evt.Level = "info"
		}
	}
	return evt
}

func synthesizeDropEvent(source string, count int) supervisor.Event {
	return supervisor.Event{
		Timestamp: time.Now(),
		Type:      supervisor.EventTypeLog,
		Message:   fmt.Sprintf("dropped=%d %s", count, source),
		Level:     "warn",
		Source:    supervisor.LogSourceSystem,
	}
}
