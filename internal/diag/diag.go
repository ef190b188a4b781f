// Package diag consumes the (task kind, owner, outcome, elapsed) stream the
// scheduler emits. Producers never wait on a sink.
package diag

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"bleq/internal/models"
)

// Sink receives terminal task events. Record must not block.
type Sink interface {
	Record(e models.Event)
}

// SinkFunc ...
type SinkFunc func(models.Event)

// Record ...
func (f SinkFunc) Record(e models.Event) { f(e) }

// Multi fans an event out to every sink.
type Multi []Sink

// Record ...
func (m Multi) Record(e models.Event) {
	for _, s := range m {
		if s != nil {
			s.Record(e)
		}
	}
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(models.Event) {})

// LogSink writes events through logrus.
type LogSink struct{}

// Record ...
func (LogSink) Record(e models.Event) {
	entry := log.WithFields(log.Fields{
		"task_id":   e.TaskID,
		"task_kind": e.Kind,
		"owner":     e.Owner.String(),
		"seq":       e.Seq,
		"state":     e.State,
		"elapsed":   e.Elapsed.String(),
	})
	switch e.State {
	case models.TaskStateSucceeded:
		entry.Debug("Task finished")
	case models.TaskStateCancelled, models.TaskStateInterrupted:
		entry.Info("Task stopped")
	default:
		entry.WithField("error", e.Error).Warn("Task failed")
	}
}

// Memory keeps the most recent events in a ring.
type Memory struct {
	events []models.Event
	next   int
	full   bool
	mu     sync.Mutex
}

// NewMemory ...
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 1
	}
	return &Memory{events: make([]models.Event, size)}
}

// Record ...
func (m *Memory) Record(e models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[m.next] = e
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
}

// Events returns the retained events, oldest first.
func (m *Memory) Events() []models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return append([]models.Event(nil), m.events[:m.next]...)
	}
	out := make([]models.Event, 0, len(m.events))
	out = append(out, m.events[m.next:]...)
	return append(out, m.events[:m.next]...)
}
