package taskmanager

import (
	"time"

	"bleq/internal/models"
)

// TaskView is a read-only copy of a task's scheduling state.
type TaskView struct {
	ID       string           `json:"id"`
	Kind     string           `json:"kind"`
	Owner    models.Owner     `json:"owner"`
	Priority string           `json:"priority"`
	Urgent   bool             `json:"urgent,omitempty"`
	Resource string           `json:"resource,omitempty"`
	Seq      uint64           `json:"seq"`
	State    models.TaskState `json:"state"`
	// Age is time spent queued for pending tasks and time running for
	// in-flight ones.
	Age time.Duration `json:"age"`
}

// Snapshot describes the scheduler at one instant.
type Snapshot struct {
	Clock     time.Duration `json:"clock"`
	Suspended bool          `json:"suspended"`
	// Pending is in execution order.
	Pending  []TaskView `json:"pending"`
	InFlight []TaskView `json:"in_flight"`
	Timers   int        `json:"timers"`
}

// Snapshot ...
func (s *Scheduler) Snapshot() Snapshot {
	snap := Snapshot{
		Clock:     s.now,
		Suspended: s.suspended,
		Pending:   make([]TaskView, 0, s.queue.Size()),
		InFlight:  make([]TaskView, 0, len(s.inflight)),
		Timers:    s.timers.Size(),
	}
	for _, t := range s.queue.Items() {
		snap.Pending = append(snap.Pending, s.view(t, s.now-t.queuedAt))
	}
	for _, t := range s.inflightBySeq() {
		snap.InFlight = append(snap.InFlight, s.view(t, s.now-t.started))
	}
	return snap
}

func (s *Scheduler) view(t *Task, age time.Duration) TaskView {
	return TaskView{
		ID:       t.id,
		Kind:     t.Kind(),
		Owner:    t.owner,
		Priority: t.priority.String(),
		Urgent:   t.urgent,
		Resource: t.resource,
		Seq:      t.seq,
		State:    t.state,
		Age:      age,
	}
}
