package taskmanager

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"bleq/internal/models"
	"bleq/internal/outcome"
	"bleq/internal/transport"
)

// Operation is the work a Task performs.
type Operation interface {
	// Kind names the task class, e.g. "read". ClearQueueOf matches on it.
	Kind() string
	// Execute starts the work and must not block. The outcome is reported
	// through x, either before Execute returns or later from any goroutine.
	Execute(x *Execution)
}

// Interrupter is implemented by operations that can be stopped while in
// flight. Interrupt returns true if the operation has stopped.
type Interrupter interface {
	Interrupt(x *Execution) bool
}

// TimeoutObserver is notified when the watchdog gives up on an operation.
type TimeoutObserver interface {
	OnTimeout(x *Execution)
}

// Task binds an Operation to an owner. A Task executes at most once; a retry
// is always a new Task.
//
// Fields set by the Scheduler are only safe to read from the loop goroutine,
// which includes the OnDone callback.
type Task struct {
	metadata map[string]any
	op       Operation
	onDone   func(*Task, outcome.Outcome)
	result   outcome.Outcome
	exec     *Execution
	owner    models.Owner
	id       string
	resource string
	state    models.TaskState
	timeout  time.Duration
	queuedAt time.Duration
	started  time.Duration
	seq      uint64
	priority models.Priority
	urgent   bool
}

// TaskOption ...
type TaskOption func(*Task)

// WithPriority ...
func WithPriority(p models.Priority) TaskOption {
	return func(t *Task) { t.priority = p }
}

// Urgent places the task ahead of every pending task of equal or lower
// priority, and lets it interrupt an interruptible task holding the same
// resource. It never preempts a running task of its own owner.
func Urgent() TaskOption {
	return func(t *Task) { t.urgent = true }
}

// WithTimeout sets the watchdog window. Zero falls back to the scheduler
// default; a negative value disables the watchdog.
func WithTimeout(d time.Duration) TaskOption {
	return func(t *Task) { t.timeout = d }
}

// WithResource marks the task as holding a shared resource while in flight.
// At most one task per resource is in flight across all owners.
func WithResource(name string) TaskOption {
	return func(t *Task) { t.resource = name }
}

// WithMetadata attaches an opaque diagnostics value.
func WithMetadata(key string, value any) TaskOption {
	return func(t *Task) {
		if t.metadata == nil {
			t.metadata = make(map[string]any)
		}
		t.metadata[key] = value
	}
}

// OnDone registers the terminal callback. It runs on the loop goroutine.
func OnDone(fn func(*Task, outcome.Outcome)) TaskOption {
	return func(t *Task) { t.onDone = fn }
}

// NewTask ...
func NewTask(op Operation, owner models.Owner, opts ...TaskOption) *Task {
	t := &Task{
		id:       uuid.NewString(),
		op:       op,
		owner:    owner,
		priority: models.PriorityMedium,
		state:    models.TaskStateCreated,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ID ...
func (t *Task) ID() string { return t.id }

// Kind ...
func (t *Task) Kind() string { return t.op.Kind() }

// Operation ...
func (t *Task) Operation() Operation { return t.op }

// Owner ...
func (t *Task) Owner() models.Owner { return t.owner }

// Priority ...
func (t *Task) Priority() models.Priority { return t.priority }

// IsUrgent ...
func (t *Task) IsUrgent() bool { return t.urgent }

// Resource ...
func (t *Task) Resource() string { return t.resource }

// Seq is the insertion sequence number, zero until the task is added.
func (t *Task) Seq() uint64 { return t.seq }

// State ...
func (t *Task) State() models.TaskState { return t.state }

// Outcome is nil until the task is terminal.
func (t *Task) Outcome() outcome.Outcome { return t.result }

// Metadata ...
func (t *Task) Metadata(key string) any { return t.metadata[key] }

// compareTasks orders by priority, then urgency. Insertion order breaks the
// remaining ties inside the queue.
func compareTasks(a, b *Task) int {
	if a.priority != b.priority {
		return int(a.priority) - int(b.priority)
	}
	switch {
	case a.urgent && !b.urgent:
		return 1
	case b.urgent && !a.urgent:
		return -1
	}
	return 0
}

func sameTask(a, b *Task) bool {
	return a.id == b.id
}

// Execution is the handle an Operation uses to report its outcome. Only the
// first report is accepted.
type Execution struct {
	task *Task
	s    *Scheduler
	done atomic.Bool
}

// Task ...
func (x *Execution) Task() *Task { return x.task }

// Complete reports the outcome. It is safe to call from any goroutine and
// returns false if the task had already ended.
func (x *Execution) Complete(o outcome.Outcome) bool {
	if !x.done.CompareAndSwap(false, true) {
		return false
	}
	x.s.Post(func() { x.s.finish(x, o) })
	return true
}

// Succeed ...
func (x *Execution) Succeed(payload []byte) bool {
	return x.Complete(outcome.Success{Payload: payload})
}

// Callback adapts a transport completion into Complete.
func (x *Execution) Callback(op transport.Op) transport.Callback {
	return func(res transport.Result) {
		x.Complete(outcome.Classify(op, res))
	}
}
