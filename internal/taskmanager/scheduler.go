package taskmanager

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"bleq/internal/diag"
	"bleq/internal/errors"
	"bleq/internal/models"
	"bleq/internal/outcome"
	"bleq/internal/pqueue"
	"bleq/internal/transport"
)

const defaultTaskTimeout = 10 * time.Second

// Config holds the configuration for the Scheduler.
type Config struct {
	// MaxParallel caps how many owners may have a task in flight at once.
	// Zero means no cap.
	MaxParallel int
	// DefaultTimeout applies to tasks that do not set their own. Zero or
	// negative disables the watchdog for those tasks.
	DefaultTimeout time.Duration
	Registerer     prometheus.Registerer
	Sink           diag.Sink
}

// DefaultConfig ...
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: defaultTaskTimeout,
	}
}

// Scheduler runs tasks one at a time per owner, highest priority first.
//
// The Scheduler has a single logical thread: every method except Post, Wake
// and Call must run on the loop goroutine, which is whoever drives Advance
// and Pump. Other goroutines reach the scheduler through Post or Call.
type Scheduler struct {
	queue     *pqueue.Queue[*Task]
	timers    *pqueue.Queue[*Timer]
	inflight  map[models.Owner]*Task
	resources map[string]*Task
	sem       *semaphore.Weighted
	inbox     *inbox
	metrics   *schedulerMetrics
	sink      diag.Sink
	config    Config
	now       time.Duration
	suspended bool
	stopped   bool
}

// NewScheduler ...
func NewScheduler(config Config) *Scheduler {
	s := &Scheduler{
		queue:     pqueue.NewFunc(compareTasks, sameTask),
		timers:    pqueue.NewFunc(compareTimers, sameTimer),
		inflight:  make(map[models.Owner]*Task),
		resources: make(map[string]*Task),
		inbox:     newInbox(),
		metrics:   newSchedulerMetrics(config.Registerer),
		sink:      config.Sink,
		config:    config,
	}
	if config.MaxParallel > 0 {
		s.sem = semaphore.NewWeighted(int64(config.MaxParallel))
	}
	if s.sink == nil {
		s.sink = diag.Discard
	}
	return s
}

// Now returns the scheduler clock.
func (s *Scheduler) Now() time.Duration {
	return s.now
}

// Add queues t. The task starts on a later Pump once its owner is free.
func (s *Scheduler) Add(t *Task) error {
	if t == nil || t.op == nil {
		return errors.InvalidArgument("nil task")
	}
	if t.state != models.TaskStateCreated {
		return errors.InvalidArgument("task %s was already submitted", t.id)
	}
	if s.stopped {
		return errors.ErrStopped
	}

	seq, err := s.queue.Add(t)
	if err != nil {
		return err
	}
	t.seq = seq
	t.state = models.TaskStatePending
	t.queuedAt = s.now
	s.metrics.queueSize.Set(float64(s.queue.Size()))

	log.WithFields(log.Fields{
		"task_id":   t.id,
		"task_kind": t.Kind(),
		"owner":     t.owner.String(),
		"seq":       seq,
		"priority":  t.priority.String(),
		"urgent":    t.urgent,
	}).Debug("Task queued")
	return nil
}

// ClearQueueOf cancels every pending task of kind bound to owner and returns
// how many were removed. A task already in flight is left alone.
func (s *Scheduler) ClearQueueOf(kind string, owner models.Owner) int {
	removed := s.queue.RemoveFunc(func(t *Task) bool {
		return t.owner == owner && t.Kind() == kind
	})
	for _, t := range removed {
		s.settle(t, outcome.Cancelled{}, 0)
	}
	s.metrics.queueSize.Set(float64(s.queue.Size()))
	return len(removed)
}

// ReleaseOwner cancels every pending task of owner and interrupts its
// in-flight task if that task supports it. It returns the number of pending
// tasks removed.
func (s *Scheduler) ReleaseOwner(owner models.Owner) int {
	removed := s.queue.RemoveFunc(func(t *Task) bool {
		return t.owner == owner
	})
	for _, t := range removed {
		s.settle(t, outcome.Cancelled{Reason: errors.ErrOwnerReleased}, 0)
	}
	s.metrics.queueSize.Set(float64(s.queue.Size()))
	if cur, ok := s.inflight[owner]; ok {
		s.interrupt(cur)
	}
	return len(removed)
}

// Cancel stops t: a pending task is removed and cancelled, an in-flight one
// is interrupted if it supports it. It returns false if t was left running or
// had already ended.
func (s *Scheduler) Cancel(t *Task) bool {
	switch t.state {
	case models.TaskStatePending:
		if s.queue.Remove(t) == 0 {
			return false
		}
		s.settle(t, outcome.Cancelled{}, 0)
		s.metrics.queueSize.Set(float64(s.queue.Size()))
		return true
	case models.TaskStateExecuting:
		return s.interrupt(t)
	default:
		return false
	}
}

// Interrupt asks an in-flight task to stop. Tasks whose operation does not
// implement Interrupter run to completion and Interrupt returns false.
func (s *Scheduler) Interrupt(t *Task) bool {
	return s.interrupt(t)
}

// SetSuspended stops or resumes dispatch. Tasks in flight are unaffected and
// the watchdog keeps running.
func (s *Scheduler) SetSuspended(suspended bool) {
	s.suspended = suspended
}

// Suspended ...
func (s *Scheduler) Suspended() bool {
	return s.suspended
}

// Shutdown cancels everything pending and refuses further tasks. In-flight
// tasks are interrupted where they support it; the rest are settled as
// cancelled so every task still reports exactly once. Pending timers are
// dropped.
func (s *Scheduler) Shutdown() {
	s.stopped = true
	for {
		t, ok := s.queue.Poll()
		if !ok {
			break
		}
		s.settle(t, outcome.Cancelled{Reason: errors.ErrStopped}, 0)
	}
	s.metrics.queueSize.Set(0)
	for _, t := range s.inflightBySeq() {
		if s.interrupt(t) {
			continue
		}
		x := t.exec
		if x.done.CompareAndSwap(false, true) {
			s.finish(x, outcome.Cancelled{Reason: errors.ErrStopped})
		}
	}
	s.timers.Clear()
}

// PositionInQueue returns the zero-based position of the first pending task
// of kind bound to owner, or -1.
func (s *Scheduler) PositionInQueue(kind string, owner models.Owner) int {
	return slices.IndexFunc(s.queue.Items(), func(t *Task) bool {
		return t.owner == owner && t.Kind() == kind
	})
}

// IsInQueue ...
func (s *Scheduler) IsInQueue(kind string, owner models.Owner) bool {
	return s.queue.ContainsFunc(func(t *Task) bool {
		return t.owner == owner && t.Kind() == kind
	})
}

// Current returns the task owner has in flight, if any.
func (s *Scheduler) Current(owner models.Owner) *Task {
	return s.inflight[owner]
}

// Busy reports whether anything is queued, running, scheduled or posted.
func (s *Scheduler) Busy() bool {
	return s.queue.Size() > 0 || len(s.inflight) > 0 || s.timers.Size() > 0 || s.inbox.len() > 0
}

// Post schedules fn to run on the loop goroutine. Safe for concurrent use.
func (s *Scheduler) Post(fn func()) {
	s.inbox.post(fn)
}

// Wake is signalled whenever something is posted.
func (s *Scheduler) Wake() <-chan struct{} {
	return s.inbox.wake
}

// Call runs fn on the loop goroutine and waits for it to return. It must not
// be called from the loop goroutine itself.
func (s *Scheduler) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	s.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Advance moves the clock forward by delta, fires due timers and runs the
// watchdog.
func (s *Scheduler) Advance(delta time.Duration) {
	if delta > 0 {
		s.now += delta
	}
	s.fireTimers()
	s.sweep()
}

// Pump runs posted work and starts every task that is free to run, repeating
// until neither makes progress.
func (s *Scheduler) Pump() {
	for {
		ran := s.drain()
		started := s.dispatch()
		if ran == 0 && !started {
			return
		}
	}
}

func (s *Scheduler) drain() int {
	items := s.inbox.take()
	for _, fn := range items {
		s.safeCall("posted", fn)
	}
	return len(items)
}

func (s *Scheduler) dispatch() bool {
	if s.suspended {
		return false
	}
	progressed := s.preempt()

	for s.queue.Size() > 0 {
		if s.sem != nil && !s.sem.TryAcquire(1) {
			break
		}
		t, ok := s.queue.PollFunc(s.eligible)
		if !ok {
			if s.sem != nil {
				s.sem.Release(1)
			}
			break
		}
		s.start(t)
		progressed = true
	}

	s.metrics.queueSize.Set(float64(s.queue.Size()))
	return progressed
}

func (s *Scheduler) eligible(t *Task) bool {
	if _, busy := s.inflight[t.owner]; busy {
		return false
	}
	if t.resource != "" {
		if _, held := s.resources[t.resource]; held {
			return false
		}
	}
	return true
}

// preempt interrupts interruptible resource holders standing in the way of
// an urgent task whose owner is free.
func (s *Scheduler) preempt() bool {
	if !s.queue.ContainsFunc(func(t *Task) bool { return t.urgent && t.resource != "" }) {
		return false
	}
	progressed := false
	for _, t := range s.queue.Items() {
		if !t.urgent || t.resource == "" {
			continue
		}
		if _, busy := s.inflight[t.owner]; busy {
			continue
		}
		holder, held := s.resources[t.resource]
		if !held || holder.urgent || holder.owner == t.owner {
			continue
		}
		if s.interrupt(holder) {
			log.WithFields(log.Fields{
				"task_kind": holder.Kind(),
				"owner":     holder.owner.String(),
				"by":        t.Kind(),
				"resource":  t.resource,
			}).Info("Interrupted task for urgent work")
			progressed = true
		}
	}
	return progressed
}

func (s *Scheduler) start(t *Task) {
	x := &Execution{task: t, s: s}
	t.exec = x
	t.state = models.TaskStateExecuting
	t.started = s.now
	s.inflight[t.owner] = t
	if t.resource != "" {
		s.resources[t.resource] = t
	}
	s.metrics.inflightOwners.Set(float64(len(s.inflight)))

	log.WithFields(log.Fields{
		"task_id":   t.id,
		"task_kind": t.Kind(),
		"owner":     t.owner.String(),
		"seq":       t.seq,
		"waited":    (s.now - t.queuedAt).String(),
	}).Debug("Task started")

	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"task_kind": t.Kind(),
				"owner":     t.owner.String(),
				"panic":     r,
			}).Error("Recovered from panic in task")
			x.Complete(outcome.TransportError{Op: transport.Op(t.Kind()), Code: outcome.CodePanic})
		}
	}()
	t.op.Execute(x)
}

func (s *Scheduler) interrupt(t *Task) bool {
	if t.state != models.TaskStateExecuting {
		return false
	}
	in, ok := t.op.(Interrupter)
	if !ok {
		return false
	}
	x := t.exec
	stopped := false
	s.safeCall("interrupt", func() { stopped = in.Interrupt(x) })
	if !stopped {
		return false
	}

	s.metrics.interrupts.WithLabelValues(t.Kind()).Inc()
	if x.done.CompareAndSwap(false, true) {
		s.finish(x, outcome.Interrupted{Elapsed: s.now - t.started})
	}
	return true
}

// sweep ends every in-flight task whose window has passed, oldest first.
func (s *Scheduler) sweep() {
	var expired []*Task
	for _, t := range s.inflight {
		timeout := s.getTimeout(t)
		if timeout > 0 && s.now-t.started >= timeout {
			expired = append(expired, t)
		}
	}
	slices.SortFunc(expired, func(a, b *Task) int {
		return cmp.Compare(a.seq, b.seq)
	})

	for _, t := range expired {
		x := t.exec
		if !x.done.CompareAndSwap(false, true) {
			continue
		}
		if obs, ok := t.op.(TimeoutObserver); ok {
			s.safeCall("timeout", func() { obs.OnTimeout(x) })
		}
		s.metrics.timeouts.WithLabelValues(t.Kind()).Inc()
		s.finish(x, outcome.TimedOut{After: s.getTimeout(t)})
	}
}

// getTimeout ...
func (s *Scheduler) getTimeout(t *Task) time.Duration {
	if t.timeout != 0 {
		return t.timeout
	}
	return s.config.DefaultTimeout
}

// finish ends an in-flight task. Reports for a task that already ended are
// ignored.
func (s *Scheduler) finish(x *Execution, o outcome.Outcome) {
	t := x.task
	if t.exec != x || t.state != models.TaskStateExecuting {
		return
	}
	elapsed := s.now - t.started
	if in, ok := o.(outcome.Interrupted); ok && in.Elapsed == 0 {
		o = outcome.Interrupted{Elapsed: elapsed}
	}

	delete(s.inflight, t.owner)
	if t.resource != "" && s.resources[t.resource] == t {
		delete(s.resources, t.resource)
	}
	if s.sem != nil {
		s.sem.Release(1)
	}
	s.metrics.inflightOwners.Set(float64(len(s.inflight)))
	s.metrics.taskDuration.WithLabelValues(t.Kind(), string(outcome.State(o))).Observe(elapsed.Seconds())

	s.settle(t, o, elapsed)
}

// settle records the terminal outcome and runs the task's callback.
func (s *Scheduler) settle(t *Task, o outcome.Outcome, elapsed time.Duration) {
	t.state = outcome.State(o)
	t.result = o
	s.metrics.tasksProcessed.WithLabelValues(t.Kind(), string(t.state)).Inc()

	e := models.Event{
		At:       time.Now(),
		TaskID:   t.id,
		Kind:     t.Kind(),
		Owner:    t.owner,
		State:    t.state,
		Elapsed:  elapsed,
		Seq:      t.seq,
		Priority: t.priority,
	}
	if err := o.Err(); err != nil {
		e.Error = err.Error()
	}
	s.sink.Record(e)

	if t.onDone != nil {
		s.safeCall("on_done", func() { t.onDone(t, o) })
	}
}

func (s *Scheduler) inflightBySeq() []*Task {
	tasks := make([]*Task, 0, len(s.inflight))
	for _, t := range s.inflight {
		tasks = append(tasks, t)
	}
	slices.SortFunc(tasks, func(a, b *Task) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return tasks
}

// safeCall runs fn, logging instead of propagating a panic.
func (s *Scheduler) safeCall(where string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"where": where,
				"panic": r,
			}).Error("Recovered from panic on scheduler loop")
		}
	}()
	fn()
}
