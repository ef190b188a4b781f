package connection

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"bleq/internal/errors"
	"bleq/internal/models"
	"bleq/internal/outcome"
	"bleq/internal/taskmanager"
	"bleq/internal/transport"
)

// Result is delivered once per connection attempt to every attached hook.
type Result struct {
	Peer string
	// Stage is READY on success, otherwise the stage the attempt was in
	// when it failed.
	Stage models.Stage
	// Failures counts failed steps, including the one that ended the attempt.
	Failures int
	History  []models.Failure
	// Err is nil on success. It matches errors.ErrRetriesExhausted or
	// errors.ErrCancelled otherwise.
	Err error
}

// Hook receives the terminal result of a connection attempt.
type Hook func(Result)

// Profile is the caller-supplied part of bringing a peer up: notifications
// enabled while CONFIGURING and requests issued while INITIALIZING.
type Profile struct {
	Notifications []string
	Steps         []transport.Request
}

// Attempt drives one peer from CONNECTING to READY or FAILED. Each step is a
// separate task, and a retry is always a new task.
type Attempt struct {
	m        *Manager
	profile  Profile
	current  *taskmanager.Task
	backoff  *taskmanager.Timer
	peer     string
	hooks    []Hook
	history  []models.Failure
	started  time.Time
	stage    models.Stage
	step     int
	failures int
	retrying bool
	linkUp   bool
}

// Peer ...
func (a *Attempt) Peer() string { return a.peer }

// Stage ...
func (a *Attempt) Stage() models.Stage { return a.stage }

// Failures ...
func (a *Attempt) Failures() int { return a.failures }

// Retrying reports whether the attempt is waiting out a backoff or re-running
// a failed step.
func (a *Attempt) Retrying() bool { return a.retrying }

// History returns the failures so far, oldest first.
func (a *Attempt) History() []models.Failure {
	return append([]models.Failure(nil), a.history...)
}

// Done ...
func (a *Attempt) Done() bool { return a.stage.IsTerminal() }

func (a *Attempt) steps(stage models.Stage) []transport.Request {
	switch stage {
	case models.StageConnecting:
		return []transport.Request{{Op: transport.OpConnect, Peer: a.peer}}
	case models.StageDiscovering:
		return []transport.Request{{Op: transport.OpDiscover, Peer: a.peer}}
	case models.StageConfiguring:
		var reqs []transport.Request
		if a.m.config.MTU > 0 {
			reqs = append(reqs, transport.Request{Op: transport.OpRequestMTU, Peer: a.peer, MTU: a.m.config.MTU})
		}
		for _, char := range a.profile.Notifications {
			reqs = append(reqs, transport.Request{Op: transport.OpEnableNotify, Peer: a.peer, Characteristic: char})
		}
		return reqs
	case models.StageInitializing:
		reqs := make([]transport.Request, 0, len(a.profile.Steps))
		for _, req := range a.profile.Steps {
			req.Peer = a.peer
			reqs = append(reqs, req)
		}
		return reqs
	default:
		return nil
	}
}

// submit queues the task for the current step.
func (a *Attempt) submit() {
	if a.Done() {
		return
	}
	a.backoff = nil

	if a.stage == models.StageConnecting && a.m.throttle != nil {
		if next, ok := a.m.throttle.Allow(a.peer); !ok {
			wait := max(time.Until(next), 0)
			log.WithFields(log.Fields{
				"peer": a.peer,
				"wait": wait.String(),
			}).Info("Connect throttled")
			a.backoff = a.m.sched.After(wait, a.submit)
			return
		}
	}

	req := a.steps(a.stage)[a.step]
	timeout := a.m.config.StageTimeout
	if a.stage == models.StageConnecting {
		timeout = a.m.config.ConnectTimeout
	}
	task := taskmanager.NewTask(
		taskmanager.NewRequestOp(a.m.transport, req),
		models.PeerOwner(a.peer),
		taskmanager.WithPriority(a.m.config.Priority),
		taskmanager.WithTimeout(timeout),
		taskmanager.WithMetadata("stage", a.stage.String()),
		taskmanager.WithMetadata("attempt", a.failures+1),
		taskmanager.OnDone(a.onDone),
	)
	if err := a.m.sched.Add(task); err != nil {
		a.fail(fmt.Errorf("failed to queue %s: %w", req, err))
		return
	}
	a.current = task
}

func (a *Attempt) onDone(t *taskmanager.Task, o outcome.Outcome) {
	if a.current != t || a.Done() {
		return
	}
	a.current = nil

	switch o.Kind() {
	case outcome.KindSuccess:
		a.retrying = false
		if a.stage == models.StageConnecting {
			a.linkUp = true
		}
		a.advance()
	case outcome.KindTransportError, outcome.KindTimedOut:
		a.retry(o)
	default:
		err := o.Err()
		if !errors.Is(err, errors.ErrCancelled) {
			err = fmt.Errorf("%w: %w", errors.ErrCancelled, err)
		}
		a.fail(err)
	}
}

// advance moves to the next step, skipping stages with nothing to do.
func (a *Attempt) advance() {
	a.step++
	for a.step >= len(a.steps(a.stage)) {
		a.stage++
		a.step = 0
		a.m.setStage(a.peer, a.stage)
		if a.stage == models.StageReady {
			a.succeed()
			return
		}
	}
	a.submit()
}

func (a *Attempt) retry(o outcome.Outcome) {
	err := o.Err()
	a.failures++
	f := models.Failure{
		At:      time.Now(),
		Stage:   a.stage,
		Attempt: a.failures,
		Error:   err.Error(),
		Err:     err,
	}
	if te, ok := o.(outcome.TransportError); ok {
		f.Code = te.Code
	}
	a.history = append(a.history, f)
	a.m.recordFailure(a.peer, err)

	fields := log.Fields{
		"peer":     a.peer,
		"stage":    a.stage.String(),
		"attempt":  a.failures,
		"attempts": a.m.config.Retry.MaxAttempts,
	}
	if a.failures >= int(a.m.config.Retry.MaxAttempts) {
		errs := make([]error, len(a.history))
		for i, f := range a.history {
			errs[i] = f.Err
		}
		log.WithFields(fields).WithError(err).Error("Connection attempt exhausted its retries")
		a.fail(&errors.RetriesExhaustedError{
			Stage:    a.stage.String(),
			Attempts: a.failures,
			History:  errs,
		})
		return
	}

	a.retrying = true
	if te, ok := o.(outcome.TransportError); ok && te.LinkLost && a.stage != models.StageConnecting {
		a.stage = models.StageConnecting
		a.step = 0
		a.linkUp = false
		a.m.setStage(a.peer, a.stage)
		fields["restart"] = true
	}

	delay := a.m.config.Retry.NextBackoff(uint(a.failures - 1))
	fields["backoff"] = delay.String()
	log.WithFields(fields).WithError(err).Warn("Connection step failed, retrying")
	a.backoff = a.m.sched.After(delay, a.submit)
}

// cancel ends the attempt with a cancelled reason. A pending step is
// withdrawn; a step already in flight is interrupted if it can be, and
// otherwise runs out on its own.
func (a *Attempt) cancel(reason error) {
	if a.Done() {
		return
	}
	if a.backoff != nil {
		a.backoff.Stop()
		a.backoff = nil
	}
	if t := a.current; t != nil {
		a.current = nil
		a.m.sched.Cancel(t)
	}
	if !errors.Is(reason, errors.ErrCancelled) {
		reason = fmt.Errorf("%w: %w", errors.ErrCancelled, reason)
	}
	a.fail(reason)
}

func (a *Attempt) succeed() {
	log.WithFields(log.Fields{
		"peer":     a.peer,
		"failures": a.failures,
		"took":     time.Since(a.started).String(),
	}).Info("Peer ready")
	a.retrying = false
	a.m.finish(a, Result{
		Peer:     a.peer,
		Stage:    models.StageReady,
		Failures: a.failures,
		History:  a.History(),
	})
}

func (a *Attempt) fail(err error) {
	reached := a.stage
	a.stage = models.StageFailed
	a.retrying = false
	a.m.finish(a, Result{
		Peer:     a.peer,
		Stage:    reached,
		Failures: a.failures,
		History:  a.History(),
		Err:      err,
	})
}
