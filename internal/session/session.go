// Package session is the caller-facing entry point. A Session owns the
// scheduler, the connection manager and the update loop, and exposes a
// goroutine-safe API on top of them.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"bleq/internal/connection"
	"bleq/internal/errors"
	"bleq/internal/models"
	"bleq/internal/outcome"
	"bleq/internal/taskmanager"
	"bleq/internal/transport"
	"bleq/internal/updateloop"
)

// RadioResource is held by operations the radio runs one at a time across
// every peer.
const RadioResource = "radio"

// Config ...
type Config struct {
	// ID names the session in logs and the journal. Empty means a random
	// UUID.
	ID         string
	Scheduler  taskmanager.Config
	Connection connection.Config
	Loop       updateloop.Config
}

// DefaultConfig ...
func DefaultConfig() Config {
	return Config{
		Scheduler:  taskmanager.DefaultConfig(),
		Connection: connection.DefaultConfig(),
		Loop:       updateloop.DefaultConfig(),
	}
}

// Session ...
type Session struct {
	sched     *taskmanager.Scheduler
	conns     *connection.Manager
	loop      *updateloop.Loop
	transport transport.Transport
	id        string
}

// New builds a session over t. Nothing runs until Start.
func New(t transport.Transport, config Config) *Session {
	sched := taskmanager.NewScheduler(config.Scheduler)
	if config.ID == "" {
		config.ID = uuid.NewString()
	}
	return &Session{
		id:        config.ID,
		sched:     sched,
		conns:     connection.NewManager(sched, t, config.Connection),
		loop:      updateloop.New(sched, config.Loop),
		transport: t,
	}
}

// ID ...
func (s *Session) ID() string {
	return s.id
}

// Start runs the update loop. Every other method blocks until it is running.
func (s *Session) Start(ctx context.Context) error {
	if err := s.loop.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session %s: %w", s.id, err)
	}
	log.WithField("session_id", s.id).Info("Session started")
	return nil
}

// Stop halts the loop, fails every connection attempt and cancels whatever
// is still queued or in flight. Every outstanding callback runs before Stop
// returns. A stopped session cannot be restarted.
func (s *Session) Stop() {
	s.loop.Stop()
	s.conns.Shutdown()
	s.sched.Shutdown()
	s.sched.Pump()
	log.WithField("session_id", s.id).Info("Session stopped")
}

// call runs fn on the loop goroutine and returns its error.
func (s *Session) call(ctx context.Context, fn func() error) error {
	var err error
	if callErr := s.sched.Call(ctx, func() { err = fn() }); callErr != nil {
		return callErr
	}
	return err
}

// Connect starts or joins a connection attempt for peer. hook receives the
// terminal result and may be nil.
func (s *Session) Connect(ctx context.Context, peer string, profile connection.Profile, hook connection.Hook) error {
	var hooks []connection.Hook
	if hook != nil {
		hooks = append(hooks, hook)
	}
	return s.call(ctx, func() error {
		_, err := s.conns.Connect(peer, profile, hooks...)
		return err
	})
}

// Disconnect cancels any connection attempt, drops the peer's pending tasks
// and closes the link.
func (s *Session) Disconnect(ctx context.Context, peer string, done func(outcome.Outcome)) error {
	return s.call(ctx, func() error {
		return s.conns.Disconnect(peer, done)
	})
}

// Read queues a characteristic read on a ready peer.
func (s *Session) Read(ctx context.Context, peer, characteristic string, done func(outcome.Outcome), opts ...taskmanager.TaskOption) error {
	req := transport.Request{Op: transport.OpRead, Peer: peer, Characteristic: characteristic}
	return s.peerRequest(ctx, req, done, opts...)
}

// Write queues a characteristic write on a ready peer.
func (s *Session) Write(ctx context.Context, peer, characteristic string, data []byte, done func(outcome.Outcome), opts ...taskmanager.TaskOption) error {
	req := transport.Request{Op: transport.OpWrite, Peer: peer, Characteristic: characteristic, Data: data}
	return s.peerRequest(ctx, req, done, opts...)
}

// Bond pairs with a ready peer. Bonding holds the radio and interrupts a
// running scan.
func (s *Session) Bond(ctx context.Context, peer string, done func(outcome.Outcome)) error {
	req := transport.Request{Op: transport.OpBond, Peer: peer}
	return s.peerRequest(ctx, req, done, taskmanager.WithResource(RadioResource), taskmanager.Urgent())
}

func (s *Session) peerRequest(ctx context.Context, req transport.Request, done func(outcome.Outcome), opts ...taskmanager.TaskOption) error {
	if strings.TrimSpace(req.Peer) == "" {
		return errors.InvalidArgument("empty peer")
	}
	if req.Op != transport.OpBond && req.Characteristic == "" {
		return errors.InvalidArgument("empty characteristic")
	}
	return s.call(ctx, func() error {
		if !s.conns.IsReady(req.Peer) {
			return fmt.Errorf("%w: %s", errors.ErrNotConnected, req.Peer)
		}
		opts = append(opts, taskmanager.OnDone(func(_ *taskmanager.Task, o outcome.Outcome) {
			if te, ok := o.(outcome.TransportError); ok && te.LinkLost {
				s.conns.LinkLost(req.Peer, o.Err())
			}
			if done != nil {
				done(o)
			}
		}))
		task := taskmanager.NewTask(taskmanager.NewRequestOp(s.transport, req), models.PeerOwner(req.Peer), opts...)
		return s.sched.Add(task)
	})
}

// ClearQueueOf cancels pending tasks of kind for owner.
func (s *Session) ClearQueueOf(ctx context.Context, kind string, owner models.Owner) (int, error) {
	var n int
	err := s.call(ctx, func() error {
		n = s.sched.ClearQueueOf(kind, owner)
		return nil
	})
	return n, err
}

// Snapshot ...
func (s *Session) Snapshot(ctx context.Context) (taskmanager.Snapshot, error) {
	var snap taskmanager.Snapshot
	err := s.call(ctx, func() error {
		snap = s.sched.Snapshot()
		return nil
	})
	return snap, err
}

// Peers ...
func (s *Session) Peers(ctx context.Context) ([]models.PeerStatus, error) {
	var peers []models.PeerStatus
	err := s.call(ctx, func() error {
		peers = s.conns.Peers()
		return nil
	})
	return peers, err
}

// SetSuspended pauses or resumes dispatch.
func (s *Session) SetSuspended(ctx context.Context, suspended bool) error {
	return s.call(ctx, func() error {
		s.sched.SetSuspended(suspended)
		return nil
	})
}

// Wait adapts a callback-style call into a blocking one. start receives the
// callback to hand to the session.
func Wait[T any](ctx context.Context, start func(done func(T)) error) (T, error) {
	ch := make(chan T, 1)
	var zero T
	if err := start(func(v T) { ch <- v }); err != nil {
		return zero, err
	}
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Idle reports whether the update loop is ticking at its idle rate.
func (s *Session) Idle() bool {
	return s.loop.Idle()
}

// Uptime is the scheduler clock, i.e. the clamped time the loop has run.
func (s *Session) Uptime(ctx context.Context) (time.Duration, error) {
	var now time.Duration
	err := s.call(ctx, func() error {
		now = s.sched.Now()
		return nil
	})
	return now, err
}
