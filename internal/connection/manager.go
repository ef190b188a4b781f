// Package connection brings peers from first contact to ready-for-use. Each
// peer has at most one connection attempt at a time, made of a sequence of
// scheduler tasks that are retried with backoff.
package connection

import (
	"slices"
	"strings"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	log "github.com/sirupsen/logrus"

	"bleq/internal/errors"
	"bleq/internal/models"
	"bleq/internal/outcome"
	"bleq/internal/taskmanager"
	"bleq/internal/transport"
)

// Config ...
type Config struct {
	Retry          RetryConfig
	ConnectTimeout time.Duration
	StageTimeout   time.Duration
	// MTU is requested while CONFIGURING. Zero skips the negotiation.
	MTU int
	// ConnectsPerMinute throttles connect requests per peer. Zero disables
	// the throttle.
	ConnectsPerMinute int
	Priority          models.Priority
}

// DefaultConfig ...
func DefaultConfig() Config {
	return Config{
		Retry:          DefaultRetryConfig(),
		ConnectTimeout: 10 * time.Second,
		StageTimeout:   5 * time.Second,
		Priority:       models.PriorityHigh,
	}
}

// limiter is satisfied by *catrate.Limiter.
type limiter interface {
	Allow(category any) (time.Time, bool)
}

type peerState struct {
	since    time.Time
	lastErr  error
	stage    models.Stage
	failures int
}

// Manager owns every connection attempt. Like the scheduler it runs on the
// loop goroutine only.
type Manager struct {
	sched     *taskmanager.Scheduler
	transport transport.Transport
	throttle  limiter
	attempts  map[string]*Attempt
	peers     map[string]*peerState
	config    Config
}

// NewManager ...
func NewManager(sched *taskmanager.Scheduler, t transport.Transport, config Config) *Manager {
	if config.Retry.MaxAttempts == 0 {
		config.Retry.MaxAttempts = 1
	}
	m := &Manager{
		sched:     sched,
		transport: t,
		attempts:  make(map[string]*Attempt),
		peers:     make(map[string]*peerState),
		config:    config,
	}
	if config.ConnectsPerMinute > 0 {
		m.throttle = catrate.NewLimiter(map[time.Duration]int{time.Minute: config.ConnectsPerMinute})
	}
	return m
}

// Connect starts bringing peer up, or joins the attempt already under way.
// Hooks run on the loop goroutine after the attempt ends. A peer that is
// already ready gets its hooks called on the next pump and no Attempt.
func (m *Manager) Connect(peer string, profile Profile, hooks ...Hook) (*Attempt, error) {
	if strings.TrimSpace(peer) == "" {
		return nil, errors.InvalidArgument("empty peer")
	}
	if a, ok := m.attempts[peer]; ok {
		a.hooks = append(a.hooks, hooks...)
		log.WithFields(log.Fields{
			"peer":  peer,
			"stage": a.stage.String(),
		}).Debug("Joined connection attempt")
		return a, nil
	}
	if m.IsReady(peer) {
		res := Result{Peer: peer, Stage: models.StageReady}
		for _, h := range hooks {
			m.sched.Post(func() { h(res) })
		}
		return nil, nil
	}

	a := &Attempt{
		m:       m,
		peer:    peer,
		profile: profile,
		hooks:   hooks,
		started: time.Now(),
		stage:   models.StageConnecting,
	}
	m.attempts[peer] = a
	m.peers[peer] = &peerState{stage: models.StageConnecting, since: time.Now()}

	log.WithField("peer", peer).Info("Connecting")
	a.submit()
	return a, nil
}

// Disconnect cancels any attempt for peer, withdraws the peer's pending
// tasks and queues a disconnect ahead of everything else. done may be nil.
func (m *Manager) Disconnect(peer string, done func(outcome.Outcome)) error {
	if strings.TrimSpace(peer) == "" {
		return errors.InvalidArgument("empty peer")
	}
	if a, ok := m.attempts[peer]; ok {
		a.cancel(errors.New("disconnect requested"))
	}
	owner := models.PeerOwner(peer)
	if n := m.sched.ReleaseOwner(owner); n > 0 {
		log.WithFields(log.Fields{"peer": peer, "count": n}).Info("Dropped pending tasks for disconnect")
	}

	task := taskmanager.NewTask(
		taskmanager.NewRequestOp(m.transport, transport.Request{Op: transport.OpDisconnect, Peer: peer}),
		owner,
		taskmanager.WithPriority(models.PriorityCritical),
		taskmanager.WithTimeout(m.config.StageTimeout),
		taskmanager.OnDone(func(_ *taskmanager.Task, o outcome.Outcome) {
			if _, connecting := m.attempts[peer]; !connecting {
				delete(m.peers, peer)
			}
			if done != nil {
				done(o)
			}
		}),
	)
	return m.sched.Add(task)
}

// Shutdown fails every attempt under way with ErrStopped, including those
// waiting out a backoff. Hooks are posted to the scheduler as usual.
func (m *Manager) Shutdown() {
	peers := make([]string, 0, len(m.attempts))
	for peer := range m.attempts {
		peers = append(peers, peer)
	}
	slices.Sort(peers)
	for _, peer := range peers {
		if a, ok := m.attempts[peer]; ok {
			a.cancel(errors.ErrStopped)
		}
	}
	if len(peers) > 0 {
		log.WithField("count", len(peers)).Info("Stopped connection attempts")
	}
}

// LinkLost records that a ready peer dropped its link.
func (m *Manager) LinkLost(peer string, err error) {
	if _, connecting := m.attempts[peer]; connecting {
		return
	}
	if ps, ok := m.peers[peer]; ok && ps.stage == models.StageReady {
		ps.stage = models.StageFailed
		ps.lastErr = err
		ps.since = time.Now()
		log.WithField("peer", peer).WithError(err).Warn("Link lost")
	}
}

// Attempt returns the active attempt for peer, if any.
func (m *Manager) Attempt(peer string) *Attempt {
	return m.attempts[peer]
}

// IsReady ...
func (m *Manager) IsReady(peer string) bool {
	ps, ok := m.peers[peer]
	return ok && ps.stage == models.StageReady
}

// Status ...
func (m *Manager) Status(peer string) (models.PeerStatus, bool) {
	ps, ok := m.peers[peer]
	if !ok {
		return models.PeerStatus{}, false
	}
	status := models.PeerStatus{
		Peer:     peer,
		Stage:    ps.stage.String(),
		Failures: ps.failures,
		Since:    ps.since,
	}
	if a, ok := m.attempts[peer]; ok {
		status.Retrying = a.retrying
	}
	if ps.lastErr != nil {
		status.LastErr = ps.lastErr.Error()
	}
	return status, true
}

// Peers returns the status of every known peer, sorted by name.
func (m *Manager) Peers() []models.PeerStatus {
	out := make([]models.PeerStatus, 0, len(m.peers))
	for peer := range m.peers {
		status, _ := m.Status(peer)
		out = append(out, status)
	}
	slices.SortFunc(out, func(a, b models.PeerStatus) int {
		return strings.Compare(a.Peer, b.Peer)
	})
	return out
}

func (m *Manager) setStage(peer string, stage models.Stage) {
	if ps, ok := m.peers[peer]; ok && ps.stage != stage {
		ps.stage = stage
		ps.since = time.Now()
	}
}

func (m *Manager) recordFailure(peer string, err error) {
	if ps, ok := m.peers[peer]; ok {
		ps.failures++
		ps.lastErr = err
	}
}

// finish retires a and notifies its hooks.
func (m *Manager) finish(a *Attempt, res Result) {
	if m.attempts[a.peer] == a {
		delete(m.attempts, a.peer)
	}
	if ps, ok := m.peers[a.peer]; ok {
		if res.Err == nil {
			ps.stage = models.StageReady
		} else {
			ps.stage = models.StageFailed
			ps.lastErr = res.Err
		}
		ps.since = time.Now()
	}

	if res.Err != nil && a.linkUp && !errors.Is(res.Err, errors.ErrCancelled) {
		m.dropLink(a.peer)
	}

	for _, h := range a.hooks {
		m.sched.Post(func() { h(res) })
	}
}

// dropLink closes a half-open link left behind by a failed attempt.
func (m *Manager) dropLink(peer string) {
	task := taskmanager.NewTask(
		taskmanager.NewRequestOp(m.transport, transport.Request{Op: transport.OpDisconnect, Peer: peer}),
		models.PeerOwner(peer),
		taskmanager.WithPriority(models.PriorityCritical),
		taskmanager.WithTimeout(m.config.StageTimeout),
	)
	if err := m.sched.Add(task); err != nil {
		log.WithError(err).WithField("peer", peer).Warn("Failed to queue disconnect")
	}
}
