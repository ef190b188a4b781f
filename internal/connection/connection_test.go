package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bleq/internal/errors"
	"bleq/internal/models"
	"bleq/internal/outcome"
	"bleq/internal/taskmanager"
	"bleq/internal/transport"
	"bleq/internal/transport/sim"
)

const peer = "hrm-1"

type harness struct {
	sched   *taskmanager.Scheduler
	tr      *sim.Transport
	m       *Manager
	results []Result
}

func newHarness(t *testing.T, config Config) *harness {
	t.Helper()
	h := &harness{
		sched: taskmanager.NewScheduler(taskmanager.Config{DefaultTimeout: -1}),
		tr:    sim.New(),
	}
	h.m = NewManager(h.sched, h.tr, config)
	return h
}

func testConfig() Config {
	return Config{
		Retry:          RetryConfig{MaxAttempts: 3},
		ConnectTimeout: time.Second,
		StageTimeout:   time.Second,
		Priority:       models.PriorityHigh,
	}
}

func (h *harness) hook(r Result) {
	h.results = append(h.results, r)
}

// drive runs zero-length ticks until nothing is left to do right now.
func (h *harness) drive() {
	for i := 0; i < 50; i++ {
		h.sched.Advance(0)
		h.sched.Pump()
	}
}

func (h *harness) ops() []transport.Op {
	var ops []transport.Op
	for _, c := range h.tr.Calls() {
		ops = append(ops, c.Op)
	}
	return ops
}

func failure(code int) sim.Reply {
	return sim.Reply{Result: sim.ReplyFailure, Code: code}
}

func TestConnect_ReachesReady(t *testing.T) {
	config := testConfig()
	config.MTU = 185
	h := newHarness(t, config)

	profile := Profile{
		Notifications: []string{"hr"},
		Steps:         []transport.Request{{Op: transport.OpWrite, Characteristic: "ctl", Data: []byte{1}}},
	}
	a, err := h.m.Connect(peer, profile, h.hook)
	require.NoError(t, err)
	require.NotNil(t, a)
	h.drive()

	require.Len(t, h.results, 1)
	res := h.results[0]
	assert.NoError(t, res.Err)
	assert.Equal(t, models.StageReady, res.Stage)
	assert.Zero(t, res.Failures)
	assert.Equal(t, []transport.Op{
		transport.OpConnect,
		transport.OpDiscover,
		transport.OpRequestMTU,
		transport.OpEnableNotify,
		transport.OpWrite,
	}, h.ops())
	assert.Equal(t, peer, h.tr.Calls()[4].Peer)
	assert.True(t, h.m.IsReady(peer))
	assert.Nil(t, h.m.Attempt(peer))
	assert.Equal(t, models.StageReady, a.Stage())
}

func TestConnect_RetriesExhausted(t *testing.T) {
	h := newHarness(t, testConfig())
	h.tr.Script(peer, "connect", failure(0x01), failure(0x01), failure(0x01), sim.Reply{Result: sim.ReplySuccess})

	_, err := h.m.Connect(peer, Profile{}, h.hook)
	require.NoError(t, err)
	h.drive()

	assert.Equal(t, 3, h.tr.CallCount(peer, transport.OpConnect))
	require.Len(t, h.results, 1)
	res := h.results[0]
	assert.ErrorIs(t, res.Err, errors.ErrRetriesExhausted)
	assert.Equal(t, models.StageConnecting, res.Stage)
	assert.Equal(t, 3, res.Failures)
	require.Len(t, res.History, 3)
	for i, f := range res.History {
		assert.Equal(t, models.StageConnecting, f.Stage)
		assert.Equal(t, i+1, f.Attempt)
	}

	var exhausted *errors.RetriesExhaustedError
	require.ErrorAs(t, res.Err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Len(t, exhausted.History, 3)

	var te *errors.TransportError
	require.ErrorAs(t, res.Err, &te)
	assert.Equal(t, 0x01, te.Code)

	status, ok := h.m.Status(peer)
	require.True(t, ok)
	assert.Equal(t, "FAILED", status.Stage)
	assert.Equal(t, 3, status.Failures)
}

func TestConnect_RetriesSameStage(t *testing.T) {
	h := newHarness(t, testConfig())
	h.tr.Script(peer, "discover_services", failure(0x0E))

	_, err := h.m.Connect(peer, Profile{}, h.hook)
	require.NoError(t, err)
	h.drive()

	require.Len(t, h.results, 1)
	assert.NoError(t, h.results[0].Err)
	assert.Equal(t, 1, h.results[0].Failures)
	assert.Equal(t, 1, h.tr.CallCount(peer, transport.OpConnect))
	assert.Equal(t, 2, h.tr.CallCount(peer, transport.OpDiscover))
	assert.Equal(t, models.StageDiscovering, h.results[0].History[0].Stage)
}

func TestConnect_LinkLossRestartsFromConnecting(t *testing.T) {
	h := newHarness(t, testConfig())
	h.tr.Script(peer, "discover_services", failure(0x08))

	_, err := h.m.Connect(peer, Profile{}, h.hook)
	require.NoError(t, err)
	h.drive()

	require.Len(t, h.results, 1)
	assert.NoError(t, h.results[0].Err)
	assert.Equal(t, []transport.Op{
		transport.OpConnect,
		transport.OpDiscover,
		transport.OpConnect,
		transport.OpDiscover,
	}, h.ops())
}

func TestConnect_TimeoutCountsAsFailure(t *testing.T) {
	h := newHarness(t, testConfig())
	h.tr.Script(peer, "connect", sim.Reply{Result: sim.ReplySilent})

	a, err := h.m.Connect(peer, Profile{}, h.hook)
	require.NoError(t, err)
	h.drive()
	require.Empty(t, h.results)
	assert.Equal(t, models.StageConnecting, a.Stage())

	h.sched.Advance(time.Second)
	h.drive()

	require.Len(t, h.results, 1)
	assert.NoError(t, h.results[0].Err)
	assert.ErrorIs(t, h.results[0].History[0].Err, errors.ErrTimedOut)
	assert.Equal(t, 2, h.tr.CallCount(peer, transport.OpConnect))
}

func TestConnect_JoinsExistingAttempt(t *testing.T) {
	h := newHarness(t, testConfig())

	first, err := h.m.Connect(peer, Profile{}, h.hook)
	require.NoError(t, err)
	second, err := h.m.Connect(peer, Profile{}, h.hook)
	require.NoError(t, err)
	assert.Same(t, first, second)

	h.drive()
	assert.Len(t, h.results, 2)
	assert.Equal(t, 1, h.tr.CallCount(peer, transport.OpConnect))
}

func TestConnect_ReadyPeerAnswersAtOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.m.Connect(peer, Profile{})
	require.NoError(t, err)
	h.drive()

	a, err := h.m.Connect(peer, Profile{}, h.hook)
	require.NoError(t, err)
	assert.Nil(t, a)
	h.drive()

	require.Len(t, h.results, 1)
	assert.Equal(t, models.StageReady, h.results[0].Stage)
	assert.Equal(t, 1, h.tr.CallCount(peer, transport.OpConnect))
}

func TestConnect_RejectsEmptyPeer(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.m.Connect(" ", Profile{})
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
	assert.ErrorIs(t, h.m.Disconnect("", nil), errors.ErrInvalidArgument)
}

func TestDisconnect_CancelsInFlightAttempt(t *testing.T) {
	h := newHarness(t, testConfig())
	h.tr.Script(peer, "connect", sim.Reply{Result: sim.ReplySilent})

	_, err := h.m.Connect(peer, Profile{}, h.hook)
	require.NoError(t, err)
	h.drive()

	var disconnected outcome.Outcome
	require.NoError(t, h.m.Disconnect(peer, func(o outcome.Outcome) { disconnected = o }))
	h.drive()

	require.Len(t, h.results, 1)
	assert.ErrorIs(t, h.results[0].Err, errors.ErrCancelled)
	assert.NotErrorIs(t, h.results[0].Err, errors.ErrRetriesExhausted)
	assert.Nil(t, h.m.Attempt(peer))
	assert.Nil(t, disconnected)

	// the silent connect holds the peer until the watchdog frees it
	h.sched.Advance(time.Second)
	h.drive()

	assert.Equal(t, outcome.Success{}, disconnected)
	assert.Equal(t, 1, h.tr.CallCount(peer, transport.OpConnect))
	assert.Equal(t, 1, h.tr.CallCount(peer, transport.OpDisconnect))
	_, known := h.m.Status(peer)
	assert.False(t, known)
}

func TestDisconnect_WithdrawsPendingStep(t *testing.T) {
	h := newHarness(t, testConfig())

	_, err := h.m.Connect(peer, Profile{}, h.hook)
	require.NoError(t, err)
	require.NoError(t, h.m.Disconnect(peer, nil))
	h.drive()

	require.Len(t, h.results, 1)
	assert.ErrorIs(t, h.results[0].Err, errors.ErrCancelled)
	assert.Equal(t, []transport.Op{transport.OpDisconnect}, h.ops())
}

func TestConnect_FailureAfterLinkUpDropsLink(t *testing.T) {
	config := testConfig()
	config.Retry.MaxAttempts = 1
	h := newHarness(t, config)
	h.tr.Script(peer, "discover_services", failure(0x0E))

	_, err := h.m.Connect(peer, Profile{}, h.hook)
	require.NoError(t, err)
	h.drive()

	require.Len(t, h.results, 1)
	assert.ErrorIs(t, h.results[0].Err, errors.ErrRetriesExhausted)
	assert.Equal(t, models.StageDiscovering, h.results[0].Stage)
	assert.Equal(t, 1, h.tr.CallCount(peer, transport.OpDisconnect))
}

func TestConnect_BackoffDelaysRetry(t *testing.T) {
	config := testConfig()
	config.Retry = RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     time.Minute,
		Multiplier:      2,
	}
	h := newHarness(t, config)
	h.tr.Script(peer, "connect", failure(0x01))

	a, err := h.m.Connect(peer, Profile{}, h.hook)
	require.NoError(t, err)
	h.drive()
	assert.True(t, a.Retrying())
	assert.Equal(t, 1, h.tr.CallCount(peer, transport.OpConnect))

	h.sched.Advance(999 * time.Millisecond)
	h.sched.Pump()
	assert.Equal(t, 1, h.tr.CallCount(peer, transport.OpConnect))

	h.sched.Advance(time.Millisecond)
	h.drive()
	assert.Equal(t, 2, h.tr.CallCount(peer, transport.OpConnect))
	require.Len(t, h.results, 1)
	assert.NoError(t, h.results[0].Err)
}

func TestShutdown_FailsAttemptsInBackoffAndInFlight(t *testing.T) {
	config := testConfig()
	config.Retry = RetryConfig{MaxAttempts: 3, InitialInterval: time.Minute, MaxInterval: time.Minute, Multiplier: 1}
	h := newHarness(t, config)
	h.tr.Script("backoff", "connect", failure(0x01))
	h.tr.Script("silent", "connect", sim.Reply{Result: sim.ReplySilent})

	backoff, err := h.m.Connect("backoff", Profile{}, h.hook)
	require.NoError(t, err)
	silent, err := h.m.Connect("silent", Profile{}, h.hook)
	require.NoError(t, err)
	h.drive()
	require.True(t, backoff.Retrying())
	require.NotNil(t, h.sched.Current(models.PeerOwner("silent")))

	h.m.Shutdown()
	h.sched.Shutdown()
	h.drive()

	require.Len(t, h.results, 2)
	for _, res := range h.results {
		assert.ErrorIs(t, res.Err, errors.ErrStopped)
		assert.ErrorIs(t, res.Err, errors.ErrCancelled)
	}
	assert.True(t, backoff.Done())
	assert.True(t, silent.Done())
	assert.Nil(t, h.m.Attempt("backoff"))
	assert.False(t, h.sched.Busy())

	h.sched.Advance(2 * time.Minute)
	h.drive()
	assert.Equal(t, 1, h.tr.CallCount("backoff", transport.OpConnect))
}

type gate struct {
	allow bool
	next  time.Time
	asked int
}

func (g *gate) Allow(any) (time.Time, bool) {
	g.asked++
	return g.next, g.allow
}

func TestConnect_ThrottleDelaysConnect(t *testing.T) {
	h := newHarness(t, testConfig())
	g := &gate{next: time.Now().Add(30 * time.Second)}
	h.m.throttle = g

	a, err := h.m.Connect(peer, Profile{}, h.hook)
	require.NoError(t, err)
	h.drive()
	assert.Zero(t, h.tr.CallCount(peer, transport.OpConnect))
	assert.Equal(t, models.StageConnecting, a.Stage())

	g.allow = true
	h.sched.Advance(30 * time.Second)
	h.drive()

	assert.Equal(t, 1, h.tr.CallCount(peer, transport.OpConnect))
	require.Len(t, h.results, 1)
	assert.NoError(t, h.results[0].Err)
	assert.Equal(t, 2, g.asked)
}

func TestNewManager_WiresRateLimiter(t *testing.T) {
	config := testConfig()
	config.ConnectsPerMinute = 2
	h := newHarness(t, config)
	require.NotNil(t, h.m.throttle)

	_, err := h.m.Connect(peer, Profile{}, h.hook)
	require.NoError(t, err)
	h.drive()
	require.Len(t, h.results, 1)
	assert.NoError(t, h.results[0].Err)
}

func TestPeers_SortedByName(t *testing.T) {
	h := newHarness(t, testConfig())
	for _, p := range []string{"zeta", "alpha"} {
		_, err := h.m.Connect(p, Profile{})
		require.NoError(t, err)
	}
	h.drive()

	peers := h.m.Peers()
	require.Len(t, peers, 2)
	assert.Equal(t, "alpha", peers[0].Peer)
	assert.Equal(t, "READY", peers[1].Stage)

	h.m.LinkLost("alpha", errors.New("gone"))
	status, _ := h.m.Status("alpha")
	assert.Equal(t, "FAILED", status.Stage)
	assert.Equal(t, "gone", status.LastErr)
}
