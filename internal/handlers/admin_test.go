package handlers

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"bleq/internal/connection"
	"bleq/internal/models"
	"bleq/internal/service/heartrate"
	"bleq/internal/session"
	"bleq/internal/taskmanager"
	"bleq/internal/transport/sim"
	"bleq/internal/updateloop"
)

type harness struct {
	client    *fasthttp.Client
	transport *sim.Transport
	session   *session.Session
}

func newHarness(t *testing.T, opts ...func(*session.Config)) *harness {
	t.Helper()
	reg := prometheus.NewRegistry()
	config := session.DefaultConfig()
	config.Scheduler.Registerer = reg
	config.Loop = updateloop.Config{Interval: 5 * time.Millisecond, IdleInterval: 5 * time.Millisecond, MaxDelta: time.Second}
	for _, opt := range opts {
		opt(&config)
	}

	tr := sim.New()
	s := session.New(tr, config)
	require.NoError(t, s.Start(context.Background()))

	r := router.New()
	RegisterAllHandlers(r, NewAdminHandler(s, heartrate.NewHeartRateSvc(false), 2*time.Second), reg)

	ln := fasthttputil.NewInmemoryListener()
	server := &fasthttp.Server{Handler: r.Handler}
	go func() { _ = server.Serve(ln) }()

	t.Cleanup(func() {
		_ = server.Shutdown()
		s.Stop()
	})
	return &harness{
		client:    &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }},
		transport: tr,
		session:   s,
	}
}

func (h *harness) do(t *testing.T, method, uri string, body []byte, out any) int {
	t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI("http://admin" + uri)
	req.SetBody(body)
	require.NoError(t, h.client.DoTimeout(req, resp, 5*time.Second))
	if out != nil {
		require.NoError(t, json.Unmarshal(resp.Body(), out), string(resp.Body()))
	}
	return resp.StatusCode()
}

func TestAdmin_ConnectReadAndPeers(t *testing.T) {
	h := newHarness(t)
	h.transport.Script("hrm", "read:hr_measurement", sim.Reply{Result: sim.ReplySuccess, Payload: "\x00H"})

	var conn ConnectResponse
	require.Equal(t, http.StatusOK, h.do(t, "POST", "/peers/hrm/connect", nil, &conn))
	assert.Equal(t, "READY", conn.Stage)
	assert.Empty(t, conn.Error)

	var read OutcomeResponse
	require.Equal(t, http.StatusOK, h.do(t, "POST", "/peers/hrm/read/hr_measurement?priority=high", nil, &read))
	assert.Equal(t, models.TaskStateSucceeded, read.State)
	m, err := heartrate.NewHeartRateSvc(false).ParseMeasurement(read.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(72), m.BPM)

	var peers []models.PeerStatus
	require.Equal(t, http.StatusOK, h.do(t, "GET", "/peers", nil, &peers))
	require.Len(t, peers, 1)
	assert.Equal(t, "hrm", peers[0].Peer)
}

func TestAdmin_ConnectFailure(t *testing.T) {
	h := newHarness(t, func(c *session.Config) {
		c.Connection.Retry = connection.RetryConfig{MaxAttempts: 2, InitialInterval: 10 * time.Millisecond, MaxInterval: 10 * time.Millisecond, Multiplier: 1}
	})
	h.transport.Script("hrm", "connect",
		sim.Reply{Result: sim.ReplyFailure, Code: 0x3E},
		sim.Reply{Result: sim.ReplyFailure, Code: 0x3E})

	var conn ConnectResponse
	require.Equal(t, http.StatusBadGateway, h.do(t, "POST", "/peers/hrm/connect", nil, &conn))
	assert.Contains(t, conn.Error, "retries exhausted")
	require.Len(t, conn.History, 2)
	assert.Equal(t, "CONNECTING", conn.Stage)
	for i, f := range conn.History {
		assert.Equal(t, i+1, f.Attempt)
		assert.Equal(t, models.StageConnecting, f.Stage)
		assert.Equal(t, 0x3E, f.Code)
		assert.Contains(t, f.Error, "transport error (connect): code 62")
	}
}

func TestAdmin_ErrorMapping(t *testing.T) {
	h := newHarness(t)

	var e errorResponse
	assert.Equal(t, http.StatusConflict, h.do(t, "POST", "/peers/ghost/read/hr", nil, &e))
	assert.Contains(t, e.Error, "not connected")

	assert.Equal(t, http.StatusBadRequest, h.do(t, "POST", "/peers/ghost/read/hr?priority=extreme", nil, &e))
	assert.Equal(t, http.StatusBadRequest, h.do(t, "POST", "/scan?duration=never", nil, &e))
	assert.Equal(t, http.StatusBadRequest, h.do(t, "DELETE", "/queue/read/nobody", nil, &e))
	assert.Equal(t, http.StatusBadRequest, h.do(t, "PUT", "/queue/suspended?suspended=maybe", nil, &e))
}

func TestAdmin_SuspendQueueAndClear(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.do(t, "POST", "/peers/hrm/connect", nil, &ConnectResponse{}))
	require.Equal(t, http.StatusNoContent, h.do(t, "PUT", "/queue/suspended?suspended=true", nil, nil))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		require.NoError(t, h.session.Read(ctx, "hrm", "hr_measurement", nil))
	}

	var snap taskmanager.Snapshot
	require.Equal(t, http.StatusOK, h.do(t, "GET", "/queue", nil, &snap))
	assert.True(t, snap.Suspended)
	assert.Len(t, snap.Pending, 2)

	var cleared ClearResponse
	require.Equal(t, http.StatusOK, h.do(t, "DELETE", "/queue/read/peer:hrm", nil, &cleared))
	assert.Equal(t, 2, cleared.Cleared)
}

func TestAdmin_Metrics(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.do(t, "POST", "/peers/hrm/connect", nil, &ConnectResponse{}))
	assert.Equal(t, http.StatusOK, h.do(t, "GET", "/metrics", nil, nil))
}
