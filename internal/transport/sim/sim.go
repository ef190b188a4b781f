// Package sim is a scripted in-memory Transport. Each (peer, op) pair has a
// queue of scripted replies that are consumed in order; once a script runs
// dry the operation succeeds immediately.
package sim

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"bleq/internal/errors"
	"bleq/internal/outcome"
	"bleq/internal/transport"
)

var (
	errBusy             = errors.New("sim: peer already has an operation in flight")
	errNotInterruptible = errors.New("sim: operation cannot be interrupted")
)

// Reply kinds.
const (
	ReplySuccess   = "success"
	ReplyFailure   = "failure"
	ReplyCancelled = "cancelled"
	// ReplySilent never calls back.
	ReplySilent = "silent"
	// ReplyReject fails Submit itself.
	ReplyReject = "reject"
)

// Reply is one scripted answer.
type Reply struct {
	Result  string        `yaml:"result"`
	Code    int           `yaml:"code,omitempty"`
	Delay   time.Duration `yaml:"delay,omitempty"`
	Payload string        `yaml:"payload,omitempty"`
}

type inflight struct {
	req   transport.Request
	cb    transport.Callback
	timer *time.Timer
}

// Transport ...
type Transport struct {
	scripts  map[string][]Reply
	inflight map[string]*inflight
	calls    []transport.Request
	busyHits int
	mu       sync.Mutex
}

// New returns an empty simulated transport.
func New() *Transport {
	return &Transport{
		scripts:  make(map[string][]Reply),
		inflight: make(map[string]*inflight),
	}
}

// Script appends replies for op against peer. For reads, writes and
// notifications, op may be suffixed with ":characteristic".
func (t *Transport) Script(peer, op string, replies ...Reply) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := peer + "|" + op
	t.scripts[key] = append(t.scripts[key], replies...)
}

// Calls returns every request submitted so far.
func (t *Transport) Calls() []transport.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]transport.Request(nil), t.calls...)
}

// CallCount returns how many requests with op were submitted for peer.
func (t *Transport) CallCount(peer string, op transport.Op) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.calls {
		if c.Peer == peer && c.Op == op {
			n++
		}
	}
	return n
}

// BusyHits counts submits rejected because the peer was already busy.
func (t *Transport) BusyHits() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.busyHits
}

// Submit ...
func (t *Transport) Submit(req transport.Request, cb transport.Callback) error {
	t.mu.Lock()

	slot := slotKey(req)
	if _, busy := t.inflight[slot]; busy {
		t.busyHits++
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", errBusy, req)
	}
	t.calls = append(t.calls, req)
	reply := t.next(req)

	switch reply.Result {
	case ReplyReject:
		t.mu.Unlock()
		return &errors.TransportError{Op: string(req.Op), Code: reply.Code, LinkLost: outcome.IsLinkLost(reply.Code)}
	case ReplySilent:
		t.mu.Unlock()
		log.WithField("request", req.String()).Debug("sim: request will never complete")
		return nil
	}

	res := toResult(reply)
	if reply.Delay <= 0 {
		t.mu.Unlock()
		cb(res)
		return nil
	}

	f := &inflight{req: req, cb: cb}
	f.timer = time.AfterFunc(reply.Delay, func() {
		if t.finish(slot, f) {
			cb(res)
		}
	})
	t.inflight[slot] = f
	t.mu.Unlock()
	return nil
}

// Interrupt stops an in-flight scan. Other operations are not interruptible.
func (t *Transport) Interrupt(req transport.Request) error {
	if req.Op != transport.OpScan {
		return errNotInterruptible
	}
	t.mu.Lock()
	slot := slotKey(req)
	f, ok := t.inflight[slot]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("sim: no %s in flight", req)
	}
	f.timer.Stop()
	delete(t.inflight, slot)
	t.mu.Unlock()

	f.cb(transport.Result{Status: transport.StatusInterrupted})
	return nil
}

func (t *Transport) finish(slot string, f *inflight) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inflight[slot] != f {
		return false
	}
	delete(t.inflight, slot)
	return true
}

// next pops the scripted reply for req. Callers hold t.mu.
func (t *Transport) next(req transport.Request) Reply {
	keys := []string{req.Peer + "|" + string(req.Op)}
	if req.Characteristic != "" {
		keys = append([]string{req.Peer + "|" + string(req.Op) + ":" + req.Characteristic}, keys...)
	}
	for _, key := range keys {
		replies := t.scripts[key]
		if len(replies) == 0 {
			continue
		}
		t.scripts[key] = replies[1:]
		return replies[0]
	}
	if req.Op == transport.OpScan {
		return Reply{Result: ReplySuccess, Delay: req.Duration}
	}
	return Reply{Result: ReplySuccess}
}

func slotKey(req transport.Request) string {
	if req.Op == transport.OpScan {
		return "scan"
	}
	return req.Peer
}

func toResult(r Reply) transport.Result {
	switch r.Result {
	case ReplyFailure:
		return transport.Result{Status: transport.StatusFailure, Code: r.Code}
	case ReplyCancelled:
		return transport.Result{Status: transport.StatusCancelled}
	default:
		var payload []byte
		if r.Payload != "" {
			payload = []byte(r.Payload)
		}
		return transport.Result{Status: transport.StatusSuccess, Payload: payload}
	}
}
