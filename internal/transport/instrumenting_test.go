package transport

import (
	"errors"
	"sync"
	"testing"

	"github.com/go-kit/kit/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCounter struct {
	mu    *sync.Mutex
	seen  *[][]string
	label []string
}

func (c countingCounter) With(labelValues ...string) metrics.Counter {
	return countingCounter{mu: c.mu, seen: c.seen, label: append(append([]string{}, c.label...), labelValues...)}
}

func (c countingCounter) Add(float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*c.seen = append(*c.seen, c.label)
}

type nopHistogram struct{}

func (h nopHistogram) With(...string) metrics.Histogram { return h }
func (nopHistogram) Observe(float64)                    {}

type stubTransport struct {
	submitErr    error
	interruptErr error
	result       Result
}

func (s *stubTransport) Submit(_ Request, cb Callback) error {
	if s.submitErr != nil {
		return s.submitErr
	}
	cb(s.result)
	return nil
}

func (s *stubTransport) Interrupt(Request) error { return s.interruptErr }

func TestInstrumentingMiddleware_LabelsByOutcome(t *testing.T) {
	var (
		mu   sync.Mutex
		seen [][]string
	)
	counter := countingCounter{mu: &mu, seen: &seen}
	stub := &stubTransport{result: Result{Status: StatusFailure, Code: 133}}
	tr := NewInstrumentingMiddleware(counter, nopHistogram{}, stub)

	var got Result
	require.NoError(t, tr.Submit(Request{Op: OpConnect, Peer: "p1"}, func(r Result) { got = r }))
	assert.Equal(t, 133, got.Code)

	stub.submitErr = errors.New("busy")
	require.Error(t, tr.Submit(Request{Op: OpRead, Peer: "p1"}, func(Result) { t.Fatal("callback after rejected submit") }))

	stub.interruptErr = errors.New("not interruptible")
	require.Error(t, tr.Interrupt(Request{Op: OpScan}))

	assert.Equal(t, [][]string{
		{"method", "connect", "error", "true"},
		{"method", "read", "error", "true"},
		{"method", "interrupt_scan", "error", "true"},
	}, seen)
}

func TestRequest_String(t *testing.T) {
	assert.Equal(t, "read p1/battery", Request{Op: OpRead, Peer: "p1", Characteristic: "battery"}.String())
	assert.Equal(t, "scan", Request{Op: OpScan}.String())
}
