package taskmanager

import (
	log "github.com/sirupsen/logrus"

	"bleq/internal/outcome"
	"bleq/internal/transport"
)

// RequestOp performs a single transport request.
type RequestOp struct {
	transport     transport.Transport
	req           transport.Request
	interruptible bool
}

// NewRequestOp ...
func NewRequestOp(t transport.Transport, req transport.Request) *RequestOp {
	return &RequestOp{transport: t, req: req}
}

// Interruptible lets the scheduler stop the request while it is in flight.
func (o *RequestOp) Interruptible() *RequestOp {
	o.interruptible = true
	return o
}

// Request ...
func (o *RequestOp) Request() transport.Request {
	return o.req
}

// Kind ...
func (o *RequestOp) Kind() string {
	return string(o.req.Op)
}

// Execute ...
func (o *RequestOp) Execute(x *Execution) {
	if err := o.transport.Submit(o.req, x.Callback(o.req.Op)); err != nil {
		log.WithError(err).WithField("request", o.req.String()).Warn("Transport refused request")
		x.Complete(outcome.Rejected(o.req.Op, err))
	}
}

// Interrupt ...
func (o *RequestOp) Interrupt(_ *Execution) bool {
	if !o.interruptible {
		return false
	}
	if err := o.transport.Interrupt(o.req); err != nil {
		log.WithError(err).WithField("request", o.req.String()).Debug("Interrupt not honored")
		return false
	}
	return true
}

// OnTimeout releases the radio for requests that can be stopped.
func (o *RequestOp) OnTimeout(x *Execution) {
	if o.interruptible {
		o.Interrupt(x)
	}
}
