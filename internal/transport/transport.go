// Package transport is the boundary to the host radio stack. Implementations
// accept one request at a time per peer and report completion through a
// callback that may run on any goroutine.
package transport

import (
	"fmt"
	"time"
)

// Op names a radio operation.
type Op string

// const ...
const (
	OpConnect      Op = "connect"
	OpDisconnect   Op = "disconnect"
	OpDiscover     Op = "discover_services"
	OpRequestMTU   Op = "request_mtu"
	OpEnableNotify Op = "enable_notify"
	OpRead         Op = "read"
	OpWrite        Op = "write"
	OpBond         Op = "bond"
	OpScan         Op = "scan"
)

// Request describes a single operation against a peer. Scans have no peer.
type Request struct {
	Op             Op            `yaml:"op" json:"op"`
	Peer           string        `yaml:"peer,omitempty" json:"peer,omitempty"`
	Characteristic string        `yaml:"characteristic,omitempty" json:"characteristic,omitempty"`
	Data           []byte        `yaml:"data,omitempty" json:"data,omitempty"`
	MTU            int           `yaml:"mtu,omitempty" json:"mtu,omitempty"`
	Duration       time.Duration `yaml:"duration,omitempty" json:"duration,omitempty"`
}

func (r Request) String() string {
	s := string(r.Op)
	if r.Peer != "" {
		s += " " + r.Peer
	}
	if r.Characteristic != "" {
		s += "/" + r.Characteristic
	}
	return s
}

// Status is the raw completion status reported by the radio stack.
type Status int

// const ...
const (
	StatusSuccess Status = iota
	StatusFailure
	StatusCancelled
	StatusInterrupted
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusCancelled:
		return "cancelled"
	case StatusInterrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is a raw completion. Code is only meaningful for StatusFailure.
type Result struct {
	Status  Status
	Code    int
	Payload []byte
}

// Callback receives exactly one Result per accepted request, unless the
// transport never answers, in which case the scheduler's watchdog fires.
type Callback func(Result)

// Transport ...
type Transport interface {
	// Submit starts req. A non-nil error means the request was rejected
	// outright and cb will never be called.
	Submit(req Request, cb Callback) error
	// Interrupt asks the transport to stop an in-flight request. It returns
	// an error if the request cannot be interrupted.
	Interrupt(req Request) error
}
