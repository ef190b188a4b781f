package models

import (
	"fmt"
	"time"
)

// Stage is a step of a connection attempt. Stages advance in declaration order.
type Stage int

// const ...
const (
	StageConnecting Stage = iota
	StageDiscovering
	StageConfiguring
	StageInitializing
	StageReady
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageConnecting:
		return "CONNECTING"
	case StageDiscovering:
		return "DISCOVERING_SERVICES"
	case StageConfiguring:
		return "CONFIGURING"
	case StageInitializing:
		return "INITIALIZING"
	case StageReady:
		return "READY"
	case StageFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the stage by name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText ...
func (s *Stage) UnmarshalText(text []byte) error {
	for st := StageConnecting; st <= StageFailed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", text)
}

// IsTerminal ...
func (s Stage) IsTerminal() bool {
	return s == StageReady || s == StageFailed
}

// Failure is one entry of a connection attempt's failure history.
type Failure struct {
	At      time.Time `json:"at"`
	Stage   Stage     `json:"stage"`
	Attempt int       `json:"attempt"`
	// Code is the transport status code, zero for timeouts.
	Code  int    `json:"code,omitempty"`
	Error string `json:"error"`
	Err   error  `json:"-"`
}

// PeerStatus is a point-in-time view of a peer's connection.
type PeerStatus struct {
	Peer     string    `json:"peer"`
	Stage    string    `json:"stage"`
	Failures int       `json:"failures"`
	Retrying bool      `json:"retrying"`
	LastErr  string    `json:"last_error,omitempty"`
	Since    time.Time `json:"since"`
}
