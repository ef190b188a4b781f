package models

import (
	"fmt"
	"time"
)

// Priority orders pending tasks. Higher values run first.
type Priority int

// const ...
const (
	PriorityTrivial Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityTrivial:
		return "trivial"
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority is the inverse of Priority.String for the named levels.
func ParsePriority(s string) (Priority, error) {
	for p := PriorityTrivial; p <= PriorityCritical; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// TaskState represents the current state of a task.
type TaskState string

// const ...
const (
	TaskStateCreated     TaskState = "created"
	TaskStatePending     TaskState = "pending"
	TaskStateExecuting   TaskState = "executing"
	TaskStateSucceeded   TaskState = "succeeded"
	TaskStateFailed      TaskState = "failed"
	TaskStateTimedOut    TaskState = "timed_out"
	TaskStateInterrupted TaskState = "interrupted"
	TaskStateCancelled   TaskState = "cancelled"
)

// IsTerminal reports whether a task in this state will never execute again.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateSucceeded, TaskStateFailed, TaskStateTimedOut, TaskStateInterrupted, TaskStateCancelled:
		return true
	default:
		return false
	}
}

// OwnerKind classifies the entity a task is bound to.
type OwnerKind string

// const ...
const (
	OwnerManager OwnerKind = "manager"
	OwnerPeer    OwnerKind = "peer"
	OwnerServer  OwnerKind = "server"
)

// Owner identifies the entity whose tasks execute strictly one at a time.
// It is a value key, so holding one never keeps the entity alive.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

// PeerOwner returns the owner key for a remote peer.
func PeerOwner(peer string) Owner {
	return Owner{Kind: OwnerPeer, ID: peer}
}

// ManagerOwner is the owner of session-wide tasks such as scans.
var ManagerOwner = Owner{Kind: OwnerManager, ID: "manager"}

func (o Owner) String() string {
	return string(o.Kind) + ":" + o.ID
}

// ParseOwner is the inverse of Owner.String.
func ParseOwner(s string) (Owner, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			kind := OwnerKind(s[:i])
			switch kind {
			case OwnerManager, OwnerPeer, OwnerServer:
				return Owner{Kind: kind, ID: s[i+1:]}, nil
			}
			break
		}
	}
	return Owner{}, fmt.Errorf("malformed owner %q", s)
}

// Event is the diagnostics tuple emitted for every task reaching a terminal state.
type Event struct {
	At       time.Time     `json:"at"`
	TaskID   string        `json:"task_id"`
	Kind     string        `json:"kind"`
	Owner    Owner         `json:"owner"`
	State    TaskState     `json:"state"`
	Error    string        `json:"error,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
	Seq      uint64        `json:"seq"`
	Priority Priority      `json:"priority"`
}
