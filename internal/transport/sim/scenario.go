package sim

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is a YAML description of simulated peers and the caller actions
// to run against them.
type Scenario struct {
	Name    string       `yaml:"name"`
	Peers   []PeerScript `yaml:"peers"`
	Actions []Action     `yaml:"actions"`
}

// PeerScript maps an op (optionally "op:characteristic") to its replies.
type PeerScript struct {
	ID      string             `yaml:"id"`
	Scripts map[string][]Reply `yaml:"scripts"`
}

// Action is a caller-side operation issued At after the scenario starts.
type Action struct {
	At             time.Duration `yaml:"at"`
	Do             string        `yaml:"do"`
	Peer           string        `yaml:"peer,omitempty"`
	Characteristic string        `yaml:"characteristic,omitempty"`
	Data           string        `yaml:"data,omitempty"`
	Duration       time.Duration `yaml:"duration,omitempty"`
	Urgent         bool          `yaml:"urgent,omitempty"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return ParseScenario(raw)
}

// ParseScenario ...
func ParseScenario(raw []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	for i, a := range sc.Actions {
		switch a.Do {
		case "connect", "disconnect", "read", "write", "bond":
			if a.Peer == "" {
				return nil, fmt.Errorf("action %d (%s): peer is required", i, a.Do)
			}
		case "scan":
		default:
			return nil, fmt.Errorf("action %d: unknown action %q", i, a.Do)
		}
	}
	return &sc, nil
}

// Apply loads every peer script into t.
func (sc *Scenario) Apply(t *Transport) {
	for _, p := range sc.Peers {
		for op, replies := range p.Scripts {
			t.Script(p.ID, op, replies...)
		}
	}
}
