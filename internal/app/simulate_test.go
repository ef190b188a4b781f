package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bleq/internal/connection"
	"bleq/internal/session"
	"bleq/internal/transport/sim"
	"bleq/internal/updateloop"
)

const scenarioYAML = `
name: strap
peers:
  - id: hrm
    scripts:
      connect:
        - result: failure
          code: 62
      "read:hr_measurement":
        - result: success
          payload: "\x08H\x01\x01"
actions:
  - do: connect
    peer: hrm
  - at: 300ms
    do: read
    peer: hrm
    characteristic: hr_measurement
  - at: 300ms
    do: read
    peer: ghost
    characteristic: hr_measurement
`

func testSessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.Loop = updateloop.Config{Interval: 5 * time.Millisecond, IdleInterval: 5 * time.Millisecond, MaxDelta: time.Second}
	cfg.Connection.Retry = connection.RetryConfig{MaxAttempts: 3, InitialInterval: 10 * time.Millisecond, MaxInterval: 10 * time.Millisecond, Multiplier: 1}
	return cfg
}

func TestSimulate(t *testing.T) {
	sc, err := sim.ParseScenario([]byte(scenarioYAML))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	report, err := Simulate(ctx, testSessionConfig(), sc)
	require.NoError(t, err)
	require.Len(t, report.Actions, 3)
	assert.Equal(t, "strap", report.Scenario)

	connect := report.Actions[0]
	assert.Equal(t, "READY", connect.Kind)
	assert.Empty(t, connect.Error)

	read := report.Actions[1]
	assert.Equal(t, "SUCCESS", read.Kind)
	require.NotNil(t, read.Heart)
	assert.Equal(t, uint16(72), read.Heart.BPM)

	refused := report.Actions[2]
	assert.Equal(t, "REFUSED", refused.Kind)
	assert.Contains(t, refused.Error, "not connected")

	assert.Positive(t, report.Events)
	assert.Empty(t, report.Snapshot.Pending)
}
