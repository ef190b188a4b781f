package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"bleq/internal/app"
)

const scenario = `
name: quick
peers:
  - id: hrm
    scripts:
      "read:hr_measurement":
        - result: success
          payload: "\x08H\x01\x01"
actions:
  - do: connect
    peer: hrm
  - at: 200ms
    do: read
    peer: hrm
    characteristic: hr_measurement
`

func TestRootCmd_HasSubcommands(t *testing.T) {
	root := NewRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "simulate")
}

func TestSimulateCmd_RequiresScenario(t *testing.T) {
	t.Setenv("SCENARIO_FILE", "")
	flagScenario = ""
	root := NewRootCmd()
	root.SetArgs([]string{"simulate"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	assert.ErrorContains(t, root.Execute(), "scenario file is required")
}

func TestSimulateCmd_WritesYAMLReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(scenario), 0o600))
	t.Setenv("TICK_INTERVAL", "5ms")
	t.Setenv("IDLE_TICK_INTERVAL", "5ms")

	var out bytes.Buffer
	root := NewRootCmd()
	root.SetArgs([]string{"simulate", path, "--log-level", "error", "--timeout", "5s"})
	root.SetOut(&out)
	require.NoError(t, root.Execute())

	var report app.SimulationReport
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, "quick", report.Scenario)
	require.Len(t, report.Actions, 2)
	assert.Equal(t, "READY", report.Actions[0].Kind)
	require.NotNil(t, report.Actions[1].Heart)
	assert.Equal(t, uint16(72), report.Actions[1].Heart.BPM)
}
