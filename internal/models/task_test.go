package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwner_RoundTrip(t *testing.T) {
	for _, o := range []Owner{PeerOwner("AA:BB:CC:DD:EE:FF"), ManagerOwner, {Kind: OwnerServer, ID: "gatt"}} {
		got, err := ParseOwner(o.String())
		require.NoError(t, err)
		assert.Equal(t, o, got)
	}
}

func TestParseOwner_Malformed(t *testing.T) {
	for _, s := range []string{"", "peer", "device:abc"} {
		_, err := ParseOwner(s)
		assert.Error(t, err, s)
	}
}

func TestTaskState_IsTerminal(t *testing.T) {
	assert.False(t, TaskStatePending.IsTerminal())
	assert.False(t, TaskStateExecuting.IsTerminal())
	for _, s := range []TaskState{TaskStateSucceeded, TaskStateFailed, TaskStateTimedOut, TaskStateInterrupted, TaskStateCancelled} {
		assert.True(t, s.IsTerminal(), s)
	}
}

func TestStage_Order(t *testing.T) {
	assert.Less(t, StageConnecting, StageDiscovering)
	assert.Less(t, StageDiscovering, StageConfiguring)
	assert.Less(t, StageConfiguring, StageInitializing)
	assert.Less(t, StageInitializing, StageReady)
	assert.Equal(t, "DISCOVERING_SERVICES", StageDiscovering.String())
	assert.True(t, StageFailed.IsTerminal())
}

func TestParsePriority(t *testing.T) {
	for p := PriorityTrivial; p <= PriorityCritical; p++ {
		got, err := ParsePriority(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParsePriority("urgent")
	assert.Error(t, err)
}

func TestStage_Text(t *testing.T) {
	for st := StageConnecting; st <= StageFailed; st++ {
		text, err := st.MarshalText()
		require.NoError(t, err)
		var got Stage
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, st, got)
	}
	var s Stage
	assert.Error(t, s.UnmarshalText([]byte("UNKNOWN")))
}

func TestFailure_JSON(t *testing.T) {
	f := Failure{
		At:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Stage:   StageConfiguring,
		Attempt: 2,
		Code:    0x85,
		Error:   "transport error (write): code 133",
	}
	b, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"at":"2024-01-02T03:04:05Z","stage":"CONFIGURING","attempt":2,"code":133,"error":"transport error (write): code 133"}`, string(b))

	var got Failure
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, f, got)
}
