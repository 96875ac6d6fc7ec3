package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState(t *testing.T) {
	tests := []struct {
		state  State
		name   string
		active bool
		failed bool
	}{
		{StateInQueue, "In Queue", true, false},
		{StateRunning, "Running", true, false},
		{StatePaused, "Paused", true, false},
		{StateError, "Error", false, true},
		{StateCancel, "Cancelling", false, false},
		{StateFinished, "Finished", false, false},
		{StateException, "Exception", false, true},
		{StateRetry, "Retry", false, false},
		{State(42), "Unknown", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.state.String())
			assert.Equal(t, tt.active, tt.state.Active())
			assert.Equal(t, tt.failed, tt.state.Failed())
		})
	}
}

func TestStepState_String(t *testing.T) {
	assert.Equal(t, "In Progress", StepInProgress.String())
	assert.Equal(t, "Interrupt", StepInterrupt.String())
	assert.Equal(t, "Unknown", StepState(-1).String())
}

func TestPolicy_String(t *testing.T) {
	assert.Equal(t, "Default", Policy(0).String())
	assert.Equal(t, "Single by class", PolicySingle.String())
	assert.Equal(t, "Unknown", Policy(9).String())
}

func TestProperty_String(t *testing.T) {
	assert.Equal(t, "None", Property(0).String())
	assert.Equal(t, "Repeat", PropRepeat.String())
	assert.Equal(t, "Repeat|Daemon", (PropRepeat | PropDaemon).String())
	assert.Equal(t, "Repeat|IgnoreCritical|Daemon|KeepAlive",
		(PropRepeat | PropIgnoreCritical | PropDaemon | PropKeepAlive).String())
}
