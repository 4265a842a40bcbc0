package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAgentStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, AgentStatusPending.CanTransitionTo(AgentStatusRunning))
	assert.True(t, AgentStatusRunning.CanTransitionTo(AgentStatusAwaiting))
	assert.True(t, AgentStatusCompleted.CanTransitionTo(AgentStatusPending), "loop reset is the sole exit from completed")
	assert.False(t, AgentStatusCompleted.CanTransitionTo(AgentStatusRunning), "completed must not regress except via loop reset")
	assert.False(t, AgentStatusFailed.CanTransitionTo(AgentStatusRunning))
	assert.False(t, AgentStatusPending.CanTransitionTo(AgentStatus("bogus")))
}

func TestAgentStatus_IsTerminal(t *testing.T) {
	assert.True(t, AgentStatusCompleted.IsTerminal())
	assert.True(t, AgentStatusFailed.IsTerminal())
	assert.True(t, AgentStatusSkipped.IsTerminal())
	assert.False(t, AgentStatusRunning.IsTerminal())
	assert.False(t, AgentStatusAwaiting.IsTerminal())
}

func TestActiveLoop_ShouldSkip(t *testing.T) {
	var nilLoop *ActiveLoop
	assert.False(t, nilLoop.ShouldSkip("qa"))

	l := &ActiveLoop{SkipList: []string{"qa", "reviewer"}}
	assert.True(t, l.ShouldSkip("qa"))
	assert.False(t, l.ShouldSkip("writer"))
}
