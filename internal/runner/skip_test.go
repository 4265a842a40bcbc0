package runner

import (
	"testing"

	"github.com/codemachine-dev/codemachine/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestShouldSkip_SeparatorAlwaysSkips(t *testing.T) {
	step := &types.Step{Kind: types.StepKindSeparator}
	skip, reason := ShouldSkip(step, "", nil, false, nil)
	assert.True(t, skip)
	assert.Equal(t, SkipReasonNone, reason)
}

func TestShouldSkip_TrackMismatch(t *testing.T) {
	step := &types.Step{Kind: types.StepKindModule, Tracks: []string{"backend"}}
	skip, reason := ShouldSkip(step, "frontend", nil, false, nil)
	assert.True(t, skip)
	assert.Equal(t, SkipReasonTrackMismatch, reason)
}

func TestShouldSkip_TrackMatch(t *testing.T) {
	step := &types.Step{Kind: types.StepKindModule, Tracks: []string{"backend", "frontend"}}
	skip, _ := ShouldSkip(step, "frontend", nil, false, nil)
	assert.False(t, skip)
}

func TestShouldSkip_ConditionMissing(t *testing.T) {
	step := &types.Step{Kind: types.StepKindModule, Conditions: []string{"needsDocker"}}
	skip, reason := ShouldSkip(step, "", map[string]bool{}, false, nil)
	assert.True(t, skip)
	assert.Equal(t, SkipReasonConditionMissing, reason)
}

func TestShouldSkip_ConditionSatisfied(t *testing.T) {
	step := &types.Step{Kind: types.StepKindModule, Conditions: []string{"needsDocker"}}
	skip, _ := ShouldSkip(step, "", map[string]bool{"needsDocker": true}, false, nil)
	assert.False(t, skip)
}

func TestShouldSkip_ExecuteOnceAlreadyCompleted(t *testing.T) {
	step := &types.Step{Kind: types.StepKindModule, ExecuteOnce: true}
	skip, reason := ShouldSkip(step, "", nil, true, nil)
	assert.True(t, skip)
	assert.Equal(t, SkipReasonExecuteOnce, reason)
}

func TestShouldSkip_ExecuteOnceNotYetCompleted(t *testing.T) {
	step := &types.Step{Kind: types.StepKindModule, ExecuteOnce: true}
	skip, _ := ShouldSkip(step, "", nil, false, nil)
	assert.False(t, skip)
}

func TestShouldSkip_LoopSkipList(t *testing.T) {
	step := &types.Step{Kind: types.StepKindModule, AgentID: "reviewer"}
	loop := &types.ActiveLoop{SkipList: []string{"reviewer"}}
	skip, reason := ShouldSkip(step, "", nil, false, loop)
	assert.True(t, skip)
	assert.Equal(t, SkipReasonLoopSkipList, reason)
}

func TestShouldSkip_NilLoopNeverSkips(t *testing.T) {
	step := &types.Step{Kind: types.StepKindModule, AgentID: "reviewer"}
	skip, _ := ShouldSkip(step, "", nil, false, nil)
	assert.False(t, skip)
}

func TestShouldSkip_RunsWhenNoRuleFires(t *testing.T) {
	step := &types.Step{Kind: types.StepKindModule, AgentID: "builder"}
	skip, reason := ShouldSkip(step, "any", map[string]bool{}, false, nil)
	assert.False(t, skip)
	assert.Equal(t, SkipReasonNone, reason)
}
