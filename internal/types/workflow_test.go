package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplate_AssignModuleIndices(t *testing.T) {
	tmpl := &Template{Steps: []*Step{
		{Kind: StepKindModule, AgentID: "writer"},
		{Kind: StepKindSeparator},
		{Kind: StepKindModule, AgentID: "reviewer"},
		{Kind: StepKindModule, AgentID: "qa"},
	}}
	tmpl.AssignModuleIndices()

	assert.Equal(t, 0, tmpl.Steps[0].ModuleIndex)
	assert.Equal(t, -1, tmpl.Steps[1].ModuleIndex)
	assert.Equal(t, 1, tmpl.Steps[2].ModuleIndex)
	assert.Equal(t, 2, tmpl.Steps[3].ModuleIndex)

	mods := tmpl.ModuleSteps()
	require.Len(t, mods, 3)
	assert.Equal(t, "writer", mods[0].AgentID)

	step, ok := tmpl.StepByModuleIndex(2)
	require.True(t, ok)
	assert.Equal(t, "qa", step.AgentID)

	_, ok = tmpl.StepByModuleIndex(99)
	assert.False(t, ok)
}

func TestStep_EffectiveInteractive(t *testing.T) {
	s := &Step{}
	assert.True(t, s.EffectiveInteractive(true), "undefined interactive derives from hasChainedPrompts")
	assert.False(t, s.EffectiveInteractive(false))

	truth := true
	s.Interactive = &truth
	assert.True(t, s.EffectiveInteractive(false), "explicit interactive overrides derivation")
}

func TestChainedPrompt_Matches(t *testing.T) {
	p := ChainedPrompt{Track: "fast", Conditions: []string{"strict"}}

	assert.False(t, p.Matches("slow", map[string]bool{"strict": true}))
	assert.False(t, p.Matches("fast", map[string]bool{}))
	assert.True(t, p.Matches("fast", map[string]bool{"strict": true}))

	unrestricted := ChainedPrompt{}
	assert.True(t, unrestricted.Matches("anything", nil))
}
