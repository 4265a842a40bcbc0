package directive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_EmptyActionDefaultsToContinue(t *testing.T) {
	d, err := Parse([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, ActionContinue, d.Action)
}

func TestParse_LoopFields(t *testing.T) {
	d, err := Parse([]byte(`{"action":"loop","stepsBack":2,"maxIterations":3,"skip":["a","b"],"reason":"retry"}`))
	require.NoError(t, err)
	assert.Equal(t, ActionLoop, d.Action)
	assert.Equal(t, 2, d.StepsBack)
	assert.Equal(t, 3, d.MaxIterations)
	assert.Equal(t, []string{"a", "b"}, d.Skip)
}

func TestParse_TriggerFields(t *testing.T) {
	d, err := Parse([]byte(`{"action":"trigger","agentId":"reviewer","reason":"needs review"}`))
	require.NoError(t, err)
	assert.Equal(t, ActionTrigger, d.Action)
	assert.Equal(t, "reviewer", d.AgentID)
}

func TestParse_UnknownActionErrors(t *testing.T) {
	_, err := Parse([]byte(`{"action":"nonsense"}`))
	require.Error(t, err)
}

func TestParse_InvalidJSONErrors(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	require.Error(t, err)
}
