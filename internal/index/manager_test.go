package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/codemachine-dev/codemachine/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "template.json")
	m, err := NewManager(path)
	require.NoError(t, err)
	return m, path
}

func TestManager_FreshStartsAtZero(t *testing.T) {
	m, _ := newTestManager(t)
	info := m.GetResumeInfo()
	assert.Equal(t, 0, info.StartIndex)
	assert.Equal(t, ResumeDecisionDefault, info.Decision)
}

// Testable Property 1: resume determinism across the five rule cases.
func TestManager_GetResumeInfo_RulePrecedence(t *testing.T) {
	t.Run("rule1 resumeFromLastStep false forces fresh start", func(t *testing.T) {
		m, _ := newTestManager(t)
		require.NoError(t, m.StepCompleted(3))
		require.NoError(t, m.SetResumeFromLastStep(false))
		info := m.GetResumeInfo()
		assert.Equal(t, ResumeDecisionFreshStart, info.Decision)
		assert.Equal(t, 0, info.StartIndex)
	})

	t.Run("rule2 chain-partial step wins over incomplete and completed", func(t *testing.T) {
		m, _ := newTestManager(t)
		require.NoError(t, m.StepCompleted(0))
		require.NoError(t, m.StepStarted(1))
		require.NoError(t, m.ChainCompleted(2, 0))
		info := m.GetResumeInfo()
		assert.Equal(t, ResumeDecisionChainPartial, info.Decision)
		assert.Equal(t, 2, info.StartIndex)
	})

	t.Run("rule3 minimum of notCompletedSteps", func(t *testing.T) {
		m, _ := newTestManager(t)
		require.NoError(t, m.StepStarted(5))
		require.NoError(t, m.StepStarted(2))
		require.NoError(t, m.StepStarted(4))
		info := m.GetResumeInfo()
		assert.Equal(t, ResumeDecisionIncomplete, info.Decision)
		assert.Equal(t, 2, info.StartIndex)
	})

	t.Run("rule4 one past max completed when nothing incomplete", func(t *testing.T) {
		m, _ := newTestManager(t)
		require.NoError(t, m.StepCompleted(0))
		require.NoError(t, m.StepCompleted(1))
		require.NoError(t, m.StepCompleted(3))
		info := m.GetResumeInfo()
		assert.Equal(t, ResumeDecisionPastLast, info.Decision)
		assert.Equal(t, 4, info.StartIndex)
	})

	t.Run("rule5 default when nothing recorded", func(t *testing.T) {
		m, _ := newTestManager(t)
		info := m.GetResumeInfo()
		assert.Equal(t, ResumeDecisionDefault, info.Decision)
		assert.Equal(t, 0, info.StartIndex)
	})
}

// Testable Property 2: StepData lifecycle monotonicity — CompletedAt set
// implies CompletedChains is cleared, and NotCompletedSteps drops the
// index once terminal.
func TestManager_StepCompleted_ClearsChainsAndNotCompleted(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.StepStarted(1))
	require.NoError(t, m.ChainCompleted(1, 0))
	require.NoError(t, m.ChainCompleted(1, 1))

	data := m.GetStepData(1)
	require.NotNil(t, data)
	assert.Equal(t, []int{0, 1}, data.CompletedChains)
	assert.False(t, data.IsCompleted())

	require.NoError(t, m.StepCompleted(1))

	data = m.GetStepData(1)
	require.NotNil(t, data)
	assert.True(t, data.IsCompleted())
	assert.Empty(t, data.CompletedChains)

	snap := m.Snapshot()
	assert.NotContains(t, snap.NotCompletedSteps, 1)
}

func TestManager_ChainCompleted_IsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.ChainCompleted(0, 2))
	require.NoError(t, m.ChainCompleted(0, 2))
	data := m.GetStepData(0)
	assert.Equal(t, []int{2}, data.CompletedChains)
}

func TestManager_ResetStep_ClearsRecord(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.StepCompleted(4))
	require.NoError(t, m.ResetStep(4))
	assert.Nil(t, m.GetStepData(4))
}

// Testable Property 3: queue consistency — the cursor never advances
// past len(queue), and exhaustion is correctly reported.
func TestManager_Queue_AdvanceAndExhaustion(t *testing.T) {
	m, _ := newTestManager(t)
	prompts := []types.ChainedPrompt{
		{Name: "a", Content: "first"},
		{Name: "b", Content: "second"},
	}
	m.InitQueue(prompts, 0)

	assert.False(t, m.IsQueueExhausted())
	p, ok := m.GetCurrentQueuedPrompt()
	require.True(t, ok)
	assert.Equal(t, "first", p.Content)
	assert.True(t, m.IsQueuedPrompt("first"))

	m.AdvanceQueue()
	p, ok = m.GetCurrentQueuedPrompt()
	require.True(t, ok)
	assert.Equal(t, "second", p.Content)

	m.AdvanceQueue()
	assert.True(t, m.IsQueueExhausted())
	_, ok = m.GetCurrentQueuedPrompt()
	assert.False(t, ok)

	// Advancing past exhaustion must not move the cursor further.
	m.AdvanceQueue()
	assert.Equal(t, len(prompts), m.QueueIndex())
}

func TestManager_Queue_InitFromMidIndexForChainResume(t *testing.T) {
	m, _ := newTestManager(t)
	prompts := []types.ChainedPrompt{
		{Name: "a", Content: "first"},
		{Name: "b", Content: "second"},
		{Name: "c", Content: "third"},
	}
	m.InitQueue(prompts, 2)
	p, ok := m.GetCurrentQueuedPrompt()
	require.True(t, ok)
	assert.Equal(t, "third", p.Content)
}

// Scenario S2: crash-resume mid-chain. A manager persists chain
// progress, then a fresh manager loaded from the same file must resume
// at the partially completed step.
func TestManager_CrashResumeMidChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "template.json")

	m1, err := NewManager(path)
	require.NoError(t, err)
	require.NoError(t, m1.StepCompleted(0))
	require.NoError(t, m1.StepStarted(1))
	require.NoError(t, m1.StepSessionInitialized(1, "sess-1", "mon-1"))
	require.NoError(t, m1.ChainCompleted(1, 0))

	m2, err := NewManager(path)
	require.NoError(t, err)
	info := m2.GetResumeInfo()
	assert.Equal(t, ResumeDecisionChainPartial, info.Decision)
	assert.Equal(t, 1, info.StartIndex)

	data := m2.GetStepData(1)
	require.NotNil(t, data)
	assert.Equal(t, "sess-1", data.SessionID)
	assert.Equal(t, "mon-1", data.MonitoringID)
	assert.Equal(t, 0, data.MaxCompletedChain())
}

func TestManager_RecoversOrphanedTmpFile_WhenMainMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "template.json")

	// Simulate a crash between write and rename: only the .tmp exists.
	require.NoError(t, os.MkdirAll(dir, 0755))
	tmpContent := `{"activeTemplate":"orphan-recovered","lastUpdated":"2024-01-01T00:00:00Z","completedSteps":{},"resumeFromLastStep":true}`
	require.NoError(t, os.WriteFile(path+".tmp", []byte(tmpContent), 0644))

	m, err := NewManager(path)
	require.NoError(t, err)
	snap := m.Snapshot()
	assert.Equal(t, "orphan-recovered", snap.ActiveTemplate)
	_, statErr := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(statErr))
}

func TestManager_DiscardsOrphanedTmpFile_WhenMainExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "template.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"activeTemplate":"real","lastUpdated":"2024-01-01T00:00:00Z","completedSteps":{},"resumeFromLastStep":true}`), 0644))
	require.NoError(t, os.WriteFile(path+".tmp", []byte(`garbage`), 0644))

	m, err := NewManager(path)
	require.NoError(t, err)
	snap := m.Snapshot()
	assert.Equal(t, "real", snap.ActiveTemplate)
	_, statErr := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(statErr))
}

func TestManager_MigratesLegacyCompletedStepsArray(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "template.json")
	legacy := `{"activeTemplate":"legacy","lastUpdated":"2024-01-01T00:00:00Z","completedSteps":[0,1,2],"resumeFromLastStep":true}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0644))

	m, err := NewManager(path)
	require.NoError(t, err)
	for _, idx := range []int{0, 1, 2} {
		data := m.GetStepData(idx)
		require.NotNil(t, data)
		assert.True(t, data.IsCompleted())
	}
	info := m.GetResumeInfo()
	assert.Equal(t, ResumeDecisionPastLast, info.Decision)
	assert.Equal(t, 3, info.StartIndex)
}

func TestAcquireLock_ContentionReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "template.json")

	lock1, err := AcquireLock(path)
	require.NoError(t, err)
	defer lock1.Release()

	_, err = AcquireLock(path)
	require.Error(t, err)
}

func TestAcquireLock_ReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "template.json")

	lock1, err := AcquireLock(path)
	require.NoError(t, err)
	require.NoError(t, lock1.Release())

	lock2, err := AcquireLock(path)
	require.NoError(t, err)
	require.NoError(t, lock2.Release())
}
