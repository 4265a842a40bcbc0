// Package index implements the Index Manager: the owner of
// `.codemachine/template.json` and the in-memory chained-prompt queue.
// Every mutation is a declarative read-modify-write cycle; persistence
// is atomic whole-file replacement via a write-temp-then-rename store,
// adapted from YAML to JSON and from per-workflow files to a single
// tracking file, plus an advisory flock for cross-process exclusivity.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/codemachine-dev/codemachine/internal/cmerrors"
	"github.com/codemachine-dev/codemachine/internal/types"
)

// ResumeDecision names which rule in the precedence fired.
type ResumeDecision string

const (
	ResumeDecisionFreshStart   ResumeDecision = "fresh_start"   // rule 1
	ResumeDecisionChainPartial ResumeDecision = "chain_partial" // rule 2
	ResumeDecisionIncomplete   ResumeDecision = "incomplete"     // rule 3
	ResumeDecisionPastLast     ResumeDecision = "past_last"      // rule 4
	ResumeDecisionDefault      ResumeDecision = "default"        // rule 5
)

// ResumeInfo is the result of GetResumeInfo.
type ResumeInfo struct {
	StartIndex int
	Decision   ResumeDecision
}

// Lock is an exclusive advisory lock over one tracking file's directory.
type Lock struct {
	file *os.File
	path string
}

// Release releases the lock and removes the lock file (best effort).
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	os.Remove(l.path)
	return err
}

// Manager owns TemplateTracking persistence and the in-memory prompt
// queue for the step currently executing.
type Manager struct {
	path string

	mu       sync.Mutex
	tracking *types.TemplateTracking

	queue      []types.ChainedPrompt
	queueIndex int
}

// NewManager constructs a Manager for the tracking file at path. If the
// file does not exist, a fresh TemplateTracking is used (persisted on
// first mutation).
func NewManager(path string) (*Manager, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating tracking directory: %w", err)
	}
	if err := recoverInterruptedWrite(path); err != nil {
		return nil, err
	}

	m := &Manager{path: path}
	tracking, err := readTracking(path)
	if err != nil {
		return nil, err
	}
	m.tracking = tracking
	return m, nil
}

// AcquireLock takes an exclusive, non-blocking lock over the tracking
// file's directory so only one orchestrator process drives this
// workflow at a time.
func AcquireLock(path string) (*Lock, error) {
	lockPath := path + ".lock"
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		return nil, cmerrors.Newf(cmerrors.CodeIndexLockContended, "workflow tracking file is locked: %s", path)
	}
	return &Lock{file: file, path: lockPath}, nil
}

// recoverInterruptedWrite promotes an orphaned .tmp file left by a
// crash between write and rename, or discards it if the main file
// already exists and is presumably newer.
func recoverInterruptedWrite(path string) error {
	tmpPath := path + ".tmp"
	if _, err := os.Stat(tmpPath); err != nil {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		os.Remove(tmpPath)
		return nil
	}
	return os.Rename(tmpPath, path)
}

// readTracking loads the tracking file, migrating the legacy
// `completedSteps: [int]` shape to the record form on the fly (// Migration).
func readTracking(path string) (*types.TemplateTracking, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.NewTemplateTracking(""), nil
		}
		// Any other read failure also falls back to the default record;
		// nothing is logged.
		return types.NewTemplateTracking(""), nil
	}

	var legacyProbe struct {
		CompletedSteps json.RawMessage `json:"completedSteps"`
	}
	if err := json.Unmarshal(data, &legacyProbe); err != nil {
		return nil, cmerrors.IndexReadFailed(path, err)
	}

	var legacyList []int
	isLegacy := json.Unmarshal(legacyProbe.CompletedSteps, &legacyList) == nil

	var tracking types.TemplateTracking
	if err := json.Unmarshal(data, &tracking); err != nil {
		// A legacy list cannot decode into the record map; the other
		// fields are still decoded and the list is migrated below.
		var typeErr *json.UnmarshalTypeError
		if !isLegacy || !errors.As(err, &typeErr) || typeErr.Field != "completedSteps" {
			return nil, cmerrors.IndexReadFailed(path, err)
		}
	}

	if tracking.CompletedSteps == nil {
		tracking.CompletedSteps = make(map[string]*types.StepData)
	}

	if isLegacy && len(legacyList) > 0 {
		now := time.Now()
		migrated := make(map[string]*types.StepData, len(legacyList))
		for _, idx := range legacyList {
			migrated[fmt.Sprintf("%d", idx)] = &types.StepData{CompletedAt: &now}
		}
		tracking.CompletedSteps = migrated
	}

	return &tracking, nil
}

// writeLocked persists the current tracking record atomically
// (write-temp-then-rename), bumping LastUpdated. Must be called with
// m.mu held.
func (m *Manager) writeLocked() error {
	m.tracking.LastUpdated = time.Now()

	data, err := json.MarshalIndent(m.tracking, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling tracking: %w", err)
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return cmerrors.IndexWriteFailed(m.path, err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return cmerrors.IndexWriteFailed(m.path, err)
	}
	return nil
}

// Snapshot returns a copy of the current tracking record.
func (m *Manager) Snapshot() *types.TemplateTracking {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.tracking
	cp.CompletedSteps = make(map[string]*types.StepData, len(m.tracking.CompletedSteps))
	for k, v := range m.tracking.CompletedSteps {
		vCopy := *v
		cp.CompletedSteps[k] = &vCopy
	}
	cp.NotCompletedSteps = append([]int(nil), m.tracking.NotCompletedSteps...)
	return &cp
}

func key(moduleIndex int) string {
	return fmt.Sprintf("%d", moduleIndex)
}

// addNotCompletedLocked marks moduleIndex as started-but-not-finished.
// It does not touch CompletedSteps: StepStarted creates that entry
// before calling it, for invariant (a). Must be called with m.mu held.
func (m *Manager) addNotCompletedLocked(moduleIndex int) {
	for _, idx := range m.tracking.NotCompletedSteps {
		if idx == moduleIndex {
			return
		}
	}
	m.tracking.NotCompletedSteps = append(m.tracking.NotCompletedSteps, moduleIndex)
}

func (m *Manager) removeNotCompletedLocked(moduleIndex int) {
	out := m.tracking.NotCompletedSteps[:0]
	for _, idx := range m.tracking.NotCompletedSteps {
		if idx != moduleIndex {
			out = append(out, idx)
		}
	}
	m.tracking.NotCompletedSteps = out
}

// StepStarted records that moduleIndex has begun executing.
func (m *Manager) StepStarted(moduleIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(moduleIndex)
	if _, ok := m.tracking.CompletedSteps[k]; !ok {
		m.tracking.CompletedSteps[k] = &types.StepData{}
	}
	m.addNotCompletedLocked(moduleIndex)
	return m.writeLocked()
}

// StepSessionInitialized records the engine session/monitoring ids for
// an in-progress step.
func (m *Manager) StepSessionInitialized(moduleIndex int, sessionID, monitoringID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(moduleIndex)
	data, ok := m.tracking.CompletedSteps[k]
	if !ok {
		data = &types.StepData{}
		m.tracking.CompletedSteps[k] = data
	}
	data.SessionID = sessionID
	data.MonitoringID = monitoringID
	return m.writeLocked()
}

// ChainCompleted records that chainIndex finished within moduleIndex's
// session.
func (m *Manager) ChainCompleted(moduleIndex, chainIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(moduleIndex)
	data, ok := m.tracking.CompletedSteps[k]
	if !ok {
		data = &types.StepData{}
		m.tracking.CompletedSteps[k] = data
	}
	for _, c := range data.CompletedChains {
		if c == chainIndex {
			return m.writeLocked()
		}
	}
	data.CompletedChains = append(data.CompletedChains, chainIndex)
	return m.writeLocked()
}

// StepCompleted marks moduleIndex as terminally complete. Enforces
// invariant (b): CompletedChains is cleared when CompletedAt is set.
func (m *Manager) StepCompleted(moduleIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(moduleIndex)
	data, ok := m.tracking.CompletedSteps[k]
	if !ok {
		data = &types.StepData{}
		m.tracking.CompletedSteps[k] = data
	}
	now := time.Now()
	data.CompletedAt = &now
	data.CompletedChains = nil
	m.removeNotCompletedLocked(moduleIndex)
	return m.writeLocked()
}

// ResetStep clears a step's completion state back to fresh-pending, for
// a loop directive's rewind.
func (m *Manager) ResetStep(moduleIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(moduleIndex)
	delete(m.tracking.CompletedSteps, k)
	m.removeNotCompletedLocked(moduleIndex)
	return m.writeLocked()
}

// GetStepData returns the persisted record for moduleIndex, or nil.
func (m *Manager) GetStepData(moduleIndex int) *types.StepData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracking.CompletedSteps[key(moduleIndex)]
}

// SetResumeFromLastStep toggles the rule-1 override.
func (m *Manager) SetResumeFromLastStep(v bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracking.ResumeFromLastStep = v
	return m.writeLocked()
}

// GetResumeInfo computes the resume start index per the five-rule
// precedence in (Testable Property 1).
func (m *Manager) GetResumeInfo() ResumeInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.tracking.ResumeFromLastStep {
		return ResumeInfo{StartIndex: 0, Decision: ResumeDecisionFreshStart}
	}

	// Rule 2: any StepData with non-empty CompletedChains and no
	// CompletedAt.
	for k, data := range m.tracking.CompletedSteps {
		if data.IsChainPartial() {
			idx := parseKey(k)
			return ResumeInfo{StartIndex: idx, Decision: ResumeDecisionChainPartial}
		}
	}

	// Rule 3: minimum of NotCompletedSteps.
	if len(m.tracking.NotCompletedSteps) > 0 {
		min := m.tracking.NotCompletedSteps[0]
		for _, idx := range m.tracking.NotCompletedSteps[1:] {
			if idx < min {
				min = idx
			}
		}
		return ResumeInfo{StartIndex: min, Decision: ResumeDecisionIncomplete}
	}

	// Rule 4: one past the maximum completed index.
	maxCompleted := -1
	found := false
	for k, data := range m.tracking.CompletedSteps {
		if data.IsCompleted() {
			found = true
			if idx := parseKey(k); idx > maxCompleted {
				maxCompleted = idx
			}
		}
	}
	if found {
		return ResumeInfo{StartIndex: maxCompleted + 1, Decision: ResumeDecisionPastLast}
	}

	// Rule 5: default.
	return ResumeInfo{StartIndex: 0, Decision: ResumeDecisionDefault}
}

func parseKey(k string) int {
	var idx int
	fmt.Sscanf(k, "%d", &idx)
	return idx
}

// --- Prompt queue operations ---

// InitQueue sets the in-memory chained-prompt queue, starting at
// fromIndex (used by chain resume: "the queue is re-initialized at
// max(completedChains)+1").
func (m *Manager) InitQueue(prompts []types.ChainedPrompt, fromIndex int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = prompts
	m.queueIndex = fromIndex
}

// AdvanceQueue moves the queue cursor forward by one, never past
// len(queue) (Testable Property 3).
func (m *Manager) AdvanceQueue() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queueIndex < len(m.queue) {
		m.queueIndex++
	}
}

// IsQueueExhausted reports whether every queued prompt has been sent.
func (m *Manager) IsQueueExhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queueIndex >= len(m.queue)
}

// ResetQueue clears the in-memory queue.
func (m *Manager) ResetQueue() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = nil
	m.queueIndex = 0
}

// GetCurrentQueuedPrompt returns the prompt at the current cursor, or
// false if the queue is exhausted.
func (m *Manager) GetCurrentQueuedPrompt() (types.ChainedPrompt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queueIndex >= len(m.queue) {
		return types.ChainedPrompt{}, false
	}
	return m.queue[m.queueIndex], true
}

// IsQueuedPrompt reports whether input matches the current queued
// prompt's content verbatim.
func (m *Manager) IsQueuedPrompt(input string) bool {
	p, ok := m.GetCurrentQueuedPrompt()
	return ok && p.Content == input
}

// QueueIndex returns the current cursor position.
func (m *Manager) QueueIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queueIndex
}
