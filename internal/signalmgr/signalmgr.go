// Package signalmgr translates four logical control signals (pause,
// skip, stop, mode-change) into FSM-relevant state and abort operations
// against whichever step is currently in flight.
//
// The discipline mirrors how a process handles SIGINT/SIGTERM, adapted
// to logical control events delivered by the UI layer instead of the
// OS: a single cancellation function owned by whatever is currently
// running, coalesced duplicate presses, and a two-stage stop that
// escalates to process exit.
package signalmgr

import (
	"context"
	"log/slog"
	"sync"
)

// Mode is the manual/autonomous execution toggle.
type Mode string

const (
	ModeManual     Mode = "manual"
	ModeAutonomous Mode = "autonomous"
)

// BeforeCleanup is invoked once, before process exit on the second stop
// signal, so the caller can persist the last known sessionId/
// monitoringId for every active root agent.
type BeforeCleanup func()

// AbortReason names which of the four logical signals most recently
// cancelled the in-flight step's controller. The Runner reads this right
// after an aborted Step Executor call returns, to distinguish
// abort-from-pause vs abort-from-skip vs abort-from-mode-change by
// checking which signal flag was raised last.
type AbortReason string

const (
	AbortReasonNone       AbortReason = ""
	AbortReasonPause      AbortReason = "pause"
	AbortReasonSkip       AbortReason = "skip"
	AbortReasonStop       AbortReason = "stop"
	AbortReasonModeChange AbortReason = "mode-change"
)

// ExitFunc performs the actual process exit. Exposed as a field (rather
// than calling os.Exit directly) so tests can observe the two-stage
// stop without killing the test binary.
type ExitFunc func()

// Manager owns the logical signal state. It never owns the in-flight
// step's cancellation function — the step lifecycle does, via
// SetController/ClearController — the manager never owns the controller.
type Manager struct {
	mu sync.Mutex

	logger *slog.Logger

	controller context.CancelFunc
	paused     bool
	stopped    bool
	stopCount  int
	mode       Mode

	inAbortWindow bool // coalesces duplicate skip/stop presses mid-abort
	lastAbort     AbortReason

	beforeCleanup BeforeCleanup
	exit          ExitFunc
}

// LastAbortReason returns which signal most recently cancelled the
// in-flight step's controller.
func (m *Manager) LastAbortReason() AbortReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAbort
}

// New constructs a Manager. initialMode is the starting manual/
// autonomous mode.
func New(logger *slog.Logger, initialMode Mode) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger, mode: initialMode, exit: func() {}}
}

// SetBeforeCleanup registers the pre-exit persistence hook.
func (m *Manager) SetBeforeCleanup(fn BeforeCleanup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beforeCleanup = fn
}

// SetExitFunc overrides the process-exit action (tests only; production
// wires os.Exit).
func (m *Manager) SetExitFunc(fn ExitFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exit = fn
}

// SetController registers the cancellation function for the step
// currently executing. Call with nil when the step completes normally.
func (m *Manager) SetController(cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controller = cancel
	m.inAbortWindow = false
	m.lastAbort = AbortReasonNone
}

// Paused reports the FSM pause flag.
func (m *Manager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Stopped reports whether a stop has been requested.
func (m *Manager) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// Mode returns the current manual/autonomous mode.
func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// abortCurrentLocked cancels the in-flight controller, if any. Must be called
// with m.mu held.
func (m *Manager) abortCurrentLocked() {
	if m.controller != nil {
		m.controller()
	}
}

// Pause aborts the in-flight step (if any) and sets the pause flag. The
// runner's recovery of that abort converts it to the awaiting state.
// Idempotent: a second Pause while already paused is a no-op.
func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused {
		return
	}
	m.paused = true
	m.lastAbort = AbortReasonPause
	m.abortCurrentLocked()
	m.logger.Info("signal: pause")
}

// Resume clears the pause flag (the step lifecycle decides how to
// proceed once awaiting resolves).
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
}

// SkipResult reports what Skip actually did, so the caller can decide
// whether to mark the step skipped and advance.
type SkipResult struct {
	Applied bool // false when coalesced (duplicate press mid-abort)
}

// Skip aborts the in-flight step and signals that its status should
// become skipped. Duplicate presses within the same abort window (i.e.
// before SetController registers the next step) are coalesced.
func (m *Manager) Skip() SkipResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inAbortWindow {
		m.logger.Debug("signal: skip coalesced (already aborting)")
		return SkipResult{Applied: false}
	}
	m.inAbortWindow = true
	m.lastAbort = AbortReasonSkip
	m.abortCurrentLocked()
	m.logger.Info("signal: skip")
	return SkipResult{Applied: true}
}

// StopResult reports whether this Stop call drove the FSM toward
// stopped, or escalated to process exit (second stop: two-stage
// Ctrl-C).
type StopResult struct {
	Escalated bool
}

// Stop requests a workflow stop. The first call sets the stop flag and
// aborts the in-flight operation so the runner can drive the FSM to
// stopped. A second call after the FSM has already stopped routes to
// process exit, running the before-cleanup hook first.
func (m *Manager) Stop() StopResult {
	m.mu.Lock()

	m.stopCount++
	if m.stopped {
		m.mu.Unlock()
		m.logger.Warn("signal: stop (second press) — exiting process")
		if m.beforeCleanup != nil {
			m.beforeCleanup()
		}
		if m.exit != nil {
			m.exit()
		}
		return StopResult{Escalated: true}
	}

	m.stopped = true
	m.lastAbort = AbortReasonStop
	m.abortCurrentLocked()
	m.mu.Unlock()
	m.logger.Info("signal: stop")
	return StopResult{Escalated: false}
}

// ModeChangeResult reports the prior and new mode plus whether an
// in-flight engine invocation was aborted as a consequence.
type ModeChangeResult struct {
	From    Mode
	To      Mode
	Aborted bool
}

// ModeChange toggles between manual and autonomous. Manual → autonomous
// while a step is running continues normally; autonomous → manual
// aborts the in-flight engine invocation so the runner restarts in
// user-input mode.
func (m *Manager) ModeChange(to Mode) ModeChangeResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.mode
	if from == to {
		return ModeChangeResult{From: from, To: to}
	}
	m.mode = to

	aborted := false
	if from == ModeAutonomous && to == ModeManual {
		m.lastAbort = AbortReasonModeChange
		m.abortCurrentLocked()
		aborted = true
	}
	m.logger.Info("signal: mode-change", "from", from, "to", to)
	return ModeChangeResult{From: from, To: to, Aborted: aborted}
}
