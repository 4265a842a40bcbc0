package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codemachine-dev/codemachine/internal/bus"
	"github.com/codemachine-dev/codemachine/internal/cmerrors"
	"github.com/codemachine-dev/codemachine/internal/directive"
	"github.com/codemachine-dev/codemachine/internal/enginerunner"
	"github.com/codemachine-dev/codemachine/internal/index"
	"github.com/codemachine-dev/codemachine/internal/signalmgr"
	"github.com/codemachine-dev/codemachine/internal/stepexec"
	"github.com/codemachine-dev/codemachine/internal/types"
	"github.com/google/uuid"
)

// SwitchToManualSentinel is returned by a ControllerInputProvider to
// demote auto mode to manual.
const SwitchToManualSentinel = "__SWITCH_TO_MANUAL__"

// UserInputProvider reads the next prompt from a human operator. Empty
// string means "advance"; non-empty means "resume this step with this
// prompt".
type UserInputProvider interface {
	ReadUserInput(ctx context.Context, moduleIndex int) (string, error)
}

// ControllerInputProvider reads the next prompt from the autonomous
// controller agent. May return SwitchToManualSentinel.
type ControllerInputProvider interface {
	ReadControllerInput(ctx context.Context, moduleIndex int) (string, error)
}

// Options configures a Runner.
type Options struct {
	Bus        *bus.Bus
	Index      *index.Manager
	Executor   *stepexec.Executor
	Directives *directive.Processor
	Logger     *slog.Logger

	// Signals, if set, owns the per-step AbortController: the
	// Runner registers the in-flight step's cancel func with it before
	// invoking the Step Executor and clears it on completion. Its
	// Paused() is used when Options.Paused is nil, and its Mode() is
	// used in place of Options.AutoMode.
	Signals *signalmgr.Manager

	Template *types.Template

	SelectedTrack      string
	SelectedConditions map[string]bool

	User       UserInputProvider
	Controller ControllerInputProvider // nil is valid: scenarios 5/6 never touch it

	AutoMode bool
	Paused   func() bool

	WorkDir string
	Env     []string

	DirectivePath string
}

// Runner drives the FSM across a template's module steps, one at a
// time, dispatching to the scenario-appropriate mode handler on every
// awaiting tick.
type Runner struct {
	opts Options
	fsm  *FSM

	currentIndex int
	loop         *types.ActiveLoop
	lastOutput   *stepexec.Output
}

// New constructs a Runner.
func New(opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Paused == nil {
		if opts.Signals != nil {
			opts.Paused = opts.Signals.Paused
		} else {
			opts.Paused = func() bool { return false }
		}
	}
	return &Runner{opts: opts, fsm: NewFSM()}
}

// Logger returns the runner's logger, for callers that wire
// supplementary diagnostics (e.g. the before-cleanup hook).
func (r *Runner) Logger() *slog.Logger {
	return r.opts.Logger
}

// effectiveAutoMode consults the Signal Manager's live mode-change
// state when one is wired, falling back to the static Options.AutoMode
// otherwise.
func (r *Runner) effectiveAutoMode() bool {
	if r.opts.Signals != nil {
		return r.opts.Signals.Mode() == signalmgr.ModeAutonomous
	}
	return r.opts.AutoMode
}

func (r *Runner) publish(kind types.EventKind, moduleIndex int, payload any) {
	if r.opts.Bus == nil {
		return
	}
	r.opts.Bus.Publish(types.Event{Kind: kind, ModuleIndex: moduleIndex, Payload: payload})
}

// Recover inspects persisted tracking state before the first tick and,
// if the resume index's StepData has a SessionID but no CompletedAt,
// skips a fresh spawn: it registers the prior monitoring id, restores
// the chained-prompt queue from CompletedChains, and enters awaiting
// directly so the first user/controller input resumes the existing
// engine session.
func (r *Runner) Recover() error {
	info := r.opts.Index.GetResumeInfo()
	r.currentIndex = info.StartIndex

	data := r.opts.Index.GetStepData(r.currentIndex)
	if data == nil || data.SessionID == "" || data.IsCompleted() {
		return nil
	}

	r.publish(types.EventMonitoringRegister, r.currentIndex, types.MonitoringRegisterPayload{
		MonitoringID: data.MonitoringID,
		SessionID:    data.SessionID,
	})

	step, ok := r.opts.Template.StepByModuleIndex(r.currentIndex)
	if !ok {
		return fmt.Errorf("recovery: no step at module index %d", r.currentIndex)
	}
	chained, err := r.reloadChainedPrompts(step)
	if err != nil {
		return err
	}
	fromIndex := data.MaxCompletedChain() + 1
	r.opts.Index.InitQueue(chained, fromIndex)

	// If every chained prompt has already been sent, the step never
	// got its terminal completedAt recorded before the crash; finish
	// marking it complete rather than resuming a session with nothing
	// left to say.
	if len(chained) > 0 && fromIndex >= len(chained) {
		if err := r.opts.Index.StepCompleted(r.currentIndex); err != nil {
			return err
		}
		r.currentIndex++
		return nil
	}

	return r.fsm.Apply(FSMEvent{Kind: EventAwait})
}

func (r *Runner) reloadChainedPrompts(step *types.Step) ([]types.ChainedPrompt, error) {
	if step.ChainedPromptsFile == "" || r.opts.Executor == nil || r.opts.Executor.ChainLoad == nil {
		return nil, nil
	}
	all, err := r.opts.Executor.ChainLoad.Load(step.ChainedPromptsFile)
	if err != nil {
		return nil, cmerrors.PromptFileNotFound(step.ChainedPromptsFile)
	}
	survivors := make([]types.ChainedPrompt, 0, len(all))
	for _, p := range all {
		if p.Matches(r.opts.SelectedTrack, r.opts.SelectedConditions) {
			survivors = append(survivors, p)
		}
	}
	return survivors, nil
}

// Run executes the step-scheduling loop until the FSM reaches a
// terminal state. Start must be applied by the caller (or Recover must
// enter directly into awaiting) before calling Run.
func (r *Runner) Run(ctx context.Context) error {
	for !r.fsm.State().IsFinal() {
		switch r.fsm.State() {
		case StateIdle:
			if err := r.fsm.Apply(FSMEvent{Kind: EventStart}); err != nil {
				return err
			}
		case StateRunning, StateDelegated:
			if err := r.tickRunning(ctx); err != nil {
				return err
			}
		case StateAwaiting:
			if err := r.tickAwaiting(ctx); err != nil {
				return err
			}
		default:
			return fmt.Errorf("runner: unexpected state %s", r.fsm.State())
		}
	}
	return nil
}

// Start transitions the FSM out of idle.
func (r *Runner) Start() error {
	return r.fsm.Apply(FSMEvent{Kind: EventStart})
}

// State returns the current FSM state.
func (r *Runner) State() State {
	return r.fsm.State()
}

// CurrentIndex returns the module index currently in flight.
func (r *Runner) CurrentIndex() int {
	return r.currentIndex
}

func (r *Runner) advancePastSeparators() {
	for {
		step, ok := r.opts.Template.StepByModuleIndex(r.currentIndex)
		if !ok {
			return
		}
		skip, _ := ShouldSkip(step, r.opts.SelectedTrack, r.opts.SelectedConditions,
			r.opts.Index.GetStepData(r.currentIndex).IsCompleted(), r.loop)
		if !skip {
			return
		}
		r.currentIndex++
	}
}

func (r *Runner) tickRunning(ctx context.Context) error {
	r.advancePastSeparators()

	step, ok := r.opts.Template.StepByModuleIndex(r.currentIndex)
	if !ok {
		return r.fsm.Apply(FSMEvent{Kind: EventAwait})
	}

	r.publish(types.EventAgentStatus, r.currentIndex, types.AgentStatusPayload{Status: types.AgentStatusRunning})
	if err := r.opts.Index.StepStarted(r.currentIndex); err != nil {
		return err
	}

	rc := stepexec.RuntimeContext{
		WorkDir:            r.opts.WorkDir,
		Env:                r.opts.Env,
		SelectedTrack:      r.opts.SelectedTrack,
		SelectedConditions: r.opts.SelectedConditions,
	}
	if data := r.opts.Index.GetStepData(r.currentIndex); data != nil {
		rc.SessionID = data.SessionID
	}

	stepCtx := ctx
	if r.opts.Signals != nil {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithCancel(ctx)
		r.opts.Signals.SetController(cancel)
		defer r.opts.Signals.SetController(nil)
	}

	out, err := r.opts.Executor.Run(stepCtx, step, rc)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, enginerunner.ErrAborted) {
			return r.handleAbort()
		}
		r.publish(types.EventAgentStatus, r.currentIndex, types.AgentStatusPayload{Status: types.AgentStatusFailed})
		r.publish(types.EventWorkflowError, 0, types.WorkflowErrorPayload{Reason: err.Error()})
		return r.fsm.Apply(FSMEvent{Kind: EventStepError, Err: err})
	}

	r.lastOutput = out
	if out.RunResult != nil && out.RunResult.SessionID != "" {
		// monitoringId is a process-local handle for this invocation; a
		// real Agent Monitor service that would assign one is an
		// external collaborator, so a fresh id is minted here.
		monitoringID := uuid.NewString()
		if serr := r.opts.Index.StepSessionInitialized(r.currentIndex, out.RunResult.SessionID, monitoringID); serr != nil {
			return serr
		}
		r.publish(types.EventMonitoringRegister, r.currentIndex, types.MonitoringRegisterPayload{
			MonitoringID: monitoringID,
			SessionID:    out.RunResult.SessionID,
		})
	}
	if len(out.ChainedPrompts) > 0 {
		r.opts.Index.InitQueue(out.ChainedPrompts, 0)
	} else {
		r.opts.Index.ResetQueue()
	}

	if err := r.processDirectives(ctx); err != nil {
		return err
	}
	if r.fsm.State().IsFinal() {
		return nil
	}

	return r.fsm.Apply(FSMEvent{Kind: EventStepComplete, Output: ""})
}

// handleAbort converts an aborted Step Executor call into the FSM
// transition appropriate to whichever signal raised it last. Skip
// additionally marks the step skipped and advances past it;
// pause/mode-change/no-signal-wired land in awaiting for the next tick
// to resolve; stop drives straight to the terminal stopped state.
func (r *Runner) handleAbort() error {
	reason := signalmgr.AbortReasonNone
	if r.opts.Signals != nil {
		reason = r.opts.Signals.LastAbortReason()
	}

	switch reason {
	case signalmgr.AbortReasonStop:
		return r.fsm.Apply(FSMEvent{Kind: EventStop})
	case signalmgr.AbortReasonSkip:
		r.publish(types.EventAgentStatus, r.currentIndex, types.AgentStatusPayload{Status: types.AgentStatusSkipped})
		if err := r.fsm.Apply(FSMEvent{Kind: EventSkip}); err != nil {
			return err
		}
		r.currentIndex++
		return nil
	default: // pause, mode-change, or no Signals wired
		return r.fsm.Apply(FSMEvent{Kind: EventAwait})
	}
}

func (r *Runner) processDirectives(ctx context.Context) error {
	if r.opts.Directives == nil || r.opts.DirectivePath == "" {
		return nil
	}
	d, err := directive.ReadAndParse(r.opts.DirectivePath)
	if err != nil {
		return err
	}
	if d.Action == directive.ActionContinue {
		return nil
	}
	defer directive.Remove(r.opts.DirectivePath)

	result, err := r.opts.Directives.Evaluate(ctx, d, r.currentIndex)
	if err != nil {
		if cmerrors.HasCode(err, cmerrors.CodeDirectiveError) {
			return r.fsm.Apply(FSMEvent{Kind: EventStepError, Err: err})
		}
		if cmerrors.HasCode(err, cmerrors.CodeCheckpointQuit) {
			return r.fsm.Apply(FSMEvent{Kind: EventStop})
		}
		return err
	}

	if result.Action == directive.ActionLoop && result.Loop != nil {
		r.currentIndex = result.NewIndex
		r.loop = result.Loop
	}
	return nil
}

func (r *Runner) tickAwaiting(ctx context.Context) error {
	step, ok := r.opts.Template.StepByModuleIndex(r.currentIndex)
	if !ok {
		return r.fsm.Apply(FSMEvent{Kind: EventStepComplete, Output: ""})
	}

	if r.opts.Paused() {
		return r.interactiveMode(ctx, false)
	}

	hasChained := !r.opts.Index.IsQueueExhausted()
	interactive := step.EffectiveInteractive(hasChained)

	scenario := ResolveScenario(interactive, r.effectiveAutoMode(), hasChained, r.opts.Paused())
	if scenario.Forced && r.opts.Logger != nil {
		r.opts.Logger.Warn("step forced to interactive handling despite non-interactive mode",
			"moduleIndex", r.currentIndex, "autoMode", r.effectiveAutoMode())
	}

	switch scenario.Handler {
	case HandlerAutonomous:
		return r.autonomousMode(ctx)
	case HandlerContinuous:
		return r.continuousMode(ctx)
	default:
		return r.interactiveMode(ctx, scenario.Input == InputSourceController)
	}
}

func (r *Runner) interactiveMode(ctx context.Context, fromController bool) error {
	var input string
	var err error

	if fromController && r.opts.Controller != nil {
		input, err = r.opts.Controller.ReadControllerInput(ctx, r.currentIndex)
		if err == nil && input == SwitchToManualSentinel {
			r.opts.AutoMode = false
			input, err = r.readUser(ctx)
		}
	} else {
		input, err = r.readUser(ctx)
	}
	if err != nil {
		return err
	}

	if input != "" && r.opts.Index.IsQueuedPrompt(input) {
		chainIndex := r.opts.Index.QueueIndex()
		r.opts.Index.AdvanceQueue()
		if data := r.opts.Index.GetStepData(r.currentIndex); data != nil {
			_ = r.opts.Index.ChainCompleted(r.currentIndex, chainIndex)
		}
	}

	if input == "" {
		if err := r.opts.Index.StepCompleted(r.currentIndex); err != nil {
			return err
		}
		r.currentIndex++
		return r.fsm.Apply(FSMEvent{Kind: EventInputReceived, Input: ""})
	}

	return r.fsm.Apply(FSMEvent{Kind: EventInputReceived, Input: input})
}

func (r *Runner) readUser(ctx context.Context) (string, error) {
	if r.opts.User == nil {
		return "", nil
	}
	return r.opts.User.ReadUserInput(ctx, r.currentIndex)
}

// autonomousMode auto-sends the next queued prompt each iteration
// (scenario 5).
func (r *Runner) autonomousMode(ctx context.Context) error {
	prompt, ok := r.opts.Index.GetCurrentQueuedPrompt()
	if !ok {
		if err := r.opts.Index.StepCompleted(r.currentIndex); err != nil {
			return err
		}
		r.currentIndex++
		return r.fsm.Apply(FSMEvent{Kind: EventInputReceived, Input: ""})
	}
	chainIndex := r.opts.Index.QueueIndex()
	r.opts.Index.AdvanceQueue()
	_ = r.opts.Index.ChainCompleted(r.currentIndex, chainIndex)
	return r.fsm.Apply(FSMEvent{Kind: EventInputReceived, Input: prompt.Content})
}

// continuousMode auto-marks the step complete and emits
// INPUT_RECEIVED("") (scenario 6).
func (r *Runner) continuousMode(ctx context.Context) error {
	if err := r.opts.Index.StepCompleted(r.currentIndex); err != nil {
		return err
	}
	r.currentIndex++
	return r.fsm.Apply(FSMEvent{Kind: EventInputReceived, Input: ""})
}
