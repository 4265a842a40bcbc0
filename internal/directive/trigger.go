package directive

import (
	"context"
	"errors"
	"fmt"

	"github.com/codemachine-dev/codemachine/internal/bus"
	"github.com/codemachine-dev/codemachine/internal/enginerunner"
	"github.com/codemachine-dev/codemachine/internal/stepexec"
	"github.com/codemachine-dev/codemachine/internal/types"
)

// StepTrigger is the production TriggerRunner: it resolves a directive's
// agentId against the workflow template and dispatches it through the
// same Step Executor a regular module step uses, as a separate session
// outside the step index's tracking.
type StepTrigger struct {
	Executor *stepexec.Executor
	Template *types.Template
	Bus      *bus.Bus
	Base     stepexec.RuntimeContext // WorkDir/Env/track/conditions shared with the parent run
}

// NewStepTrigger constructs a StepTrigger.
func NewStepTrigger(executor *stepexec.Executor, tmpl *types.Template, b *bus.Bus, base stepexec.RuntimeContext) *StepTrigger {
	return &StepTrigger{Executor: executor, Template: tmpl, Bus: b, Base: base}
}

// RunTriggered implements TriggerRunner: spawn a one-off agent
// identified by agentID and wait for it. An abort (context cancelled)
// is reported as ErrTriggerAborted so the Directive Processor's caller
// can mark it skipped and continue the outer flow without treating it
// as a hard error.
func (t *StepTrigger) RunTriggered(ctx context.Context, agentID, reason string) error {
	step, ok := t.Template.StepByAgentID(agentID)
	if !ok {
		return fmt.Errorf("trigger: no step declares agent id %q", agentID)
	}

	if t.Bus != nil {
		t.Bus.Publish(types.Event{
			Kind:    types.EventTriggeredAdded,
			AgentID: agentID,
			Payload: types.TriggeredAddedPayload{Reason: reason},
		})
	}

	_, err := t.Executor.Run(ctx, step, t.Base)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, enginerunner.ErrAborted) {
			return ErrTriggerAborted
		}
		return err
	}
	return nil
}

// ErrTriggerAborted reports that a triggered agent's invocation was
// aborted (pause/skip/stop/mode-change) rather than failing outright.
var ErrTriggerAborted = errors.New("triggered agent aborted")
