// Package directive implements the Directive Processor: parses the
// agent-authored `.codemachine/memory/directive.json` file written
// after an engine invocation and evaluates it in the fixed order
// error → trigger → checkpoint → loop.
//
// Parsing follows a tagged-type dispatch (an action field selects which
// concrete directive shape to unmarshal into) over a single on-disk
// file rather than a streamed wire protocol. The loop action's
// bookkeeping is a reset-and-snapshot of per-branch completion state.
package directive

import (
	"encoding/json"
	"fmt"
)

// Action identifies which directive kind a parsed file declares.
type Action string

const (
	ActionContinue   Action = "continue"
	ActionLoop       Action = "loop"
	ActionTrigger    Action = "trigger"
	ActionCheckpoint Action = "checkpoint"
	ActionError      Action = "error"
)

// Valid reports whether this is a recognized directive action.
func (a Action) Valid() bool {
	switch a {
	case ActionContinue, ActionLoop, ActionTrigger, ActionCheckpoint, ActionError:
		return true
	}
	return false
}

// rawDirective is used for initial parsing to determine the action, the
// same two-pass approach as ipc.RawMessage + ipc.ParseMessage.
type rawDirective struct {
	Action Action `json:"action"`
}

// Directive is the parsed form of directive.json. Only the fields
// relevant to Action are populated by Parse.
type Directive struct {
	Action Action `json:"action"`

	// loop
	StepsBack     int      `json:"stepsBack,omitempty"`
	MaxIterations int      `json:"maxIterations,omitempty"`
	Skip          []string `json:"skip,omitempty"`
	Reason        string   `json:"reason,omitempty"`

	// trigger
	AgentID string `json:"agentId,omitempty"`

	// checkpoint / error reuse Reason above.
}

// Parse decodes directive.json. An empty or missing action defaults to
// continue (no-op): an agent that writes nothing wants normal advancement.
func Parse(data []byte) (*Directive, error) {
	var raw rawDirective
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid directive JSON: %w", err)
	}
	if raw.Action == "" {
		raw.Action = ActionContinue
	}
	if !raw.Action.Valid() {
		return nil, fmt.Errorf("unknown directive action: %q", raw.Action)
	}

	var d Directive
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse %s directive: %w", raw.Action, err)
	}
	d.Action = raw.Action
	return &d, nil
}
