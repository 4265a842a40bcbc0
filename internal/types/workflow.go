// Package types holds the data model shared across the workflow engine:
// the template shape read at start, the persisted tracking state written
// after every step, and the tagged events published on the bus.
package types

// StepKind distinguishes a module step (invokes an engine) from a
// separator (a visual divider that always passes through unexecuted).
type StepKind string

const (
	StepKindModule    StepKind = "module"
	StepKindSeparator StepKind = "separator"
)

// Valid reports whether this is a recognized step kind.
func (k StepKind) Valid() bool {
	return k == StepKindModule || k == StepKindSeparator
}

// ChainedPrompt is a follow-up prompt sent within the same engine session
// after the first turn of a module step completes. Filtered at load time
// by the user's selected track and condition set.
type ChainedPrompt struct {
	Name       string   `json:"name"`
	Label      string   `json:"label"`
	Content    string   `json:"content"`
	Conditions []string `json:"conditions,omitempty"`
	Track      string   `json:"track,omitempty"`
}

// Matches reports whether this prompt participates given the user's
// selected track and condition set. An empty Track matches any track.
func (p ChainedPrompt) Matches(selectedTrack string, selectedConditions map[string]bool) bool {
	if p.Track != "" && p.Track != selectedTrack {
		return false
	}
	for _, cond := range p.Conditions {
		if !selectedConditions[cond] {
			return false
		}
	}
	return true
}

// Step is one entry in the workflow template. A module step invokes an
// agent engine once, plus any chained prompts within the same session. A
// separator step is a visual divider that passes through unexecuted.
//
// ModuleIndex is assigned once at template-load time (see
// Template.AssignModuleIndices)
// and is distinct from the step's position in Template.Steps: it counts
// module steps only, and is the key used throughout persistence.
type Step struct {
	Kind StepKind `json:"kind"`

	// ModuleIndex is -1 for separator steps.
	ModuleIndex int `json:"moduleIndex"`

	AgentID string `json:"agentId"`
	Name    string `json:"name"`

	// Engine is an optional override of the engine selection policy.
	// Empty means "let the Runner choose".
	Engine string `json:"engine,omitempty"`
	Model  string `json:"model,omitempty"`

	// Tracks, if non-empty, restricts this step to run only when the
	// selected track is a member.
	Tracks []string `json:"tracks,omitempty"`

	// Conditions, if non-empty, must all be present in the user's
	// selected condition set for this step to run.
	Conditions []string `json:"conditions,omitempty"`

	// ExecuteOnce means this step is skipped on any run after the one
	// where it first completed.
	ExecuteOnce bool `json:"executeOnce,omitempty"`

	// Interactive is tri-state: nil means "derive from whether this
	// step has chained prompts".
	Interactive *bool `json:"interactive,omitempty"`

	// PromptFiles are concatenated (in order, blank-line separated) to
	// build the first-turn prompt. Resolution and placeholder
	// substitution are external collaborators (out of core scope).
	PromptFiles []string `json:"promptFiles,omitempty"`

	// ChainedPromptsFile, if set, is loaded and filtered by the Step
	// Executor after the first turn completes successfully.
	ChainedPromptsFile string `json:"chainedPromptsFile,omitempty"`
}

// IsModule reports whether this is a module step.
func (s *Step) IsModule() bool { return s.Kind == StepKindModule }

// IsSeparator reports whether this is a separator step.
func (s *Step) IsSeparator() bool { return s.Kind == StepKindSeparator }

// EffectiveInteractive resolves the tri-state Interactive flag: when nil,
// it derives from whether the step has chained prompts (an undefined
// Interactive flag is treated as hasChainedPrompts).
func (s *Step) EffectiveInteractive(hasChainedPrompts bool) bool {
	if s.Interactive != nil {
		return *s.Interactive
	}
	return hasChainedPrompts
}

// Template is the ordered, read-only-during-execution list of steps that
// defines a workflow run.
type Template struct {
	Steps []*Step `json:"steps"`
}

// ModuleSteps returns only the module-typed steps, in template order.
func (t *Template) ModuleSteps() []*Step {
	out := make([]*Step, 0, len(t.Steps))
	for _, s := range t.Steps {
		if s.IsModule() {
			out = append(out, s)
		}
	}
	return out
}

// AssignModuleIndices numbers every module step in template order,
// starting at 0, and sets ModuleIndex to -1 on separators. Call once
// after loading a template, before execution begins.
func (t *Template) AssignModuleIndices() {
	idx := 0
	for _, s := range t.Steps {
		if s.IsModule() {
			s.ModuleIndex = idx
			idx++
		} else {
			s.ModuleIndex = -1
		}
	}
}

// StepByModuleIndex returns the module step with the given index, if any.
func (t *Template) StepByModuleIndex(i int) (*Step, bool) {
	for _, s := range t.Steps {
		if s.IsModule() && s.ModuleIndex == i {
			return s, true
		}
	}
	return nil, false
}

// StepByAgentID returns the first module step declaring the given
// agent id, if any. Used to resolve a directive's trigger target to
// the prompt/engine/model it should run with.
func (t *Template) StepByAgentID(agentID string) (*Step, bool) {
	for _, s := range t.Steps {
		if s.IsModule() && s.AgentID == agentID {
			return s, true
		}
	}
	return nil, false
}
