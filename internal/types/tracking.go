package types

import "time"

// StepData is the persisted record for one module step. Presence of
// CompletedAt marks terminal completion; presence of CompletedChains
// without CompletedAt indicates a partially completed multi-turn step
// that is resumable mid-chain.
//
// Invariant: CompletedAt set ⇒ CompletedChains is absent (nil/empty).
// Enforced by the one mutator that sets it, index.Manager.StepCompleted.
type StepData struct {
	SessionID       string     `json:"sessionId,omitempty"`
	MonitoringID    string     `json:"monitoringId,omitempty"`
	CompletedChains []int      `json:"completedChains,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// IsCompleted reports whether this step has terminally completed.
func (d *StepData) IsCompleted() bool {
	return d != nil && d.CompletedAt != nil
}

// IsChainPartial reports whether this step is mid-chain: some chained
// prompts completed, but the step itself has not.
func (d *StepData) IsChainPartial() bool {
	return d != nil && d.CompletedAt == nil && len(d.CompletedChains) > 0
}

// MaxCompletedChain returns the highest completed chain index, or -1 if
// none have completed.
func (d *StepData) MaxCompletedChain() int {
	if d == nil {
		return -1
	}
	max := -1
	for _, c := range d.CompletedChains {
		if c > max {
			max = c
		}
	}
	return max
}

// AutonomousMode is the tri-plus-one-state toggle for controller-driven
// execution: "true"/"false" are user-steerable defaults, "never"/"always"
// pin the workflow regardless of mode-change signals.
type AutonomousMode string

const (
	AutonomousModeTrue   AutonomousMode = "true"
	AutonomousModeFalse  AutonomousMode = "false"
	AutonomousModeNever  AutonomousMode = "never"
	AutonomousModeAlways AutonomousMode = "always"
)

// Valid reports whether this is a recognized autonomous-mode value.
func (m AutonomousMode) Valid() bool {
	switch m {
	case AutonomousModeTrue, AutonomousModeFalse, AutonomousModeNever, AutonomousModeAlways:
		return true
	}
	return false
}

// Enabled resolves the effective auto-mode boolean; Never/Always pin the
// result regardless of the caller's requested toggle.
func (m AutonomousMode) Enabled(requested bool) bool {
	switch m {
	case AutonomousModeNever:
		return false
	case AutonomousModeAlways:
		return true
	case AutonomousModeTrue:
		return true
	case AutonomousModeFalse:
		return false
	default:
		return requested
	}
}

// ControllerConfig identifies the autonomous controller agent's active
// session, when one is configured. The controller is optional: its
// absence does not prevent non-interactive scenarios 5/6 from running.
type ControllerConfig struct {
	AgentID      string `json:"agentId"`
	SessionID    string `json:"sessionId,omitempty"`
	MonitoringID string `json:"monitoringId,omitempty"`
}

// TemplateTracking is the single persisted tracking file,
// `.codemachine/template.json`. Writes are whole-file replacements with
// LastUpdated bumped to now (invariant (c)).
type TemplateTracking struct {
	ActiveTemplate string    `json:"activeTemplate"`
	LastUpdated    time.Time `json:"lastUpdated"`

	// CompletedSteps is keyed by the string form of the module index,
	// since JSON object keys must be strings.
	CompletedSteps map[string]*StepData `json:"completedSteps"`

	// NotCompletedSteps are module indices that started but did not
	// finish. Invariant (a): every element here is also a key of
	// CompletedSteps whose CompletedAt is unset.
	NotCompletedSteps []int `json:"notCompletedSteps,omitempty"`

	ResumeFromLastStep bool `json:"resumeFromLastStep"`

	SelectedTrack      string   `json:"selectedTrack,omitempty"`
	SelectedConditions []string `json:"selectedConditions,omitempty"`
	ProjectName        string   `json:"projectName,omitempty"`

	AutonomousMode   AutonomousMode    `json:"autonomousMode,omitempty"`
	ControllerConfig *ControllerConfig `json:"controllerConfig,omitempty"`
	ControllerView   bool              `json:"controllerView,omitempty"`
}

// NewTemplateTracking returns a fresh tracking record for a template,
// defaulting ResumeFromLastStep to true (resume is the normal path; a
// caller that wants a clean restart sets it false explicitly).
func NewTemplateTracking(activeTemplate string) *TemplateTracking {
	return &TemplateTracking{
		ActiveTemplate:     activeTemplate,
		LastUpdated:        time.Now(),
		CompletedSteps:     make(map[string]*StepData),
		ResumeFromLastStep: true,
	}
}

// SelectedConditionSet returns SelectedConditions as a lookup set.
func (t *TemplateTracking) SelectedConditionSet() map[string]bool {
	set := make(map[string]bool, len(t.SelectedConditions))
	for _, c := range t.SelectedConditions {
		set[c] = true
	}
	return set
}
