package runner

// ModeHandlerKind names which awaiting-tick handler a scenario resolves
// to.
type ModeHandlerKind string

const (
	HandlerInteractive ModeHandlerKind = "interactive"
	HandlerAutonomous  ModeHandlerKind = "autonomous"
	HandlerContinuous  ModeHandlerKind = "continuous"
)

// InputSource names where a handler reads its next input from.
type InputSource string

const (
	InputSourceController InputSource = "controller"
	InputSourceUser       InputSource = "user"
	InputSourceSystem     InputSource = "system"
)

// Scenario is one resolved row of the matrix.
type Scenario struct {
	Handler ModeHandlerKind
	Input   InputSource
	Forced  bool // true for rows 7/8: interactive forced with a warning
}

// ResolveScenario implements the 8-row matrix keyed by
// (interactive, autoMode, hasChainedPrompts). When paused is true the
// effective handler is always interactive regardless of the matrix.
func ResolveScenario(interactive, autoMode, hasChainedPrompts, paused bool) Scenario {
	if paused {
		source := InputSourceUser
		if autoMode {
			source = InputSourceController
		}
		return Scenario{Handler: HandlerInteractive, Input: source}
	}

	switch {
	case interactive && autoMode && hasChainedPrompts:
		return Scenario{Handler: HandlerInteractive, Input: InputSourceController} // row 1
	case interactive && autoMode && !hasChainedPrompts:
		return Scenario{Handler: HandlerInteractive, Input: InputSourceController} // row 2
	case interactive && !autoMode && hasChainedPrompts:
		return Scenario{Handler: HandlerInteractive, Input: InputSourceUser} // row 3
	case interactive && !autoMode && !hasChainedPrompts:
		return Scenario{Handler: HandlerInteractive, Input: InputSourceUser} // row 4
	case !interactive && autoMode && hasChainedPrompts:
		return Scenario{Handler: HandlerAutonomous, Input: InputSourceSystem} // row 5
	case !interactive && autoMode && !hasChainedPrompts:
		return Scenario{Handler: HandlerContinuous, Input: InputSourceSystem} // row 6
	case !interactive && !autoMode && hasChainedPrompts:
		return Scenario{Handler: HandlerInteractive, Input: InputSourceUser, Forced: true} // row 7
	default:
		return Scenario{Handler: HandlerInteractive, Input: InputSourceUser, Forced: true} // row 8
	}
}
