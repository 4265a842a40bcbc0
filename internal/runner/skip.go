package runner

import "github.com/codemachine-dev/codemachine/internal/types"

// SkipReason names which rule of the skip predicate fired, or
// empty if the step should run.
type SkipReason string

const (
	SkipReasonNone           SkipReason = ""
	SkipReasonTrackMismatch  SkipReason = "track mismatch"
	SkipReasonConditionMissing SkipReason = "condition missing"
	SkipReasonExecuteOnce    SkipReason = "execute-once already completed"
	SkipReasonLoopSkipList   SkipReason = "loop skip list"
)

// ShouldSkip evaluates the five-rule skip predicate, in order, for one
// module step. Separators are never executed and always "skip" with no
// reason needed by callers (checked first, short-circuiting the rest).
func ShouldSkip(step *types.Step, selectedTrack string, selectedConditions map[string]bool, alreadyCompleted bool, loop *types.ActiveLoop) (bool, SkipReason) {
	if step.IsSeparator() {
		return true, SkipReasonNone
	}

	if len(step.Tracks) > 0 {
		found := false
		for _, tr := range step.Tracks {
			if tr == selectedTrack {
				found = true
				break
			}
		}
		if !found {
			return true, SkipReasonTrackMismatch
		}
	}

	for _, cond := range step.Conditions {
		if !selectedConditions[cond] {
			return true, SkipReasonConditionMissing
		}
	}

	if step.ExecuteOnce && alreadyCompleted {
		return true, SkipReasonExecuteOnce
	}

	if loop.ShouldSkip(step.AgentID) {
		return true, SkipReasonLoopSkipList
	}

	return false, SkipReasonNone
}
