// Package cmerrors provides the structured error type used across the
// workflow engine.
package cmerrors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes for workflow-engine operations.
const (
	// Precondition errors
	CodePreconditionMissingSpec     = "PRE_001" // specification file not found
	CodePreconditionMissingTemplate = "PRE_002" // template not found

	// Engine errors
	CodeEngineNotInstalled    = "ENGINE_001" // ENOENT / command not found
	CodeEngineAuthRequired    = "ENGINE_002" // no authenticated engine in fallback walk
	CodeEngineRunError        = "ENGINE_003" // captured JSON error or non-zero exit
	CodeEngineTimeout         = "ENGINE_004" // invocation exceeded its deadline
	CodeEngineAbort           = "ENGINE_005" // invocation cancelled (not a failure)
	CodeEngineNotFound        = "ENGINE_006" // unknown engine id in registry
	CodeEngineAuthCheckFailed = "ENGINE_007" // auth check/login/logout subprocess errored

	// Index/persistence errors
	CodeIndexReadFailed    = "INDEX_001" // template.json unreadable/corrupt
	CodeIndexWriteFailed   = "INDEX_002" // atomic write failed
	CodeIndexLockContended = "INDEX_003" // another process holds the workflow lock

	// Directive errors
	CodeDirectiveParseError = "DIRECTIVE_001"
	CodeDirectiveError      = "DIRECTIVE_002" // agent-authored {action:"error"}

	// Checkpoint
	CodeCheckpointQuit = "CHECKPOINT_001"

	// Step executor / prompt resolution
	CodePromptFileNotFound = "STEP_001"

	// IO errors
	CodeIOReadError  = "IO_001"
	CodeIOWriteError = "IO_002"
)

// CodeMachineError is the structured error type for workflow-engine
// operations.
type CodeMachineError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *CodeMachineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *CodeMachineError) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a detail key/value pair and returns the receiver.
func (e *CodeMachineError) WithDetail(key string, value any) *CodeMachineError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// MarshalJSON serializes the cause as a plain string alongside the
// structured fields.
func (e *CodeMachineError) MarshalJSON() ([]byte, error) {
	type alias CodeMachineError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{alias: (*alias)(e)}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// New creates a CodeMachineError with a literal message.
func New(code, message string) *CodeMachineError {
	return &CodeMachineError{Code: code, Message: message}
}

// Newf creates a CodeMachineError with a formatted message.
func Newf(code, format string, args ...any) *CodeMachineError {
	return &CodeMachineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a CodeMachineError wrapping an existing error.
func Wrap(code, message string, err error) *CodeMachineError {
	return &CodeMachineError{Code: code, Message: message, Cause: err}
}

// Wrapf creates a CodeMachineError with a formatted message wrapping an
// existing error.
func Wrapf(code string, err error, format string, args ...any) *CodeMachineError {
	return &CodeMachineError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// --- constructors used by the engine subsystems ---

// MissingSpecification reports that the specification file required by
// runWorkflow's preconditions does not exist.
func MissingSpecification(path string) *CodeMachineError {
	return Newf(CodePreconditionMissingSpec, "specification file not found: %s", path).
		WithDetail("path", path)
}

// MissingTemplate reports that the workflow template does not exist.
func MissingTemplate(path string) *CodeMachineError {
	return Newf(CodePreconditionMissingTemplate, "workflow template not found: %s", path).
		WithDetail("path", path)
}

// EngineNotInstalled reports an ENOENT / command-not-found failure
// spawning an engine's CLI binary.
func EngineNotInstalled(engineID, cliBinary, installCommand string) *CodeMachineError {
	e := Newf(CodeEngineNotInstalled, "engine %q is not installed (binary %q not found)", engineID, cliBinary).
		WithDetail("engine", engineID).
		WithDetail("cliBinary", cliBinary)
	if installCommand != "" {
		e = e.WithDetail("installCommand", installCommand)
	}
	return e
}

// EngineAuthRequired reports that no engine in the fallback walk is
// authenticated.
func EngineAuthRequired(attempted []string) *CodeMachineError {
	return Newf(CodeEngineAuthRequired, "no authenticated engine found among: %v", attempted).
		WithDetail("attempted", attempted)
}

// EngineRunError reports a captured JSON error or an unexplained
// non-zero exit from an engine invocation.
func EngineRunError(engineID string, exitCode int, capturedErr string) *CodeMachineError {
	msg := capturedErr
	if msg == "" {
		msg = fmt.Sprintf("exited with code %d", exitCode)
	}
	return Newf(CodeEngineRunError, "engine %q run error: %s", engineID, msg).
		WithDetail("engine", engineID).
		WithDetail("exitCode", exitCode).
		WithDetail("capturedErr", capturedErr)
}

// EngineNotFound reports a lookup miss in the engine registry.
func EngineNotFound(engineID string) *CodeMachineError {
	return Newf(CodeEngineNotFound, "engine not registered: %s", engineID).
		WithDetail("engine", engineID)
}

// IndexReadFailed reports a corrupt/unreadable template.json; callers
// fall back to a fresh empty tracking record.
func IndexReadFailed(path string, err error) *CodeMachineError {
	return Wrap(CodeIndexReadFailed, "failed to read tracking file", err).
		WithDetail("path", path)
}

// IndexWriteFailed reports a failed atomic write of template.json.
func IndexWriteFailed(path string, err error) *CodeMachineError {
	return Wrap(CodeIndexWriteFailed, "failed to write tracking file", err).
		WithDetail("path", path)
}

// PromptFileNotFound reports a missing prompt file during step load.
func PromptFileNotFound(path string) *CodeMachineError {
	return Newf(CodePromptFileNotFound, "prompt file not found: %s", path).
		WithDetail("path", path)
}

// DirectiveError wraps an agent-authored {action:"error"} directive.
func DirectiveError(reason string) *CodeMachineError {
	return Newf(CodeDirectiveError, "workflow directive reported an error: %s", reason).
		WithDetail("reason", reason)
}

// CheckpointQuit reports a clean checkpoint-quit termination.
func CheckpointQuit(reason string) *CodeMachineError {
	return Newf(CodeCheckpointQuit, "checkpoint quit: %s", reason).
		WithDetail("reason", reason)
}

// HasCode reports whether err is (or wraps) a CodeMachineError with the
// given code.
func HasCode(err error, code string) bool {
	var cerr *CodeMachineError
	if errors.As(err, &cerr) {
		return cerr.Code == code
	}
	return false
}

// Code returns the error code if err is (or wraps) a CodeMachineError,
// or the empty string otherwise.
func Code(err error) string {
	var cerr *CodeMachineError
	if errors.As(err, &cerr) {
		return cerr.Code
	}
	return ""
}
