package enginecfg

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/codemachine-dev/codemachine/internal/cmerrors"
	"github.com/codemachine-dev/codemachine/internal/enginerunner"
	"github.com/codemachine-dev/codemachine/internal/types"
)

// DescriptorEngine adapts one Descriptor into a runnable types.Engine,
// dispatching Run to an enginerunner.Runner built fresh per-invocation
// (its Args depend on opts.Model/opts.SessionID) and Auth to the
// descriptor's check/login/logout subprocess commands.
type DescriptorEngine struct {
	desc   Descriptor
	quirk  enginerunner.Quirk
	logger *slog.Logger
}

// New wraps a validated Descriptor. quirk may be nil; pass a
// enginerunner.Quirk for engines needing out-of-band session recovery.
func New(desc Descriptor, quirk enginerunner.Quirk, logger *slog.Logger) *DescriptorEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &DescriptorEngine{desc: desc, quirk: quirk, logger: logger}
}

// Metadata implements types.Engine.
func (e *DescriptorEngine) Metadata() types.EngineMetadata {
	return types.EngineMetadata{
		ID:             e.desc.Engine.ID,
		Name:           e.desc.Engine.Name,
		CLIBinary:      e.desc.Spawn.CLIBinary,
		InstallCommand: e.desc.Spawn.InstallCommand,
		DefaultModel:   e.desc.Engine.DefaultModel,
	}
}

// Auth implements types.Engine.
func (e *DescriptorEngine) Auth() types.AuthChecker { return e }

func substitute(args []string, model, sessionID string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		a = strings.ReplaceAll(a, "{model}", model)
		a = strings.ReplaceAll(a, "{sessionId}", sessionID)
		out[i] = a
	}
	return out
}

func (e *DescriptorEngine) buildArgs(opts types.RunOptions) []string {
	args := substitute(e.desc.Spawn.Args, opts.Model, opts.SessionID)
	if opts.SessionID != "" && len(e.desc.Spawn.ResumeArgs) > 0 {
		args = append(args, substitute(e.desc.Spawn.ResumeArgs, opts.Model, opts.SessionID)...)
	}
	return args
}

// Run implements types.Engine by delegating to a freshly configured
// enginerunner.Runner.
func (e *DescriptorEngine) Run(ctx context.Context, opts types.RunOptions) (*types.RunResult, error) {
	runner := enginerunner.New(e.desc.Spawn.CLIBinary, e.buildArgs(opts), e.logger)
	runner.Quirk = e.quirk
	return runner.Run(ctx, opts)
}

// IsAuthenticated runs the descriptor's check_command and treats a zero
// exit code as authenticated.
func (e *DescriptorEngine) IsAuthenticated(ctx context.Context) (bool, error) {
	auth := e.desc.Auth
	if auth.CheckCommand == "" {
		// No check configured: assume authenticated so engines that
		// need no login (e.g. a local model server) are always usable.
		return true, nil
	}
	runCtx, cancel := context.WithTimeout(ctx, auth.AuthTimeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, auth.CheckCommand, auth.CheckArgs...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, cmerrors.Wrapf(cmerrors.CodeEngineAuthCheckFailed, err,
		"checking auth for engine %s: %s", e.desc.Engine.ID, stderr.String())
}

// EnsureAuth runs the descriptor's login_command, if configured.
func (e *DescriptorEngine) EnsureAuth(ctx context.Context) error {
	auth := e.desc.Auth
	if auth.LoginCommand == "" {
		return nil
	}
	runCtx, cancel := context.WithTimeout(ctx, auth.AuthTimeout())
	defer cancel()
	cmd := exec.CommandContext(runCtx, auth.LoginCommand, auth.LoginArgs...)
	if err := cmd.Run(); err != nil {
		return cmerrors.Wrapf(cmerrors.CodeEngineAuthCheckFailed, err,
			"running login command for engine %s", e.desc.Engine.ID)
	}
	return nil
}

// ClearAuth runs the descriptor's logout_command, if configured.
func (e *DescriptorEngine) ClearAuth(ctx context.Context) error {
	auth := e.desc.Auth
	if auth.LogoutCommand == "" {
		return nil
	}
	runCtx, cancel := context.WithTimeout(ctx, auth.AuthTimeout())
	defer cancel()
	cmd := exec.CommandContext(runCtx, auth.LogoutCommand, auth.LogoutArgs...)
	return cmd.Run()
}
