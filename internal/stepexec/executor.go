// Package stepexec implements prompt resolution, engine selection, and
// single-invocation dispatch for one module step.
//
// Placeholder substitution in prompt text is an injected Resolver
// interface rather than inlined regexp logic, so prompt-template
// rendering stays a swappable external concern.
package stepexec

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/codemachine-dev/codemachine/internal/cmerrors"
	"github.com/codemachine-dev/codemachine/internal/enginereg"
	"github.com/codemachine-dev/codemachine/internal/types"
)

// Resolver substitutes placeholders in a concatenated prompt against a
// cwd-scoped resolution table. It is an external collaborator;
// stepexec never interprets placeholder syntax itself.
type Resolver interface {
	Resolve(ctx context.Context, cwd string, prompt string) (string, error)
}

// ChainedPromptLoader loads and parses a chained-prompts file into raw
// ChainedPrompt entries, unfiltered by track/condition.
type ChainedPromptLoader interface {
	Load(path string) ([]types.ChainedPrompt, error)
}

// Emitter publishes UI-facing events as the engine streams.
type Emitter interface {
	EmitMessage(moduleIndex int, line string, thinking bool)
	EmitToolStart(moduleIndex int, id, name string)
	EmitToolResult(moduleIndex int, name, preview string, isError bool)
	EmitTelemetry(moduleIndex int, t types.ParsedTelemetry)
	EmitMonitoringID(moduleIndex int, monitoringID string)
}

// RuntimeContext carries the per-invocation context threaded through
// every step handler.
type RuntimeContext struct {
	WorkDir            string
	Env                []string
	SelectedTrack      string
	SelectedConditions map[string]bool
	SessionID          string // non-empty to resume a prior session
	Timeout            int64  // nanoseconds; 0 means the runner default
}

// Output is the result of one step invocation.
type Output struct {
	RunResult      *types.RunResult
	ChainedPrompts []types.ChainedPrompt // survivors after track/condition filtering
}

// Executor dispatches one module step to a selected engine.
type Executor struct {
	Registry  *enginereg.Registry
	AuthCache *enginereg.AuthCache
	Resolver  Resolver
	ChainLoad ChainedPromptLoader
	Emitter   Emitter

	// Logger, if set, receives the engine-selection fallback message
	// (scenario S6) when a step's declared engine fails auth and
	// selection falls back to a later engine in the registry's order.
	Logger *slog.Logger
}

// New constructs an Executor.
func New(reg *enginereg.Registry, cache *enginereg.AuthCache, resolver Resolver, loader ChainedPromptLoader, emitter Emitter) *Executor {
	return &Executor{Registry: reg, AuthCache: cache, Resolver: resolver, ChainLoad: loader, Emitter: emitter}
}

// loadPrompt concatenates the step's prompt files with a blank-line
// separator and runs placeholder substitution.
func (e *Executor) loadPrompt(ctx context.Context, step *types.Step, rc RuntimeContext) (string, error) {
	var parts []string
	for _, path := range step.PromptFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", cmerrors.PromptFileNotFound(path)
		}
		parts = append(parts, strings.TrimRight(string(data), "\n"))
	}
	prompt := strings.Join(parts, "\n\n")

	if e.Resolver != nil {
		resolved, err := e.Resolver.Resolve(ctx, rc.WorkDir, prompt)
		if err != nil {
			return "", fmt.Errorf("resolving prompt placeholders: %w", err)
		}
		prompt = resolved
	}
	return prompt, nil
}

// loadChainedPrompts loads and filters the step's chained-prompts file
// by the selected track and conditions.
// Returns an empty slice (not nil, not an error) when the step declares
// no chained-prompts file: absence means single-turn, not failure.
func (e *Executor) loadChainedPrompts(step *types.Step, rc RuntimeContext) ([]types.ChainedPrompt, error) {
	if step.ChainedPromptsFile == "" || e.ChainLoad == nil {
		return []types.ChainedPrompt{}, nil
	}
	all, err := e.ChainLoad.Load(step.ChainedPromptsFile)
	if err != nil {
		return nil, cmerrors.PromptFileNotFound(step.ChainedPromptsFile)
	}
	survivors := make([]types.ChainedPrompt, 0, len(all))
	for _, p := range all {
		if p.Matches(rc.SelectedTrack, rc.SelectedConditions) {
			survivors = append(survivors, p)
		}
	}
	return survivors, nil
}

// EffectiveModel resolves step.Model, falling back to the selected
// engine's default model.
func EffectiveModel(step *types.Step, engineMeta types.EngineMetadata) string {
	if step.Model != "" {
		return step.Model
	}
	return engineMeta.DefaultModel
}

// Run loads the prompt, selects an engine, invokes it, and (on success)
// loads the step's chained prompts.
func (e *Executor) Run(ctx context.Context, step *types.Step, rc RuntimeContext) (*Output, error) {
	engine, err := enginereg.Select(ctx, e.Registry, e.AuthCache, step.Engine, e.Logger)
	if err != nil {
		return nil, err
	}

	prompt, err := e.loadPrompt(ctx, step, rc)
	if err != nil {
		return nil, err
	}

	model := EffectiveModel(step, engine.Metadata())

	opts := types.RunOptions{
		WorkDir:   rc.WorkDir,
		Env:       rc.Env,
		Prompt:    prompt,
		Model:     model,
		SessionID: rc.SessionID,
		Timeout:   time.Duration(rc.Timeout),
	}
	if e.Emitter != nil {
		idx := step.ModuleIndex
		opts.OnMessage = func(line string, thinking bool) { e.Emitter.EmitMessage(idx, line, thinking) }
		opts.OnToolStart = func(id, name string) { e.Emitter.EmitToolStart(idx, id, name) }
		opts.OnToolResult = func(name, preview string, isErr bool) { e.Emitter.EmitToolResult(idx, name, preview, isErr) }
		opts.OnTelemetry = func(t types.ParsedTelemetry) { e.Emitter.EmitTelemetry(idx, t) }
		opts.OnSessionID = func(sessionID string) { e.Emitter.EmitMonitoringID(idx, sessionID) }
	}

	result, runErr := engine.Run(ctx, opts)
	if runErr != nil {
		return &Output{RunResult: result}, runErr
	}

	chained, err := e.loadChainedPrompts(step, rc)
	if err != nil {
		return &Output{RunResult: result}, err
	}

	return &Output{RunResult: result, ChainedPrompts: chained}, nil
}
