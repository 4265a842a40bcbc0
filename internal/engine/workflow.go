package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/codemachine-dev/codemachine/internal/bus"
	"github.com/codemachine-dev/codemachine/internal/cmerrors"
	"github.com/codemachine-dev/codemachine/internal/config"
	"github.com/codemachine-dev/codemachine/internal/directive"
	"github.com/codemachine-dev/codemachine/internal/enginecfg"
	"github.com/codemachine-dev/codemachine/internal/enginereg"
	"github.com/codemachine-dev/codemachine/internal/enginerunner"
	"github.com/codemachine-dev/codemachine/internal/index"
	"github.com/codemachine-dev/codemachine/internal/runner"
	"github.com/codemachine-dev/codemachine/internal/signalmgr"
	"github.com/codemachine-dev/codemachine/internal/stepexec"
	"github.com/codemachine-dev/codemachine/internal/types"
)

// Options parametrizes one workflow run, matching the programmatic
// entry point named in : runWorkflow({cwd?, templatePath?,
// specificationPath?}).
type Options struct {
	// Cwd is the workspace root; defaults to os.Getwd().
	Cwd string

	// TemplatePath is the workflow template file; defaults to
	// <cwd>/.codemachine/template.source.json.
	TemplatePath string

	// SpecificationPath is checked for existence as a precondition;
	// defaults to <cwd>/spec.md. Pass "" explicitly via SkipSpecCheck to
	// bypass (e.g. programmatic tests).
	SpecificationPath string
	SkipSpecCheck     bool

	SelectedTrack      string
	SelectedConditions []string

	AutoMode bool

	Logger *slog.Logger

	// Stdin/Stdout drive the default console UserInputProvider.
	Stdin  io.Reader
	Stdout io.Writer
}

// Handle bundles the constructed subsystems for callers that want to
// subscribe to the event bus or inspect the FSM mid-run (e.g. the CLI's
// status/resume commands). Build returns one after wiring, without
// starting the run.
type Handle struct {
	Bus     *bus.Bus
	Index   *index.Manager
	Signals *signalmgr.Manager
	Runner  *runner.Runner
	Config  *config.Config

	// Checkpoint resolves an active checkpoint directive: the host
	// process-event bus's checkpoint:continue/checkpoint:quit signals
	// (§6) are expected to call Checkpoint.Continue()/Checkpoint.Quit().
	Checkpoint *directive.CheckpointChannel
}

// consoleInput reads one line from stdin for workflows driven from a
// terminal. An empty line means "advance"; a non-empty line resumes the
// step with that text.
type consoleInput struct {
	r *bufio.Reader
}

func (c *consoleInput) ReadUserInput(ctx context.Context, moduleIndex int) (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line, nil
}

// identityResolver performs no placeholder substitution. Real
// placeholder resolution is an external collaborator; wiring one
// in means implementing stepexec.Resolver and passing it via a future
// Options field.
type identityResolver struct{}

func (identityResolver) Resolve(_ context.Context, _ string, prompt string) (string, error) {
	return prompt, nil
}

// jsonChainLoader loads a chained-prompts file as a JSON array of
// types.ChainedPrompt, mirroring LoadTemplate's minimal-format stance.
type jsonChainLoader struct{}

func (jsonChainLoader) Load(path string) ([]types.ChainedPrompt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var prompts []types.ChainedPrompt
	if err := json.Unmarshal(data, &prompts); err != nil {
		return nil, err
	}
	return prompts, nil
}

// logEmitter forwards Step Executor callbacks onto the event bus so UI
// events are published as the engine streams.
type logEmitter struct {
	b *bus.Bus

	// PlainLog strips ANSI escape sequences from streamed message lines
	// before publishing, for config.LogFormatText (plain-log mode)
	// where the consumer is a terminal-unaware log sink.
	PlainLog bool
}

func (e *logEmitter) publish(kind types.EventKind, moduleIndex int, payload any) {
	if e.b == nil {
		return
	}
	e.b.Publish(types.Event{Kind: kind, ModuleIndex: moduleIndex, Payload: payload})
}

func (e *logEmitter) EmitMessage(moduleIndex int, line string, thinking bool) {
	level := "info"
	if thinking {
		level = "thinking"
	}
	if e.PlainLog {
		line = enginerunner.StripANSI(line)
	}
	e.publish(types.EventMessageLog, moduleIndex, types.MessageLogPayload{Level: level, Message: line})
}

func (e *logEmitter) EmitToolStart(moduleIndex int, id, name string) {
	e.publish(types.EventMessageLog, moduleIndex, types.MessageLogPayload{Level: "info", Message: fmt.Sprintf("command started: %s", name)})
}

func (e *logEmitter) EmitToolResult(moduleIndex int, name, preview string, isError bool) {
	level := "info"
	status := "command success"
	if isError {
		level = "error"
		status = "command error"
	}
	e.publish(types.EventMessageLog, moduleIndex, types.MessageLogPayload{Level: level, Message: fmt.Sprintf("%s: %s: %s", status, name, preview)})
}

func (e *logEmitter) EmitTelemetry(moduleIndex int, t types.ParsedTelemetry) {
	e.publish(types.EventAgentTelemetry, moduleIndex, types.AgentTelemetryPayload{Telemetry: t})
}

func (e *logEmitter) EmitMonitoringID(moduleIndex int, monitoringID string) {
	e.publish(types.EventMonitoringRegister, moduleIndex, types.MonitoringRegisterPayload{MonitoringID: monitoringID})
}

// Build wires the eight subsystems together without starting the run,
// so callers (the CLI, tests) can subscribe to the bus first.
func Build(opts Options) (*Handle, *types.Template, error) {
	cwd := opts.Cwd
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, nil, err
		}
		cwd = wd
	}

	if !opts.SkipSpecCheck {
		specPath := opts.SpecificationPath
		if specPath == "" {
			specPath = filepath.Join(cwd, "spec.md")
		}
		if _, err := os.Stat(specPath); err != nil {
			return nil, nil, cmerrors.MissingSpecification(specPath)
		}
	}

	cfg, err := config.LoadFromDir(cwd)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	templatePath := opts.TemplatePath
	if templatePath == "" {
		templatePath = filepath.Join(cfg.StateDir(cwd), "template.source.json")
	}
	tmpl, err := LoadTemplate(templatePath)
	if err != nil {
		return nil, nil, err
	}

	b := bus.New()

	idx, err := index.NewManager(cfg.TemplateTrackingPath(cwd))
	if err != nil {
		return nil, nil, err
	}

	reg := enginereg.New()
	if err := enginecfg.LoadInto(reg, filepath.Join(homeDir(), ".codemachine", "engines"), logger); err != nil {
		return nil, nil, err
	}
	authCache := enginereg.NewAuthCache(cfg.AuthCache.TTL)

	executor := stepexec.New(reg, authCache, identityResolver{}, jsonChainLoader{}, &logEmitter{b: b, PlainLog: cfg.Logging.Format == config.LogFormatText})
	executor.Logger = logger

	signals := signalmgr.New(logger, signalModeFromAuto(opts.AutoMode))

	selectedConditions := make(map[string]bool, len(opts.SelectedConditions))
	for _, c := range opts.SelectedConditions {
		selectedConditions[c] = true
	}

	directivePath := cfg.DirectivePath(cwd)

	triggerBase := stepexec.RuntimeContext{
		WorkDir:            cwd,
		Env:                os.Environ(),
		SelectedTrack:      opts.SelectedTrack,
		SelectedConditions: selectedConditions,
	}
	trigger := directive.NewStepTrigger(executor, tmpl, b, triggerBase)
	checkpoint := directive.NewCheckpointChannel()
	processor := directive.NewProcessor(b, idx, trigger, checkpoint, "")

	run := runner.New(runner.Options{
		Bus:                b,
		Index:              idx,
		Executor:           executor,
		Directives:         processor,
		Logger:             logger,
		Template:           tmpl,
		SelectedTrack:      opts.SelectedTrack,
		SelectedConditions: selectedConditions,
		User:               consoleInputProvider(opts),
		AutoMode:           opts.AutoMode,
		Signals:            signals,
		Paused:             signals.Paused,
		WorkDir:            cwd,
		Env:                os.Environ(),
		DirectivePath:      directivePath,
	})

	return &Handle{Bus: b, Index: idx, Signals: signals, Runner: run, Config: cfg, Checkpoint: checkpoint}, tmpl, nil
}

func consoleInputProvider(opts Options) *consoleInput {
	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	return &consoleInput{r: bufio.NewReader(stdin)}
}

func signalModeFromAuto(auto bool) signalmgr.Mode {
	if auto {
		return signalmgr.ModeAutonomous
	}
	return signalmgr.ModeManual
}

func homeDir() string {
	h, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return h
}

// RunWorkflow is the programmatic entry point. It wires the subsystems
// via Build, installs two-stage-Ctrl-C signal handling and a
// before-exit cleanup hook, recovers any in-flight step from a prior
// crash, and drives the FSM to a terminal state.
func RunWorkflow(ctx context.Context, opts Options) error {
	h, _, err := Build(opts)
	if err != nil {
		return err
	}

	h.Signals.SetBeforeCleanup(func() {
		// StepData is already persisted synchronously by every
		// StepSessionInitialized/StepCompleted call; this hook
		// exists for callers that add further last-moment bookkeeping.
		h.Runner.Logger().Info("cleanup: persisting last known session state before exit")
	})
	h.Signals.SetExitFunc(func() { os.Exit(130) })

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			h.Signals.Stop()
		}
	}()

	if err := h.Runner.Recover(); err != nil {
		return err
	}
	return h.Runner.Run(ctx)
}
