// Package enginerunner implements the Engine Runner: spawns an
// agent engine's CLI as a child process, normalizes and classifies its
// streaming-JSON stdout, and extracts telemetry and session ids.
package enginerunner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/codemachine-dev/codemachine/internal/cmerrors"
	"github.com/codemachine-dev/codemachine/internal/types"
	"golang.org/x/sync/errgroup"
)

// killGrace is how long a cancelled subprocess gets between SIGTERM and
// SIGKILL.
const killGrace = 2 * time.Second

// ErrAborted is returned when a run is cancelled via context rather
// than failing on its own. The Runner distinguishes this from I/O
// errors so callers can treat it as a named abort, not a failure.
var ErrAborted = errors.New("engine invocation aborted")

// Quirk captures engine-specific deviations from the generic streaming
// protocol. The only one needed today is Mistral Vibe's session-id
// recovery via log-file scan; everything else goes through the
// generic path.
type Quirk interface {
	// RecoverSessionID is called after the process exits if no
	// session id was observed inline. Returning "" means "no
	// recovery available".
	RecoverSessionID(startTime time.Time) (string, error)
}

// Runner spawns one engine CLI invocation and streams its output.
type Runner struct {
	CLIBinary string
	Args      []string
	Logger    *slog.Logger
	Quirk     Quirk
}

// New constructs a Runner for the given CLI binary and fixed arguments.
func New(cliBinary string, args []string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{CLIBinary: cliBinary, Args: args, Logger: logger}
}

// Run spawns the process and blocks until it exits, is aborted via ctx,
// or exceeds opts.Timeout.
func (r *Runner) Run(ctx context.Context, opts types.RunOptions) (*types.RunResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	startTime := time.Now()

	cmd := exec.CommandContext(runCtx, r.CLIBinary, r.Args...)
	cmd.Dir = opts.WorkDir
	cmd.Env = opts.Env
	// Cancellation sends SIGTERM first; if the process has not exited
	// within killGrace, exec.Cmd's WaitDelay escalates to SIGKILL.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	if opts.Prompt != "" {
		cmd.Stdin = strings.NewReader(opts.Prompt)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, syscall.ENOENT) {
			return nil, cmerrors.EngineNotInstalled("", r.CLIBinary, "")
		}
		return nil, fmt.Errorf("starting engine process: %w", err)
	}

	var mu sync.Mutex
	toolNames := make(map[string]string)
	var capturedErr string
	var sawSessionID string

	recordCapturedErr := func(v string) {
		mu.Lock()
		defer mu.Unlock()
		if capturedErr == "" {
			capturedErr = v
		}
	}
	recordSessionID := func(v string) {
		mu.Lock()
		defer mu.Unlock()
		if sawSessionID == "" && v != "" {
			sawSessionID = v
			if opts.OnSessionID != nil {
				opts.OnSessionID(v)
			}
		}
	}

	group, _ := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return r.readStream(stdout, toolNames, &opts, recordCapturedErr, recordSessionID)
	})
	group.Go(func() error {
		return r.readStderr(stderr)
	})

	streamErr := group.Wait()
	waitErr := cmd.Wait()

	result := &types.RunResult{SessionID: sawSessionID, CapturedErr: capturedErr}

	if runCtx.Err() != nil {
		result.Aborted = true
		return result, ErrAborted
	}

	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if result.SessionID == "" && r.Quirk != nil {
		if recovered, qerr := r.Quirk.RecoverSessionID(startTime); qerr == nil && recovered != "" {
			result.SessionID = recovered
			if opts.OnSessionID != nil {
				opts.OnSessionID(recovered)
			}
		}
	}

	// Captured error takes precedence over exit code (Exit
	// handling: "may exit with code 0 yet have emitted an error").
	if result.CapturedErr != "" {
		return result, cmerrors.EngineRunError("", result.ExitCode, result.CapturedErr)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return result, cmerrors.EngineRunError("", result.ExitCode, "")
		}
		if errors.Is(waitErr, exec.ErrNotFound) {
			return result, cmerrors.EngineNotInstalled("", r.CLIBinary, "")
		}
		return result, fmt.Errorf("engine process wait: %w", waitErr)
	}
	if streamErr != nil {
		return result, fmt.Errorf("reading engine output: %w", streamErr)
	}

	return result, nil
}

func (r *Runner) readStream(stdout io.Reader, toolNames map[string]string, opts *types.RunOptions, recordCapturedErr, recordSessionID func(string)) error {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := NormalizeLine(scanner.Text())
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		res, err := classifyLine(line, toolNames)
		if err != nil {
			// Non-JSON lines on stdout are tolerated as raw log
			// output rather than treated as a fatal parse error.
			if opts.OnMessage != nil {
				opts.OnMessage(line, false)
			}
			continue
		}

		if res.sessionID != "" {
			recordSessionID(res.sessionID)
		}
		if res.capturedErr != "" {
			recordCapturedErr(res.capturedErr)
		}
		if res.telemetry != nil && opts.OnTelemetry != nil {
			opts.OnTelemetry(*res.telemetry)
		}
		if res.statusMarker != "" && opts.OnStatus != nil {
			opts.OnStatus(res.statusMarker)
		}
		for _, m := range res.messages {
			if opts.OnMessage != nil {
				opts.OnMessage(m.text, m.thinking)
			}
		}
		for _, ts := range res.toolStarts {
			if opts.OnToolStart != nil {
				opts.OnToolStart(ts.id, ts.name)
			}
		}
		for _, tr := range res.toolResults {
			if opts.OnToolResult != nil {
				opts.OnToolResult(tr.name, tr.preview, tr.isError)
			}
		}
	}
	return scanner.Err()
}

func (r *Runner) readStderr(stderr io.Reader) error {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(NormalizeLine(scanner.Text()))
		if line != "" {
			r.Logger.Debug("engine stderr", "line", line)
		}
	}
	return scanner.Err()
}
