package directive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/codemachine-dev/codemachine/internal/bus"
	"github.com/codemachine-dev/codemachine/internal/cmerrors"
	"github.com/codemachine-dev/codemachine/internal/index"
	"github.com/codemachine-dev/codemachine/internal/types"
	"github.com/fsnotify/fsnotify"
)

// TriggerRunner runs a one-off agent in a separate session and waits
// for it to complete. An abort surfaces as
// ErrTriggerAborted; the outer flow continues regardless.
type TriggerRunner interface {
	RunTriggered(ctx context.Context, agentID, reason string) error
}

// CheckpointGate blocks until the user resolves an active checkpoint.
type CheckpointGate interface {
	// Wait blocks until checkpoint:continue or checkpoint:quit arrives,
	// returning true for continue and false for quit.
	Wait(ctx context.Context) (continue_ bool)
}

// Result is what the Workflow Runner does next after one directive
// evaluation.
type Result struct {
	Action Action

	// loop
	NewIndex int
	History  []types.ExecutionHistoryEntry
	Loop     *types.ActiveLoop
}

// Processor evaluates one directive.json against the running workflow
// state. Evaluation order is fixed: error → trigger → checkpoint →
// loop, always in that order.
type Processor struct {
	Bus       *bus.Bus
	Index     *index.Manager
	Trigger   TriggerRunner
	Checkpoint CheckpointGate
	WorkflowID string

	loopCycles map[int]int // sourceModuleIndex -> cycle count
}

// NewProcessor constructs a Processor.
func NewProcessor(b *bus.Bus, idx *index.Manager, trigger TriggerRunner, checkpoint CheckpointGate, workflowID string) *Processor {
	return &Processor{
		Bus:        b,
		Index:      idx,
		Trigger:    trigger,
		Checkpoint: checkpoint,
		WorkflowID: workflowID,
		loopCycles: make(map[int]int),
	}
}

// Evaluate runs the fixed error→trigger→checkpoint→loop evaluation
// order for one parsed directive. currentIndex is the module index that
// just finished executing.
func (p *Processor) Evaluate(ctx context.Context, d *Directive, currentIndex int) (Result, error) {
	switch d.Action {
	case ActionError:
		return p.evalError(d)
	case ActionTrigger:
		return p.evalTrigger(ctx, d)
	case ActionCheckpoint:
		return p.evalCheckpoint(ctx, d)
	case ActionLoop:
		return p.evalLoop(d, currentIndex)
	default:
		return Result{Action: ActionContinue}, nil
	}
}

func (p *Processor) evalError(d *Directive) (Result, error) {
	if p.Bus != nil {
		p.Bus.Publish(types.Event{
			Kind:       types.EventWorkflowError,
			WorkflowID: p.WorkflowID,
			Payload:    types.WorkflowErrorPayload{Reason: d.Reason},
		})
	}
	return Result{Action: ActionError}, cmerrors.DirectiveError(d.Reason)
}

func (p *Processor) evalTrigger(ctx context.Context, d *Directive) (Result, error) {
	if p.Trigger == nil {
		return Result{Action: ActionTrigger}, nil
	}
	if err := p.Trigger.RunTriggered(ctx, d.AgentID, d.Reason); err != nil {
		// An abort during a triggered agent marks it skipped and
		// continues the outer flow — never propagated upward.
		if ctx.Err() != nil || errors.Is(err, ErrTriggerAborted) {
			if p.Bus != nil {
				p.Bus.Publish(types.Event{
					Kind:       types.EventAgentStatus,
					WorkflowID: p.WorkflowID,
					AgentID:    d.AgentID,
					Payload:    types.AgentStatusPayload{Status: types.AgentStatusSkipped},
				})
			}
			return Result{Action: ActionTrigger}, nil
		}
		return Result{Action: ActionTrigger}, err
	}
	return Result{Action: ActionTrigger}, nil
}

func (p *Processor) evalCheckpoint(ctx context.Context, d *Directive) (Result, error) {
	if p.Bus != nil {
		p.Bus.Publish(types.Event{
			Kind:       types.EventCheckpointState,
			WorkflowID: p.WorkflowID,
			Payload:    types.CheckpointStatePayload{Active: true, Reason: d.Reason},
		})
	}

	if p.Checkpoint == nil {
		return Result{Action: ActionCheckpoint}, nil
	}

	if p.Checkpoint.Wait(ctx) {
		if p.Bus != nil {
			p.Bus.Publish(types.Event{Kind: types.EventCheckpointClear, WorkflowID: p.WorkflowID})
		}
		return Result{Action: ActionCheckpoint}, nil
	}

	return Result{Action: ActionCheckpoint}, cmerrors.CheckpointQuit(d.Reason)
}

func (p *Processor) evalLoop(d *Directive, currentIndex int) (Result, error) {
	newIndex := currentIndex - d.StepsBack
	if newIndex < 0 {
		newIndex = 0
	}

	cycle := p.loopCycles[newIndex] + 1
	if d.MaxIterations > 0 && cycle > d.MaxIterations {
		delete(p.loopCycles, newIndex)
		if p.Bus != nil {
			p.Bus.Publish(types.Event{Kind: types.EventLoopClear, WorkflowID: p.WorkflowID})
		}
		return Result{Action: ActionLoop, NewIndex: currentIndex + 1}, nil
	}
	p.loopCycles[newIndex] = cycle

	history := make([]types.ExecutionHistoryEntry, 0, currentIndex-newIndex+1)
	for i := newIndex; i <= currentIndex; i++ {
		history = append(history, types.ExecutionHistoryEntry{
			ModuleIndex: i,
			CycleNumber: cycle,
			Status:      types.AgentStatusCompleted,
		})
		if p.Index != nil {
			if err := p.Index.ResetStep(i); err != nil {
				return Result{}, fmt.Errorf("resetting step %d for loop: %w", i, err)
			}
		}
	}

	loop := &types.ActiveLoop{
		SourceModuleIndex: newIndex,
		CycleNumber:        cycle,
		MaxIterations:       d.MaxIterations,
		SkipList:            d.Skip,
	}

	if p.Bus != nil {
		p.Bus.Publish(types.Event{
			Kind:       types.EventLoopState,
			WorkflowID: p.WorkflowID,
			Payload: types.LoopStatePayload{
				SourceModuleIndex: loop.SourceModuleIndex,
				CycleNumber:       loop.CycleNumber,
				SkipList:          loop.SkipList,
			},
		})
	}

	return Result{Action: ActionLoop, NewIndex: newIndex, History: history, Loop: loop}, nil
}

// --- on-disk watch ---

// Watcher wakes callers when directive.json is written, via fsnotify
// with a polling fallback.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
}

// NewWatcher starts watching the directory containing path.
func NewWatcher(path string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating directive watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		w.Close()
		return nil, fmt.Errorf("creating directive directory: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching directive directory: %w", err)
	}
	return &Watcher{path: path, watcher: w}, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// Wait blocks until directive.json is created or written, ctx is
// cancelled, or the poll interval elapses (fallback for filesystems
// where fsnotify events are unreliable, e.g. some network mounts).
func (w *Watcher) Wait(ctx context.Context) error {
	poll := time.NewTicker(2 * time.Second)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-w.watcher.Errors:
			return fmt.Errorf("directive watcher error: %w", err)
		case ev := <-w.watcher.Events:
			if ev.Name == w.path && (ev.Op&(fsnotify.Write|fsnotify.Create) != 0) {
				return nil
			}
		case <-poll.C:
			if _, err := os.Stat(w.path); err == nil {
				return nil
			}
		}
	}
}

// ReadAndParse reads and parses the directive file at path. Returns
// ActionContinue if the file does not exist.
func ReadAndParse(path string) (*Directive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Directive{Action: ActionContinue}, nil
		}
		return nil, fmt.Errorf("reading directive file: %w", err)
	}
	return Parse(data)
}

// Remove deletes the directive file so the next step starts clean.
func Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
