package enginerunner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/codemachine-dev/codemachine/internal/cmerrors"
	"github.com/codemachine-dev/codemachine/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFakeEngine(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine scripts are POSIX shell only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-engine.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	return path
}

func TestRunner_Run_HappyPathTelemetryAndSessionID(t *testing.T) {
	path := writeFakeEngine(t, `
echo '{"type":"system","subtype":"init"}'
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"working"}]}}'
echo '{"type":"result","session_id":"sess-1","usage":{"input_tokens":10,"output_tokens":5,"cache_read_input_tokens":0,"cache_creation_input_tokens":0}}'
exit 0
`)
	r := New(path, nil, nil)

	var telemetry types.ParsedTelemetry
	var sessionID string
	var messages []string
	opts := types.RunOptions{
		OnTelemetry: func(p types.ParsedTelemetry) { telemetry = p },
		OnSessionID: func(s string) { sessionID = s },
		OnMessage:   func(line string, thinking bool) { messages = append(messages, line) },
		Timeout:     5 * time.Second,
	}

	result, err := r.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "sess-1", sessionID)
	assert.Equal(t, 10, telemetry.TokensIn)
	assert.Contains(t, messages, "working")
}

func TestRunner_Run_CapturedErrorTakesPrecedenceOverZeroExit(t *testing.T) {
	path := writeFakeEngine(t, `
echo '{"type":"result","is_error":true,"result":"invalid model"}'
exit 0
`)
	r := New(path, nil, nil)
	_, err := r.Run(context.Background(), types.RunOptions{Timeout: 5 * time.Second})
	require.Error(t, err)
	assert.True(t, cmerrors.HasCode(err, cmerrors.CodeEngineRunError))
	assert.Contains(t, err.Error(), "invalid model")
}

func TestRunner_Run_NonZeroExitWithoutCapture(t *testing.T) {
	path := writeFakeEngine(t, `exit 3`)
	r := New(path, nil, nil)
	_, err := r.Run(context.Background(), types.RunOptions{Timeout: 5 * time.Second})
	require.Error(t, err)
	assert.True(t, cmerrors.HasCode(err, cmerrors.CodeEngineRunError))
}

func TestRunner_Run_EngineNotInstalled(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "does-not-exist"), nil, nil)
	_, err := r.Run(context.Background(), types.RunOptions{Timeout: 5 * time.Second})
	require.Error(t, err)
	assert.True(t, cmerrors.HasCode(err, cmerrors.CodeEngineNotInstalled))
}

func TestRunner_Run_AbortSurfacesAsNamedError(t *testing.T) {
	path := writeFakeEngine(t, `sleep 5; exit 0`)
	r := New(path, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var runErr error
	go func() {
		_, runErr = r.Run(ctx, types.RunOptions{Timeout: 30 * time.Second})
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("abort did not terminate the run in time")
	}
	assert.ErrorIs(t, runErr, ErrAborted)
}
