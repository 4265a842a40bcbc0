package engine

import (
	"testing"

	"github.com/codemachine-dev/codemachine/internal/bus"
	"github.com/codemachine-dev/codemachine/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogEmitter_EmitMessage_StripsANSIInPlainLogMode(t *testing.T) {
	b := bus.New()
	e := &logEmitter{b: b, PlainLog: true}

	e.EmitMessage(0, "\x1b[31mhello\x1b[0m", false)

	hist := b.History()
	require.Len(t, hist, 1)
	payload, ok := hist[0].Payload.(types.MessageLogPayload)
	require.True(t, ok)
	assert.Equal(t, "hello", payload.Message)
}

func TestLogEmitter_EmitMessage_KeepsANSIOutsidePlainLogMode(t *testing.T) {
	b := bus.New()
	e := &logEmitter{b: b}

	e.EmitMessage(0, "\x1b[31mhello\x1b[0m", false)

	hist := b.History()
	require.Len(t, hist, 1)
	payload, ok := hist[0].Payload.(types.MessageLogPayload)
	require.True(t, ok)
	assert.Equal(t, "\x1b[31mhello\x1b[0m", payload.Message)
}
