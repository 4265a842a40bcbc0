package enginereg

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect_DeclaredEngineAuthenticatedSkipsWalk(t *testing.T) {
	r := New()
	r.Register(&fakeEngine{id: "claude", auth: fakeAuth{authenticated: true}})
	r.Register(&fakeEngine{id: "vibe", auth: fakeAuth{authenticated: true}})
	cache := NewAuthCache(0)

	e, err := Select(context.Background(), r, cache, "claude", nil)
	require.NoError(t, err)
	assert.Equal(t, "claude", e.Metadata().ID)
}

func TestSelect_FallsBackAndLogsWhenDeclaredEngineUnauthenticated(t *testing.T) {
	// Scenario S6: the declared engine fails auth, a later engine in the
	// registry's discovery order authenticates instead, and the fallback
	// is logged exactly as the scenario specifies.
	r := New()
	r.Register(&fakeEngine{id: "claude", auth: fakeAuth{authenticated: false}})
	r.Register(&fakeEngine{id: "vibe", auth: fakeAuth{authenticated: true}})
	cache := NewAuthCache(0)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	e, err := Select(context.Background(), r, cache, "claude", logger)
	require.NoError(t, err)
	assert.Equal(t, "vibe", e.Metadata().ID)

	assert.Contains(t, buf.String(), "claude not authenticated. Fallback to vibe. Run /login to connect.")
}

func TestSelect_NoFallbackLogWhenDeclaredEngineAuthenticates(t *testing.T) {
	r := New()
	r.Register(&fakeEngine{id: "claude", auth: fakeAuth{authenticated: true}})
	cache := NewAuthCache(0)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	_, err := Select(context.Background(), r, cache, "claude", logger)
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestSelect_NilLoggerIsSafeOnFallback(t *testing.T) {
	r := New()
	r.Register(&fakeEngine{id: "claude", auth: fakeAuth{authenticated: false}})
	r.Register(&fakeEngine{id: "vibe", auth: fakeAuth{authenticated: true}})
	cache := NewAuthCache(0)

	e, err := Select(context.Background(), r, cache, "claude", nil)
	require.NoError(t, err)
	assert.Equal(t, "vibe", e.Metadata().ID)
}
