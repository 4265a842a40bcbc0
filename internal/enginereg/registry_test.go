package enginereg

import (
	"context"
	"testing"

	"github.com/codemachine-dev/codemachine/internal/cmerrors"
	"github.com/codemachine-dev/codemachine/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	id   string
	auth fakeAuth
}

func (f *fakeEngine) Metadata() types.EngineMetadata { return types.EngineMetadata{ID: f.id, Name: f.id} }
func (f *fakeEngine) Auth() types.AuthChecker        { return &f.auth }
func (f *fakeEngine) Run(ctx context.Context, opts types.RunOptions) (*types.RunResult, error) {
	return &types.RunResult{}, nil
}

type fakeAuth struct {
	authenticated bool
	checks        int
}

func (a *fakeAuth) IsAuthenticated(ctx context.Context) (bool, error) {
	a.checks++
	return a.authenticated, nil
}
func (a *fakeAuth) EnsureAuth(ctx context.Context) error { return nil }
func (a *fakeAuth) ClearAuth(ctx context.Context) error  { return nil }

func TestRegistry_FirstRegisteredIsDefault(t *testing.T) {
	r := New()
	r.Register(&fakeEngine{id: "claude"})
	r.Register(&fakeEngine{id: "vibe"})

	def, err := r.Default()
	require.NoError(t, err)
	assert.Equal(t, "claude", def.Metadata().ID)
	assert.Equal(t, []string{"claude", "vibe"}, r.Order())
}

func TestRegistry_ReRegisterKeepsPosition(t *testing.T) {
	r := New()
	r.Register(&fakeEngine{id: "claude"})
	r.Register(&fakeEngine{id: "vibe"})
	r.Register(&fakeEngine{id: "claude"}) // replace, same slot

	assert.Equal(t, []string{"claude", "vibe"}, r.Order())
}

func TestRegistry_GetMissing(t *testing.T) {
	r := New()
	_, err := r.Get("nope")
	require.Error(t, err)
	assert.True(t, cmerrors.HasCode(err, cmerrors.CodeEngineNotFound))
}

func TestAuthCache_CachesWithinTTL(t *testing.T) {
	auth := &fakeAuth{authenticated: true}
	cache := NewAuthCache(0)

	ok, err := cache.IsAuthenticated(context.Background(), "claude", auth.IsAuthenticated)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.IsAuthenticated(context.Background(), "claude", auth.IsAuthenticated)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, auth.checks, "second call within TTL must hit the cache, not re-check")
}

func TestAuthCache_InvalidateForcesRecheck(t *testing.T) {
	auth := &fakeAuth{authenticated: false}
	cache := NewAuthCache(0)

	_, _ = cache.IsAuthenticated(context.Background(), "claude", auth.IsAuthenticated)
	cache.Invalidate("claude")
	auth.authenticated = true
	ok, err := cache.IsAuthenticated(context.Background(), "claude", auth.IsAuthenticated)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, auth.checks)
}
