package enginereg

import (
	"context"
	"log/slog"

	"github.com/codemachine-dev/codemachine/internal/cmerrors"
	"github.com/codemachine-dev/codemachine/internal/types"
)

// Select implements the engine selection policy shared by the Step
// Executor and the Workflow Runner: if
// declaredEngine is set, try it first; on auth failure (or any engine
// lookup miss), walk the registry's discovery order for the first
// authenticated engine; if none authenticate, fall back to the
// registry default, which may still fail at invocation. logger may be
// nil; when declaredEngine fails auth and a later engine in the walk is
// selected instead, the fallback is logged exactly as scenario S6
// specifies: "X not authenticated. Fallback to Y. Run /login to
// connect."
func Select(ctx context.Context, reg *Registry, cache *AuthCache, declaredEngine string, logger *slog.Logger) (types.Engine, error) {
	var attempted []string

	tryEngine := func(id string) (types.Engine, bool) {
		e, err := reg.Get(id)
		if err != nil {
			return nil, false
		}
		attempted = append(attempted, id)
		ok, err := cache.IsAuthenticated(ctx, id, e.Auth().IsAuthenticated)
		if err != nil || !ok {
			return nil, false
		}
		return e, true
	}

	declaredFailed := false
	if declaredEngine != "" {
		if e, ok := tryEngine(declaredEngine); ok {
			return e, nil
		}
		declaredFailed = true
	}

	for _, id := range reg.Order() {
		if id == declaredEngine {
			continue // already tried above
		}
		if e, ok := tryEngine(id); ok {
			if declaredFailed && logger != nil {
				logger.Info("engine auth fallback",
					"message", declaredEngine+" not authenticated. Fallback to "+id+". Run /login to connect.")
			}
			return e, nil
		}
	}

	def, err := reg.Default()
	if err != nil {
		return nil, cmerrors.EngineAuthRequired(attempted)
	}
	return def, nil
}
