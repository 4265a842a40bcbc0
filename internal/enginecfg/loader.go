package enginecfg

import (
	"log/slog"
	"path/filepath"

	"github.com/codemachine-dev/codemachine/internal/enginereg"
	"github.com/codemachine-dev/codemachine/internal/enginerunner"
)

// LoadInto registers every builtin engine, then any global engine.toml
// override under globalDir (~/.codemachine/engines/<id>/engine.toml),
// into reg. Builtins load first so "claude" stays the discovery-order
// default even when overrides are present; re-registering an id keeps
// its original position (enginereg.Registry.Register), so a global
// override for "claude" replaces its behavior without losing its
// default-engine status.
func LoadInto(reg *enginereg.Registry, globalDir string, logger *slog.Logger) error {
	for _, id := range BuiltinIDs() {
		desc, err := LoadBuiltin(id)
		if err != nil {
			return err
		}
		reg.Register(New(*desc, quirkFor(id, globalDir), logger))
	}

	ids, err := DiscoverGlobal(globalDir)
	if err != nil {
		return err
	}
	for _, id := range ids {
		desc, err := DecodeFile(filepath.Join(globalDir, id, "engine.toml"))
		if err != nil {
			return err
		}
		reg.Register(New(*desc, quirkFor(id, globalDir), logger))
	}
	return nil
}

// quirkFor resolves the one engine-specific strategy needed outside the
// generic streaming-JSON path.
func quirkFor(id, globalDir string) enginerunner.Quirk {
	if id == "mistral-vibe" {
		return &enginerunner.VibeSessionQuirk{VibeHome: filepath.Join(globalDir, "mistral-vibe", "home")}
	}
	return nil
}
