// Package enginecfg loads on-disk engine descriptors (engine.toml)
// into runnable types.Engine instances. Resolution collapses the usual
// project/global/builtin precedence to global/builtin only: agent
// engines are host-level installs, not per-project configuration.
package enginecfg

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Descriptor is the decoded shape of one engine.toml file.
type Descriptor struct {
	Engine      EngineMeta        `toml:"engine"`
	Spawn       SpawnConfig       `toml:"spawn"`
	Auth        AuthConfig        `toml:"auth"`
	Environment map[string]string `toml:"environment"`
}

// EngineMeta identifies the engine.
type EngineMeta struct {
	ID           string `toml:"id"`
	Name         string `toml:"name"`
	Description  string `toml:"description"`
	DefaultModel string `toml:"default_model"`
}

// SpawnConfig describes how to invoke the engine's CLI for one
// streaming-JSON run.
type SpawnConfig struct {
	CLIBinary     string   `toml:"cli_binary"`
	Args          []string `toml:"args"`
	ResumeArgs    []string `toml:"resume_args"` // appended when RunOptions.SessionID is set
	InstallCommand string  `toml:"install_command"`
}

// AuthConfig describes how to check and establish authentication
// without spawning a full streaming-JSON run.
type AuthConfig struct {
	CheckCommand string   `toml:"check_command"`
	CheckArgs    []string `toml:"check_args"`
	LoginCommand string   `toml:"login_command"`
	LoginArgs    []string `toml:"login_args"`
	LogoutCommand string  `toml:"logout_command"`
	LogoutArgs   []string `toml:"logout_args"`
	// Timeout bounds each auth subprocess; zero means 30s.
	Timeout Duration `toml:"timeout"`
}

// Duration wraps time.Duration for TOML string parsing ("3s", "30s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		return nil
	}
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Validate checks the descriptor carries the fields every engine needs.
func (d *Descriptor) Validate() error {
	if d.Engine.ID == "" {
		return fmt.Errorf("engine.id is required")
	}
	if d.Spawn.CLIBinary == "" {
		return fmt.Errorf("spawn.cli_binary is required")
	}
	return nil
}

// AuthTimeout returns the configured auth-check timeout, defaulting to
// 30 seconds.
func (a *AuthConfig) AuthTimeout() time.Duration {
	if a.Timeout.Duration == 0 {
		return 30 * time.Second
	}
	return a.Timeout.Duration
}

// DecodeFile parses one engine.toml file from disk.
func DecodeFile(path string) (*Descriptor, error) {
	var d Descriptor
	if _, err := toml.DecodeFile(path, &d); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("engine descriptor %s is invalid: %w", path, err)
	}
	return &d, nil
}

// Decode parses TOML content directly, used for the embedded builtins.
func Decode(content []byte) (*Descriptor, error) {
	var d Descriptor
	if _, err := toml.Decode(string(content), &d); err != nil {
		return nil, fmt.Errorf("parsing embedded engine descriptor: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("embedded engine descriptor is invalid: %w", err)
	}
	return &d, nil
}

// DiscoverGlobal lists every engine id with an engine.toml under
// globalDir (~/.codemachine/engines/<id>/engine.toml).
func DiscoverGlobal(globalDir string) ([]string, error) {
	entries, err := os.ReadDir(globalDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(globalDir, entry.Name(), "engine.toml")); err == nil {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}
