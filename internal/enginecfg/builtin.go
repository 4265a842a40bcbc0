package enginecfg

import (
	_ "embed"
	"fmt"
)

//go:embed claude.toml
var claudeDescriptorTOML []byte

var builtins = map[string][]byte{
	"claude": claudeDescriptorTOML,
}

// BuiltinIDs returns the ids of every embedded engine descriptor, in a
// fixed order with "claude" first so it remains the registry default
// when no engine.toml overrides are present.
func BuiltinIDs() []string {
	return []string{"claude"}
}

// LoadBuiltin decodes one embedded descriptor by id.
func LoadBuiltin(id string) (*Descriptor, error) {
	content, ok := builtins[id]
	if !ok {
		return nil, fmt.Errorf("no builtin engine descriptor for %q", id)
	}
	return Decode(content)
}
