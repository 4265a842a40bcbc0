// Package engine is the programmatic entry point that wires the
// workflow subsystems together into one run.
//
// LoadTemplate is a minimal JSON reader satisfying types.Template's own
// JSON tags so the engine is runnable end-to-end. A richer on-disk
// template format (YAML front matter, markdown prompt bodies, a
// template-authoring CLI) is a separate external concern and is not
// implemented here.
package engine

import (
	"encoding/json"
	"os"

	"github.com/codemachine-dev/codemachine/internal/cmerrors"
	"github.com/codemachine-dev/codemachine/internal/types"
)

// LoadTemplate reads a JSON-encoded types.Template from path and assigns
// module indices. A missing file is a precondition failure.
func LoadTemplate(path string) (*types.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cmerrors.MissingTemplate(path)
		}
		return nil, cmerrors.Wrapf(cmerrors.CodePreconditionMissingTemplate, err, "reading template %s", path)
	}
	var tmpl types.Template
	if err := json.Unmarshal(data, &tmpl); err != nil {
		return nil, cmerrors.Wrapf(cmerrors.CodePreconditionMissingTemplate, err, "parsing template %s", path)
	}
	tmpl.AssignModuleIndices()
	return &tmpl, nil
}
