package catalog

import (
	"slices"
	"strings"

	"github.com/xingyang1991/nightfall/spec"
)

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Origins  []Origin
	IDPrefix string
	Stage    spec.Stage
	// Tool keeps skills allowed to call this tool.
	Tool spec.ToolName
}

func (f Filter) match(r Record) bool {
	if len(f.Origins) > 0 && !slices.Contains(f.Origins, r.Origin) {
		return false
	}
	if f.IDPrefix != "" && !strings.HasPrefix(r.Manifest.ID, f.IDPrefix) {
		return false
	}
	if f.Stage != "" && !r.Manifest.HasStage(f.Stage) {
		return false
	}
	if f.Tool != "" && !slices.Contains(r.Manifest.Permissions.Tools, f.Tool) {
		return false
	}
	return true
}
