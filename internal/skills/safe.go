package skills

import (
	"context"

	"github.com/xingyang1991/nightfall/internal/policy"
	"github.com/xingyang1991/nightfall/protocol"
	"github.com/xingyang1991/nightfall/spec"
)

// SafeDefault always answers with the context-derived canned bundle. The
// router falls back to it and the orchestrator uses it as the system skill.
type SafeDefault struct {
	manifest spec.SkillManifest
}

func NewSafeDefault() *SafeDefault {
	return &SafeDefault{manifest: spec.SkillManifest{
		ID:              SafeDefaultID,
		Version:         "1.0.0",
		Title:           "Something safe",
		Description:     "A calm, reliable option when nothing more specific fits.",
		Stages:          []spec.Stage{spec.StageFinalize, spec.StageSystem},
		AllowedSurfaces: []string{protocol.SurfaceResult},
	}}
}

func (s *SafeDefault) Manifest() spec.SkillManifest { return s.manifest }

func (s *SafeDefault) Run(_ context.Context, _ spec.SkillRequest, env spec.RunEnv, _ spec.ToolBus) (spec.SkillResult, error) {
	return spec.SkillResult{Output: spec.BundleOutput{Bundle: policy.CannedFallback(env.Context)}}, nil
}
