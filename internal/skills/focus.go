package skills

import (
	"context"

	"github.com/xingyang1991/nightfall/protocol"
	"github.com/xingyang1991/nightfall/spec"
)

// FocusSession proposes a timed focus block with a music Plan-B. It needs no
// tools.
type FocusSession struct {
	manifest spec.SkillManifest
}

func NewFocusSession() *FocusSession {
	return &FocusSession{manifest: spec.SkillManifest{
		ID:              FocusSessionID,
		Version:         "1.0.0",
		Title:           "Focus session",
		Description:     "A quiet timed focus block to study, read or finish work, with calm music as the alternative.",
		Stages:          []spec.Stage{spec.StageFinalize},
		Intents:         []string{"focus", "study", "work"},
		Keywords:        []string{"focus", "study", "concentrate", "deadline", "专注", "学习"},
		AllowedSurfaces: []string{protocol.SurfaceResult},
		RateLimit:       spec.RateLimit{PerMinute: 4},
	}}
}

func (s *FocusSession) Manifest() spec.SkillManifest { return s.manifest }

func (s *FocusSession) Run(_ context.Context, _ spec.SkillRequest, env spec.RunEnv, _ spec.ToolBus) (spec.SkillResult, error) {
	minutes := 25
	if env.Context.User.Energy == spec.EnergyLow {
		minutes = 15
	}
	channel := "lofi"
	if env.Context.Time.Band == spec.BandDeepNight {
		channel = "rain"
	}
	b := &spec.CuratorialBundle{
		PrimaryEnding: &spec.Ending{
			Title:     "One focused block",
			Reason:    "Short enough to start now, long enough to finish one thing.",
			Checklist: []string{"Pick the single task", "Phone face down"},
			Action:    spec.ActionStartFocus,
			Payload:   &spec.ActionPayload{DurationMin: minutes},
		},
		PlanB: &spec.Ending{
			Title:   "Just some quiet music",
			Reason:  "No timer, no pressure.",
			Action:  spec.ActionPlay,
			Payload: &spec.ActionPayload{Channel: channel},
		},
	}
	return spec.SkillResult{
		Output: spec.BundleOutput{Bundle: b},
		UI:     &spec.UIHint{StyleHint: "dim", Channel: channel},
	}, nil
}
