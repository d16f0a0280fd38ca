package spec

import (
	"fmt"
	"slices"
	"strings"
)

type Stage string

const (
	StageCandidate Stage = "candidate"
	StageFinalize  Stage = "finalize"
	StageSystem    Stage = "system"
)

// Permissions is a strict allowlist. The tool bus enforces it regardless of
// what the skill attempts at run time.
type Permissions struct {
	Tools      []ToolName `json:"tools,omitempty" yaml:"tools,omitempty"`
	DataScopes []string   `json:"dataScopes,omitempty" yaml:"dataScopes,omitempty"`
}

// RateLimit caps invocations per skill. Zero means unlimited.
type RateLimit struct {
	PerNight  int `json:"perNight,omitempty" yaml:"perNight,omitempty"`
	PerMinute int `json:"perMinute,omitempty" yaml:"perMinute,omitempty"`
}

// SkillManifest is the static descriptor of a skill.
type SkillManifest struct {
	ID              string      `json:"id" yaml:"id"`
	Version         string      `json:"version" yaml:"version"`
	Title           string      `json:"title" yaml:"title"`
	Description     string      `json:"description,omitempty" yaml:"description,omitempty"`
	Stages          []Stage     `json:"stages" yaml:"stages"`
	Intents         []string    `json:"intents,omitempty" yaml:"intents,omitempty"`
	Keywords        []string    `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	AllowedSurfaces []string    `json:"allowedSurfaces,omitempty" yaml:"allowedSurfaces,omitempty"`
	Permissions     Permissions `json:"permissions" yaml:"permissions"`
	RateLimit       RateLimit   `json:"rateLimit" yaml:"rateLimit"`
}

func (m SkillManifest) HasStage(s Stage) bool { return slices.Contains(m.Stages, s) }

func (m SkillManifest) AllowsSurface(id string) bool { return slices.Contains(m.AllowedSurfaces, id) }

// Text is the concatenated descriptive text used for routing.
func (m SkillManifest) Text() string {
	parts := make([]string, 0, 3+len(m.Intents)+len(m.Keywords))
	parts = append(parts, m.Title, m.Description)
	parts = append(parts, m.Intents...)
	parts = append(parts, m.Keywords...)
	return strings.Join(parts, " ")
}

func (m SkillManifest) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: manifest id is required", ErrInvalidArgument)
	}
	if strings.ContainsAny(m.ID, " \t\n") {
		return fmt.Errorf("%w: manifest id %q must not contain whitespace", ErrInvalidArgument, m.ID)
	}
	if len(m.Stages) == 0 {
		return fmt.Errorf("%w: manifest %q declares no stages", ErrInvalidArgument, m.ID)
	}
	for _, s := range m.Stages {
		switch s {
		case StageCandidate, StageFinalize, StageSystem:
		default:
			return fmt.Errorf("%w: manifest %q has unknown stage %q", ErrInvalidArgument, m.ID, s)
		}
	}
	for _, t := range m.Permissions.Tools {
		if !t.Known() {
			return fmt.Errorf("%w: manifest %q requests unknown tool %q", ErrInvalidArgument, m.ID, t)
		}
	}
	if m.RateLimit.PerMinute < 0 || m.RateLimit.PerNight < 0 {
		return fmt.Errorf("%w: manifest %q has negative rate limit", ErrInvalidArgument, m.ID)
	}
	return nil
}
