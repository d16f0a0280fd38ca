package spec

import (
	"context"

	"github.com/xingyang1991/nightfall/protocol"
)

type Selection struct {
	CandidateID string `json:"candidateId"`
}

type Constraints struct {
	// Variant increments on every refresh so skills can rotate output.
	Variant         int      `json:"variant,omitempty"`
	ForceCandidates bool     `json:"forceCandidates,omitempty"`
	Exclude         []string `json:"exclude,omitempty"`
}

type SkillRequest struct {
	Intent      string       `json:"intent,omitempty"`
	Stage       Stage        `json:"stage"`
	Utterance   string       `json:"utterance"`
	Selection   *Selection   `json:"selection,omitempty"`
	Constraints *Constraints `json:"constraints,omitempty"`
}

// SkillOutput is either CandidatesOutput or BundleOutput.
type SkillOutput interface {
	isSkillOutput()
}

// CandidatesOutput is produced by the candidate stage.
type CandidatesOutput struct {
	Items []CandidateItem
}

// BundleOutput is produced by the finalize and system stages.
type BundleOutput struct {
	Bundle *CuratorialBundle
}

func (CandidatesOutput) isSkillOutput() {}
func (BundleOutput) isSkillOutput()     {}

// UIPatch is a raw message list a skill wants pushed to one surface. Patches
// for surfaces outside the manifest's AllowedSurfaces are dropped.
type UIPatch struct {
	Surface  string
	Messages []protocol.Message
}

// UIHint carries optional host-facing presentation hints.
type UIHint struct {
	StyleHint string `json:"styleHint,omitempty"`
	Channel   string `json:"channel,omitempty"`
}

type SkillResult struct {
	Output  SkillOutput
	Patches []UIPatch
	UI      *UIHint
}

// RunEnv is the ambient environment of one invocation.
type RunEnv struct {
	Context ContextSignals
	Session *Session
}

// Skill is the pluggable content generator contract. The runtime inspects
// nothing beyond Manifest and Run.
type Skill interface {
	Manifest() SkillManifest
	Run(ctx context.Context, req SkillRequest, env RunEnv, tools ToolBus) (SkillResult, error)
}
