package spec

import "slices"

type Action string

const (
	ActionNavigate   Action = "NAVIGATE"
	ActionStartRoute Action = "START_ROUTE"
	ActionPlay       Action = "PLAY"
	ActionStartFocus Action = "START_FOCUS"
)

func (a Action) Valid() bool {
	switch a {
	case ActionNavigate, ActionStartRoute, ActionPlay, ActionStartFocus:
		return true
	}
	return false
}

// NeedsQuery reports whether the action must carry a destination query.
func (a Action) NeedsQuery() bool { return a == ActionNavigate || a == ActionStartRoute }

// CandidateItem is one selectable option shown in the candidate stage.
type CandidateItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Tag      string `json:"tag,omitempty"`
	Desc     string `json:"desc,omitempty"`
	ImageRef string `json:"imageRef,omitempty"`
}

type ActionPayload struct {
	PlaceID     string `json:"placeId,omitempty"`
	Query       string `json:"query,omitempty"`
	Channel     string `json:"channel,omitempty"`
	DurationMin int    `json:"durationMin,omitempty"`

	// Host enrichment.
	DeepLink         string   `json:"deepLink,omitempty"`
	ArrivalChecklist []string `json:"arrivalChecklist,omitempty"`
}

// Ending is one executable recommendation.
type Ending struct {
	Title       string         `json:"title"`
	Reason      string         `json:"reason"`
	Checklist   []string       `json:"checklist,omitempty"`
	RiskFlags   []string       `json:"riskFlags,omitempty"`
	Action      Action         `json:"action"`
	ActionLabel string         `json:"actionLabel"`
	Payload     *ActionPayload `json:"payload,omitempty"`
}

func (e *Ending) PlaceID() string {
	if e == nil || e.Payload == nil {
		return ""
	}
	return e.Payload.PlaceID
}

func (e *Ending) Clone() *Ending {
	if e == nil {
		return nil
	}
	out := *e
	out.Checklist = slices.Clone(e.Checklist)
	out.RiskFlags = slices.Clone(e.RiskFlags)
	if e.Payload != nil {
		p := *e.Payload
		p.ArrivalChecklist = slices.Clone(e.Payload.ArrivalChecklist)
		out.Payload = &p
	}
	return &out
}

type MediaPack struct {
	Gallery    []string `json:"gallery,omitempty"`
	Soundtrack string   `json:"soundtrack,omitempty"`
}

// CuratorialBundle is the finalized two-option recommendation.
type CuratorialBundle struct {
	PrimaryEnding *Ending         `json:"primaryEnding"`
	PlanB         *Ending         `json:"planB"`
	AmbientTokens []string        `json:"ambientTokens,omitempty"`
	MediaPack     *MediaPack      `json:"mediaPack,omitempty"`
	CandidatePool []CandidateItem `json:"candidatePool,omitempty"`
}

func (b *CuratorialBundle) Clone() *CuratorialBundle {
	if b == nil {
		return nil
	}
	out := &CuratorialBundle{
		PrimaryEnding: b.PrimaryEnding.Clone(),
		PlanB:         b.PlanB.Clone(),
		AmbientTokens: slices.Clone(b.AmbientTokens),
		CandidatePool: slices.Clone(b.CandidatePool),
	}
	if b.MediaPack != nil {
		mp := *b.MediaPack
		mp.Gallery = slices.Clone(b.MediaPack.Gallery)
		out.MediaPack = &mp
	}
	return out
}
