package policy

import (
	"context"
	"strings"

	"github.com/xingyang1991/nightfall/spec"
)

var defaultChecklist = []string{"Check it is still open", "Keep your phone charged"}

// DefaultLabel is the button text used when an ending carries none.
func DefaultLabel(a spec.Action) string {
	switch a {
	case spec.ActionStartRoute:
		return "Start route"
	case spec.ActionPlay:
		return "Play"
	case spec.ActionStartFocus:
		return "Start focus"
	default:
		return "Navigate"
	}
}

// Lint is the final pass. A bundle missing either ending is replaced by
// CannedFallback and the second return value is true. Otherwise every
// field is filled and bounded.
func (c *Chain) Lint(ctx context.Context, b *spec.CuratorialBundle, signals spec.ContextSignals) (*spec.CuratorialBundle, bool) {
	fellBack := false
	if b == nil || b.PrimaryEnding == nil || b.PlanB == nil {
		detail := "bundle missing"
		switch {
		case b == nil:
		case b.PrimaryEnding == nil:
			detail = "primaryEnding missing"
		default:
			detail = "planB missing"
		}
		c.violation(ctx, CodeBundleIncomplete, detail)
		b = CannedFallback(signals)
		fellBack = true
	}

	c.fillEnding(ctx, "primaryEnding", b.PrimaryEnding, "Tonight's pick")
	c.fillEnding(ctx, "planB", b.PlanB, "Plan B")
	if len(b.AmbientTokens) == 0 {
		b.AmbientTokens = AmbientTokens(signals)
		c.clip(ctx, "ambientTokens", "", strings.Join(b.AmbientTokens, ","), "filled")
	}
	c.ClipBundle(ctx, b)
	return b, fellBack
}

func (c *Chain) fillEnding(ctx context.Context, prefix string, e *spec.Ending, title string) {
	fill := func(field string, v *string, def string) {
		if strings.TrimSpace(*v) == "" {
			c.clip(ctx, prefix+"."+field, *v, def, "filled")
			*v = def
		}
	}
	fill("title", &e.Title, title)
	fill("reason", &e.Reason, "Close by and a safe bet for tonight.")
	if !e.Action.Valid() {
		c.clip(ctx, prefix+".action", string(e.Action), string(spec.ActionNavigate), "coerced")
		e.Action = spec.ActionNavigate
	}
	fill("actionLabel", &e.ActionLabel, DefaultLabel(e.Action))
	if len(e.Checklist) == 0 {
		e.Checklist = append([]string(nil), defaultChecklist...)
		c.clip(ctx, prefix+".checklist", "", strings.Join(e.Checklist, ","), "filled")
	}
	if e.Action.NeedsQuery() {
		if e.Payload == nil {
			e.Payload = &spec.ActionPayload{}
		}
		if strings.TrimSpace(e.Payload.Query) == "" {
			q := strings.TrimSpace(e.Title)
			c.clip(ctx, prefix+".payload.query", e.Payload.Query, q, "filled")
			e.Payload.Query = q
		}
	}
}

// AmbientTokens derives mood tokens from the time band, mobility and energy.
func AmbientTokens(s spec.ContextSignals) []string {
	out := []string{string(s.Time.Band)}
	switch s.Mobility.Mode {
	case spec.MobilityDriving:
		out = append(out, "road")
	case spec.MobilityWalking:
		out = append(out, "streetlight")
	default:
		out = append(out, "still")
	}
	switch s.User.Energy {
	case spec.EnergyLow:
		out = append(out, "soft")
	case spec.EnergyHigh:
		out = append(out, "bright")
	default:
		out = append(out, "calm")
	}
	if out[0] == "" {
		out = out[1:]
	}
	return out
}

// CannedFallback is a static, context-derived bundle used when generated
// content cannot be salvaged.
func CannedFallback(s spec.ContextSignals) *spec.CuratorialBundle {
	primary := &spec.Ending{
		Title:       "A warm 24h spot nearby",
		Reason:      "Lit, open all night and easy to leave when you are ready.",
		Checklist:   append([]string(nil), defaultChecklist...),
		Action:      spec.ActionNavigate,
		ActionLabel: DefaultLabel(spec.ActionNavigate),
		Payload:     &spec.ActionPayload{Query: "24h cafe"},
	}
	switch {
	case s.User.Energy == spec.EnergyLow:
		primary = &spec.Ending{
			Title:       "Wind down for 20 minutes",
			Reason:      "A short quiet session before deciding anything else.",
			Checklist:   []string{"Silence notifications", "Get some water"},
			Action:      spec.ActionStartFocus,
			ActionLabel: DefaultLabel(spec.ActionStartFocus),
			Payload:     &spec.ActionPayload{DurationMin: 20},
		}
	case s.Mobility.Mode == spec.MobilityDriving:
		primary = &spec.Ending{
			Title:       "Drive to a 24h stop",
			Reason:      "A bright place to park, stretch and grab something warm.",
			Checklist:   []string{"Check fuel", "Keep your phone charged"},
			Action:      spec.ActionStartRoute,
			ActionLabel: DefaultLabel(spec.ActionStartRoute),
			Payload:     &spec.ActionPayload{Query: "24h convenience store"},
		}
	}
	return &spec.CuratorialBundle{
		PrimaryEnding: primary,
		PlanB: &spec.Ending{
			Title:       "Rest in a hotel lobby",
			Reason:      "Stable, staffed and open all night.",
			Checklist:   []string{"Ask the front desk first"},
			Action:      spec.ActionNavigate,
			ActionLabel: DefaultLabel(spec.ActionNavigate),
			Payload:     &spec.ActionPayload{Query: "hotel lobby"},
		},
		AmbientTokens: AmbientTokens(s),
	}
}
