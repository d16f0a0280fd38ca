package policy

import (
	"context"
	"strings"

	"github.com/xingyang1991/nightfall/spec"
)

type stabilityRule struct {
	terms  []string
	weight int
}

var stabilityRules = []stabilityRule{
	{terms: []string{"stable", "hotel", "lobby", "稳定", "酒店", "大堂"}, weight: 3},
	{terms: []string{"late", "24h", "深夜", "通宵"}, weight: 2},
	{terms: []string{"quiet", "安静"}, weight: 1},
	{terms: []string{"unknown", "未知"}, weight: -1},
}

// StabilityScore rates how dependable a candidate looks as a fallback.
// Each rule contributes its weight at most once.
func StabilityScore(it spec.CandidateItem) int {
	text := strings.ToLower(it.Title + " " + it.Tag + " " + it.Desc)
	score := 0
	for _, r := range stabilityRules {
		for _, t := range r.terms {
			if strings.Contains(text, t) {
				score += r.weight
				break
			}
		}
	}
	return score
}

// HardenPlanB replaces a Plan-B that does not point at a place distinct from
// the primary's with the most stable other candidate. It is a no-op when
// either ending is missing or no candidate qualifies.
func (c *Chain) HardenPlanB(ctx context.Context, b *spec.CuratorialBundle, pool []spec.CandidateItem) {
	if b == nil || b.PrimaryEnding == nil || b.PlanB == nil {
		return
	}
	primaryID := b.PrimaryEnding.PlaceID()
	if id := b.PlanB.PlaceID(); id != "" && id != primaryID {
		return
	}
	if len(pool) == 0 {
		pool = b.CandidatePool
	}

	best, bestScore, found := spec.CandidateItem{}, 0, false
	for _, it := range pool {
		if it.ID == "" || it.ID == primaryID {
			continue
		}
		if s := StabilityScore(it); !found || s > bestScore {
			best, bestScore, found = it, s, true
		}
	}
	if !found {
		return
	}

	before := b.PlanB.Title
	title := ClipText(best.Title, c.limits.Title)
	reason := "A steadier option if the first plan falls through."
	if best.Tag != "" {
		reason = "A steadier " + strings.TrimSpace(best.Tag) + " option if the first plan falls through."
	}
	b.PlanB = &spec.Ending{
		Title:       title,
		Reason:      ClipText(reason, c.limits.Reason),
		Checklist:   b.PlanB.Checklist,
		RiskFlags:   b.PlanB.RiskFlags,
		Action:      spec.ActionNavigate,
		ActionLabel: "Go here instead",
		Payload:     &spec.ActionPayload{PlaceID: best.ID, Query: best.Title},
	}
	c.clip(ctx, "plan_b", before, title, "hardened")
}
