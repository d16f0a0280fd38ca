package policy

import (
	"context"
	"strings"

	"github.com/xingyang1991/nightfall/spec"
)

// ClipCandidates normalizes a candidate list: ids and fields are trimmed,
// items without an id and repeated ids are dropped, fields are bounded and
// the list is capped.
func (c *Chain) ClipCandidates(ctx context.Context, items []spec.CandidateItem) []spec.CandidateItem {
	l := c.limits
	seen := make(map[string]struct{}, len(items))
	out := make([]spec.CandidateItem, 0, min(len(items), l.CandidatePool))
	dropped := 0
	for _, it := range items {
		it.ID = strings.TrimSpace(it.ID)
		if it.ID == "" {
			dropped++
			continue
		}
		if _, dup := seen[it.ID]; dup {
			dropped++
			continue
		}
		seen[it.ID] = struct{}{}
		prefix := "candidates[" + it.ID + "]"
		c.clipString(ctx, prefix+".title", &it.Title, l.CandidateTitle)
		c.clipString(ctx, prefix+".tag", &it.Tag, l.CandidateTag)
		c.clipString(ctx, prefix+".desc", &it.Desc, l.CandidateDesc)
		it.ImageRef = strings.TrimSpace(it.ImageRef)
		out = append(out, it)
	}
	if dropped > 0 {
		c.clip(ctx, "candidates", count(len(items)), count(len(items)-dropped), "invalid or duplicate id")
	}
	return clipList(ctx, c, "candidates", out, l.CandidatePool)
}
