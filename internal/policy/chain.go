package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/xingyang1991/nightfall/internal/audit"
	"github.com/xingyang1991/nightfall/spec"
)

// Violation codes emitted by the chain.
const (
	CodePlanBActionMissing = "planb_action_missing"
	CodeBundleIncomplete   = "bundle_incomplete"
)

// Chain runs bundle policy, Plan-B hardening and the linter in that order.
type Chain struct {
	limits Limits
	audit  *audit.Log
}

func NewChain(limits Limits, log *audit.Log) *Chain {
	return &Chain{limits: limits.withDefaults(), audit: log}
}

func (c *Chain) Limits() Limits { return c.limits }

// Apply returns a policy-compliant copy of b. pool is the session's last
// candidate pool; when empty the bundle's own pool is used for hardening.
// The returned bundle always has both endings and a Plan-B action.
func (c *Chain) Apply(ctx context.Context, b *spec.CuratorialBundle, pool []spec.CandidateItem, signals spec.ContextSignals) *spec.CuratorialBundle {
	b = b.Clone()
	if b != nil {
		c.ClipBundle(ctx, b)
		c.HardenPlanB(ctx, b, pool)
	}
	out, _ := c.Lint(ctx, b, signals)
	return out
}

func (c *Chain) clip(ctx context.Context, field, before, after, reason string) {
	if c.audit == nil || before == after {
		return
	}
	c.audit.Emit(ctx, audit.PolicyClip{Field: field, Before: before, After: after, Reason: reason})
}

func (c *Chain) violation(ctx context.Context, code, detail string) {
	if c.audit == nil {
		return
	}
	c.audit.Emit(ctx, audit.PolicyViolation{Code: code, Detail: detail})
}

func (c *Chain) clipString(ctx context.Context, field string, s *string, n int) {
	after := ClipText(*s, n)
	c.clip(ctx, field, *s, after, "length")
	*s = after
}

func clipList[T any](ctx context.Context, c *Chain, field string, list []T, n int) []T {
	if len(list) <= n {
		return list
	}
	c.clip(ctx, field, count(len(list)), count(n), "count")
	return list[:n]
}

// ClipBundle bounds every free-text field and list of b in place and copies
// a missing Plan-B action from the primary ending.
func (c *Chain) ClipBundle(ctx context.Context, b *spec.CuratorialBundle) {
	if b == nil {
		return
	}
	l := c.limits
	c.clipEnding(ctx, "primaryEnding", b.PrimaryEnding)
	c.clipEnding(ctx, "planB", b.PlanB)
	b.AmbientTokens = clipList(ctx, c, "ambientTokens", b.AmbientTokens, l.AmbientTokens)
	b.CandidatePool = clipList(ctx, c, "candidatePool", b.CandidatePool, l.CandidatePool)
	if b.MediaPack != nil {
		b.MediaPack.Gallery = clipList(ctx, c, "mediaPack.gallery", b.MediaPack.Gallery, l.Gallery)
	}

	p, pb := b.PrimaryEnding, b.PlanB
	if p != nil && pb != nil {
		if pb.Action == "" {
			pb.Action = p.Action
			c.violation(ctx, CodePlanBActionMissing, fmt.Sprintf("copied action %q from primary", p.Action))
		}
		if strings.TrimSpace(pb.ActionLabel) == "" && pb.Action == p.Action {
			pb.ActionLabel = p.ActionLabel
		}
	}
}

func (c *Chain) clipEnding(ctx context.Context, prefix string, e *spec.Ending) {
	if e == nil {
		return
	}
	l := c.limits
	c.clipString(ctx, prefix+".title", &e.Title, l.Title)
	c.clipString(ctx, prefix+".reason", &e.Reason, l.Reason)
	c.clipString(ctx, prefix+".actionLabel", &e.ActionLabel, l.Title)
	e.Checklist = clipList(ctx, c, prefix+".checklist", e.Checklist, l.Checklist)
	e.RiskFlags = clipList(ctx, c, prefix+".riskFlags", e.RiskFlags, l.RiskFlags)
}
