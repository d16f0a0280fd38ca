// Package skillrt executes one skill invocation inside its sandbox: rate
// limits, a tool bus scoped to the manifest, the policy chain and surface
// filtering, with every step audited.
package skillrt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xingyang1991/nightfall/internal/audit"
	"github.com/xingyang1991/nightfall/internal/logging"
	"github.com/xingyang1991/nightfall/internal/policy"
	"github.com/xingyang1991/nightfall/internal/toolbus"
	"github.com/xingyang1991/nightfall/spec"
)

// Violation codes emitted by the runtime.
const (
	CodeRateLimited   = "rate_limited"
	CodeSurfaceDenied = "surface_denied"
)

// Skills resolves skill ids.
type Skills interface {
	Get(id string) (spec.Skill, bool)
}

type Option func(*Runtime) error

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) error {
		if logger != nil {
			r.logger = logger
		}
		return nil
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runtime) error {
		if now == nil {
			return errors.New("nil clock")
		}
		r.now = now
		return nil
	}
}

type Runtime struct {
	skills Skills
	hub    *toolbus.Hub
	chain  *policy.Chain
	audit  *audit.Log
	logger *slog.Logger
	now    func() time.Time
}

func New(skills Skills, hub *toolbus.Hub, chain *policy.Chain, log *audit.Log, opts ...Option) (*Runtime, error) {
	if skills == nil || hub == nil || chain == nil || log == nil {
		return nil, fmt.Errorf("%w: skills, hub, chain and audit log are required", spec.ErrInvalidArgument)
	}
	r := &Runtime{
		skills: skills,
		hub:    hub,
		chain:  chain,
		audit:  log,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		if o == nil {
			continue
		}
		if err := o(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Invoke runs skillID for req. Bundles come back policy-compliant and
// candidate lists normalized; patches for surfaces outside the manifest are
// dropped. Any error from the skill itself is returned wrapped.
func (r *Runtime) Invoke(ctx context.Context, skillID string, req spec.SkillRequest, env spec.RunEnv) (spec.SkillResult, error) {
	sk, ok := r.skills.Get(skillID)
	if !ok {
		return spec.SkillResult{}, fmt.Errorf("%w: %q", spec.ErrSkillNotFound, skillID)
	}
	if env.Session == nil {
		return spec.SkillResult{}, fmt.Errorf("%w: session required", spec.ErrInvalidArgument)
	}
	m := sk.Manifest()
	if !m.HasStage(req.Stage) {
		return spec.SkillResult{}, fmt.Errorf("%w: skill %q has no %s stage", spec.ErrInvalidArgument, skillID, req.Stage)
	}

	if err := admit(env.Session, skillID, m.RateLimit, r.now()); err != nil {
		r.audit.Emit(ctx, audit.PolicyViolation{Code: CodeRateLimited, Detail: err.Error(), SkillID: skillID})
		return spec.SkillResult{}, err
	}

	log := logging.FromContext(ctx, r.logger).With("skill", skillID, "stage", req.Stage)
	start := r.now()
	r.audit.Emit(ctx, audit.SkillStart{SkillID: skillID, Stage: string(req.Stage)})

	bus := r.hub.Scope(m.Permissions.Tools, env.Session).Owned(skillID)
	res, err := sk.Run(ctx, req, env, bus)
	if err != nil {
		r.end(ctx, skillID, req.Stage, start, err)
		log.Warn("skill failed", "error", err)
		return spec.SkillResult{}, fmt.Errorf("skill %s: %w", skillID, err)
	}

	res.Output = r.enforce(ctx, res.Output, env)
	res.Patches = r.filterPatches(ctx, m, res.Patches)

	r.end(ctx, skillID, req.Stage, start, nil)
	log.Debug("skill finished", "duration", r.now().Sub(start))
	return res, nil
}

func (r *Runtime) end(ctx context.Context, skillID string, stage spec.Stage, start time.Time, err error) {
	ev := audit.SkillEnd{
		SkillID:  skillID,
		Stage:    string(stage),
		OK:       err == nil,
		Duration: r.now().Sub(start),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	r.audit.Emit(ctx, ev)
}

func (r *Runtime) enforce(ctx context.Context, out spec.SkillOutput, env spec.RunEnv) spec.SkillOutput {
	switch o := out.(type) {
	case spec.CandidatesOutput:
		return spec.CandidatesOutput{Items: r.chain.ClipCandidates(ctx, o.Items)}
	case spec.BundleOutput:
		return spec.BundleOutput{Bundle: r.chain.Apply(ctx, o.Bundle, env.Session.Candidates(), env.Context)}
	default:
		// No usable output: the linter's fallback stands in.
		return spec.BundleOutput{Bundle: r.chain.Apply(ctx, nil, nil, env.Context)}
	}
}

func (r *Runtime) filterPatches(ctx context.Context, m spec.SkillManifest, patches []spec.UIPatch) []spec.UIPatch {
	if len(patches) == 0 {
		return nil
	}
	out := patches[:0:0]
	for _, p := range patches {
		if m.AllowsSurface(p.Surface) {
			out = append(out, p)
			continue
		}
		r.audit.Emit(ctx, audit.PolicyViolation{Code: CodeSurfaceDenied, Detail: p.Surface, SkillID: m.ID})
	}
	return out
}
