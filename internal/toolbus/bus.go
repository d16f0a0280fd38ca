package toolbus

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/xingyang1991/nightfall/internal/audit"
	"github.com/xingyang1991/nightfall/spec"
)

// Bus is a hub view confined to one allowlist. It implements spec.ToolBus.
type Bus struct {
	hub     *Hub
	allowed map[spec.ToolName]struct{}
	session *spec.Session
	owner   string
}

var _ spec.ToolBus = (*Bus)(nil)

// Owned returns a copy of the bus whose audit events name skillID.
func (b *Bus) Owned(skillID string) *Bus {
	out := *b
	out.owner = skillID
	return &out
}

func (b *Bus) Allowed() []spec.ToolName {
	return slices.Sorted(maps.Keys(b.allowed))
}

func (b *Bus) Call(ctx context.Context, tool spec.ToolName, args, out any) error {
	h := b.hub
	if _, ok := b.allowed[tool]; !ok {
		h.audit.Emit(ctx, audit.PolicyViolation{
			Code:    "capability_denied",
			Detail:  string(tool),
			SkillID: b.owner,
		})
		return fmt.Errorf("%w: %s", spec.ErrCapabilityDenied, tool)
	}

	start := h.now()
	ev := audit.ToolCall{Tool: string(tool)}
	finish := func(err error) error {
		ev.Duration = h.now().Sub(start)
		ev.OK = err == nil
		if err != nil {
			ev.Error = err.Error()
		}
		h.audit.Emit(ctx, ev)
		if err != nil {
			return fmt.Errorf("tool %s: %w", tool, err)
		}
		return nil
	}

	canon, err := CanonicalArgs(args)
	if err != nil {
		return finish(err)
	}
	key := Key(tool, canon)

	if h.mode == ModeReplay {
		raw, ok, err := h.fixtures.Load(ctx, key)
		if err != nil {
			h.logger.Warn("fixture load failed", "tool", tool, "error", err)
		}
		if ok {
			ev.Replayed = true
			return finish(b.deliver(tool, raw, out))
		}
	}

	hd, ok := h.handler(tool)
	if !ok {
		return finish(fmt.Errorf("%w: no provider registered", spec.ErrUpstreamUnavailable))
	}

	provider := tool.Provider()
	if err := h.breakers.Allow(provider); err != nil {
		return finish(err)
	}

	raw, attempts, err := h.invoke(ctx, tool, hd, canon)
	ev.Attempts = attempts
	h.breakers.report(provider, classify(ctx, err))
	if err != nil {
		return finish(err)
	}

	if h.mode == ModeRecord {
		if err := h.fixtures.Save(ctx, key, tool, canon, raw); err != nil {
			h.logger.Warn("fixture save failed", "tool", tool, "error", err)
		}
	}
	return finish(b.deliver(tool, raw, out))
}

func (b *Bus) deliver(tool spec.ToolName, raw json.RawMessage, out any) error {
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: decode result: %w", spec.ErrUpstreamUnavailable, err)
		}
	}
	if tool == spec.ToolPlacesSearch && b.session != nil {
		var res spec.PlacesSearchResult
		if err := json.Unmarshal(raw, &res); err == nil {
			b.session.SetLastPlaces(res.Places)
		}
	}
	return nil
}
