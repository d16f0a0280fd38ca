package nightfall

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/xingyang1991/nightfall/internal/logging"
	"github.com/xingyang1991/nightfall/spec"
)

const maxArrivalItems = 3

// hostOwner names the orchestrator in audit events for host-level tool calls.
const hostOwner = "nightfall.host"

var enrichTools = []spec.ToolName{spec.ToolMapsLink, spec.ToolMapsArrivalGlance}

// enrich attaches a map deep link and a short arrival checklist to every
// ending that navigates somewhere. The calls go through a host-scoped bus
// independent of the skill's permissions. Failures leave the ending as is.
func (o *Orchestrator) enrich(ctx context.Context, sess *spec.Session, b *spec.CuratorialBundle, signals spec.ContextSignals) {
	bus := o.hub.Scope(enrichTools, sess).Owned(hostOwner)
	log := logging.FromContext(ctx, o.logger)
	mode := string(signals.Mobility.Mode)

	// Each goroutine owns one ending.
	eg, egCtx := errgroup.WithContext(ctx)
	for _, e := range []*spec.Ending{b.PrimaryEnding, b.PlanB} {
		if e == nil || !e.Action.NeedsQuery() {
			continue
		}
		if e.Payload == nil {
			e.Payload = &spec.ActionPayload{Query: e.Title}
		}
		eg.Go(func() error {
			p := e.Payload
			link, err := spec.CallTool[spec.MapsLinkArgs, spec.MapsLinkResult](egCtx, bus, spec.ToolMapsLink,
				spec.MapsLinkArgs{PlaceID: p.PlaceID, Query: p.Query, Mode: mode})
			if err != nil {
				log.Debug("deep link enrichment failed", "title", e.Title, "error", err)
			} else {
				p.DeepLink = link.URL
			}

			glance, err := spec.CallTool[spec.ArrivalGlanceArgs, spec.ArrivalGlanceResult](egCtx, bus, spec.ToolMapsArrivalGlance,
				spec.ArrivalGlanceArgs{PlaceID: p.PlaceID, Query: p.Query, Mode: mode})
			if err != nil {
				log.Debug("arrival enrichment failed", "title", e.Title, "error", err)
				return nil
			}
			list := glance.Checklist
			if len(list) > maxArrivalItems {
				list = list[:maxArrivalItems]
			}
			p.ArrivalChecklist = append([]string(nil), list...)
			return nil
		})
	}
	_ = eg.Wait()
}
