package skills

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xingyang1991/nightfall/protocol"
	"github.com/xingyang1991/nightfall/spec"
)

const lateBitePageSize = 6

// LateBite finds somewhere to eat late at night. The candidate stage lists
// nearby places; finalize turns the chosen one into a bundle with a nearby
// stable Plan-B.
type LateBite struct {
	manifest spec.SkillManifest
}

func NewLateBite() *LateBite {
	return &LateBite{manifest: spec.SkillManifest{
		ID:          LateBiteID,
		Version:     "1.2.0",
		Title:       "Late bite",
		Description: "Find warm food that is still open late at night: noodles, congee, dumplings, snacks.",
		Stages:      []spec.Stage{spec.StageCandidate, spec.StageFinalize},
		Intents:     []string{"eat", "hungry", "late food"},
		Keywords:    []string{"food", "noodles", "snack", "supper", "夜宵", "宵夜", "吃", "饿"},
		AllowedSurfaces: []string{
			protocol.SurfaceCandidates,
			protocol.SurfaceResult,
			protocol.SurfaceAmbient,
		},
		Permissions: spec.Permissions{
			Tools:      []spec.ToolName{spec.ToolPlacesSearch, spec.ToolWeatherForecast},
			DataScopes: []string{"location"},
		},
		RateLimit: spec.RateLimit{PerMinute: 6, PerNight: 60},
	}}
}

func (s *LateBite) Manifest() spec.SkillManifest { return s.manifest }

func (s *LateBite) Run(ctx context.Context, req spec.SkillRequest, env spec.RunEnv, tools spec.ToolBus) (spec.SkillResult, error) {
	switch req.Stage {
	case spec.StageCandidate:
		return s.candidates(ctx, req, env, tools)
	case spec.StageFinalize:
		return s.finalize(ctx, req, env, tools)
	default:
		return spec.SkillResult{}, fmt.Errorf("%w: stage %q", spec.ErrInvalidArgument, req.Stage)
	}
}

func (s *LateBite) search(ctx context.Context, req spec.SkillRequest, env spec.RunEnv, tools spec.ToolBus) ([]spec.Place, error) {
	args := spec.PlacesSearchArgs{
		Query:    "food",
		Limit:    lateBitePageSize,
		OpenLate: true,
	}
	if strings.Contains(strings.ToLower(req.Utterance), "noodle") {
		args.Query = "noodles"
	}
	if loc := env.Context.Location; loc.Lat != 0 || loc.Lng != 0 {
		args.Near = &spec.LatLng{Lat: loc.Lat, Lng: loc.Lng}
	}
	if c := req.Constraints; c != nil && c.Variant > 0 {
		args.Offset = c.Variant * lateBitePageSize
	}
	res, err := spec.CallTool[spec.PlacesSearchArgs, spec.PlacesSearchResult](ctx, tools, spec.ToolPlacesSearch, args)
	if err != nil {
		return nil, err
	}
	if len(res.Places) == 0 && args.Offset > 0 {
		// Ran past the last page: start over.
		args.Offset = 0
		res, err = spec.CallTool[spec.PlacesSearchArgs, spec.PlacesSearchResult](ctx, tools, spec.ToolPlacesSearch, args)
		if err != nil {
			return nil, err
		}
	}
	return res.Places, nil
}

func (s *LateBite) candidates(ctx context.Context, req spec.SkillRequest, env spec.RunEnv, tools spec.ToolBus) (spec.SkillResult, error) {
	places, err := s.search(ctx, req, env, tools)
	if err != nil {
		return spec.SkillResult{}, err
	}
	items := make([]spec.CandidateItem, 0, len(places))
	for _, p := range places {
		items = append(items, spec.CandidateItem{
			ID:       p.ID,
			Title:    p.Name,
			Tag:      p.Category,
			Desc:     placeLine(p),
			ImageRef: p.ImageRef,
		})
	}
	return spec.SkillResult{Output: spec.CandidatesOutput{Items: items}}, nil
}

func (s *LateBite) finalize(ctx context.Context, req spec.SkillRequest, env spec.RunEnv, tools spec.ToolBus) (spec.SkillResult, error) {
	places := env.Session.LastPlaces()
	if len(places) == 0 {
		var err error
		if places, err = s.search(ctx, req, env, tools); err != nil {
			return spec.SkillResult{}, err
		}
	}
	if len(places) == 0 {
		return spec.SkillResult{}, errors.New("late_bite: nothing open nearby")
	}

	chosen := places[0]
	if req.Selection != nil {
		for _, p := range places {
			if p.ID == req.Selection.CandidateID {
				chosen = p
				break
			}
		}
	}

	action := spec.ActionNavigate
	if env.Context.Mobility.Mode == spec.MobilityDriving {
		action = spec.ActionStartRoute
	}
	primary := &spec.Ending{
		Title:     chosen.Name,
		Reason:    "Still serving: " + placeLine(chosen),
		Checklist: []string{"Bring a little cash", "Check the queue before ordering"},
		Action:    action,
		Payload:   &spec.ActionPayload{PlaceID: chosen.ID, Query: chosen.Name},
	}
	if chosen.OpenUntil != "24h" {
		primary.RiskFlags = []string{"closes at " + chosen.OpenUntil}
	}
	// Plan-B points at the same place; hardening swaps in the most stable
	// alternative from the candidate pool.
	planB := &spec.Ending{
		Title:   "Somewhere steadier",
		Reason:  "If it is closed or full, head somewhere open all night.",
		Action:  spec.ActionNavigate,
		Payload: &spec.ActionPayload{PlaceID: chosen.ID, Query: chosen.Name},
	}

	pool := make([]spec.CandidateItem, 0, len(places))
	for _, p := range places {
		pool = append(pool, spec.CandidateItem{ID: p.ID, Title: p.Name, Tag: p.Category, Desc: placeLine(p)})
	}

	res := spec.SkillResult{Output: spec.BundleOutput{Bundle: &spec.CuratorialBundle{
		PrimaryEnding: primary,
		PlanB:         planB,
		CandidatePool: pool,
	}}}

	if w, err := spec.CallTool[spec.WeatherArgs, spec.WeatherResult](ctx, tools, spec.ToolWeatherForecast, spec.WeatherArgs{
		Lat:   env.Context.Location.Lat,
		Lng:   env.Context.Location.Lng,
		Hours: 2,
	}); err == nil {
		if w.PrecipProb >= 0.5 {
			primary.Checklist = append(primary.Checklist, "Take an umbrella")
		}
		res.Patches = []spec.UIPatch{{
			Surface: protocol.SurfaceAmbient,
			Messages: []protocol.Message{protocol.DataModelUpdate{
				Surface: protocol.SurfaceAmbient,
				Contents: []protocol.Entry{
					{Key: "weather", Value: protocol.String(w.Summary)},
					{Key: "tempC", Value: protocol.Number(w.TempC)},
				},
			}},
		}}
	}
	return res, nil
}

func placeLine(p spec.Place) string {
	if p.OpenUntil == "24h" {
		return p.Category + ", open all night"
	}
	if p.OpenUntil != "" {
		return p.Category + ", open until " + p.OpenUntil
	}
	return p.Category
}
