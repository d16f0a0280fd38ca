// Package fsskill runs declarative skills described by a SKILL.md file: YAML
// frontmatter holding the manifest and a markdown body holding the standing
// instruction for a generative provider.
package fsskill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/xingyang1991/nightfall/internal/generate"
	"github.com/xingyang1991/nightfall/spec"
	"github.com/xingyang1991/nightfall/toolspec"
)

const defaultSearchLimit = 6

type Option func(*Skill) error

// WithGenerator sets the content provider. Without one the skill composes its
// output directly from tool results.
func WithGenerator(g generate.Generator) Option {
	return func(s *Skill) error {
		s.gen = g
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Skill) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithSearchLimit sets how many places one candidate page holds.
func WithSearchLimit(n int) Option {
	return func(s *Skill) error {
		if n <= 0 {
			return fmt.Errorf("%w: search limit must be > 0", spec.ErrInvalidArgument)
		}
		s.limit = n
		return nil
	}
}

// Skill is a spec.Skill backed by a Document.
type Skill struct {
	doc    Document
	gen    generate.Generator
	logger *slog.Logger
	limit  int
}

var _ spec.Skill = (*Skill)(nil)

func New(doc Document, opts ...Option) (*Skill, error) {
	if err := doc.Manifest.Validate(); err != nil {
		return nil, err
	}
	s := &Skill{doc: doc, logger: slog.Default(), limit: defaultSearchLimit}
	for _, o := range opts {
		if o == nil {
			continue
		}
		if err := o(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Skill) Manifest() spec.SkillManifest { return s.doc.Manifest }

func (s *Skill) Document() Document { return s.doc }

func (s *Skill) Run(ctx context.Context, req spec.SkillRequest, env spec.RunEnv, tools spec.ToolBus) (spec.SkillResult, error) {
	places, err := s.places(ctx, req, env, tools)
	if err != nil {
		return spec.SkillResult{}, err
	}
	weather := s.weather(ctx, env, tools)

	if req.Stage == spec.StageCandidate {
		items := candidatesFromPlaces(places, env.Context.User.Stealth)
		if s.gen != nil {
			gen, err := s.generate(ctx, tools, promptInput{s.doc.Manifest, req, env.Context, places, weather})
			if err != nil {
				return spec.SkillResult{}, err
			}
			if parsed, perr := parseCandidates(gen, places); perr == nil && len(parsed) > 0 {
				items = parsed
			} else {
				s.logger.WarnContext(ctx, "fsskill: unusable candidate output, using places",
					"skill", s.doc.Manifest.ID, "error", perr)
			}
		}
		return spec.SkillResult{Output: spec.CandidatesOutput{Items: items}}, nil
	}

	if s.gen == nil {
		return spec.SkillResult{Output: spec.BundleOutput{Bundle: composeBundle(req, places, env.Context)}}, nil
	}
	gen, err := s.generate(ctx, tools, promptInput{s.doc.Manifest, req, env.Context, places, weather})
	if err != nil {
		return spec.SkillResult{}, err
	}
	b, perr := parseBundle(gen)
	if perr != nil {
		// The linter replaces a missing bundle with its canned fallback.
		s.logger.WarnContext(ctx, "fsskill: unusable bundle output", "skill", s.doc.Manifest.ID, "error", perr)
		return spec.SkillResult{Output: spec.BundleOutput{}}, nil
	}
	if len(b.CandidatePool) == 0 {
		b.CandidatePool = candidatesFromPlaces(places, env.Context.User.Stealth)
	}
	return spec.SkillResult{Output: spec.BundleOutput{Bundle: b}}, nil
}

// generate asks the provider for output, offering it the tools the bus
// allows as callable functions.
func (s *Skill) generate(ctx context.Context, tools spec.ToolBus, in promptInput) (string, error) {
	prompt, err := buildPrompt(in)
	if err != nil {
		return "", err
	}
	req := generate.Request{System: s.doc.Body, Prompt: prompt, JSON: true}
	if len(tools.Allowed()) > 0 {
		d, err := toolspec.NewDispatcher(tools)
		if err != nil {
			return "", err
		}
		req.Tools, req.Call = d.Tools(), d.Call
	}
	out, err := s.gen.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", spec.ErrUpstreamUnavailable, err)
	}
	return out, nil
}

// places searches for the utterance when the manifest grants places.search.
// Refreshes page through results with the variant counter.
func (s *Skill) places(ctx context.Context, req spec.SkillRequest, env spec.RunEnv, tools spec.ToolBus) ([]spec.Place, error) {
	if !slices.Contains(tools.Allowed(), spec.ToolPlacesSearch) {
		return nil, nil
	}
	if req.Stage != spec.StageCandidate && env.Session != nil {
		if last := env.Session.LastPlaces(); len(last) > 0 {
			return last, nil
		}
	}

	query := strings.TrimSpace(req.Utterance)
	if query == "" && len(s.doc.Manifest.Keywords) > 0 {
		query = s.doc.Manifest.Keywords[0]
	}
	args := spec.PlacesSearchArgs{
		Query:    query,
		Limit:    s.limit,
		OpenLate: env.Context.Time.Band == spec.BandLate || env.Context.Time.Band == spec.BandDeepNight,
	}
	if loc := env.Context.Location; loc.Lat != 0 || loc.Lng != 0 {
		args.Near = &spec.LatLng{Lat: loc.Lat, Lng: loc.Lng}
	}
	if c := req.Constraints; c != nil && c.Variant > 0 {
		args.Offset = c.Variant * s.limit
	}

	res, err := spec.CallTool[spec.PlacesSearchArgs, spec.PlacesSearchResult](ctx, tools, spec.ToolPlacesSearch, args)
	if err != nil {
		if errors.Is(err, spec.ErrCapabilityDenied) {
			return nil, err
		}
		s.logger.WarnContext(ctx, "fsskill: places search failed", "skill", s.doc.Manifest.ID, "error", err)
		return nil, nil
	}
	return res.Places, nil
}

func (s *Skill) weather(ctx context.Context, env spec.RunEnv, tools spec.ToolBus) *spec.WeatherResult {
	if !slices.Contains(tools.Allowed(), spec.ToolWeatherForecast) {
		return nil
	}
	loc := env.Context.Location
	res, err := spec.CallTool[spec.WeatherArgs, spec.WeatherResult](
		ctx, tools, spec.ToolWeatherForecast, spec.WeatherArgs{Lat: loc.Lat, Lng: loc.Lng, Hours: 3},
	)
	if err != nil {
		s.logger.DebugContext(ctx, "fsskill: weather unavailable", "skill", s.doc.Manifest.ID, "error", err)
		return nil
	}
	return &res
}

func candidatesFromPlaces(places []spec.Place, stealth bool) []spec.CandidateItem {
	out := make([]spec.CandidateItem, 0, len(places))
	for _, p := range places {
		it := spec.CandidateItem{ID: p.ID, Title: p.Name, Tag: p.Category, Desc: describePlace(p)}
		if !stealth {
			it.ImageRef = p.ImageRef
		}
		out = append(out, it)
	}
	return out
}

func describePlace(p spec.Place) string {
	var parts []string
	if len(p.Tags) > 0 {
		parts = append(parts, strings.Join(p.Tags, ", "))
	}
	if p.OpenUntil != "" {
		parts = append(parts, "open until "+p.OpenUntil)
	}
	if len(parts) == 0 {
		return p.Address
	}
	return strings.Join(parts, "; ")
}

// composeBundle builds a bundle from tool data alone: the selected place (or
// the best match) as primary, the next place as Plan-B.
func composeBundle(req spec.SkillRequest, places []spec.Place, signals spec.ContextSignals) *spec.CuratorialBundle {
	if len(places) == 0 {
		return nil
	}
	primary := 0
	if req.Selection != nil {
		for i, p := range places {
			if p.ID == req.Selection.CandidateID {
				primary = i
				break
			}
		}
	}
	b := &spec.CuratorialBundle{
		PrimaryEnding: endingFor(places[primary], signals),
		CandidatePool: candidatesFromPlaces(places, signals.User.Stealth),
	}
	for i, p := range places {
		if i != primary {
			b.PlanB = endingFor(p, signals)
			break
		}
	}
	return b
}

func endingFor(p spec.Place, signals spec.ContextSignals) *spec.Ending {
	action := spec.ActionNavigate
	if signals.Mobility.Mode == spec.MobilityDriving {
		action = spec.ActionStartRoute
	}
	reason := p.Name
	if d := describePlace(p); d != "" {
		reason = d
	}
	return &spec.Ending{
		Title:   p.Name,
		Reason:  reason,
		Action:  action,
		Payload: &spec.ActionPayload{PlaceID: p.ID, Query: p.Name},
	}
}

func parseCandidates(text string, places []spec.Place) ([]spec.CandidateItem, error) {
	var doc struct {
		Candidates []spec.CandidateItem `json:"candidates"`
	}
	if err := json.Unmarshal([]byte(stripFence(text)), &doc); err != nil {
		return nil, err
	}
	known := make(map[string]spec.Place, len(places))
	for _, p := range places {
		known[p.ID] = p
	}
	out := make([]spec.CandidateItem, 0, len(doc.Candidates))
	for _, it := range doc.Candidates {
		p, ok := known[it.ID]
		if len(places) > 0 && !ok {
			continue
		}
		if it.ImageRef == "" {
			it.ImageRef = p.ImageRef
		}
		out = append(out, it)
	}
	return out, nil
}

func parseBundle(text string) (*spec.CuratorialBundle, error) {
	var b spec.CuratorialBundle
	if err := json.Unmarshal([]byte(stripFence(text)), &b); err != nil {
		return nil, err
	}
	if b.PrimaryEnding == nil {
		return nil, errors.New("bundle has no primaryEnding")
	}
	return &b, nil
}

// stripFence removes a surrounding ``` or ```json fence.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
