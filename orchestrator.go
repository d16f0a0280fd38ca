package nightfall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/xingyang1991/nightfall/internal/audit"
	"github.com/xingyang1991/nightfall/internal/budget"
	"github.com/xingyang1991/nightfall/internal/catalog"
	"github.com/xingyang1991/nightfall/internal/logging"
	"github.com/xingyang1991/nightfall/internal/policy"
	"github.com/xingyang1991/nightfall/internal/router"
	"github.com/xingyang1991/nightfall/internal/session"
	"github.com/xingyang1991/nightfall/internal/skillrt"
	"github.com/xingyang1991/nightfall/internal/toolbus"
	"github.com/xingyang1991/nightfall/protocol"
	"github.com/xingyang1991/nightfall/spec"
)

// CodeSkillFallback is the violation recorded when a failed skill is
// replaced by the canned fallback bundle.
const CodeSkillFallback = "skill_fallback"

// EndingRef picks one of the two endings of the current bundle.
type EndingRef string

const (
	EndingPrimary EndingRef = "primary"
	EndingPlanB   EndingRef = "plan_b"
)

var flowSurfaces = []string{protocol.SurfaceClarify, protocol.SurfaceCandidates, protocol.SurfaceResult}

type Orchestrator struct {
	catalog  *catalog.Catalog
	hub      *toolbus.Hub
	audit    *audit.Log
	router   *router.Router
	runtime  *skillrt.Runtime
	budget   *budget.Budget
	sessions *session.Store
	logger   *slog.Logger
}

func New(cat *catalog.Catalog, hub *toolbus.Hub, log *audit.Log, opts ...Option) (*Orchestrator, error) {
	if cat == nil || hub == nil || log == nil {
		return nil, fmt.Errorf("%w: catalog, hub and audit log are required", spec.ErrInvalidArgument)
	}
	o := defaultOptions()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	chain := policy.NewChain(o.limits, log)
	rt, err := skillrt.New(cat, hub, chain, log, skillrt.WithClock(o.now), skillrt.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		catalog: cat,
		hub:     hub,
		audit:   log,
		router:  router.New(o.routerConfig, o.rules),
		runtime: rt,
		budget:  budget.New(o.intervals, log, budget.WithClock(o.now)),
		sessions: session.NewStore(session.StoreConfig{
			TTL:         o.sessionTTL,
			MaxSessions: o.maxSessions,
			Now:         o.now,
		}),
		logger: o.logger,
	}, nil
}

func (o *Orchestrator) Catalog() *catalog.Catalog { return o.catalog }
func (o *Orchestrator) Audit() *audit.Log         { return o.audit }
func (o *Orchestrator) Router() *router.Router    { return o.router }

// Session returns the live session for id.
func (o *Orchestrator) Session(id spec.SessionID) (*spec.Session, bool) {
	return o.sessions.Get(id)
}

// begin locks the session for one action and tags ctx with a new trace id.
// Only Submit, Reset and Whisper may create a session.
func (o *Orchestrator) begin(ctx context.Context, sid spec.SessionID, create bool) (context.Context, *spec.Session, *Response, error) {
	var sess *spec.Session
	if create {
		sess, _ = o.sessions.GetOrCreate(sid)
	} else {
		var ok bool
		if sess, ok = o.sessions.Get(sid); !ok {
			return ctx, nil, nil, fmt.Errorf("%w: %q", spec.ErrSessionNotFound, sid)
		}
	}
	sess.Begin()
	traceID := uuid.Must(uuid.NewV7()).String()
	ctx = audit.WithTrace(ctx, audit.Trace{TraceID: traceID, SessionID: string(sess.ID())})
	return ctx, sess, &Response{SessionID: sess.ID(), TraceID: traceID}, nil
}

func (o *Orchestrator) end(sess *spec.Session, resp *Response) *Response {
	resp.Stage = sess.Stage()
	sess.End()
	return resp
}

// Submit routes utterance and runs the chosen skill, or asks the user to
// pick when the router is unsure. An empty sid starts a new session.
func (o *Orchestrator) Submit(ctx context.Context, sid spec.SessionID, utterance string, signals spec.ContextSignals) (*Response, error) {
	u := strings.TrimSpace(utterance)
	if u == "" {
		return nil, fmt.Errorf("%w: empty utterance", spec.ErrInvalidArgument)
	}
	ctx, sess, resp, err := o.begin(ctx, sid, true)
	if err != nil {
		return nil, err
	}
	signals = signals.Normalize()

	sess.SetLastUtterance(u)
	sess.SetChoices(nil)
	sess.ResetVariant()
	sess.ClearPool()
	// An explicit submit is always shown.
	for _, s := range flowSurfaces {
		o.budget.Reset(sess, s)
	}

	switch d := o.router.Route(u, signals, o.catalog.Manifests()).(type) {
	case router.Clarify:
		logging.FromContext(ctx, o.logger).Debug("clarifying", "choices", len(d.Choices), "confidence", d.Confidence)
		sess.SetChoices(d.ChoiceMap)
		o.transition(sess, resp, spec.FlowClarify)
		var out outbox
		out.add(protocol.SurfaceClarify, clarifyMessages(d)...)
		out.flush(ctx, o, sess, resp)
	case router.Route:
		logging.FromContext(ctx, o.logger).Info("routed", "skill", d.SkillID, "reason", d.Reason, "confidence", d.Confidence)
		err = o.enter(ctx, sess, resp, d.SkillID, signals, false)
	}
	return o.end(sess, resp), err
}

// Choose resolves a clarify label through the stored label map.
func (o *Orchestrator) Choose(ctx context.Context, sid spec.SessionID, label string, signals spec.ContextSignals) (*Response, error) {
	ctx, sess, resp, err := o.begin(ctx, sid, false)
	if err != nil {
		return nil, err
	}
	skillID, ok := sess.Choices()[label]
	if !ok {
		return o.end(sess, resp), fmt.Errorf("%w: no pending choice %q", spec.ErrInvalidArgument, label)
	}
	sess.SetChoices(nil)
	err = o.enter(ctx, sess, resp, skillID, signals.Normalize(), false)
	return o.end(sess, resp), err
}

// Select finalizes the last skill with one of its candidates.
func (o *Orchestrator) Select(ctx context.Context, sid spec.SessionID, candidateID string, signals spec.ContextSignals) (*Response, error) {
	ctx, sess, resp, err := o.begin(ctx, sid, false)
	if err != nil {
		return nil, err
	}
	skillID := sess.LastSkillID()
	if skillID == "" {
		return o.end(sess, resp), fmt.Errorf("%w: no active skill", spec.ErrInvalidArgument)
	}
	if !slices.ContainsFunc(sess.Candidates(), func(c spec.CandidateItem) bool { return c.ID == candidateID }) {
		return o.end(sess, resp), fmt.Errorf("%w: unknown candidate %q", spec.ErrInvalidArgument, candidateID)
	}
	req := spec.SkillRequest{
		Utterance: sess.LastUtterance(),
		Selection: &spec.Selection{CandidateID: candidateID},
	}
	err = o.finalize(ctx, sess, resp, skillID, req, signals.Normalize())
	return o.end(sess, resp), err
}

// Refresh re-runs the last skill in candidate mode with the next variant.
func (o *Orchestrator) Refresh(ctx context.Context, sid spec.SessionID, signals spec.ContextSignals) (*Response, error) {
	ctx, sess, resp, err := o.begin(ctx, sid, false)
	if err != nil {
		return nil, err
	}
	skillID := sess.LastSkillID()
	if skillID == "" {
		return o.end(sess, resp), fmt.Errorf("%w: no active skill", spec.ErrInvalidArgument)
	}
	sess.NextVariant()
	err = o.enter(ctx, sess, resp, skillID, signals.Normalize(), true)
	return o.end(sess, resp), err
}

// Reset returns the session to the order stage, leaving focus and closing
// the whispers panel if either is active. Rate-limit history and push
// bookkeeping survive.
func (o *Orchestrator) Reset(ctx context.Context, sid spec.SessionID) (*Response, error) {
	_, sess, resp, err := o.begin(ctx, sid, true)
	if err != nil {
		return nil, err
	}
	sess.ResetFlow()
	if sess.Focused() {
		sess.SetFocused(false)
		resp.effect(protocol.ExitFocus{})
	}
	if sess.WhispersOpen() {
		sess.SetWhispersOpen(false)
		resp.effect(protocol.CloseWhispers{})
	}
	for _, s := range append(slices.Clone(flowSurfaces), protocol.SurfaceNotice) {
		resp.Messages = append(resp.Messages, protocol.DeleteSurface{Surface: s})
	}
	resp.Messages = append(resp.Messages, orderMessages()...)
	return o.end(sess, resp), nil
}

// Save appends the current primary ending to the pocket and shows the
// pocket surface right away.
func (o *Orchestrator) Save(ctx context.Context, sid spec.SessionID, signals spec.ContextSignals) (*Response, error) {
	ctx, sess, resp, err := o.begin(ctx, sid, false)
	if err != nil {
		return nil, err
	}
	b := sess.Bundle()
	if b == nil || b.PrimaryEnding == nil {
		return o.end(sess, resp), fmt.Errorf("%w: nothing to save", spec.ErrInvalidArgument)
	}
	e := b.PrimaryEnding
	args := spec.PocketAppendArgs{SessionID: string(sess.ID()), Title: e.Title, Action: e.Action}
	if e.Payload != nil {
		args.Query = e.Payload.Query
	}
	bus := o.hub.Scope([]spec.ToolName{spec.ToolPocketAppend}, sess).Owned(hostOwner)
	res, err := spec.CallTool[spec.PocketAppendArgs, spec.AppendResult](ctx, bus, spec.ToolPocketAppend, args)
	if err != nil {
		logging.FromContext(ctx, o.logger).Warn("pocket append failed", "error", err)
		o.notice(ctx, sess, resp, NoticeTryAgain, "Could not save that. Try again.")
		return o.end(sess, resp), fmt.Errorf("%w: %w", spec.ErrTryAgain, err)
	}

	o.budget.Reset(sess, protocol.SurfacePocket)
	var out outbox
	out.add(protocol.SurfacePocket, pocketMessages(res.Total, e.Title)...)
	out.flush(ctx, o, sess, resp)
	if signals.User.Stealth {
		resp.effect(protocol.StyleHint{Hint: stealthHint})
	}
	return o.end(sess, resp), nil
}

// Whisper opens the whispers panel when text is blank; otherwise it stores
// text and closes the panel.
func (o *Orchestrator) Whisper(ctx context.Context, sid spec.SessionID, text string) (*Response, error) {
	ctx, sess, resp, err := o.begin(ctx, sid, true)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		sess.SetWhispersOpen(true)
		resp.effect(protocol.OpenWhispers{})
		return o.end(sess, resp), nil
	}
	bus := o.hub.Scope([]spec.ToolName{spec.ToolWhispersAppend}, sess).Owned(hostOwner)
	args := spec.WhisperAppendArgs{SessionID: string(sess.ID()), Text: text}
	if _, err := spec.CallTool[spec.WhisperAppendArgs, spec.AppendResult](ctx, bus, spec.ToolWhispersAppend, args); err != nil {
		logging.FromContext(ctx, o.logger).Warn("whisper append failed", "error", err)
		o.notice(ctx, sess, resp, NoticeTryAgain, "That whisper did not stick. Try again.")
		return o.end(sess, resp), fmt.Errorf("%w: %w", spec.ErrTryAgain, err)
	}
	sess.SetWhispersOpen(false)
	resp.effect(protocol.CloseWhispers{})
	return o.end(sess, resp), nil
}

// Act turns one ending of the current bundle into host effects.
func (o *Orchestrator) Act(ctx context.Context, sid spec.SessionID, which EndingRef, signals spec.ContextSignals) (*Response, error) {
	ctx, sess, resp, err := o.begin(ctx, sid, false)
	if err != nil {
		return nil, err
	}
	b := sess.Bundle()
	if b == nil {
		return o.end(sess, resp), fmt.Errorf("%w: no result to act on", spec.ErrInvalidArgument)
	}
	var e *spec.Ending
	switch which {
	case EndingPrimary:
		e = b.PrimaryEnding
	case EndingPlanB:
		e = b.PlanB
	default:
		return o.end(sess, resp), fmt.Errorf("%w: unknown ending %q", spec.ErrInvalidArgument, which)
	}
	if e == nil {
		return o.end(sess, resp), fmt.Errorf("%w: ending %q missing", spec.ErrInvalidArgument, which)
	}
	p := spec.ActionPayload{}
	if e.Payload != nil {
		p = *e.Payload
	}
	log := logging.FromContext(ctx, o.logger).With("ending", which, "action", e.Action)

	switch e.Action {
	case spec.ActionNavigate, spec.ActionStartRoute:
		bus := o.hub.Scope([]spec.ToolName{spec.ToolMapsLink, spec.ToolMapsSendToCar}, sess).Owned(hostOwner)
		if p.Query == "" && p.PlaceID == "" {
			p.Query = e.Title
		}
		if e.Action == spec.ActionStartRoute && signals.Mobility.Mode == spec.MobilityDriving {
			args := spec.SendToCarArgs{PlaceID: p.PlaceID, Query: p.Query}
			if _, err := spec.CallTool[spec.SendToCarArgs, spec.SendToCarResult](ctx, bus, spec.ToolMapsSendToCar, args); err != nil {
				log.Warn("send to car failed", "error", err)
			}
		}
		url := p.DeepLink
		if url == "" {
			args := spec.MapsLinkArgs{PlaceID: p.PlaceID, Query: p.Query, Mode: string(signals.Mobility.Mode)}
			link, err := spec.CallTool[spec.MapsLinkArgs, spec.MapsLinkResult](ctx, bus, spec.ToolMapsLink, args)
			if err != nil {
				log.Warn("deep link failed", "error", err)
				o.notice(ctx, sess, resp, NoticeTryAgain, "Maps is not answering. Try again.")
				return o.end(sess, resp), fmt.Errorf("%w: %w", spec.ErrTryAgain, err)
			}
			url = link.URL
		}
		resp.effect(protocol.OpenExternal{URL: url})
	case spec.ActionPlay:
		channel := p.Channel
		if channel == "" {
			channel = "ambient"
		}
		resp.effect(protocol.SetChannel{Channel: channel})
	case spec.ActionStartFocus:
		sess.SetFocused(true)
		resp.effect(protocol.EnterFocus{DurationMin: p.DurationMin})
	default:
		return o.end(sess, resp), fmt.Errorf("%w: ending has no action", spec.ErrInvalidArgument)
	}
	log.Info("ending acted on")
	return o.end(sess, resp), nil
}

// enter runs skillID from the top: its candidate stage when it has one,
// otherwise straight to the result.
func (o *Orchestrator) enter(ctx context.Context, sess *spec.Session, resp *Response, skillID string, signals spec.ContextSignals, force bool) error {
	sk, ok := o.catalog.Get(skillID)
	if !ok && skillID == o.router.Config().FallbackID {
		logging.FromContext(ctx, o.logger).Info("fallback skill not registered, showing canned bundle", "skill", skillID)
		sess.ClearPool()
		sess.SetLastSkillID("")
		o.present(ctx, sess, resp, spec.SkillResult{Output: spec.BundleOutput{Bundle: policy.CannedFallback(signals)}}, signals)
		return nil
	}
	if !ok {
		return o.fail(ctx, sess, resp, skillID, signals, fmt.Errorf("%w: %q", spec.ErrSkillNotFound, skillID))
	}
	m := sk.Manifest()
	if sess.LastSkillID() != skillID {
		sess.ClearPool()
	}
	sess.SetLastSkillID(skillID)

	constraints := &spec.Constraints{Variant: sess.Variant(), ForceCandidates: force}
	req := spec.SkillRequest{
		Intent:      firstIntent(m),
		Utterance:   sess.LastUtterance(),
		Constraints: constraints,
	}
	if !m.HasStage(spec.StageCandidate) {
		return o.finalize(ctx, sess, resp, skillID, req, signals)
	}
	req.Stage = spec.StageCandidate
	res, err := o.runtime.Invoke(ctx, skillID, req, spec.RunEnv{Context: signals, Session: sess})
	if err != nil {
		return o.fail(ctx, sess, resp, skillID, signals, err)
	}
	o.present(ctx, sess, resp, res, signals)
	return nil
}

func (o *Orchestrator) finalize(ctx context.Context, sess *spec.Session, resp *Response, skillID string, req spec.SkillRequest, signals spec.ContextSignals) error {
	sk, ok := o.catalog.Get(skillID)
	if !ok {
		return o.fail(ctx, sess, resp, skillID, signals, fmt.Errorf("%w: %q", spec.ErrSkillNotFound, skillID))
	}
	m := sk.Manifest()
	req.Stage = spec.StageFinalize
	if !m.HasStage(spec.StageFinalize) && m.HasStage(spec.StageSystem) {
		req.Stage = spec.StageSystem
	}
	if req.Intent == "" {
		req.Intent = firstIntent(m)
	}
	res, err := o.runtime.Invoke(ctx, skillID, req, spec.RunEnv{Context: signals, Session: sess})
	if err != nil {
		return o.fail(ctx, sess, resp, skillID, signals, err)
	}
	o.present(ctx, sess, resp, res, signals)
	return nil
}

// present turns a policy-checked skill result into messages and effects.
func (o *Orchestrator) present(ctx context.Context, sess *spec.Session, resp *Response, res spec.SkillResult, signals spec.ContextSignals) {
	stealth := signals.User.Stealth
	var out outbox

	switch v := res.Output.(type) {
	case spec.CandidatesOutput:
		sess.SetCandidates(v.Items)
		o.transition(sess, resp, spec.FlowCandidate)
		out.add(protocol.SurfaceCandidates, candidateMessages(v.Items, sess.Variant(), stealth)...)
	case spec.BundleOutput:
		o.showBundle(ctx, sess, resp, &out, v.Bundle, signals)
	}
	for _, p := range res.Patches {
		out.add(p.Surface, p.Messages...)
	}
	out.flush(ctx, o, sess, resp)

	if res.UI != nil {
		if res.UI.StyleHint != "" {
			resp.effect(protocol.StyleHint{Hint: res.UI.StyleHint})
		}
		if res.UI.Channel != "" {
			resp.effect(protocol.SetChannel{Channel: res.UI.Channel})
		}
	}
	if stealth {
		resp.effect(protocol.StyleHint{Hint: stealthHint})
	}
}

func (o *Orchestrator) showBundle(ctx context.Context, sess *spec.Session, resp *Response, out *outbox, b *spec.CuratorialBundle, signals spec.ContextSignals) {
	if b == nil {
		b = policy.CannedFallback(signals)
	}
	b = b.Clone()
	o.enrich(ctx, sess, b, signals)
	if signals.User.Stealth {
		stripMedia(b)
	}
	sess.SetBundle(b)
	o.transition(sess, resp, spec.FlowResult)
	out.add(protocol.SurfaceResult, resultMessages(b)...)
	if len(b.AmbientTokens) > 0 {
		out.add(protocol.SurfaceAmbient, ambientMessages(b.AmbientTokens)...)
	}
}

// fail maps a skill error onto what the user sees. Rate limits become a
// notice, missing skills and denied capabilities a notice plus ErrTryAgain,
// and anything else the canned fallback result.
func (o *Orchestrator) fail(ctx context.Context, sess *spec.Session, resp *Response, skillID string, signals spec.ContextSignals, err error) error {
	log := logging.FromContext(ctx, o.logger).With("skill", skillID)
	switch {
	case errors.Is(err, spec.ErrRateLimited):
		log.Info("skill rate limited", "error", err)
		o.notice(ctx, sess, resp, NoticeRateLimited, "Easy. Give it a minute and try again.")
		return nil
	case errors.Is(err, spec.ErrSkillNotFound), errors.Is(err, spec.ErrCapabilityDenied):
		log.Warn("skill unavailable", "error", err)
		o.notice(ctx, sess, resp, NoticeTryAgain, "That did not work. Try again.")
		return fmt.Errorf("%w: %w", spec.ErrTryAgain, err)
	default:
		log.Warn("skill failed, showing fallback", "error", err)
		o.audit.Emit(ctx, audit.PolicyViolation{Code: CodeSkillFallback, Detail: err.Error(), SkillID: skillID})
		o.present(ctx, sess, resp, spec.SkillResult{Output: spec.BundleOutput{Bundle: policy.CannedFallback(signals)}}, signals)
		return nil
	}
}

func (o *Orchestrator) notice(ctx context.Context, sess *spec.Session, resp *Response, code, text string) {
	o.budget.Reset(sess, protocol.SurfaceNotice)
	var out outbox
	out.add(protocol.SurfaceNotice, noticeMessages(code, text)...)
	out.flush(ctx, o, sess, resp)
}

// transition moves the session to next and deletes the surface of the stage
// it leaves.
func (o *Orchestrator) transition(sess *spec.Session, resp *Response, next spec.FlowStage) {
	prev := sess.Stage()
	if prev != next && prev != spec.FlowOrder {
		resp.Messages = append(resp.Messages, protocol.DeleteSurface{Surface: surfaceFor(prev)})
	}
	sess.SetStage(next)
}

// outbox groups messages per surface so each surface is checked against the
// channel budget once per action.
type outbox struct {
	order []string
	msgs  map[string][]protocol.Message
}

func (b *outbox) add(surface string, msgs ...protocol.Message) {
	if len(msgs) == 0 {
		return
	}
	if b.msgs == nil {
		b.msgs = map[string][]protocol.Message{}
	}
	if _, ok := b.msgs[surface]; !ok {
		b.order = append(b.order, surface)
	}
	b.msgs[surface] = append(b.msgs[surface], msgs...)
}

func (b *outbox) flush(ctx context.Context, o *Orchestrator, sess *spec.Session, resp *Response) {
	for _, s := range b.order {
		if !o.budget.Allow(ctx, sess, s) {
			logging.FromContext(ctx, o.logger).Debug("surface push dropped by budget", "surface", s)
			continue
		}
		resp.Messages = append(resp.Messages, b.msgs[s]...)
	}
	b.order, b.msgs = nil, nil
}

func firstIntent(m spec.SkillManifest) string {
	if len(m.Intents) == 0 {
		return ""
	}
	return m.Intents[0]
}

// SessionCount reports how many sessions are live.
func (o *Orchestrator) SessionCount() int { return o.sessions.Len() }

// NewSessionID mints a session id for hosts that want one up front.
func NewSessionID() spec.SessionID { return session.NewSessionID() }
