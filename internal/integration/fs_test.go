package integration

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/xingyang1991/nightfall"
	"github.com/xingyang1991/nightfall/internal/audit"
	"github.com/xingyang1991/nightfall/internal/toolbus"
	"github.com/xingyang1991/nightfall/protocol"
	"github.com/xingyang1991/nightfall/spec"
)

func TestFSSkillEndToEnd(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	t.Cleanup(cancel)

	st := mustOpenStore(t, filepath.Join(t.TempDir(), "nightfall.db"))
	s := newStack(t, st, stackConfig{skillDir: writeSkillsDir(t)})

	resp, err := s.o.Submit(ctx, "", "noodles please", walking())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Stage != spec.FlowCandidate {
		t.Fatalf("stage = %s", resp.Stage)
	}
	sid := resp.SessionID
	sess, _ := s.o.Session(sid)
	var ids []string
	for _, c := range sess.Candidates() {
		ids = append(ids, c.ID)
	}
	if strings.Join(ids, ",") != "pl_dumpling,pl_noodle_24h" {
		t.Fatalf("candidates = %v", ids)
	}

	resp, err = s.o.Select(ctx, sid, "pl_noodle_24h", walking())
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	b := sess.Bundle()
	if b.PrimaryEnding.PlaceID() != "pl_noodle_24h" || b.PlanB.PlaceID() != "pl_dumpling" {
		t.Fatalf("endings = %+v / %+v", b.PrimaryEnding, b.PlanB)
	}
	if b.PrimaryEnding.Payload.DeepLink == "" || len(b.PrimaryEnding.Payload.ArrivalChecklist) == 0 {
		t.Fatalf("primary not enriched: %+v", b.PrimaryEnding.Payload)
	}
	result, ok := protocolStore(resp.Messages).Surface(protocol.SurfaceResult)
	if !ok || result.RootID == "" {
		t.Fatalf("result not rendered")
	}

	act, err := s.o.Act(ctx, sid, nightfall.EndingPrimary, walking())
	if err != nil {
		t.Fatalf("Act: %v", err)
	}
	if diff := cmp.Diff([]protocol.Effect{protocol.OpenExternal{URL: b.PrimaryEnding.Payload.DeepLink}}, act.Effects); diff != "" {
		t.Fatalf("act effects (-want +got):\n%s", diff)
	}

	if _, err := s.o.Save(ctx, sid, walking()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	saved, err := st.Journal().Pocket(ctx, string(sid))
	if err != nil {
		t.Fatalf("Pocket: %v", err)
	}
	if len(saved) != 1 || saved[0].Title != "Lantern Noodle House" || saved[0].Action != spec.ActionNavigate {
		t.Fatalf("pocket = %+v", saved)
	}

	// The select action is persisted as one trace: skill start, tool calls,
	// skill end.
	recs, err := st.AuditTrace(ctx, resp.TraceID)
	if err != nil {
		t.Fatalf("AuditTrace: %v", err)
	}
	kinds := map[audit.Kind]int{}
	for _, r := range recs {
		kinds[r.Event.Kind()]++
		if r.SessionID != string(sid) {
			t.Fatalf("record %d in wrong session %q", r.Seq, r.SessionID)
		}
	}
	if kinds[audit.KindSkillStart] != 1 || kinds[audit.KindSkillEnd] != 1 || kinds[audit.KindToolCall] < 4 {
		t.Fatalf("persisted kinds = %v", kinds)
	}
	all, err := st.AuditSession(ctx, string(sid))
	if err != nil {
		t.Fatalf("AuditSession: %v", err)
	}
	if len(all) != s.log.Len() {
		t.Fatalf("persisted %d records, in memory %d", len(all), s.log.Len())
	}
}

func TestRecordThenReplay(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	dir := writeSkillsDir(t)
	st := mustOpenStore(t, filepath.Join(t.TempDir(), "nightfall.db"))

	run := func(s *stack) *spec.CuratorialBundle {
		t.Helper()
		resp, err := s.o.Submit(ctx, "", "noodles please", walking())
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if _, err := s.o.Select(ctx, resp.SessionID, "pl_noodle_24h", walking()); err != nil {
			t.Fatalf("Select: %v", err)
		}
		sess, _ := s.o.Session(resp.SessionID)
		return sess.Bundle()
	}

	live := run(newStack(t, st, stackConfig{mode: toolbus.ModeRecord, skillDir: dir}))
	counts, err := st.Fixtures().Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	for _, tool := range []spec.ToolName{spec.ToolPlacesSearch, spec.ToolWeatherForecast, spec.ToolMapsLink, spec.ToolMapsArrivalGlance} {
		if counts[tool] == 0 {
			t.Fatalf("no fixture recorded for %s: %v", tool, counts)
		}
	}

	replay := newStack(t, st, stackConfig{mode: toolbus.ModeReplay, skillDir: dir, dead: true})
	got := run(replay)
	if n := replay.calls.Load(); n != 0 {
		t.Fatalf("replay reached %d live handlers", n)
	}
	if diff := cmp.Diff(live, got); diff != "" {
		t.Fatalf("replayed bundle differs (-live +replay):\n%s", diff)
	}

	var replayed int
	for _, r := range replay.log.Tail(0) {
		if c, ok := r.Event.(audit.ToolCall); ok && c.Replayed {
			replayed++
		}
	}
	if replayed == 0 {
		t.Fatalf("no tool call marked as replayed")
	}
}

func TestReplayMissFallsThroughToLiveCall(t *testing.T) {
	t.Parallel()

	st := mustOpenStore(t, filepath.Join(t.TempDir(), "nightfall.db"))
	s := newStack(t, st, stackConfig{mode: toolbus.ModeReplay, skillDir: writeSkillsDir(t), dead: true})

	// Nothing was recorded, so the search goes live and fails. The skill
	// tolerates that and offers an empty page.
	resp, err := s.o.Submit(t.Context(), "", "noodles please", walking())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if s.calls.Load() == 0 {
		t.Fatalf("miss did not reach the live handler")
	}
	sess, _ := s.o.Session(resp.SessionID)
	if resp.Stage != spec.FlowCandidate || len(sess.Candidates()) != 0 {
		t.Fatalf("stage = %s, candidates = %v", resp.Stage, sess.Candidates())
	}

	_, err = s.o.Save(t.Context(), resp.SessionID, walking())
	if !errors.Is(err, spec.ErrInvalidArgument) {
		t.Fatalf("save without result: expected ErrInvalidArgument, got %v", err)
	}
}

func protocolStore(msgs []protocol.Message) *protocol.Store {
	st := protocol.NewStore()
	st.Apply(msgs...)
	return st
}
