package policy

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/xingyang1991/nightfall/internal/audit"
	"github.com/xingyang1991/nightfall/spec"
)

func mustChain(t *testing.T) (*Chain, *audit.Log) {
	t.Helper()
	log, err := audit.New(500)
	if err != nil {
		t.Fatalf("audit.New: %v", err)
	}
	return NewChain(DefaultLimits(), log), log
}

func signals() spec.ContextSignals {
	return spec.NewContextSignals(time.Date(2026, 5, 1, 23, 40, 0, 0, time.UTC),
		spec.Location{Lat: 31.23, Lng: 121.47}, spec.Mobility{}, spec.UserState{})
}

func pool() []spec.CandidateItem {
	return []spec.CandidateItem{
		{ID: "pl_a", Title: "Night Market", Tag: "unknown"},
		{ID: "pl_b", Title: "Harbor Lobby", Tag: "hotel", Desc: "quiet and stable"},
		{ID: "pl_c", Title: "Late Noodles", Tag: "late"},
	}
}

func longList(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("item %d", i)
	}
	return out
}

func countEvents[E audit.Event](log *audit.Log) int {
	n := 0
	for _, r := range log.Tail(0) {
		if _, ok := r.Event.(E); ok {
			n++
		}
	}
	return n
}

func TestApplyInvariants(t *testing.T) {
	tests := []struct {
		name   string
		bundle *spec.CuratorialBundle
	}{
		{name: "nil bundle"},
		{name: "missing plan b", bundle: &spec.CuratorialBundle{PrimaryEnding: &spec.Ending{Title: "x"}}},
		{
			name: "oversized fields",
			bundle: &spec.CuratorialBundle{
				PrimaryEnding: &spec.Ending{
					Title:     strings.Repeat("很", 40),
					Reason:    strings.Repeat("r", 300),
					Checklist: longList(9),
					RiskFlags: longList(4),
					Action:    spec.ActionPlay,
				},
				PlanB:         &spec.Ending{Title: "b", Checklist: longList(7), RiskFlags: longList(3)},
				AmbientTokens: longList(10),
				MediaPack:     &spec.MediaPack{Gallery: longList(12)},
			},
		},
		{
			name: "unknown action",
			bundle: &spec.CuratorialBundle{
				PrimaryEnding: &spec.Ending{Title: "p", Action: "TELEPORT"},
				PlanB:         &spec.Ending{Title: "b", Action: "FLY"},
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := mustChain(t)
			out := c.Apply(t.Context(), tc.bundle, pool(), signals())
			assertCompliant(t, out, DefaultLimits())
		})
	}
}

func assertCompliant(t *testing.T, b *spec.CuratorialBundle, l Limits) {
	t.Helper()
	if b == nil || b.PrimaryEnding == nil || b.PlanB == nil {
		t.Fatalf("incomplete bundle: %+v", b)
	}
	for name, e := range map[string]*spec.Ending{"primary": b.PrimaryEnding, "planB": b.PlanB} {
		if !e.Action.Valid() {
			t.Errorf("%s action = %q", name, e.Action)
		}
		if e.ActionLabel == "" || e.Title == "" || e.Reason == "" || len(e.Checklist) == 0 {
			t.Errorf("%s has empty fields: %+v", name, e)
		}
		if len(e.Checklist) > l.Checklist || len(e.RiskFlags) > l.RiskFlags {
			t.Errorf("%s lists too long: %d/%d", name, len(e.Checklist), len(e.RiskFlags))
		}
		if utf8.RuneCountInString(e.Title) > l.Title || utf8.RuneCountInString(e.Reason) > l.Reason {
			t.Errorf("%s text too long", name)
		}
		if e.Action.NeedsQuery() && (e.Payload == nil || e.Payload.Query == "") {
			t.Errorf("%s %s without query", name, e.Action)
		}
	}
	if len(b.AmbientTokens) == 0 || len(b.AmbientTokens) > l.AmbientTokens {
		t.Errorf("ambient tokens = %v", b.AmbientTokens)
	}
	if b.MediaPack != nil && len(b.MediaPack.Gallery) > l.Gallery {
		t.Errorf("gallery = %d", len(b.MediaPack.Gallery))
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	c, log := mustChain(t)
	in := &spec.CuratorialBundle{
		PrimaryEnding: &spec.Ending{
			Title:     "Late Noodles but with a very long title",
			Reason:    "warm",
			Checklist: longList(8),
			Action:    spec.ActionNavigate,
			Payload:   &spec.ActionPayload{PlaceID: "pl_c"},
		},
		PlanB: &spec.Ending{Title: "Same place", Payload: &spec.ActionPayload{PlaceID: "pl_c"}},
	}
	once := c.Apply(t.Context(), in, pool(), signals())
	n := log.Len()
	twice := c.Apply(t.Context(), once, pool(), signals())
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("second pass changed bundle:\n%+v\n%+v", once, twice)
	}
	if log.Len() != n {
		t.Fatalf("second pass emitted %d audit events", log.Len()-n)
	}
	if in.PlanB.Action != "" {
		t.Fatal("Apply mutated its input")
	}
}

func TestPlanBActionCopiedFromPrimary(t *testing.T) {
	c, log := mustChain(t)
	b := &spec.CuratorialBundle{
		PrimaryEnding: &spec.Ending{Title: "p", Action: spec.ActionPlay, ActionLabel: "Listen", Payload: &spec.ActionPayload{Channel: "lofi"}},
		PlanB:         &spec.Ending{Title: "b"},
	}
	c.ClipBundle(t.Context(), b)
	if b.PlanB.Action != spec.ActionPlay || b.PlanB.ActionLabel != "Listen" {
		t.Fatalf("plan b = %+v", b.PlanB)
	}
	if got := countEvents[audit.PolicyViolation](log); got != 1 {
		t.Fatalf("violations = %d, want 1", got)
	}
}

func TestHardenPlanB(t *testing.T) {
	tests := []struct {
		name      string
		planB     *spec.Ending
		pool      []spec.CandidateItem
		bundlePol []spec.CandidateItem
		wantPlace string
		wantClip  bool
	}{
		{
			name:      "same place is replaced by most stable",
			planB:     &spec.Ending{Title: "again", Payload: &spec.ActionPayload{PlaceID: "pl_c"}},
			pool:      pool(),
			wantPlace: "pl_b",
			wantClip:  true,
		},
		{
			name:      "no place id is replaced",
			planB:     &spec.Ending{Title: "vague", Action: spec.ActionPlay},
			pool:      pool(),
			wantPlace: "pl_b",
			wantClip:  true,
		},
		{
			name:      "distinct place is kept",
			planB:     &spec.Ending{Title: "other", Payload: &spec.ActionPayload{PlaceID: "pl_a"}},
			pool:      pool(),
			wantPlace: "pl_a",
		},
		{
			name:      "bundle pool used when session pool empty",
			planB:     &spec.Ending{Title: "again"},
			bundlePol: []spec.CandidateItem{{ID: "pl_z", Title: "24h Cafe", Tag: "late"}},
			wantPlace: "pl_z",
			wantClip:  true,
		},
		{
			name:      "no candidates leaves plan b",
			planB:     &spec.Ending{Title: "keep"},
			wantPlace: "",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, log := mustChain(t)
			b := &spec.CuratorialBundle{
				PrimaryEnding: &spec.Ending{Title: "Late Noodles", Payload: &spec.ActionPayload{PlaceID: "pl_c"}},
				PlanB:         tc.planB,
				CandidatePool: tc.bundlePol,
			}
			c.HardenPlanB(t.Context(), b, tc.pool)
			if got := b.PlanB.PlaceID(); got != tc.wantPlace {
				t.Fatalf("plan b place = %q, want %q", got, tc.wantPlace)
			}
			if tc.wantClip && b.PlanB.Action != spec.ActionNavigate {
				t.Fatalf("hardened action = %q", b.PlanB.Action)
			}
			if got := countEvents[audit.PolicyClip](log) == 1; got != tc.wantClip {
				t.Fatalf("clip audited = %v, want %v", got, tc.wantClip)
			}
		})
	}
}

func TestStabilityScore(t *testing.T) {
	tests := []struct {
		item spec.CandidateItem
		want int
	}{
		{spec.CandidateItem{Title: "Hotel Lobby"}, 3},
		{spec.CandidateItem{Title: "Late quiet bar"}, 3},
		{spec.CandidateItem{Title: "酒店大堂", Desc: "深夜 安静"}, 6},
		{spec.CandidateItem{Title: "Pop-up", Tag: "unknown"}, -1},
	}
	for _, tc := range tests {
		if got := StabilityScore(tc.item); got != tc.want {
			t.Errorf("StabilityScore(%q) = %d, want %d", tc.item.Title, got, tc.want)
		}
	}
}

func TestLintFallback(t *testing.T) {
	c, log := mustChain(t)
	low := signals()
	low.User.Energy = spec.EnergyLow

	out, fellBack := c.Lint(t.Context(), &spec.CuratorialBundle{PlanB: &spec.Ending{Title: "b"}}, low)
	if !fellBack {
		t.Fatal("expected fallback")
	}
	if out.PrimaryEnding.Action != spec.ActionStartFocus {
		t.Fatalf("primary action = %q", out.PrimaryEnding.Action)
	}
	if got := countEvents[audit.PolicyViolation](log); got != 1 {
		t.Fatalf("violations = %d, want 1", got)
	}
	assertCompliant(t, out, DefaultLimits())

	drive := signals()
	drive.Mobility.Mode = spec.MobilityDriving
	out, _ = c.Lint(t.Context(), nil, drive)
	if out.PrimaryEnding.Action != spec.ActionStartRoute {
		t.Fatalf("driving fallback action = %q", out.PrimaryEnding.Action)
	}
	if out.AmbientTokens[0] != string(spec.BandLate) {
		t.Fatalf("ambient tokens = %v", out.AmbientTokens)
	}
}

func TestLintDefaultsQueryToTitle(t *testing.T) {
	c, _ := mustChain(t)
	out, fellBack := c.Lint(t.Context(), &spec.CuratorialBundle{
		PrimaryEnding: &spec.Ending{Title: "Tea House", Action: spec.ActionStartRoute},
		PlanB:         &spec.Ending{Title: "Lobby", Action: spec.ActionNavigate, Payload: &spec.ActionPayload{PlaceID: "x"}},
	}, signals())
	if fellBack {
		t.Fatal("unexpected fallback")
	}
	if out.PrimaryEnding.Payload.Query != "Tea House" || out.PlanB.Payload.Query != "Lobby" {
		t.Fatalf("queries = %q / %q", out.PrimaryEnding.Payload.Query, out.PlanB.Payload.Query)
	}
	if out.PrimaryEnding.ActionLabel != "Start route" {
		t.Fatalf("label = %q", out.PrimaryEnding.ActionLabel)
	}
}

func TestClipCandidates(t *testing.T) {
	c, _ := mustChain(t)
	items := []spec.CandidateItem{
		{ID: " a ", Title: strings.Repeat("t", 40), Tag: "a very long tag text", Desc: strings.Repeat("d", 100)},
		{ID: "a", Title: "dup"},
		{ID: "", Title: "no id"},
	}
	for i := range 25 {
		items = append(items, spec.CandidateItem{ID: fmt.Sprintf("x%d", i), Title: "ok"})
	}
	out := c.ClipCandidates(t.Context(), items)
	if len(out) != 18 {
		t.Fatalf("len = %d, want 18", len(out))
	}
	first := out[0]
	if first.ID != "a" || len(first.Title) != 24 || len(first.Tag) > 12 || len(first.Desc) != 80 {
		t.Fatalf("first = %+v", first)
	}
	for _, it := range out[1:] {
		if it.ID == "a" {
			t.Fatal("duplicate id kept")
		}
	}
}

func TestClipText(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"  hi  ", 10, "hi"},
		{"深夜食堂营业中", 4, "深夜食堂"},
		{"ab cd", 3, "ab"},
		{"abc", 0, "abc"},
	}
	for _, tc := range tests {
		got := ClipText(tc.in, tc.n)
		if got != tc.want {
			t.Errorf("ClipText(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
		if again := ClipText(got, tc.n); again != got {
			t.Errorf("ClipText not idempotent: %q -> %q", got, again)
		}
	}
}
