package toolbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/xingyang1991/nightfall/internal/audit"
	"github.com/xingyang1991/nightfall/spec"
)

func TestCallDeniedNeverReachesHandler(t *testing.T) {
	s := placesHandler()
	h, log := mustHub(t, WithHandler(spec.ToolPlacesSearch, s))
	bus := h.Scope([]spec.ToolName{spec.ToolWeatherForecast}, nil).Owned("late_bite")

	_, err := spec.CallTool[spec.PlacesSearchArgs, spec.PlacesSearchResult](
		t.Context(), bus, spec.ToolPlacesSearch, spec.PlacesSearchArgs{Query: "noodles"})
	if !errors.Is(err, spec.ErrCapabilityDenied) {
		t.Fatalf("err = %v, want ErrCapabilityDenied", err)
	}
	if n := s.calls.Load(); n != 0 {
		t.Fatalf("handler invoked %d times", n)
	}
	v := eventsOf[audit.PolicyViolation](log)
	if len(v) != 1 || v[0].Code != "capability_denied" || v[0].SkillID != "late_bite" {
		t.Fatalf("violations = %+v", v)
	}
	if calls := eventsOf[audit.ToolCall](log); len(calls) != 0 {
		t.Fatalf("unexpected tool_call events: %+v", calls)
	}
}

func TestCallDecodesAndCachesPlaces(t *testing.T) {
	h, log := mustHub(t, WithConfig(fastConfig()), WithHandler(spec.ToolPlacesSearch, placesHandler()))
	sess := spec.NewSession("s1", time.Now())
	bus := h.Scope([]spec.ToolName{spec.ToolPlacesSearch}, sess)

	res, err := spec.CallTool[spec.PlacesSearchArgs, spec.PlacesSearchResult](
		t.Context(), bus, spec.ToolPlacesSearch, spec.PlacesSearchArgs{Query: "ramen"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(res.Places) != 2 || res.Places[0].Name != "ramen one" {
		t.Fatalf("result = %+v", res)
	}
	if got := sess.LastPlaces(); len(got) != 2 || got[1].ID != "p2" {
		t.Fatalf("LastPlaces = %+v", got)
	}
	calls := eventsOf[audit.ToolCall](log)
	if len(calls) != 1 || !calls[0].OK || calls[0].Attempts != 1 || calls[0].Replayed {
		t.Fatalf("tool_call events = %+v", calls)
	}
}

func TestRetryPolicy(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantCalls    int32
		wantSentinel error
	}{
		{"transient is retried", errors.New("reset by peer"), 3, spec.ErrUpstreamUnavailable},
		{"bad args are not retried", spec.ErrInvalidArgument, 1, spec.ErrInvalidArgument},
		{"capability errors are not retried", spec.ErrCapabilityDenied, 1, spec.ErrCapabilityDenied},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := &spy{fn: func(context.Context, json.RawMessage) (json.RawMessage, error) { return nil, tc.err }}
			cfg := fastConfig()
			cfg.MaxAttempts = 3
			cfg.Backoff = time.Millisecond
			cfg.Breaker.FailureThreshold = 10
			h, log := mustHub(t, WithConfig(cfg), WithHandler(spec.ToolWeatherForecast, s))
			bus := h.Scope([]spec.ToolName{spec.ToolWeatherForecast}, nil)

			err := bus.Call(t.Context(), spec.ToolWeatherForecast, spec.WeatherArgs{Lat: 1, Lng: 2}, nil)
			if !errors.Is(err, tc.wantSentinel) {
				t.Fatalf("err = %v, want %v", err, tc.wantSentinel)
			}
			if got := s.calls.Load(); got != tc.wantCalls {
				t.Fatalf("calls = %d, want %d", got, tc.wantCalls)
			}
			calls := eventsOf[audit.ToolCall](log)
			if len(calls) != 1 || calls[0].OK || int32(calls[0].Attempts) != tc.wantCalls {
				t.Fatalf("tool_call events = %+v", calls)
			}
		})
	}
}

func TestRetryRecovers(t *testing.T) {
	var n int
	s := &spy{fn: func(context.Context, json.RawMessage) (json.RawMessage, error) {
		n++
		if n == 1 {
			return nil, errors.New("flaky")
		}
		return json.Marshal(spec.MapsLinkResult{URL: "https://maps.example/p1"})
	}}
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	h, log := mustHub(t, WithConfig(cfg), WithHandler(spec.ToolMapsLink, s))
	bus := h.Scope([]spec.ToolName{spec.ToolMapsLink}, nil)

	res, err := spec.CallTool[spec.MapsLinkArgs, spec.MapsLinkResult](t.Context(), bus, spec.ToolMapsLink, spec.MapsLinkArgs{PlaceID: "p1"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.URL != "https://maps.example/p1" {
		t.Fatalf("URL = %q", res.URL)
	}
	calls := eventsOf[audit.ToolCall](log)
	if len(calls) != 1 || !calls[0].OK || calls[0].Attempts != 2 {
		t.Fatalf("tool_call events = %+v", calls)
	}
}

func TestTimeoutLeaksNothing(t *testing.T) {
	s := &spy{fn: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	cfg := fastConfig()
	cfg.Timeout = 20 * time.Millisecond
	cfg.MaxAttempts = 2
	h, _ := mustHub(t, WithConfig(cfg), WithHandler(spec.ToolWeatherForecast, s))
	bus := h.Scope([]spec.ToolName{spec.ToolWeatherForecast}, nil)

	err := bus.Call(t.Context(), spec.ToolWeatherForecast, spec.WeatherArgs{}, nil)
	if !errors.Is(err, spec.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}
	if got := s.calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestParentCancelNotRetried(t *testing.T) {
	s := failing()
	cfg := fastConfig()
	cfg.MaxAttempts = 3
	h, _ := mustHub(t, WithConfig(cfg), WithHandler(spec.ToolWeatherForecast, s))
	bus := h.Scope([]spec.ToolName{spec.ToolWeatherForecast}, nil)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := bus.Call(ctx, spec.ToolWeatherForecast, spec.WeatherArgs{}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := s.calls.Load(); got > 1 {
		t.Fatalf("calls = %d, want at most 1", got)
	}
	if st := h.Breakers().State("weather"); st != BreakerClosed {
		t.Fatalf("breaker = %s, cancellation must not count", st)
	}
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	clock := newFakeClock()
	s := failing()
	h, _ := mustHub(t, WithConfig(fastConfig()), WithClock(clock.Now), WithHandler(spec.ToolPlacesSearch, s))
	bus := h.Scope([]spec.ToolName{spec.ToolPlacesSearch}, nil)
	call := func() error {
		return bus.Call(t.Context(), spec.ToolPlacesSearch, spec.PlacesSearchArgs{Query: "x"}, nil)
	}

	for i := range 3 {
		if err := call(); errors.Is(err, spec.ErrCircuitOpen) {
			t.Fatalf("call %d: circuit opened early", i)
		}
	}
	if err := call(); !errors.Is(err, spec.ErrCircuitOpen) || !errors.Is(err, spec.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if got := s.calls.Load(); got != 3 {
		t.Fatalf("handler invoked %d times while open", got)
	}

	// Trial call after cool-down fails and re-opens.
	clock.Advance(31 * time.Second)
	if err := call(); errors.Is(err, spec.ErrCircuitOpen) {
		t.Fatalf("trial was rejected: %v", err)
	}
	if got := s.calls.Load(); got != 4 {
		t.Fatalf("calls = %d, want 4", got)
	}
	if err := call(); !errors.Is(err, spec.ErrCircuitOpen) {
		t.Fatalf("err = %v, want reopened circuit", err)
	}

	// Trial succeeds and closes the circuit.
	clock.Advance(31 * time.Second)
	s.fn = placesHandler().fn
	if err := call(); err != nil {
		t.Fatalf("trial: %v", err)
	}
	if st := h.Breakers().State("places"); st != BreakerClosed {
		t.Fatalf("state = %s, want closed", st)
	}
}

func TestBreakerIsPerProvider(t *testing.T) {
	clock := newFakeClock()
	h, _ := mustHub(t,
		WithConfig(fastConfig()),
		WithClock(clock.Now),
		WithHandler(spec.ToolPlacesSearch, failing()),
		WithHandler(spec.ToolMapsLink, &spy{fn: func(context.Context, json.RawMessage) (json.RawMessage, error) {
			return json.Marshal(spec.MapsLinkResult{URL: "u"})
		}}),
	)
	bus := h.Scope([]spec.ToolName{spec.ToolPlacesSearch, spec.ToolMapsLink}, nil)
	for range 3 {
		_ = bus.Call(t.Context(), spec.ToolPlacesSearch, spec.PlacesSearchArgs{}, nil)
	}
	if st := h.Breakers().State("places"); st != BreakerOpen {
		t.Fatalf("places = %s, want open", st)
	}
	if err := bus.Call(t.Context(), spec.ToolMapsLink, spec.MapsLinkArgs{Query: "q"}, nil); err != nil {
		t.Fatalf("maps call: %v", err)
	}
}

func TestHalfOpenAdmitsOneTrial(t *testing.T) {
	clock := newFakeClock()
	b := NewBreakers(BreakerConfig{FailureThreshold: 1, Window: time.Minute, Cooldown: time.Second}, clock.Now)
	b.report("maps", outcomeFailure)
	if err := b.Allow("maps"); !errors.Is(err, spec.ErrCircuitOpen) {
		t.Fatalf("Allow = %v, want open", err)
	}
	clock.Advance(2 * time.Second)
	if err := b.Allow("maps"); err != nil {
		t.Fatalf("trial Allow = %v", err)
	}
	if err := b.Allow("maps"); !errors.Is(err, spec.ErrCircuitOpen) {
		t.Fatalf("second Allow = %v, want rejected while trial in flight", err)
	}
}

func TestFailuresOutsideWindowDoNotAccumulate(t *testing.T) {
	clock := newFakeClock()
	b := NewBreakers(BreakerConfig{FailureThreshold: 3, Window: time.Minute, Cooldown: time.Second}, clock.Now)
	b.report("places", outcomeFailure)
	b.report("places", outcomeFailure)
	clock.Advance(2 * time.Minute)
	b.report("places", outcomeFailure)
	if st := b.State("places"); st != BreakerClosed {
		t.Fatalf("state = %s, want closed", st)
	}
}

func TestRecordThenReplay(t *testing.T) {
	fx := NewMemoryFixtures()
	rec, _ := mustHub(t, WithConfig(fastConfig()), WithMode(ModeRecord), WithFixtures(fx),
		WithHandler(spec.ToolPlacesSearch, placesHandler()))
	args := spec.PlacesSearchArgs{Query: "bar", Limit: 5}

	live, err := spec.CallTool[spec.PlacesSearchArgs, spec.PlacesSearchResult](
		t.Context(), rec.Scope([]spec.ToolName{spec.ToolPlacesSearch}, nil), spec.ToolPlacesSearch, args)
	if err != nil {
		t.Fatalf("record call: %v", err)
	}
	if fx.Len() != 1 {
		t.Fatalf("fixtures = %d, want 1", fx.Len())
	}

	s := failing()
	rep, log := mustHub(t, WithConfig(fastConfig()), WithMode(ModeReplay), WithFixtures(fx),
		WithHandler(spec.ToolPlacesSearch, s))
	sess := spec.NewSession("s", time.Now())
	got, err := spec.CallTool[spec.PlacesSearchArgs, spec.PlacesSearchResult](
		t.Context(), rep.Scope([]spec.ToolName{spec.ToolPlacesSearch}, sess), spec.ToolPlacesSearch, args)
	if err != nil {
		t.Fatalf("replay call: %v", err)
	}
	if s.calls.Load() != 0 {
		t.Fatal("replay reached the live handler")
	}
	if len(got.Places) != len(live.Places) || !cmp.Equal(got.Places[0], live.Places[0]) {
		t.Fatalf("replayed %+v, recorded %+v", got, live)
	}
	if len(sess.LastPlaces()) != 2 {
		t.Fatal("replayed places.search did not update the session cache")
	}
	calls := eventsOf[audit.ToolCall](log)
	if len(calls) != 1 || !calls[0].Replayed || !calls[0].OK {
		t.Fatalf("tool_call events = %+v", calls)
	}
}

func TestReplayMissFallsThroughToLive(t *testing.T) {
	s := placesHandler()
	h, _ := mustHub(t, WithConfig(fastConfig()), WithMode(ModeReplay), WithHandler(spec.ToolPlacesSearch, s))
	bus := h.Scope([]spec.ToolName{spec.ToolPlacesSearch}, nil)
	if err := bus.Call(t.Context(), spec.ToolPlacesSearch, spec.PlacesSearchArgs{Query: "q"}, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if s.calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", s.calls.Load())
	}
}

func TestMissingProvider(t *testing.T) {
	h, _ := mustHub(t)
	bus := h.Scope([]spec.ToolName{spec.ToolMapsSendToCar}, nil)
	err := bus.Call(t.Context(), spec.ToolMapsSendToCar, spec.SendToCarArgs{Query: "x"}, nil)
	if !errors.Is(err, spec.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestCanonicalKeyIgnoresFieldOrder(t *testing.T) {
	type ab struct {
		B int `json:"b"`
		A int `json:"a"`
	}
	c1, err := CanonicalArgs(ab{B: 1, A: 2})
	if err != nil {
		t.Fatal(err)
	}
	c2, err := CanonicalArgs(map[string]any{"a": 2, "b": 1})
	if err != nil {
		t.Fatal(err)
	}
	if string(c1) != `{"a":2,"b":1}` {
		t.Fatalf("canonical = %s", c1)
	}
	if Key(spec.ToolMapsLink, c1) != Key(spec.ToolMapsLink, c2) {
		t.Fatal("keys differ")
	}
	if Key(spec.ToolMapsLink, c1) == Key(spec.ToolMapsArrivalGlance, c1) {
		t.Fatal("key ignores tool name")
	}
}

func TestNewHubRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 0
	if _, err := NewHub(WithConfig(cfg)); !errors.Is(err, spec.ErrInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
	if _, err := NewHub(WithMode("sideways")); !errors.Is(err, spec.ErrInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
	if _, err := NewHub(WithHandler("nope.tool", failing())); !errors.Is(err, spec.ErrInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
}
