package toolbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xingyang1991/nightfall/internal/audit"
	"github.com/xingyang1991/nightfall/spec"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 23, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// spy counts invocations and returns whatever fn returns.
type spy struct {
	calls atomic.Int32
	fn    func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

func (s *spy) Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	s.calls.Add(1)
	return s.fn(ctx, args)
}

func failing() *spy {
	return &spy{fn: func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("connection refused")
	}}
}

func placesHandler() *spy {
	return &spy{fn: func(_ context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var a spec.PlacesSearchArgs
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		return json.Marshal(spec.PlacesSearchResult{Places: []spec.Place{
			{ID: "p1", Name: a.Query + " one"},
			{ID: "p2", Name: a.Query + " two"},
		}})
	}}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 200 * time.Millisecond
	cfg.MaxAttempts = 1
	cfg.Backoff = 0
	return cfg
}

func mustHub(t *testing.T, opts ...Option) (*Hub, *audit.Log) {
	t.Helper()
	log, err := audit.New(100)
	if err != nil {
		t.Fatalf("audit.New: %v", err)
	}
	h, err := NewHub(append([]Option{WithAudit(log)}, opts...)...)
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	return h, log
}

func eventsOf[E audit.Event](log *audit.Log) []E {
	var out []E
	for _, r := range log.Tail(0) {
		if e, ok := r.Event.(E); ok {
			out = append(out, e)
		}
	}
	return out
}
