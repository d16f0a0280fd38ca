package session

import (
	"sync"
	"testing"
	"time"

	"github.com/xingyang1991/nightfall/spec"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestStore_GetOrCreate(t *testing.T) {
	t.Parallel()

	st := NewStore(StoreConfig{})
	s, created := st.GetOrCreate("abc")
	if !created || s.ID() != "abc" {
		t.Fatalf("GetOrCreate = %v, %v", s.ID(), created)
	}
	again, created := st.GetOrCreate("abc")
	if created || again != s {
		t.Fatal("second GetOrCreate did not return the same session")
	}
	fresh, created := st.GetOrCreate("")
	if !created || fresh.ID() == "" || fresh.ID() == "abc" {
		t.Fatalf("empty id produced %q", fresh.ID())
	}
}

func TestStore_TTLEviction(t *testing.T) {
	t.Parallel()

	c := &clock{t: time.Date(2026, 1, 1, 22, 0, 0, 0, time.UTC)}
	st := NewStore(StoreConfig{TTL: 20 * time.Minute, MaxSessions: 100, Now: c.Now})

	s, _ := st.GetOrCreate("s1")
	s.SetStage(spec.FlowResult)
	c.Advance(10 * time.Minute)
	if _, ok := st.Get("s1"); !ok {
		t.Fatal("expected session to exist inside TTL")
	}
	c.Advance(21 * time.Minute)
	if _, ok := st.Get("s1"); ok {
		t.Fatal("expected session to be expired/evicted")
	}
	s2, created := st.GetOrCreate("s1")
	if !created || s2.Stage() != spec.FlowOrder {
		t.Fatal("expired session was resurrected")
	}
}

func TestStore_MaxSessionsAndLRU(t *testing.T) {
	t.Parallel()

	c := &clock{t: time.Date(2026, 1, 1, 22, 0, 0, 0, time.UTC)}
	st := NewStore(StoreConfig{TTL: time.Hour, MaxSessions: 2, Now: c.Now})

	st.GetOrCreate("s1")
	st.GetOrCreate("s2")
	// Touch s1 to make it MRU; s2 becomes LRU.
	if _, ok := st.Get("s1"); !ok {
		t.Fatal("expected s1 to exist")
	}
	st.GetOrCreate("s3")

	if _, ok := st.Get("s2"); ok {
		t.Fatal("expected s2 evicted as LRU")
	}
	if _, ok := st.Get("s1"); !ok {
		t.Fatal("expected s1 retained as MRU")
	}
	if st.Len() != 2 {
		t.Fatalf("Len = %d", st.Len())
	}
	st.Delete("s1")
	if _, ok := st.Get("s1"); ok {
		t.Fatal("Delete did not remove s1")
	}
}

func TestNewSessionIDUnique(t *testing.T) {
	t.Parallel()
	seen := map[spec.SessionID]bool{}
	for range 100 {
		id := NewSessionID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
