// Package session keeps live sessions in an LRU with an idle TTL.
package session

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xingyang1991/nightfall/spec"
)

type StoreConfig struct {
	TTL         time.Duration
	MaxSessions int
	// Now defaults to time.Now.
	Now func() time.Time
}

type Store struct {
	mu sync.Mutex

	ttl         time.Duration
	maxSessions int
	now         func() time.Time

	// lru front is the most recently used session.
	lru *list.List
	m   map[spec.SessionID]*list.Element
}

type item struct {
	s        *spec.Session
	lastUsed time.Time
}

func NewStore(cfg StoreConfig) *Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	maxS := cfg.MaxSessions
	if maxS <= 0 {
		maxS = 4096
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		ttl:         ttl,
		maxSessions: maxS,
		now:         now,
		lru:         list.New(),
		m:           map[spec.SessionID]*list.Element{},
	}
}

// NewSessionID returns a fresh UUIDv7 id. The session itself is created on
// first use.
func NewSessionID() spec.SessionID {
	return spec.SessionID(uuid.Must(uuid.NewV7()).String())
}

// GetOrCreate returns the live session for id, creating it on first
// interaction. An empty id gets a fresh one. The second result reports
// whether the session was created.
func (st *Store) GetOrCreate(id spec.SessionID) (*spec.Session, bool) {
	if id == "" {
		id = NewSessionID()
	}
	now := st.now()

	st.mu.Lock()
	defer st.mu.Unlock()

	st.evictExpiredLocked(now)
	if e := st.m[id]; e != nil {
		it, _ := e.Value.(*item)
		it.lastUsed = now
		st.lru.MoveToFront(e)
		return it.s, false
	}

	s := spec.NewSession(id, now)
	st.m[id] = st.lru.PushFront(&item{s: s, lastUsed: now})
	st.evictOverLimitLocked()
	return s, true
}

func (st *Store) Get(id spec.SessionID) (*spec.Session, bool) {
	now := st.now()

	st.mu.Lock()
	defer st.mu.Unlock()

	st.evictExpiredLocked(now)

	e := st.m[id]
	if e == nil {
		return nil, false
	}
	it, _ := e.Value.(*item)
	it.lastUsed = now
	st.lru.MoveToFront(e)
	return it.s, true
}

func (st *Store) Delete(id spec.SessionID) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if e := st.m[id]; e != nil {
		st.deleteElemLocked(e)
	}
}

func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lru.Len()
}

func (st *Store) evictExpiredLocked(now time.Time) {
	for e := st.lru.Back(); e != nil; {
		prev := e.Prev()
		it, ok := e.Value.(*item)
		if ok && it != nil && now.Sub(it.lastUsed) <= st.ttl {
			break
		}
		st.deleteElemLocked(e)
		e = prev
	}
}

func (st *Store) evictOverLimitLocked() {
	for st.lru.Len() > st.maxSessions {
		e := st.lru.Back()
		if e == nil {
			return
		}
		st.deleteElemLocked(e)
	}
}

func (st *Store) deleteElemLocked(e *list.Element) {
	if it, _ := e.Value.(*item); it != nil && it.s != nil {
		delete(st.m, it.s.ID())
	}
	st.lru.Remove(e)
}
