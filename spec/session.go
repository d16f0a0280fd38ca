package spec

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// SessionID identifies one conversation (UUIDv7 string when generated).
type SessionID string

// FlowStage is the implicit Tonight-flow state of a session.
type FlowStage string

const (
	FlowOrder     FlowStage = "order"
	FlowClarify   FlowStage = "clarify"
	FlowCandidate FlowStage = "candidate"
	FlowResult    FlowStage = "result"
)

// Session is the per-conversation mutable store owned by the orchestrator.
//
// Field access goes through methods guarded by an internal mutex because a
// skill may issue concurrent tool calls that write the places cache. Whole
// actions are serialized separately with Begin/End.
type Session struct {
	id        SessionID
	createdAt time.Time

	action sync.Mutex

	mu            sync.Mutex
	stage         FlowStage
	lastSkillID   string
	lastUtterance string
	candidates    []CandidateItem
	places        []Place
	variant       int
	choices       map[string]string
	bundle        *CuratorialBundle
	hits          map[string][]time.Time
	pushes        map[string]time.Time
	focused       bool
	whispersOpen  bool
}

func NewSession(id SessionID, now time.Time) *Session {
	return &Session{
		id:        id,
		createdAt: now,
		stage:     FlowOrder,
		hits:      map[string][]time.Time{},
		pushes:    map[string]time.Time{},
	}
}

func (s *Session) ID() SessionID        { return s.id }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Begin serializes actions on one session. Every Begin must be paired with End.
func (s *Session) Begin() { s.action.Lock() }
func (s *Session) End()   { s.action.Unlock() }

func (s *Session) Stage() FlowStage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

func (s *Session) SetStage(st FlowStage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage = st
}

func (s *Session) LastSkillID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSkillID
}

func (s *Session) SetLastSkillID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSkillID = id
}

func (s *Session) LastUtterance() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUtterance
}

func (s *Session) SetLastUtterance(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUtterance = u
}

// Candidates returns a copy of the last candidate pool.
func (s *Session) Candidates() []CandidateItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.candidates)
}

func (s *Session) SetCandidates(items []CandidateItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = slices.Clone(items)
}

// LastPlaces returns the last places seen from the places provider.
func (s *Session) LastPlaces() []Place {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.places)
}

func (s *Session) SetLastPlaces(p []Place) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.places = slices.Clone(p)
}

// ClearPool drops the candidate pool and the places cache so the next skill
// does not see what the previous one found.
func (s *Session) ClearPool() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = nil
	s.places = nil
}

func (s *Session) Variant() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.variant
}

// NextVariant increments and returns the refresh variant counter.
func (s *Session) NextVariant() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variant++
	return s.variant
}

func (s *Session) ResetVariant() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variant = 0
}

// Choices returns the pending clarify label -> skill id map.
func (s *Session) Choices() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.choices)
}

func (s *Session) SetChoices(m map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.choices = maps.Clone(m)
}

func (s *Session) Bundle() *CuratorialBundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bundle.Clone()
}

func (s *Session) SetBundle(b *CuratorialBundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundle = b.Clone()
}

// Hits returns the recorded invocation times for a skill.
func (s *Session) Hits(skillID string) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.hits[skillID])
}

func (s *Session) SetHits(skillID string, hits []time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(hits) == 0 {
		delete(s.hits, skillID)
		return
	}
	s.hits[skillID] = slices.Clone(hits)
}

// LastPush returns when surface was last pushed.
func (s *Session) LastPush(surface string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.pushes[surface]
	return t, ok
}

func (s *Session) MarkPush(surface string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushes[surface] = at
}

// Focused reports whether the host was last told to enter focus.
func (s *Session) Focused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

func (s *Session) SetFocused(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focused = v
}

// WhispersOpen reports whether the whispers panel was left open.
func (s *Session) WhispersOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.whispersOpen
}

func (s *Session) SetWhispersOpen(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.whispersOpen = v
}

func (s *Session) ClearPush(surface string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pushes, surface)
}

// ResetFlow returns the session to the order stage, keeping rate-limit and
// push bookkeeping.
func (s *Session) ResetFlow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage = FlowOrder
	s.lastSkillID = ""
	s.lastUtterance = ""
	s.candidates = nil
	s.places = nil
	s.choices = nil
	s.bundle = nil
	s.variant = 0
}
