package protocol

import (
	"maps"
	"sort"
	"sync"
)

// SurfaceState is the folded state of one surface.
type SurfaceState struct {
	Components map[string]Node `json:"components"`
	RootID     string          `json:"rootId,omitempty"`
	DataModel  map[string]any  `json:"dataModel"`
}

func (s SurfaceState) clone() SurfaceState {
	return SurfaceState{
		Components: maps.Clone(s.Components),
		RootID:     s.RootID,
		DataModel:  maps.Clone(s.DataModel),
	}
}

// Store folds message sequences into per-surface state the way a renderer
// does: wholesale component replace, key-wise data-model merge, root-id set,
// entry delete.
type Store struct {
	mu       sync.RWMutex
	surfaces map[string]*SurfaceState
}

func NewStore() *Store {
	return &Store{surfaces: map[string]*SurfaceState{}}
}

// Apply folds msgs strictly in order.
func (s *Store) Apply(msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range msgs {
		switch v := m.(type) {
		case SurfaceUpdate:
			st := s.ensureLocked(v.Surface)
			st.Components = make(map[string]Node, len(v.Components))
			for _, c := range v.Components {
				st.Components[c.ID] = c.Component
			}
		case DataModelUpdate:
			st := s.ensureLocked(v.Surface)
			for _, e := range v.Contents {
				st.DataModel[e.Key] = e.Value.Plain()
			}
		case BeginRendering:
			st := s.ensureLocked(v.Surface)
			st.RootID = v.Root
		case DeleteSurface:
			delete(s.surfaces, v.Surface)
		}
	}
}

func (s *Store) ensureLocked(id string) *SurfaceState {
	st := s.surfaces[id]
	if st == nil {
		st = &SurfaceState{
			Components: map[string]Node{},
			DataModel:  map[string]any{},
		}
		s.surfaces[id] = st
	}
	return st
}

// Surface returns a copy of the surface state.
func (s *Store) Surface(id string) (SurfaceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.surfaces[id]
	if !ok {
		return SurfaceState{}, false
	}
	return st.clone(), true
}

// Surfaces lists surface ids in sorted order.
func (s *Store) Surfaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.surfaces))
	for id := range s.surfaces {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Snapshot copies every surface.
func (s *Store) Snapshot() map[string]SurfaceState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]SurfaceState, len(s.surfaces))
	for id, st := range s.surfaces {
		out[id] = st.clone()
	}
	return out
}
