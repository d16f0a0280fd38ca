// Package catalog is the registry of skills available to the router and the
// runtime.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xingyang1991/nightfall/spec"
)

// Origin names where a skill came from ("builtin", "fs", ...).
type Origin string

const (
	OriginBuiltin Origin = "builtin"
	OriginFS      Origin = "fs"
)

// Record is the host-facing view of one registered skill.
type Record struct {
	Manifest spec.SkillManifest `json:"manifest"`
	Origin   Origin             `json:"origin"`
	// Location is the skill directory for fs skills.
	Location string `json:"location,omitempty"`
	// Digest is the sha256 of the manifest's canonical JSON.
	Digest string `json:"digest"`
}

type entry struct {
	skill spec.Skill
	rec   Record
}

type Catalog struct {
	mu   sync.RWMutex
	byID map[string]*entry
}

func New() *Catalog {
	return &Catalog{byID: map[string]*entry{}}
}

// Add registers sk after validating its manifest. Ids are unique.
func (c *Catalog) Add(ctx context.Context, sk spec.Skill, origin Origin, location string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if sk == nil {
		return Record{}, fmt.Errorf("%w: nil skill", spec.ErrInvalidArgument)
	}
	m := sk.Manifest()
	if err := m.Validate(); err != nil {
		return Record{}, err
	}
	digest, err := manifestDigest(m)
	if err != nil {
		return Record{}, err
	}
	rec := Record{Manifest: m, Origin: origin, Location: strings.TrimSpace(location), Digest: digest}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byID[m.ID]; exists {
		return Record{}, fmt.Errorf("%w: %q", spec.ErrSkillAlreadyExists, m.ID)
	}
	c.byID[m.ID] = &entry{skill: sk, rec: rec}
	return rec, nil
}

// Remove unregisters id and returns its record.
func (c *Catalog) Remove(id string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byID[id]
	if !ok {
		return Record{}, false
	}
	delete(c.byID, id)
	return e.rec, true
}

func (c *Catalog) Get(id string) (spec.Skill, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return e.skill, true
}

func (c *Catalog) Record(id string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byID[id]
	if !ok {
		return Record{}, false
	}
	return e.rec, true
}

// Manifests returns every manifest sorted by id.
func (c *Catalog) Manifests() []spec.SkillManifest {
	recs := c.List(Filter{})
	out := make([]spec.SkillManifest, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Manifest)
	}
	return out
}

// List returns the records matching f, sorted by id.
func (c *Catalog) List(f Filter) []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Record, 0, len(c.byID))
	for _, e := range c.byID {
		if f.match(e.rec) {
			out = append(out, e.rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.ID < out[j].Manifest.ID })
	return out
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

func manifestDigest(m spec.SkillManifest) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
