package toolbus

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/xingyang1991/nightfall/spec"
)

// Mode selects how the hub treats recorded fixtures.
type Mode string

const (
	ModeLive   Mode = "live"
	ModeRecord Mode = "record"
	ModeReplay Mode = "replay"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeLive, ModeRecord, ModeReplay:
		return true
	}
	return false
}

// Fixtures stores recorded tool results by call key.
type Fixtures interface {
	Load(ctx context.Context, key string) (json.RawMessage, bool, error)
	Save(ctx context.Context, key string, tool spec.ToolName, args, result json.RawMessage) error
}

// CanonicalArgs encodes args as JSON with object keys sorted at every level.
func CanonicalArgs(args any) (json.RawMessage, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("%w: encode args: %w", spec.ErrInvalidArgument, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: encode args: %w", spec.ErrInvalidArgument, err)
	}
	return json.Marshal(v)
}

// Key is the sha256 hex of tool, a NUL byte and the canonical args.
func Key(tool spec.ToolName, canonical json.RawMessage) string {
	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryFixtures is an in-process Fixtures implementation.
type MemoryFixtures struct {
	mu sync.RWMutex
	m  map[string]json.RawMessage
}

func NewMemoryFixtures() *MemoryFixtures {
	return &MemoryFixtures{m: map[string]json.RawMessage{}}
}

func (f *MemoryFixtures) Load(_ context.Context, key string) (json.RawMessage, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.m[key]
	return slices.Clone(v), ok, nil
}

func (f *MemoryFixtures) Save(_ context.Context, key string, _ spec.ToolName, _, result json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[key] = slices.Clone(result)
	return nil
}

func (f *MemoryFixtures) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.m)
}
