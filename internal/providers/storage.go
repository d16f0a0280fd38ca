package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/xingyang1991/nightfall/spec"
)

// Journal is the storage backend behind the pocket and whispers tools.
type Journal interface {
	AppendPocket(ctx context.Context, a spec.PocketAppendArgs) (spec.AppendResult, error)
	AppendWhisper(ctx context.Context, a spec.WhisperAppendArgs) (spec.AppendResult, error)
}

// MemoryJournal keeps pocket and whisper entries per session in memory.
type MemoryJournal struct {
	mu       sync.Mutex
	pocket   map[string][]spec.PocketAppendArgs
	whispers map[string][]string
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		pocket:   map[string][]spec.PocketAppendArgs{},
		whispers: map[string][]string{},
	}
}

func (j *MemoryJournal) AppendPocket(_ context.Context, a spec.PocketAppendArgs) (spec.AppendResult, error) {
	if a.SessionID == "" || strings.TrimSpace(a.Title) == "" {
		return spec.AppendResult{}, fmt.Errorf("%w: sessionId and title required", spec.ErrInvalidArgument)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pocket[a.SessionID] = append(j.pocket[a.SessionID], a)
	return spec.AppendResult{ID: newEntryID(), Total: len(j.pocket[a.SessionID])}, nil
}

func (j *MemoryJournal) AppendWhisper(_ context.Context, a spec.WhisperAppendArgs) (spec.AppendResult, error) {
	if a.SessionID == "" || strings.TrimSpace(a.Text) == "" {
		return spec.AppendResult{}, fmt.Errorf("%w: sessionId and text required", spec.ErrInvalidArgument)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.whispers[a.SessionID] = append(j.whispers[a.SessionID], a.Text)
	return spec.AppendResult{ID: newEntryID(), Total: len(j.whispers[a.SessionID])}, nil
}

func (j *MemoryJournal) Pocket(sessionID string) []spec.PocketAppendArgs {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]spec.PocketAppendArgs(nil), j.pocket[sessionID]...)
}

func (j *MemoryJournal) Whispers(sessionID string) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.whispers[sessionID]...)
}

func newEntryID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
