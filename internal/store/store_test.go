package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xingyang1991/nightfall/internal/audit"
	"github.com/xingyang1991/nightfall/internal/providers"
	"github.com/xingyang1991/nightfall/internal/toolbus"
	"github.com/xingyang1991/nightfall/spec"
)

func openTemp(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "nightfall.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "n.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())
	require.NoError(t, s.Close())
}

func TestAuditSinkRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	log, err := audit.New(10, audit.WithSink(s.AuditSink()))
	require.NoError(t, err)

	ctxA := audit.WithTrace(t.Context(), audit.Trace{TraceID: "tr-a", SessionID: "s1"})
	ctxB := audit.WithTrace(t.Context(), audit.Trace{TraceID: "tr-b", SessionID: "s1"})

	log.Emit(ctxA, audit.SkillStart{SkillID: "late_bite", Stage: "candidate"})
	log.Emit(ctxA, audit.ToolCall{Tool: "places.search", OK: true, Duration: 3 * time.Millisecond, Attempts: 1})
	log.Emit(ctxB, audit.PolicyClip{Field: "primary.title", Before: "a very long title", After: "a very", Reason: "clipped"})
	log.Emit(ctxA, audit.SkillEnd{SkillID: "late_bite", Stage: "candidate", OK: true, Duration: time.Second})

	// Closing the log must not close the store behind the sink.
	require.NoError(t, log.Close())

	all, err := s.AuditTail(t.Context(), 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, r := range all {
		assert.Equal(t, uint64(i+1), r.Seq)
	}

	tail, err := s.AuditTail(t.Context(), 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.IsType(t, audit.PolicyClip{}, tail[0].Event)
	assert.Equal(t, audit.SkillEnd{SkillID: "late_bite", Stage: "candidate", OK: true, Duration: time.Second}, tail[1].Event)

	trace, err := s.AuditTrace(t.Context(), "tr-a")
	require.NoError(t, err)
	require.Len(t, trace, 3)
	assert.Equal(t, audit.KindSkillStart, trace[0].Event.Kind())
	assert.Equal(t, audit.KindToolCall, trace[1].Event.Kind())
	assert.Equal(t, "s1", trace[2].SessionID)

	sess, err := s.AuditSession(t.Context(), "s1")
	require.NoError(t, err)
	assert.Len(t, sess, 4)
}

func TestFixturesRecordThenReplay(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	args := spec.PlacesSearchArgs{Query: "quiet", Limit: 3}
	allowed := []spec.ToolName{spec.ToolPlacesSearch}

	rec, err := toolbus.NewHub(toolbus.WithMode(toolbus.ModeRecord), toolbus.WithFixtures(s.Fixtures()),
		toolbus.WithHandler(spec.ToolPlacesSearch, toolbus.Typed(providers.NewPlaces(nil).Search)))
	require.NoError(t, err)
	live, err := spec.CallTool[spec.PlacesSearchArgs, spec.PlacesSearchResult](t.Context(), rec.Scope(allowed, nil), spec.ToolPlacesSearch, args)
	require.NoError(t, err)
	require.NotEmpty(t, live.Places)

	counts, err := s.Fixtures().Count(t.Context())
	require.NoError(t, err)
	assert.Equal(t, map[spec.ToolName]int{spec.ToolPlacesSearch: 1}, counts)

	var calls atomic.Int32
	dead := toolbus.HandlerFunc(func(context.Context, json.RawMessage) (json.RawMessage, error) {
		calls.Add(1)
		return nil, errors.New("offline")
	})
	rep, err := toolbus.NewHub(toolbus.WithMode(toolbus.ModeReplay), toolbus.WithFixtures(s.Fixtures()),
		toolbus.WithHandler(spec.ToolPlacesSearch, dead))
	require.NoError(t, err)
	got, err := spec.CallTool[spec.PlacesSearchArgs, spec.PlacesSearchResult](t.Context(), rep.Scope(allowed, nil), spec.ToolPlacesSearch, args)
	require.NoError(t, err)
	assert.Equal(t, live, got)
	assert.Zero(t, calls.Load())

	_, ok, err := s.Fixtures().Load(t.Context(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJournal(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 23, 0, 0, 0, time.UTC)
	s := openTemp(t, WithClock(func() time.Time { return now }))
	j := s.Journal()
	ctx := t.Context()

	r1, err := j.AppendPocket(ctx, spec.PocketAppendArgs{SessionID: "s1", Title: "Lantern Noodle House", Action: spec.ActionNavigate, Query: "Lantern"})
	require.NoError(t, err)
	assert.Equal(t, 1, r1.Total)
	r2, err := j.AppendPocket(ctx, spec.PocketAppendArgs{SessionID: "s1", Title: "Always Open Cafe"})
	require.NoError(t, err)
	assert.Equal(t, 2, r2.Total)
	assert.NotEqual(t, r1.ID, r2.ID)
	_, err = j.AppendPocket(ctx, spec.PocketAppendArgs{SessionID: "s2", Title: "Elsewhere"})
	require.NoError(t, err)

	pocket, err := j.Pocket(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, pocket, 2)
	assert.Equal(t, "Lantern Noodle House", pocket[0].Title)
	assert.Equal(t, spec.ActionNavigate, pocket[0].Action)
	assert.True(t, pocket[0].CreatedAt.Equal(now))

	_, err = j.AppendWhisper(ctx, spec.WhisperAppendArgs{SessionID: "s1", Text: "tired but fine"})
	require.NoError(t, err)
	ws, err := j.Whispers(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"tired but fine"}, ws)

	_, err = j.AppendPocket(ctx, spec.PocketAppendArgs{SessionID: "s1", Title: "  "})
	assert.ErrorIs(t, err, spec.ErrInvalidArgument)
	_, err = j.AppendWhisper(ctx, spec.WhisperAppendArgs{Text: "x"})
	assert.ErrorIs(t, err, spec.ErrInvalidArgument)
}

func TestMemoryPath(t *testing.T) {
	t.Parallel()

	s, err := Open(MemoryPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Journal().AppendWhisper(t.Context(), spec.WhisperAppendArgs{SessionID: "s", Text: "hi"})
	require.NoError(t, err)
	ws, err := s.Journal().Whispers(t.Context(), "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, ws)
}
