package audit

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitStampsTraceAndSeq(t *testing.T) {
	l, err := New(10)
	require.NoError(t, err)

	ctx := WithTrace(t.Context(), Trace{TraceID: "t1", SessionID: "s1"})
	r1 := l.Emit(ctx, SkillStart{SkillID: "a", Stage: "candidate"})
	r2 := l.Emit(t.Context(), ToolCall{Tool: "places.search", OK: true})

	assert.Equal(t, uint64(1), r1.Seq)
	assert.Equal(t, uint64(2), r2.Seq)
	assert.Equal(t, "t1", r1.TraceID)
	assert.Equal(t, "s1", r1.SessionID)
	assert.Empty(t, r2.TraceID)
}

func TestRingEvictsOldest(t *testing.T) {
	l, err := New(3)
	require.NoError(t, err)
	for i := range 5 {
		l.Emit(t.Context(), PolicyClip{Field: "f", Before: string(rune('a' + i))})
	}
	assert.Equal(t, 3, l.Len())

	tail := l.Tail(0)
	require.Len(t, tail, 3)
	assert.Equal(t, []uint64{3, 4, 5}, seqs(tail))

	last := l.Tail(2)
	assert.Equal(t, []uint64{4, 5}, seqs(last))
}

func TestByTrace(t *testing.T) {
	l, err := New(0)
	require.NoError(t, err)
	a := WithTrace(t.Context(), Trace{TraceID: "a"})
	b := WithTrace(t.Context(), Trace{TraceID: "b"})
	l.Emit(a, SkillStart{SkillID: "x"})
	l.Emit(b, SkillStart{SkillID: "y"})
	l.Emit(a, SkillEnd{SkillID: "x", OK: true})

	got := l.ByTrace("a")
	require.Len(t, got, 2)
	assert.Equal(t, KindSkillStart, got[0].Event.Kind())
	assert.Equal(t, KindSkillEnd, got[1].Event.Kind())
	assert.Empty(t, l.ByTrace("missing"))
}

type failingSink struct{ writes int }

func (f *failingSink) Write(context.Context, Record) error {
	f.writes++
	return errors.New("disk full")
}

func (f *failingSink) Close() error { return nil }

func TestSinkFailureDoesNotFailEmit(t *testing.T) {
	s := &failingSink{}
	l, err := New(4, WithSink(s))
	require.NoError(t, err)
	rec := l.Emit(t.Context(), PolicyViolation{Code: "rate_limited"})
	assert.Equal(t, uint64(1), rec.Seq)
	assert.Equal(t, 1, s.writes)
	assert.Equal(t, 1, l.Len())
}

func TestJSONLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "trace.jsonl")
	sink, err := OpenJSONL(path)
	require.NoError(t, err)

	fixed := time.Date(2026, 1, 2, 23, 30, 0, 0, time.UTC)
	l, err := New(8, WithSink(sink), WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	ctx := WithTrace(t.Context(), Trace{TraceID: "tr", SessionID: "se"})
	l.Emit(ctx, SkillStart{SkillID: "late_bite", Stage: "finalize"})
	l.Emit(ctx, ToolCall{Tool: "maps.link", OK: false, Attempts: 2, Error: "boom", Duration: 3 * time.Millisecond})
	l.Emit(ctx, PolicyViolation{Code: "planb_action_missing", SkillID: "late_bite"})
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	recs, err := ReadJSONL(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, fixed, recs[0].At)
	assert.Equal(t, "tr", recs[1].TraceID)
	assert.Equal(t, ToolCall{Tool: "maps.link", Attempts: 2, Error: "boom", Duration: 3 * time.Millisecond}, recs[1].Event)
	assert.Equal(t, PolicyViolation{Code: "planb_action_missing", SkillID: "late_bite"}, recs[2].Event)
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := DecodeEvent("nope", []byte(`{}`))
	assert.Error(t, err)
}

func seqs(rs []Record) []uint64 {
	out := make([]uint64, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Seq)
	}
	return out
}
