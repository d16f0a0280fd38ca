// Package budget throttles how often each surface may be re-pushed to one
// session.
package budget

import (
	"context"
	"maps"
	"time"

	"github.com/xingyang1991/nightfall/internal/audit"
	"github.com/xingyang1991/nightfall/protocol"
	"github.com/xingyang1991/nightfall/spec"
)

// DefaultIntervals are the minimum re-push intervals of slow-changing
// surfaces. Surfaces not listed are always allowed.
func DefaultIntervals() map[string]time.Duration {
	return map[string]time.Duration{
		protocol.SurfaceAmbient: 30 * time.Minute,
		protocol.SurfacePocket:  10 * time.Minute,
	}
}

type Option func(*Budget)

func WithClock(now func() time.Time) Option {
	return func(b *Budget) {
		if now != nil {
			b.now = now
		}
	}
}

// Budget tracks last-push times on the session itself, so it holds no
// per-session state of its own.
type Budget struct {
	intervals map[string]time.Duration
	audit     *audit.Log
	now       func() time.Time
}

func New(intervals map[string]time.Duration, log *audit.Log, opts ...Option) *Budget {
	b := &Budget{intervals: maps.Clone(intervals), audit: log, now: time.Now}
	if b.intervals == nil {
		b.intervals = map[string]time.Duration{}
	}
	for _, o := range opts {
		if o != nil {
			o(b)
		}
	}
	return b
}

func (b *Budget) Interval(surface string) time.Duration { return b.intervals[surface] }

// Allow reports whether surface may be pushed now and, if so, records the
// push. A denied push is audited and must be dropped by the caller.
func (b *Budget) Allow(ctx context.Context, sess *spec.Session, surface string) bool {
	now := b.now()
	interval := b.intervals[surface]
	if interval > 0 {
		if last, ok := sess.LastPush(surface); ok && now.Sub(last) <= interval {
			if b.audit != nil {
				b.audit.Emit(ctx, audit.PolicyClip{
					Field:  "surface:" + surface,
					Before: last.UTC().Format(time.RFC3339),
					After:  "dropped",
					Reason: "pushed " + now.Sub(last).Round(time.Second).String() + " ago, budget " + interval.String(),
				})
			}
			return false
		}
	}
	sess.MarkPush(surface, now)
	return true
}

// Reset clears the last-push time so the next push of surface is allowed.
// Used for user-initiated events that must be seen immediately.
func (b *Budget) Reset(sess *spec.Session, surface string) {
	sess.ClearPush(surface)
}
