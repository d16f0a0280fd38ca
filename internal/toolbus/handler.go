// Package toolbus is the capability-scoped gateway between skills and tool
// providers. Every call passes the allowlist, optional record/replay, the
// per-provider circuit breaker and a bounded retry loop, and is audited.
package toolbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xingyang1991/nightfall/spec"
)

// Handler executes one tool against its provider. Handlers must honour ctx
// cancellation.
type Handler interface {
	Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

type HandlerFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

func (f HandlerFunc) Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return f(ctx, args)
}

// Typed adapts a typed provider function to a Handler. Argument decode
// failures are reported as spec.ErrInvalidArgument and are never retried.
func Typed[A, R any](fn func(context.Context, A) (R, error)) Handler {
	return HandlerFunc(func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var args A
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("%w: decode args: %w", spec.ErrInvalidArgument, err)
			}
		}
		res, err := fn(ctx, args)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	})
}
