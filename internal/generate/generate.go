// Package generate provides the generative content providers declarative
// skills draw their text from.
package generate

import (
	"context"
	"encoding/json"
	"errors"

	llmtoolsgoSpec "github.com/flexigpt/llmtools-go/spec"
)

var (
	ErrEmptyResponse = errors.New("generator returned an empty response")

	// ErrToolRounds is returned when the model keeps calling tools past the
	// round limit.
	ErrToolRounds = errors.New("generator exceeded the tool call rounds")
)

// CallFunc runs the tool a model asked for and returns its JSON result.
type CallFunc func(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)

// Request is one generation call.
type Request struct {
	// System is the standing instruction (the skill body).
	System string
	// Prompt is the per-call user content.
	Prompt string
	// JSON asks the provider for a JSON document instead of prose.
	JSON bool
	// Tools are offered to the model as callable functions. Providers that
	// cannot call functions ignore them.
	Tools []llmtoolsgoSpec.Tool
	// Call dispatches the model's function calls. Tools without Call are not
	// offered.
	Call CallFunc
}

type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Func adapts a plain function to Generator.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Generate(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// Static always answers with text. It is meant for tests and offline hosts.
func Static(text string) Generator {
	return Func(func(ctx context.Context, _ Request) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if text == "" {
			return "", ErrEmptyResponse
		}
		return text, nil
	})
}
