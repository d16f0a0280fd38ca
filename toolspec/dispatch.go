package toolspec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	llmtoolsgoSpec "github.com/flexigpt/llmtools-go/spec"

	"github.com/xingyang1991/nightfall/spec"
)

// Handler runs one tool call from JSON arguments and returns the JSON result.
type Handler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Dispatcher routes function calls requested by a generative provider to a
// scoped spec.ToolBus. Every call goes through the bus, so allowlist, retries
// and audit still apply.
type Dispatcher struct {
	tools    []llmtoolsgoSpec.Tool
	handlers map[spec.ToolName]Handler
}

// NewDispatcher binds the descriptors of every tool bus allows.
func NewDispatcher(bus spec.ToolBus) (*Dispatcher, error) {
	if bus == nil {
		return nil, errors.New("nil tool bus")
	}
	d := &Dispatcher{handlers: map[spec.ToolName]Handler{}}
	for _, name := range bus.Allowed() {
		switch name {
		case spec.ToolPlacesSearch:
			bind[spec.PlacesSearchArgs, spec.PlacesSearchResult](d, bus, PlacesSearchTool())
		case spec.ToolMapsLink:
			bind[spec.MapsLinkArgs, spec.MapsLinkResult](d, bus, MapsLinkTool())
		case spec.ToolMapsArrivalGlance:
			bind[spec.ArrivalGlanceArgs, spec.ArrivalGlanceResult](d, bus, MapsArrivalGlanceTool())
		case spec.ToolMapsSendToCar:
			bind[spec.SendToCarArgs, spec.SendToCarResult](d, bus, MapsSendToCarTool())
		case spec.ToolWeatherForecast:
			bind[spec.WeatherArgs, spec.WeatherResult](d, bus, WeatherForecastTool())
		case spec.ToolPocketAppend:
			bind[spec.PocketAppendArgs, spec.AppendResult](d, bus, PocketAppendTool())
		case spec.ToolWhispersAppend:
			bind[spec.WhisperAppendArgs, spec.AppendResult](d, bus, WhispersAppendTool())
		}
	}
	return d, nil
}

// Tools returns the bound descriptors in bus order.
func (d *Dispatcher) Tools() []llmtoolsgoSpec.Tool { return d.tools }

// Call runs the tool whose slug is name.
func (d *Dispatcher) Call(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	h, ok := d.handlers[spec.ToolName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", spec.ErrCapabilityDenied, name)
	}
	return h(ctx, args)
}

func bind[A, R any](d *Dispatcher, bus spec.ToolBus, t llmtoolsgoSpec.Tool) {
	name := spec.ToolName(t.Slug)
	d.tools = append(d.tools, t)
	d.handlers[name] = func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var args A
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("%w: %s arguments: %w", spec.ErrInvalidArgument, name, err)
			}
		}
		res, err := spec.CallTool[A, R](ctx, bus, name, args)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	}
}
