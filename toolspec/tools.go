// Package toolspec describes the tool bus tools as llmtools-go descriptors so
// a generative provider can be offered them, and binds those descriptors to a
// scoped spec.ToolBus.
package toolspec

import (
	"slices"

	llmtoolsgoSpec "github.com/flexigpt/llmtools-go/spec"

	"github.com/xingyang1991/nightfall/spec"
)

const (
	FuncIDPlacesSearch      llmtoolsgoSpec.FuncID = "github.com/xingyang1991/nightfall/toolspec.PlacesSearch"
	FuncIDMapsLink          llmtoolsgoSpec.FuncID = "github.com/xingyang1991/nightfall/toolspec.MapsLink"
	FuncIDMapsArrivalGlance llmtoolsgoSpec.FuncID = "github.com/xingyang1991/nightfall/toolspec.MapsArrivalGlance"
	FuncIDMapsSendToCar     llmtoolsgoSpec.FuncID = "github.com/xingyang1991/nightfall/toolspec.MapsSendToCar"
	FuncIDWeatherForecast   llmtoolsgoSpec.FuncID = "github.com/xingyang1991/nightfall/toolspec.WeatherForecast"
	FuncIDPocketAppend      llmtoolsgoSpec.FuncID = "github.com/xingyang1991/nightfall/toolspec.PocketAppend"
	FuncIDWhispersAppend    llmtoolsgoSpec.FuncID = "github.com/xingyang1991/nightfall/toolspec.WhispersAppend"
)

func tool(
	id string,
	name spec.ToolName,
	display, desc string,
	tags []string,
	schema string,
	fn llmtoolsgoSpec.FuncID,
) llmtoolsgoSpec.Tool {
	return llmtoolsgoSpec.Tool{
		SchemaVersion: llmtoolsgoSpec.SchemaVersion,
		ID:            id,
		Slug:          string(name),
		Version:       "v1.0.0",
		DisplayName:   display,
		Description:   desc,
		Tags:          tags,
		ArgSchema:     llmtoolsgoSpec.JSONSchema(schema),
		GoImpl:        llmtoolsgoSpec.GoToolImpl{FuncID: fn},
		CreatedAt:     llmtoolsgoSpec.SchemaStartTime,
		ModifiedAt:    llmtoolsgoSpec.SchemaStartTime,
	}
}

func PlacesSearchTool() llmtoolsgoSpec.Tool {
	return tool(
		"019a3c10-5e21-7c3a-9b10-4f3a1c2d0001",
		spec.ToolPlacesSearch,
		"Places Search",
		"Search nearby places by free-text query. Results are ranked by relevance then distance.",
		[]string{"places", "search"},
		`{
		  "$schema":"http://json-schema.org/draft-07/schema#",
		  "type":"object",
		  "properties":{
		    "query":{"type":"string"},
		    "near":{"type":"object","properties":{"lat":{"type":"number"},"lng":{"type":"number"}},"required":["lat","lng"]},
		    "radiusM":{"type":"integer","minimum":0},
		    "limit":{"type":"integer","minimum":0,"default":8},
		    "openLate":{"type":"boolean","default":false},
		    "offset":{"type":"integer","minimum":0}
		  },
		  "required":["query"],
		  "additionalProperties":false
		}`,
		FuncIDPlacesSearch,
	)
}

func MapsLinkTool() llmtoolsgoSpec.Tool {
	return tool(
		"019a3c10-5e21-7c3a-9b10-4f3a1c2d0002",
		spec.ToolMapsLink,
		"Maps Link",
		"Build a deep link that opens a place or query in the host's map application.",
		[]string{"maps"},
		`{
		  "$schema":"http://json-schema.org/draft-07/schema#",
		  "type":"object",
		  "properties":{
		    "placeId":{"type":"string"},
		    "query":{"type":"string"},
		    "mode":{"type":"string","enum":["walking","transit","driving"]}
		  },
		  "additionalProperties":false
		}`,
		FuncIDMapsLink,
	)
}

func MapsArrivalGlanceTool() llmtoolsgoSpec.Tool {
	return tool(
		"019a3c10-5e21-7c3a-9b10-4f3a1c2d0003",
		spec.ToolMapsArrivalGlance,
		"Maps Arrival Glance",
		"Return a short arrival checklist and ETA for a destination.",
		[]string{"maps"},
		`{
		  "$schema":"http://json-schema.org/draft-07/schema#",
		  "type":"object",
		  "properties":{
		    "placeId":{"type":"string"},
		    "query":{"type":"string"},
		    "mode":{"type":"string"}
		  },
		  "additionalProperties":false
		}`,
		FuncIDMapsArrivalGlance,
	)
}

func MapsSendToCarTool() llmtoolsgoSpec.Tool {
	return tool(
		"019a3c10-5e21-7c3a-9b10-4f3a1c2d0004",
		spec.ToolMapsSendToCar,
		"Maps Send To Car",
		"Send a destination to the connected car's navigation.",
		[]string{"maps", "car"},
		`{
		  "$schema":"http://json-schema.org/draft-07/schema#",
		  "type":"object",
		  "properties":{
		    "placeId":{"type":"string"},
		    "query":{"type":"string"}
		  },
		  "required":["query"],
		  "additionalProperties":false
		}`,
		FuncIDMapsSendToCar,
	)
}

func WeatherForecastTool() llmtoolsgoSpec.Tool {
	return tool(
		"019a3c10-5e21-7c3a-9b10-4f3a1c2d0005",
		spec.ToolWeatherForecast,
		"Weather Forecast",
		"Short-range forecast at a coordinate.",
		[]string{"weather"},
		`{
		  "$schema":"http://json-schema.org/draft-07/schema#",
		  "type":"object",
		  "properties":{
		    "lat":{"type":"number"},
		    "lng":{"type":"number"},
		    "hours":{"type":"integer","minimum":0}
		  },
		  "required":["lat","lng"],
		  "additionalProperties":false
		}`,
		FuncIDWeatherForecast,
	)
}

func PocketAppendTool() llmtoolsgoSpec.Tool {
	return tool(
		"019a3c10-5e21-7c3a-9b10-4f3a1c2d0006",
		spec.ToolPocketAppend,
		"Pocket Append",
		"Save an ending to the session's pocket for later.",
		[]string{"storage"},
		`{
		  "$schema":"http://json-schema.org/draft-07/schema#",
		  "type":"object",
		  "properties":{
		    "sessionId":{"type":"string"},
		    "title":{"type":"string"},
		    "action":{"type":"string","enum":["NAVIGATE","START_ROUTE","PLAY","START_FOCUS"]},
		    "query":{"type":"string"}
		  },
		  "required":["sessionId","title"],
		  "additionalProperties":false
		}`,
		FuncIDPocketAppend,
	)
}

func WhispersAppendTool() llmtoolsgoSpec.Tool {
	return tool(
		"019a3c10-5e21-7c3a-9b10-4f3a1c2d0007",
		spec.ToolWhispersAppend,
		"Whispers Append",
		"Append a private note to the session's whispers.",
		[]string{"storage"},
		`{
		  "$schema":"http://json-schema.org/draft-07/schema#",
		  "type":"object",
		  "properties":{
		    "sessionId":{"type":"string"},
		    "text":{"type":"string"}
		  },
		  "required":["sessionId","text"],
		  "additionalProperties":false
		}`,
		FuncIDWhispersAppend,
	)
}

// Tools returns every descriptor in spec.AllTools order.
func Tools() []llmtoolsgoSpec.Tool {
	return []llmtoolsgoSpec.Tool{
		PlacesSearchTool(),
		MapsLinkTool(),
		MapsArrivalGlanceTool(),
		MapsSendToCarTool(),
		WeatherForecastTool(),
		PocketAppendTool(),
		WhispersAppendTool(),
	}
}

// Lookup returns the descriptor for name.
func Lookup(name spec.ToolName) (llmtoolsgoSpec.Tool, bool) {
	for _, t := range Tools() {
		if t.Slug == string(name) {
			return t, true
		}
	}
	return llmtoolsgoSpec.Tool{}, false
}

// Subset returns the descriptors for names, skipping unknown ones.
func Subset(names []spec.ToolName) []llmtoolsgoSpec.Tool {
	out := make([]llmtoolsgoSpec.Tool, 0, len(names))
	for _, t := range Tools() {
		if slices.Contains(names, spec.ToolName(t.Slug)) {
			out = append(out, t)
		}
	}
	return out
}
