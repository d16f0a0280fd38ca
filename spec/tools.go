package spec

import (
	"context"
	"strings"
)

type ToolName string

const (
	ToolPlacesSearch      ToolName = "places.search"
	ToolMapsLink          ToolName = "maps.link"
	ToolMapsArrivalGlance ToolName = "maps.arrival_glance"
	ToolMapsSendToCar     ToolName = "maps.send_to_car"
	ToolWeatherForecast   ToolName = "weather.forecast"
	ToolPocketAppend      ToolName = "storage.pocket.append"
	ToolWhispersAppend    ToolName = "storage.whispers.append"
)

// AllTools lists every tool a provider can implement.
func AllTools() []ToolName {
	return []ToolName{
		ToolPlacesSearch,
		ToolMapsLink,
		ToolMapsArrivalGlance,
		ToolMapsSendToCar,
		ToolWeatherForecast,
		ToolPocketAppend,
		ToolWhispersAppend,
	}
}

func (t ToolName) Known() bool {
	for _, k := range AllTools() {
		if k == t {
			return true
		}
	}
	return false
}

// Provider is the upstream family a tool belongs to ("places", "maps", ...).
// Circuit breakers are kept per provider.
func (t ToolName) Provider() string {
	s := string(t)
	if i := strings.IndexByte(s, '.'); i > 0 {
		return s[:i]
	}
	return s
}

// ToolBus is the only path from a skill to external systems.
type ToolBus interface {
	// Call invokes tool with args and decodes the result into out.
	Call(ctx context.Context, tool ToolName, args, out any) error
	// Allowed returns the tools this bus was scoped to.
	Allowed() []ToolName
}

// CallTool is a typed wrapper around ToolBus.Call.
func CallTool[A, R any](ctx context.Context, bus ToolBus, tool ToolName, args A) (R, error) {
	var out R
	if err := bus.Call(ctx, tool, args, &out); err != nil {
		return out, err
	}
	return out, nil
}

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type PlacesSearchArgs struct {
	Query    string  `json:"query"`
	Near     *LatLng `json:"near,omitempty"`
	RadiusM  int     `json:"radiusM,omitempty"`
	Limit    int     `json:"limit,omitempty"`
	OpenLate bool    `json:"openLate,omitempty"`
	Offset   int     `json:"offset,omitempty"`
}

type Place struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Category  string   `json:"category,omitempty"`
	Address   string   `json:"address,omitempty"`
	Lat       float64  `json:"lat,omitempty"`
	Lng       float64  `json:"lng,omitempty"`
	OpenUntil string   `json:"openUntil,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	ImageRef  string   `json:"imageRef,omitempty"`
}

type PlacesSearchResult struct {
	Places []Place `json:"places"`
}

type MapsLinkArgs struct {
	PlaceID string `json:"placeId,omitempty"`
	Query   string `json:"query,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

type MapsLinkResult struct {
	URL string `json:"url"`
}

type ArrivalGlanceArgs struct {
	PlaceID string `json:"placeId,omitempty"`
	Query   string `json:"query,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

type ArrivalGlanceResult struct {
	Checklist []string `json:"checklist"`
	ETAMin    int      `json:"etaMin,omitempty"`
}

type SendToCarArgs struct {
	PlaceID string `json:"placeId,omitempty"`
	Query   string `json:"query"`
}

type SendToCarResult struct {
	Sent bool `json:"sent"`
}

type WeatherArgs struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Hours int     `json:"hours,omitempty"`
}

type WeatherResult struct {
	Summary    string  `json:"summary"`
	TempC      float64 `json:"tempC"`
	PrecipProb float64 `json:"precipProb"`
}

type PocketAppendArgs struct {
	SessionID string `json:"sessionId"`
	Title     string `json:"title"`
	Action    Action `json:"action,omitempty"`
	Query     string `json:"query,omitempty"`
}

type WhisperAppendArgs struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

type AppendResult struct {
	ID    string `json:"id"`
	Total int    `json:"total"`
}
