package providers

import (
	"errors"

	"github.com/xingyang1991/nightfall/internal/toolbus"
	"github.com/xingyang1991/nightfall/spec"
)

// Set groups one implementation per tool family.
type Set struct {
	Places  *Places
	Maps    *Maps
	Weather Weather
	Journal Journal
}

// Defaults returns the stub set with an in-memory journal.
func Defaults() Set {
	return Set{
		Places:  NewPlaces(nil),
		Maps:    NewMaps(),
		Journal: NewMemoryJournal(),
	}
}

// Register installs handlers for all seven tools on h.
func (s Set) Register(h *toolbus.Hub) error {
	if s.Places == nil || s.Maps == nil || s.Journal == nil {
		return errors.New("incomplete provider set")
	}
	return errors.Join(
		h.Register(spec.ToolPlacesSearch, toolbus.Typed(s.Places.Search)),
		h.Register(spec.ToolMapsLink, toolbus.Typed(s.Maps.Link)),
		h.Register(spec.ToolMapsArrivalGlance, toolbus.Typed(s.Maps.ArrivalGlance)),
		h.Register(spec.ToolMapsSendToCar, toolbus.Typed(s.Maps.SendToCar)),
		h.Register(spec.ToolWeatherForecast, toolbus.Typed(s.Weather.Forecast)),
		h.Register(spec.ToolPocketAppend, toolbus.Typed(s.Journal.AppendPocket)),
		h.Register(spec.ToolWhispersAppend, toolbus.Typed(s.Journal.AppendWhisper)),
	)
}
