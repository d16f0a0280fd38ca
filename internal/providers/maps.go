package providers

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"

	"github.com/xingyang1991/nightfall/spec"
)

// Maps builds deterministic deep links and arrival hints.
type Maps struct {
	BaseURL string
}

func NewMaps() *Maps { return &Maps{BaseURL: "https://maps.example.com/"} }

func (m *Maps) Link(_ context.Context, a spec.MapsLinkArgs) (spec.MapsLinkResult, error) {
	if a.PlaceID == "" && strings.TrimSpace(a.Query) == "" {
		return spec.MapsLinkResult{}, fmt.Errorf("%w: placeId or query required", spec.ErrInvalidArgument)
	}
	v := url.Values{}
	if a.PlaceID != "" {
		v.Set("place", a.PlaceID)
	}
	if q := strings.TrimSpace(a.Query); q != "" {
		v.Set("q", q)
	}
	if a.Mode != "" {
		v.Set("mode", a.Mode)
	}
	return spec.MapsLinkResult{URL: m.BaseURL + "?" + v.Encode()}, nil
}

func (m *Maps) ArrivalGlance(_ context.Context, a spec.ArrivalGlanceArgs) (spec.ArrivalGlanceResult, error) {
	if a.PlaceID == "" && strings.TrimSpace(a.Query) == "" {
		return spec.ArrivalGlanceResult{}, fmt.Errorf("%w: placeId or query required", spec.ErrInvalidArgument)
	}
	eta := 5 + int(hash32(a.PlaceID+a.Query)%20)
	list := []string{"Check it is still open"}
	switch spec.MobilityMode(a.Mode) {
	case spec.MobilityDriving:
		list = append(list, "Look for parking nearby", "Send the route to the car")
	case spec.MobilityWalking:
		list = append(list, "Stay on lit streets")
	default:
		list = append(list, "Keep your phone charged")
	}
	list = append(list, fmt.Sprintf("About %d min away", eta))
	return spec.ArrivalGlanceResult{Checklist: list, ETAMin: eta}, nil
}

func (m *Maps) SendToCar(_ context.Context, a spec.SendToCarArgs) (spec.SendToCarResult, error) {
	if strings.TrimSpace(a.Query) == "" && a.PlaceID == "" {
		return spec.SendToCarResult{}, fmt.Errorf("%w: destination required", spec.ErrInvalidArgument)
	}
	return spec.SendToCarResult{Sent: true}, nil
}

// Weather derives a stable forecast from the coordinates.
type Weather struct{}

func (Weather) Forecast(_ context.Context, a spec.WeatherArgs) (spec.WeatherResult, error) {
	h := hash32(fmt.Sprintf("%.2f,%.2f", a.Lat, a.Lng))
	summaries := []string{"clear", "cloudy", "light rain", "windy"}
	summary := summaries[h%uint32(len(summaries))]
	precip := 0.05
	if summary == "light rain" {
		precip = 0.7
	}
	return spec.WeatherResult{
		Summary:    summary,
		TempC:      8 + float64(h%15),
		PrecipProb: precip,
	}, nil
}

func hash32(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
