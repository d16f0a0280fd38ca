// Package providers holds deterministic tool providers. They back local runs
// and tests, and are the live side when recording fixtures.
package providers

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/xingyang1991/nightfall/spec"
)

const defaultPlacesLimit = 8

// Places is an in-memory places catalog.
type Places struct {
	places []spec.Place
}

func NewPlaces(places []spec.Place) *Places {
	if len(places) == 0 {
		places = DefaultPlaces()
	}
	return &Places{places: slices.Clone(places)}
}

// DefaultPlaces is a small fixed night-time catalog.
func DefaultPlaces() []spec.Place {
	return []spec.Place{
		{ID: "pl_noodle_24h", Name: "Lantern Noodle House", Category: "restaurant", OpenUntil: "24h", Tags: []string{"late", "noodles", "warm", "food"}, Lat: 31.2304, Lng: 121.4737, ImageRef: "img/noodle.jpg"},
		{ID: "pl_hotel_lobby", Name: "Harbor Hotel Lobby Lounge", Category: "hotel", OpenUntil: "24h", Tags: []string{"hotel", "lobby", "quiet", "stable", "tea"}, Lat: 31.2330, Lng: 121.4800, ImageRef: "img/lobby.jpg"},
		{ID: "pl_congee", Name: "粥铺 深夜食堂", Category: "restaurant", OpenUntil: "03:00", Tags: []string{"late", "深夜", "粥", "food", "quiet"}, Lat: 31.2250, Lng: 121.4690},
		{ID: "pl_jazz_bar", Name: "Blue Hour Jazz Bar", Category: "bar", OpenUntil: "02:00", Tags: []string{"music", "bar", "late", "social"}, Lat: 31.2280, Lng: 121.4600, ImageRef: "img/jazz.jpg"},
		{ID: "pl_bookstore", Name: "Midnight Pages Bookstore", Category: "bookstore", OpenUntil: "24h", Tags: []string{"quiet", "books", "late", "focus"}, Lat: 31.2200, Lng: 121.4500},
		{ID: "pl_riverside", Name: "Riverside Night Walk", Category: "park", OpenUntil: "24h", Tags: []string{"walk", "outdoor", "river"}, Lat: 31.2400, Lng: 121.4900},
		{ID: "pl_dumpling", Name: "Corner Dumpling Stall", Category: "restaurant", OpenUntil: "01:00", Tags: []string{"food", "cheap", "noodles"}, Lat: 31.2310, Lng: 121.4710},
		{ID: "pl_24h_cafe", Name: "Always Open Cafe", Category: "cafe", OpenUntil: "24h", Tags: []string{"cafe", "quiet", "focus", "stable", "late"}, Lat: 31.2290, Lng: 121.4750, ImageRef: "img/cafe.jpg"},
		{ID: "pl_karaoke", Name: "Neon Box Karaoke", Category: "karaoke", OpenUntil: "05:00", Tags: []string{"social", "music", "late", "loud"}, Lat: 31.2350, Lng: 121.4650},
		{ID: "pl_unknown_pop", Name: "Pop-up Night Market", Category: "market", Tags: []string{"food", "unknown", "outdoor"}, Lat: 31.2270, Lng: 121.4820},
		{ID: "pl_onsen", Name: "Late Bath House", Category: "spa", OpenUntil: "02:00", Tags: []string{"quiet", "warm", "late", "relax"}, Lat: 31.2190, Lng: 121.4880},
		{ID: "pl_hotel_bar", Name: "Skyline Hotel Bar", Category: "hotel", OpenUntil: "01:00", Tags: []string{"hotel", "bar", "view"}, Lat: 31.2360, Lng: 121.4990, ImageRef: "img/skyline.jpg"},
	}
}

// Search ranks places by query-term overlap, then by distance when Near is
// set, then by id. An empty query matches everything.
func (p *Places) Search(_ context.Context, a spec.PlacesSearchArgs) (spec.PlacesSearchResult, error) {
	if a.Limit < 0 || a.Offset < 0 || a.RadiusM < 0 {
		return spec.PlacesSearchResult{}, fmt.Errorf("%w: negative paging or radius", spec.ErrInvalidArgument)
	}
	terms := strings.Fields(strings.ToLower(a.Query))

	type scored struct {
		place spec.Place
		score int
		dist  float64
	}
	var hits []scored
	for _, pl := range p.places {
		if a.OpenLate && !openLate(pl) {
			continue
		}
		dist := 0.0
		if a.Near != nil {
			dist = distanceM(a.Near.Lat, a.Near.Lng, pl.Lat, pl.Lng)
			if a.RadiusM > 0 && dist > float64(a.RadiusM) {
				continue
			}
		}
		score := matchScore(pl, terms)
		if len(terms) > 0 && score == 0 {
			continue
		}
		hits = append(hits, scored{place: pl, score: score, dist: dist})
	}
	slices.SortStableFunc(hits, func(x, y scored) int {
		if x.score != y.score {
			return y.score - x.score
		}
		if x.dist != y.dist {
			if x.dist < y.dist {
				return -1
			}
			return 1
		}
		return strings.Compare(x.place.ID, y.place.ID)
	})

	limit := a.Limit
	if limit == 0 {
		limit = defaultPlacesLimit
	}
	out := spec.PlacesSearchResult{Places: []spec.Place{}}
	for i := a.Offset; i < len(hits) && len(out.Places) < limit; i++ {
		out.Places = append(out.Places, hits[i].place)
	}
	return out, nil
}

func matchScore(pl spec.Place, terms []string) int {
	hay := strings.ToLower(pl.Name + " " + pl.Category + " " + strings.Join(pl.Tags, " "))
	score := 0
	for _, t := range terms {
		if strings.Contains(hay, t) {
			score++
		}
	}
	return score
}

func openLate(pl spec.Place) bool {
	if pl.OpenUntil == "24h" {
		return true
	}
	// "HH:MM" closing between midnight and 06:00 counts as late.
	return len(pl.OpenUntil) == 5 && pl.OpenUntil[:2] < "06"
}

func distanceM(lat1, lng1, lat2, lng2 float64) float64 {
	const r = 6371000.0
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * r * math.Asin(math.Sqrt(h))
}
