package router

import (
	"strings"

	"github.com/xingyang1991/nightfall/spec"
)

var (
	drivingTerms = []string{"drive", "driving", "car", "route", "road", "开车", "驾驶"}
	walkingTerms = []string{"walk", "stroll", "nearby", "步行", "散步"}
	stealthTerms = []string{"quiet", "private", "discreet", "alone", "安静", "独处"}
	lowTerms     = []string{"rest", "relax", "calm", "sleep", "focus", "休息", "放松"}
	highTerms    = []string{"party", "music", "social", "dance", "热闹"}
	lateTerms    = []string{"late", "night", "24h", "midnight", "深夜", "夜宵"}
)

// activeAffinities returns the term groups correlated with the current
// context state.
func activeAffinities(s spec.ContextSignals) [][]string {
	var out [][]string
	switch s.Mobility.Mode {
	case spec.MobilityDriving:
		out = append(out, drivingTerms)
	case spec.MobilityWalking:
		out = append(out, walkingTerms)
	}
	if s.User.Stealth {
		out = append(out, stealthTerms)
	}
	switch s.User.Energy {
	case spec.EnergyLow:
		out = append(out, lowTerms)
	case spec.EnergyHigh:
		out = append(out, highTerms)
	}
	if s.Time.Band == spec.BandLate || s.Time.Band == spec.BandDeepNight {
		out = append(out, lateTerms)
	}
	return out
}

// affinity adds one AffinityBoost per active group with a term in text.
func (r *Router) affinity(text string, groups [][]string) float64 {
	var score float64
	for _, g := range groups {
		for _, t := range g {
			if strings.Contains(text, t) {
				score += r.cfg.AffinityBoost
				break
			}
		}
	}
	return score
}
