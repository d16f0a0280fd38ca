package spec

import "time"

// TimeBand is a coarse slice of the local day. It is a pure function of the
// local hour (see BandForHour).
type TimeBand string

const (
	BandMorning   TimeBand = "morning"
	BandMidday    TimeBand = "midday"
	BandAfternoon TimeBand = "afternoon"
	BandEvening   TimeBand = "evening"
	BandLate      TimeBand = "late"
	BandDeepNight TimeBand = "deep_night"
)

// BandForHour maps a local hour (0-23) to its band.
func BandForHour(hour int) TimeBand {
	hour = ((hour % 24) + 24) % 24
	switch {
	case hour >= 5 && hour < 11:
		return BandMorning
	case hour >= 11 && hour < 14:
		return BandMidday
	case hour >= 14 && hour < 18:
		return BandAfternoon
	case hour >= 18 && hour < 22:
		return BandEvening
	case hour >= 22 || hour < 2:
		return BandLate
	default:
		return BandDeepNight
	}
}

type MobilityMode string

const (
	MobilityStationary MobilityMode = "stationary"
	MobilityWalking    MobilityMode = "walking"
	MobilityTransit    MobilityMode = "transit"
	MobilityDriving    MobilityMode = "driving"
)

type EnergyLevel string

const (
	EnergyLow  EnergyLevel = "low"
	EnergyMid  EnergyLevel = "mid"
	EnergyHigh EnergyLevel = "high"
)

const (
	MinSocialTemp = 0
	MaxSocialTemp = 3
)

type TimeInfo struct {
	Local time.Time `json:"local"`
	Band  TimeBand  `json:"band"`
}

type Location struct {
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	City string  `json:"city,omitempty"`
}

type Mobility struct {
	Mode     MobilityMode `json:"mode"`
	SpeedKPH float64      `json:"speedKph,omitempty"`
}

type UserState struct {
	Energy     EnergyLevel `json:"energy"`
	SocialTemp int         `json:"socialTemp"`
	// Stealth gates visibility-sensitive output (media, imagery).
	Stealth bool   `json:"stealth,omitempty"`
	Mood    string `json:"mood,omitempty"`
}

// ContextSignals is the immutable per-request snapshot handed to the router
// and to skills. Build it with NewContextSignals so the invariants hold.
type ContextSignals struct {
	Time     TimeInfo  `json:"time"`
	Location Location  `json:"location"`
	Mobility Mobility  `json:"mobility"`
	User     UserState `json:"userState"`
}

func NewContextSignals(local time.Time, loc Location, mob Mobility, user UserState) ContextSignals {
	if mob.Mode == "" {
		mob.Mode = MobilityStationary
	}
	if user.Energy == "" {
		user.Energy = EnergyMid
	}
	user.SocialTemp = min(max(user.SocialTemp, MinSocialTemp), MaxSocialTemp)
	return ContextSignals{
		Time:     TimeInfo{Local: local, Band: BandForHour(local.Hour())},
		Location: loc,
		Mobility: mob,
		User:     user,
	}
}

// Normalize re-derives the band and clamps fields on signals that arrived
// over the wire.
func (c ContextSignals) Normalize() ContextSignals {
	local := c.Time.Local
	if local.IsZero() {
		local = time.Now()
	}
	return NewContextSignals(local, c.Location, c.Mobility, c.User)
}
