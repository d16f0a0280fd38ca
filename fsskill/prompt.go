package fsskill

import (
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/xingyang1991/nightfall/spec"
	"github.com/xingyang1991/nightfall/toolspec"
)

type skillRequest struct {
	XMLName   xml.Name       `xml:"skill_request"`
	Skill     string         `xml:"skill,attr"`
	Stage     spec.Stage     `xml:"stage,attr"`
	Utterance string         `xml:"utterance"`
	Context   promptContext  `xml:"context"`
	Selection string         `xml:"selection,omitempty"`
	Variant   int            `xml:"variant,omitempty"`
	Places    *promptPlaces  `xml:"places,omitempty"`
	Weather   *promptWeather `xml:"weather,omitempty"`
	Tools     *promptTools   `xml:"available_tools,omitempty"`
	Output    outputFormat   `xml:"output_format"`
}

type promptContext struct {
	Band     spec.TimeBand     `xml:"band,attr"`
	Local    string            `xml:"local,attr,omitempty"`
	City     string            `xml:"city,attr,omitempty"`
	Mobility spec.MobilityMode `xml:"mobility,attr"`
	Energy   spec.EnergyLevel  `xml:"energy,attr"`
	Social   int               `xml:"socialTemp,attr"`
	Stealth  bool              `xml:"stealth,attr"`
	Mood     string            `xml:"mood,attr,omitempty"`
}

type promptPlaces struct {
	Places []promptPlace `xml:"place"`
}

type promptPlace struct {
	ID        string `xml:"id,attr"`
	Category  string `xml:"category,attr,omitempty"`
	OpenUntil string `xml:"openUntil,attr,omitempty"`
	Name      string `xml:",chardata"`
}

type promptWeather struct {
	Summary    string `xml:"summary,attr"`
	TempC      string `xml:"tempC,attr"`
	PrecipProb string `xml:"precipProb,attr"`
}

type promptTools struct {
	Tools []promptTool `xml:"tool"`
}

type promptTool struct {
	Name        string `xml:"name,attr"`
	Description string `xml:",chardata"`
}

type outputFormat struct {
	Body string `xml:",cdata"`
}

const candidatesFormat = `Reply with one JSON object:
{"candidates":[{"id":"<place id>","title":"...","tag":"...","desc":"..."}]}
Use only place ids listed above. At most 18 candidates.`

const bundleFormat = `Reply with one JSON object:
{"primaryEnding":{"title":"...","reason":"...","checklist":["..."],"riskFlags":["..."],
 "action":"NAVIGATE|START_ROUTE|PLAY|START_FOCUS","actionLabel":"...",
 "payload":{"placeId":"...","query":"...","channel":"...","durationMin":0}},
 "planB":{...same shape, more conservative...},
 "ambientTokens":["..."]}`

type promptInput struct {
	manifest spec.SkillManifest
	req      spec.SkillRequest
	signals  spec.ContextSignals
	places   []spec.Place
	weather  *spec.WeatherResult
}

func buildPrompt(in promptInput) (string, error) {
	sig := in.signals
	v := skillRequest{
		Skill:     in.manifest.ID,
		Stage:     in.req.Stage,
		Utterance: in.req.Utterance,
		Context: promptContext{
			Band:     sig.Time.Band,
			City:     sig.Location.City,
			Mobility: sig.Mobility.Mode,
			Energy:   sig.User.Energy,
			Social:   sig.User.SocialTemp,
			Stealth:  sig.User.Stealth,
			Mood:     sig.User.Mood,
		},
		Output: outputFormat{Body: bundleFormat},
	}
	if !sig.Time.Local.IsZero() {
		v.Context.Local = sig.Time.Local.Format("15:04")
	}
	if in.req.Stage == spec.StageCandidate {
		v.Output.Body = candidatesFormat
	}
	if in.req.Selection != nil {
		v.Selection = in.req.Selection.CandidateID
	}
	if in.req.Constraints != nil {
		v.Variant = in.req.Constraints.Variant
	}
	if len(in.places) > 0 {
		v.Places = &promptPlaces{Places: make([]promptPlace, 0, len(in.places))}
		for _, p := range in.places {
			v.Places.Places = append(v.Places.Places, promptPlace{
				ID:        p.ID,
				Category:  p.Category,
				OpenUntil: p.OpenUntil,
				Name:      p.Name,
			})
		}
	}
	if in.weather != nil {
		v.Weather = &promptWeather{
			Summary:    in.weather.Summary,
			TempC:      strconv.FormatFloat(in.weather.TempC, 'f', 1, 64),
			PrecipProb: strconv.FormatFloat(in.weather.PrecipProb, 'f', 2, 64),
		}
	}
	if tools := toolspec.Subset(in.manifest.Permissions.Tools); len(tools) > 0 {
		v.Tools = &promptTools{Tools: make([]promptTool, 0, len(tools))}
		for _, t := range tools {
			v.Tools.Tools = append(v.Tools.Tools, promptTool{Name: t.Slug, Description: t.Description})
		}
	}

	b, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("xml encode: %w", err)
	}
	return string(b), nil
}
