package protocol

import (
	"encoding/json"
	"fmt"
)

// Effect is a host directive executed after messages are applied. Effects
// stay outside the data model because they need host-native capability.
type Effect interface {
	EffectType() string
	isEffect()
}

const (
	EffectOpenWhispers  = "open_whispers"
	EffectCloseWhispers = "close_whispers"
	EffectEnterFocus    = "enter_focus"
	EffectExitFocus     = "exit_focus"
	EffectOpenExternal  = "open_external"
	EffectSetChannel    = "set_channel"
	EffectStyleHint     = "style_hint"
)

type OpenWhispers struct{}

type CloseWhispers struct{}

type EnterFocus struct {
	DurationMin int `json:"durationMin,omitempty"`
}

type ExitFocus struct{}

type OpenExternal struct {
	URL string `json:"url"`
}

type SetChannel struct {
	Channel string `json:"channel"`
}

type StyleHint struct {
	Hint string `json:"hint"`
}

func (OpenWhispers) EffectType() string  { return EffectOpenWhispers }
func (CloseWhispers) EffectType() string { return EffectCloseWhispers }
func (EnterFocus) EffectType() string    { return EffectEnterFocus }
func (ExitFocus) EffectType() string     { return EffectExitFocus }
func (OpenExternal) EffectType() string  { return EffectOpenExternal }
func (SetChannel) EffectType() string    { return EffectSetChannel }
func (StyleHint) EffectType() string     { return EffectStyleHint }

func (OpenWhispers) isEffect()  {}
func (CloseWhispers) isEffect() {}
func (EnterFocus) isEffect()    {}
func (ExitFocus) isEffect()     {}
func (OpenExternal) isEffect()  {}
func (SetChannel) isEffect()    {}
func (StyleHint) isEffect()     {}

// MarshalEffects encodes effects as [{"type":"open_external","url":"..."}].
func MarshalEffects(effects []Effect) ([]byte, error) {
	out := make([]map[string]any, 0, len(effects))
	for _, e := range effects {
		m := map[string]any{"type": e.EffectType()}
		switch v := e.(type) {
		case OpenWhispers, CloseWhispers, ExitFocus:
		case EnterFocus:
			if v.DurationMin > 0 {
				m["durationMin"] = v.DurationMin
			}
		case OpenExternal:
			m["url"] = v.URL
		case SetChannel:
			m["channel"] = v.Channel
		case StyleHint:
			m["hint"] = v.Hint
		default:
			return nil, fmt.Errorf("%w: unknown effect %T", ErrMalformedMessage, e)
		}
		out = append(out, m)
	}
	return json.Marshal(out)
}
