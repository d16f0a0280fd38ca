package nightfall

import (
	"encoding/json"

	"github.com/xingyang1991/nightfall/protocol"
	"github.com/xingyang1991/nightfall/spec"
)

// Response is what one operation produced: messages for the renderer, in
// order, and effects for the host to execute after applying them.
type Response struct {
	SessionID spec.SessionID
	TraceID   string
	Stage     spec.FlowStage
	Messages  []protocol.Message
	Effects   []protocol.Effect
}

func (r *Response) MarshalJSON() ([]byte, error) {
	msgs, err := protocol.MarshalMessages(r.Messages)
	if err != nil {
		return nil, err
	}
	effects, err := protocol.MarshalEffects(r.Effects)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		SessionID spec.SessionID  `json:"sessionId"`
		TraceID   string          `json:"traceId"`
		Stage     spec.FlowStage  `json:"stage"`
		Messages  json.RawMessage `json:"messages"`
		Effects   json.RawMessage `json:"effects"`
	}{r.SessionID, r.TraceID, r.Stage, msgs, effects})
}

// effect appends e unless an equal effect is already queued.
func (r *Response) effect(e protocol.Effect) {
	for _, have := range r.Effects {
		if have == e {
			return
		}
	}
	r.Effects = append(r.Effects, e)
}
