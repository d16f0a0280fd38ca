// Package audit keeps the replayable trace of every action: a bounded ring
// buffer of recent records, optionally mirrored to a durable sink.
package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind names an audit event variant.
type Kind string

const (
	KindSkillStart      Kind = "skill_start"
	KindSkillEnd        Kind = "skill_end"
	KindToolCall        Kind = "tool_call"
	KindPolicyClip      Kind = "policy_clip"
	KindPolicyViolation Kind = "policy_violation"
)

// Event is one of SkillStart, SkillEnd, ToolCall, PolicyClip, PolicyViolation.
type Event interface {
	Kind() Kind
	isEvent()
}

type SkillStart struct {
	SkillID string `json:"skillId"`
	Stage   string `json:"stage"`
}

type SkillEnd struct {
	SkillID  string        `json:"skillId"`
	Stage    string        `json:"stage"`
	OK       bool          `json:"ok"`
	Duration time.Duration `json:"durationNs"`
	Error    string        `json:"error,omitempty"`
}

type ToolCall struct {
	Tool     string        `json:"tool"`
	OK       bool          `json:"ok"`
	Duration time.Duration `json:"durationNs"`
	Attempts int           `json:"attempts,omitempty"`
	Replayed bool          `json:"replayed,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type PolicyClip struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
	Reason string `json:"reason,omitempty"`
}

type PolicyViolation struct {
	Code    string `json:"code"`
	Detail  string `json:"detail,omitempty"`
	SkillID string `json:"skillId,omitempty"`
}

func (SkillStart) Kind() Kind      { return KindSkillStart }
func (SkillEnd) Kind() Kind        { return KindSkillEnd }
func (ToolCall) Kind() Kind        { return KindToolCall }
func (PolicyClip) Kind() Kind      { return KindPolicyClip }
func (PolicyViolation) Kind() Kind { return KindPolicyViolation }

func (SkillStart) isEvent()      {}
func (SkillEnd) isEvent()        {}
func (ToolCall) isEvent()        {}
func (PolicyClip) isEvent()      {}
func (PolicyViolation) isEvent() {}

// Record is an event stamped with its position and trace.
type Record struct {
	Seq       uint64    `json:"seq"`
	At        time.Time `json:"at"`
	TraceID   string    `json:"traceId"`
	SessionID string    `json:"sessionId,omitempty"`
	Event     Event     `json:"-"`
}

type wireRecord struct {
	Seq       uint64          `json:"seq"`
	At        time.Time       `json:"at"`
	TraceID   string          `json:"traceId"`
	SessionID string          `json:"sessionId,omitempty"`
	Kind      Kind            `json:"kind"`
	Data      json.RawMessage `json:"data"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	if r.Event == nil {
		return nil, fmt.Errorf("audit record %d has no event", r.Seq)
	}
	data, err := json.Marshal(r.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireRecord{
		Seq:       r.Seq,
		At:        r.At,
		TraceID:   r.TraceID,
		SessionID: r.SessionID,
		Kind:      r.Event.Kind(),
		Data:      data,
	})
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var w wireRecord
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	ev, err := DecodeEvent(w.Kind, w.Data)
	if err != nil {
		return err
	}
	*r = Record{Seq: w.Seq, At: w.At, TraceID: w.TraceID, SessionID: w.SessionID, Event: ev}
	return nil
}

// DecodeEvent rebuilds an event from its kind and JSON body.
func DecodeEvent(kind Kind, data []byte) (Event, error) {
	switch kind {
	case KindSkillStart:
		return decodeAs[SkillStart](data)
	case KindSkillEnd:
		return decodeAs[SkillEnd](data)
	case KindToolCall:
		return decodeAs[ToolCall](data)
	case KindPolicyClip:
		return decodeAs[PolicyClip](data)
	case KindPolicyViolation:
		return decodeAs[PolicyViolation](data)
	default:
		return nil, fmt.Errorf("unknown audit event kind %q", kind)
	}
}

func decodeAs[E Event](data []byte) (Event, error) {
	var ev E
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode %T: %w", ev, err)
	}
	return ev, nil
}
