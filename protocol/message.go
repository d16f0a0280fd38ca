// Package protocol defines the declarative UI-update messages the orchestrator
// emits and the fold a renderer applies to turn them into per-surface state.
//
// Messages are applied strictly in order. The fold is idempotent: applying an
// identical sequence twice yields the same final state.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedMessage = errors.New("malformed protocol message")

// Message is one of SurfaceUpdate, DataModelUpdate, BeginRendering, DeleteSurface.
type Message interface {
	SurfaceID() string
	isMessage()
}

// SurfaceUpdate replaces the surface's flat id -> component map wholesale.
type SurfaceUpdate struct {
	Surface    string      `json:"surfaceId"`
	Components []Component `json:"components"`
}

type Component struct {
	ID        string `json:"id"`
	Component Node   `json:"component"`
}

// DataModelUpdate merges decoded values key-wise into the surface data model.
type DataModelUpdate struct {
	Surface  string  `json:"surfaceId"`
	Contents []Entry `json:"contents"`
}

type Entry struct {
	Key   string `json:"key"`
	Value Value  `json:"value"`
}

// BeginRendering names the root component and signals render readiness.
type BeginRendering struct {
	Surface string `json:"surfaceId"`
	Root    string `json:"root"`
}

// DeleteSurface removes a surface entirely.
type DeleteSurface struct {
	Surface string `json:"surfaceId"`
}

func (m SurfaceUpdate) SurfaceID() string   { return m.Surface }
func (m DataModelUpdate) SurfaceID() string { return m.Surface }
func (m BeginRendering) SurfaceID() string  { return m.Surface }
func (m DeleteSurface) SurfaceID() string   { return m.Surface }

func (SurfaceUpdate) isMessage()   {}
func (DataModelUpdate) isMessage() {}
func (BeginRendering) isMessage()  {}
func (DeleteSurface) isMessage()   {}

type envelope struct {
	SurfaceUpdate   *SurfaceUpdate   `json:"surfaceUpdate,omitempty"`
	DataModelUpdate *DataModelUpdate `json:"dataModelUpdate,omitempty"`
	BeginRendering  *BeginRendering  `json:"beginRendering,omitempty"`
	DeleteSurface   *DeleteSurface   `json:"deleteSurface,omitempty"`
}

func wrap(m Message) (envelope, error) {
	switch v := m.(type) {
	case SurfaceUpdate:
		return envelope{SurfaceUpdate: &v}, nil
	case DataModelUpdate:
		return envelope{DataModelUpdate: &v}, nil
	case BeginRendering:
		return envelope{BeginRendering: &v}, nil
	case DeleteSurface:
		return envelope{DeleteSurface: &v}, nil
	default:
		return envelope{}, fmt.Errorf("%w: unknown message type %T", ErrMalformedMessage, m)
	}
}

func (e envelope) unwrap() (Message, error) {
	var (
		out Message
		n   int
	)
	if e.SurfaceUpdate != nil {
		out, n = *e.SurfaceUpdate, n+1
	}
	if e.DataModelUpdate != nil {
		out, n = *e.DataModelUpdate, n+1
	}
	if e.BeginRendering != nil {
		out, n = *e.BeginRendering, n+1
	}
	if e.DeleteSurface != nil {
		out, n = *e.DeleteSurface, n+1
	}
	if n != 1 {
		return nil, fmt.Errorf("%w: expected exactly one message key, got %d", ErrMalformedMessage, n)
	}
	if out.SurfaceID() == "" {
		return nil, fmt.Errorf("%w: missing surfaceId", ErrMalformedMessage)
	}
	return out, nil
}

// MarshalMessages encodes an ordered message list as a JSON array of
// single-key objects.
func MarshalMessages(msgs []Message) ([]byte, error) {
	out := make([]envelope, 0, len(msgs))
	for _, m := range msgs {
		e, err := wrap(m)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return json.Marshal(out)
}

// UnmarshalMessages decodes the output of MarshalMessages.
func UnmarshalMessages(data []byte) ([]Message, error) {
	var raw []envelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	out := make([]Message, 0, len(raw))
	for i, e := range raw {
		m, err := e.unwrap()
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}
