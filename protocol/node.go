package protocol

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Node is a single component node. On the wire it is a single-key object
// naming the component type and holding its properties, e.g.
// {"Text":{"text":"hello"}}. Children are referenced by opaque component ids
// the renderer resolves lazily.
type Node struct {
	Type  string
	Props map[string]any
}

func NewNode(typ string, props map[string]any) Node {
	return Node{Type: typ, Props: maps.Clone(props)}
}

func (n Node) MarshalJSON() ([]byte, error) {
	if n.Type == "" {
		return nil, fmt.Errorf("%w: component node without type", ErrMalformedMessage)
	}
	props := n.Props
	if props == nil {
		props = map[string]any{}
	}
	return json.Marshal(map[string]any{n.Type: props})
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("%w: component node must have exactly one type key, got %v", ErrMalformedMessage, sortedKeys(raw))
	}
	for typ, props := range raw {
		n.Type = typ
		n.Props = props
	}
	return nil
}
