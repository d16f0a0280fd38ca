package protocol

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

// Value is the typed value union carried by DataModelUpdate. Renderers only
// ever see the decoded plain form (see Plain).
type Value struct {
	kind Kind
	s    string
	n    float64
	b    bool
	list []Value
	m    map[string]Value
}

func String(s string) Value         { return Value{kind: KindString, s: s} }
func Number(n float64) Value        { return Value{kind: KindNumber, n: n} }
func Bool(b bool) Value             { return Value{kind: KindBool, b: b} }
func Null() Value                   { return Value{kind: KindNull} }
func List(vs ...Value) Value        { return Value{kind: KindList, list: slices.Clone(vs)} }
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: maps.Clone(m)} }

// Strings is shorthand for a list of string values.
func Strings(ss []string) Value {
	vs := make([]Value, 0, len(ss))
	for _, s := range ss {
		vs = append(vs, String(s))
	}
	return Value{kind: KindList, list: vs}
}

func (v Value) Kind() Kind { return v.kind }

// Plain decodes the union into plain Go values:
// string, float64, bool, nil, []any, map[string]any.
func (v Value) Plain() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return v.n
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, 0, len(v.list))
		for _, it := range v.list {
			out = append(out, it.Plain())
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, it := range v.m {
			out[k] = it.Plain()
		}
		return out
	default:
		return nil
	}
}

// ValueOf converts a plain Go value into the union. Unsupported types yield an error.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case float32:
		return Number(float64(t)), nil
	case float64:
		return Number(t), nil
	case []string:
		return Strings(t), nil
	case []any:
		vs := make([]Value, 0, len(t))
		for _, it := range t {
			v, err := ValueOf(it)
			if err != nil {
				return Value{}, err
			}
			vs = append(vs, v)
		}
		return Value{kind: KindList, list: vs}, nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, it := range t {
			v, err := ValueOf(it)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Value{kind: KindMap, m: m}, nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported value type %T", ErrMalformedMessage, x)
	}
}

type wireValue struct {
	String *string          `json:"valueString,omitempty"`
	Number *float64         `json:"valueNumber,omitempty"`
	Bool   *bool            `json:"valueBool,omitempty"`
	Null   bool             `json:"valueNull,omitempty"`
	List   []Value          `json:"valueList,omitempty"`
	Map    map[string]Value `json:"valueMap,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	var w wireValue
	switch v.kind {
	case KindString:
		w.String = &v.s
	case KindNumber:
		w.Number = &v.n
	case KindBool:
		w.Bool = &v.b
	case KindList:
		// Empty lists stay lists on the wire instead of collapsing to {}.
		if len(v.list) == 0 {
			return []byte(`{"valueList":[]}`), nil
		}
		w.List = v.list
	case KindMap:
		if len(v.m) == 0 {
			return []byte(`{"valueMap":{}}`), nil
		}
		w.Map = v.m
	default:
		w.Null = true
	}
	return json.Marshal(w)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("%w: value must have exactly one variant key, got %v", ErrMalformedMessage, sortedKeys(raw))
	}
	for k, body := range raw {
		switch k {
		case "valueString":
			var s string
			if err := json.Unmarshal(body, &s); err != nil {
				return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
			}
			*v = String(s)
		case "valueNumber":
			var n float64
			if err := json.Unmarshal(body, &n); err != nil {
				return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
			}
			*v = Number(n)
		case "valueBool":
			var b bool
			if err := json.Unmarshal(body, &b); err != nil {
				return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
			}
			*v = Bool(b)
		case "valueNull":
			*v = Null()
		case "valueList":
			var l []Value
			if err := json.Unmarshal(body, &l); err != nil {
				return err
			}
			*v = Value{kind: KindList, list: l}
		case "valueMap":
			var m map[string]Value
			if err := json.Unmarshal(body, &m); err != nil {
				return err
			}
			*v = Value{kind: KindMap, m: m}
		default:
			return fmt.Errorf("%w: unknown value variant %q", ErrMalformedMessage, k)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
