package jsonvalue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

type Kind int

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "unknown"
	}
}

// Value is an immutable JSON value. The zero Value is JSON null.
type Value struct {
	kind Kind
	b    bool
	n    json.Number
	s    string
	arr  []Value
	obj  map[string]Value
}

func NewString(s string) Value { return Value{kind: String, s: s} }

func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("decode json: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, fmt.Errorf("decode json: trailing data after top-level value")
	}
	return FromAny(raw)
}

// FromAny converts the output of a json.Decoder (with or without UseNumber)
// into a Value.
func FromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Value{}, nil
	case bool:
		return Value{kind: Bool, b: t}, nil
	case json.Number:
		return Value{kind: Number, n: t}, nil
	case float64:
		return Value{kind: Number, n: json.Number(strconv.FormatFloat(t, 'g', -1, 64))}, nil
	case string:
		return Value{kind: String, s: t}, nil
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return Value{kind: Array, arr: items}, nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			fields[k] = v
		}
		return Value{kind: Object, obj: fields}, nil
	default:
		return Value{}, fmt.Errorf("unsupported json type %T", raw)
	}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) Str() (string, bool) {
	if v.kind != String {
		return "", false
	}
	return v.s, true
}

// Len reports the number of elements of an array or fields of an object.
func (v Value) Len() int {
	switch v.kind {
	case Array:
		return len(v.arr)
	case Object:
		return len(v.obj)
	default:
		return 0
	}
}

func (v Value) Field(key string) (Value, bool) {
	if v.kind != Object {
		return Value{}, false
	}
	f, ok := v.obj[key]
	return f, ok
}

func (v Value) Index(i int) (Value, bool) {
	if v.kind != Array || i < 0 || i >= len(v.arr) {
		return Value{}, false
	}
	return v.arr[i], true
}

func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(v.b))
	case Number:
		buf.WriteString(v.n.String())
	case String:
		b, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(b)
	case Array:
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Object:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := v.obj[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown json kind %d", v.kind)
	}
	return nil
}

// Preview renders v as compact JSON cut to at most limit runes.
func (v Value) Preview(limit int) string {
	b, err := v.MarshalJSON()
	if err != nil {
		return "<" + v.kind.String() + ">"
	}
	return truncate(string(b), limit)
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return strings.TrimSpace(string(r[:limit])) + "…"
}
