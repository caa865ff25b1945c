package jsonvalue

import (
	"strconv"
	"strings"
)

// Walk follows a dot-separated path such as "choices.0.message.content".
// Each segment is an object key, or an array index when the current value
// is an array. Traversal stops with ok=false at the first segment that is
// missing or lands on a value that cannot be traversed.
func (v Value) Walk(path string) (Value, bool) {
	if path == "" {
		return Value{}, false
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		next, ok := cur.step(seg)
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// WalkString is Walk that also requires the result to be a JSON string.
// Non-string results are reported as not found, never coerced.
func (v Value) WalkString(path string) (string, bool) {
	res, ok := v.Walk(path)
	if !ok {
		return "", false
	}
	return res.Str()
}

func (v Value) step(seg string) (Value, bool) {
	switch v.kind {
	case Object:
		return v.Field(seg)
	case Array:
		i, ok := arrayIndex(seg)
		if !ok {
			return Value{}, false
		}
		return v.Index(i)
	default:
		return Value{}, false
	}
}

// arrayIndex accepts only canonical non-negative decimals ("0", "12"),
// matching how a string key addresses an array element.
func arrayIndex(seg string) (int, bool) {
	if seg == "" || (len(seg) > 1 && seg[0] == '0') {
		return 0, false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	i, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	return i, true
}
