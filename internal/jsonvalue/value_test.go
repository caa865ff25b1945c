package jsonvalue

import (
	"strings"
	"testing"
)

func mustParse(t *testing.T, s string) Value {
	t.Helper()
	v, err := Parse([]byte(s))
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func TestParseKinds(t *testing.T) {
	cases := map[string]Kind{
		`null`:        Null,
		`true`:        Bool,
		`12.5`:        Number,
		`"x"`:         String,
		`[1,2]`:       Array,
		`{"a":1}`:     Object,
		` {"a":[]} `:  Object,
		"[\n\"a\"\n]": Array,
	}
	for in, want := range cases {
		if got := mustParse(t, in).Kind(); got != want {
			t.Fatalf("parse %q: expected kind %s, got %s", in, want, got)
		}
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	if _, err := Parse([]byte(`{"a":1} {"b":2}`)); err == nil {
		t.Fatalf("expected error for trailing data")
	}
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}

func TestWalk(t *testing.T) {
	v := mustParse(t, `{"data":[{"text":"ok"}],"choices":[{"message":{"content":"hello"}}],"n":3,"nested":{"0":"zero"}}`)

	if got, ok := v.WalkString("data.0.text"); !ok || got != "ok" {
		t.Fatalf("expected ok, got %q (%v)", got, ok)
	}
	if got, ok := v.WalkString("choices.0.message.content"); !ok || got != "hello" {
		t.Fatalf("expected hello, got %q (%v)", got, ok)
	}
	if got, ok := v.WalkString("nested.0"); !ok || got != "zero" {
		t.Fatalf("numeric segment on object should be a plain key, got %q (%v)", got, ok)
	}

	notFound := []string{
		"",
		"data.1.text",
		"data.x.text",
		"data.00.text",
		"data.-1.text",
		"missing",
		"n.value",
		"data.0.text.more",
		"choices..message",
	}
	for _, p := range notFound {
		if _, ok := v.Walk(p); ok {
			t.Fatalf("expected path %q to be not found", p)
		}
	}
}

func TestWalkStringDoesNotCoerce(t *testing.T) {
	v := mustParse(t, `{"n":42,"b":true,"o":{"k":"v"},"z":null}`)
	for _, p := range []string{"n", "b", "o", "z"} {
		if _, ok := v.Walk(p); !ok {
			t.Fatalf("expected %q to resolve", p)
		}
		if s, ok := v.WalkString(p); ok {
			t.Fatalf("expected non-string %q to be rejected, got %q", p, s)
		}
	}
}

func TestPreviewTruncates(t *testing.T) {
	v := mustParse(t, `{"b":2,"a":"`+strings.Repeat("x", 100)+`"}`)
	p := v.Preview(20)
	if !strings.HasPrefix(p, `{"a":"xxxx`) {
		t.Fatalf("expected sorted compact preview, got %q", p)
	}
	if !strings.HasSuffix(p, "…") || len([]rune(p)) != 21 {
		t.Fatalf("expected 20 runes plus ellipsis, got %q", p)
	}
	if got := mustParse(t, `[1,"a"]`).Preview(100); got != `[1,"a"]` {
		t.Fatalf("unexpected short preview %q", got)
	}
}
