package jsonx

import (
	"reflect"
	"testing"
)

func TestParseCompleteDocument(t *testing.T) {
	got := Parse(`{"city":"Tokyo","days":3}`)
	want := map[string]any{"city": "Tokyo", "days": float64(3)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParsePrefixes(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  map[string]any
	}{
		{"empty", "", map[string]any{}},
		{"open object", `{`, map[string]any{}},
		{"open string value", `{"city":"Tok`, map[string]any{"city": "Tok"}},
		{"mid escape", `{"path":"a\`, map[string]any{"path": "a"}},
		{"dangling colon", `{"city":`, map[string]any{"city": nil}},
		{"dangling comma", `{"a":1,`, map[string]any{"a": float64(1)}},
		{"open array", `{"items":["x","y"`, map[string]any{"items": []any{"x", "y"}}},
		{"nested open object", `{"a":{"b":{"c":1`, map[string]any{"a": map[string]any{"b": map[string]any{"c": float64(1)}}}},
		{"garbage", `not json at all`, map[string]any{}},
		{"truncated literal", `{"flag":tru`, map[string]any{}},
	}
	for _, tc := range cases {
		if got := Parse(tc.input); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("%s: Parse(%q) = %v, want %v", tc.name, tc.input, got, tc.want)
		}
	}
}

func TestParseIgnoresBracketsInsideStrings(t *testing.T) {
	got := Parse(`{"text":"a { b [ c`)
	want := map[string]any{"text": "a { b [ c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseStrict(t *testing.T) {
	if _, err := ParseStrict(`{"a":`); err == nil {
		t.Error("prefix should fail strict parse")
	}
	got, err := ParseStrict(`{"a":1}`)
	if err != nil || got["a"] != float64(1) {
		t.Errorf("ParseStrict = %v, %v", got, err)
	}
	got, err = ParseStrict(`null`)
	if err != nil || got == nil || len(got) != 0 {
		t.Errorf("null should decode to empty map, got %v, %v", got, err)
	}
}
