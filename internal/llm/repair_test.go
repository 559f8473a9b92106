package llm

import (
	"reflect"
	"strings"
	"testing"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fences", `{"a": 1}`, `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"surrounding whitespace", "  \n{\"a\": 1}\n  ", `{"a": 1}`},
		{"unterminated fence", "```json\n{\"a\": 1}", `{"a": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFences(tt.in); got != tt.want {
				t.Errorf("StripFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRepairTruncation(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already balanced", `{"a": 1}`, `{"a": 1}`},
		{"open object", `{"a": 1`, `{"a": 1}`},
		{"open array in object", `{"items": [1, 2`, `{"items": [1, 2]}`},
		{"nested objects", `{"a": {"b": [{"c": 1`, `{"a": {"b": [{"c": 1}]}}`},
		{"trailing comma", `{"a": 1,`, `{"a": 1}`},
		{"unterminated string value", `{"a": "val`, `{"a": "val"}`},
		{"unterminated string key", `{"a": 1, "b`, `{"a": 1}`},
		{"dangling key with colon", `{"a": 1, "b":`, `{"a": 1}`},
		{"mid-escape cut", `{"a": "x\`, `{"a": "x"}`},
		{"unterminated value in array", `["abc", "de`, `["abc", "de"]`},
		{"braces inside strings ignored", `{"a": "}{", "b": [1`, `{"a": "}{", "b": [1]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RepairTruncation(tt.in); got != tt.want {
				t.Errorf("RepairTruncation(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLastKeyHint(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"first": 1, "second": [`, "second"},
		{`{"only":`, "only"},
		{`[1, 2, 3`, ""},
		{``, ""},
	}

	for _, tt := range tests {
		if got := LastKeyHint(tt.in); got != tt.want {
			t.Errorf("LastKeyHint(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecodeObject_TruncatedListRecoversParsedElements(t *testing.T) {
	// Output cut off mid-array should still yield the complete elements.
	raw := `{"products": [{"name": "one", "price": 9.5}, {"name": "two", "price": 3.0}, {"name": "thr`

	obj, err := DecodeObject(raw)
	if err != nil {
		t.Fatalf("DecodeObject() error: %v", err)
	}

	products, ok := obj["products"].([]any)
	if !ok {
		t.Fatalf("products missing from repaired object: %v", obj)
	}
	if len(products) < 2 {
		t.Fatalf("repaired list has %d elements, want at least the 2 complete ones", len(products))
	}
	first := products[0].(map[string]any)
	if first["name"] != "one" || first["price"] != 9.5 {
		t.Errorf("first element corrupted by repair: %v", first)
	}
}

func TestDecodeObject_FencedOutput(t *testing.T) {
	obj, err := DecodeObject("```json\n{\"title\": \"hello\"}\n```")
	if err != nil {
		t.Fatalf("DecodeObject() error: %v", err)
	}
	if obj["title"] != "hello" {
		t.Errorf("obj = %v", obj)
	}
}

func TestDecodeObject_ArrayWrapped(t *testing.T) {
	obj, err := DecodeObject(`[{"a": 1}, {"a": 2}]`)
	if err != nil {
		t.Fatalf("DecodeObject() error: %v", err)
	}

	want := map[string]any{"items": []any{
		map[string]any{"a": float64(1)},
		map[string]any{"a": float64(2)},
	}}
	if !reflect.DeepEqual(obj, want) {
		t.Errorf("obj = %v, want %v", obj, want)
	}
}

func TestDecodeObject_Hopeless(t *testing.T) {
	_, err := DecodeObject(`I could not find any data on this page.`)
	if err == nil {
		t.Fatal("DecodeObject() should fail on prose output")
	}
}

func TestDecodeObject_HintInError(t *testing.T) {
	_, err := DecodeObject(`{"name": "x", "broken": !!`)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); !strings.Contains(got, "broken") {
		t.Errorf("error %q should name the last complete key", got)
	}
}
