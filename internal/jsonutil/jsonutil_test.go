package jsonutil

import (
	"reflect"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]interface{}
	}{
		{
			name:  "bare object",
			input: `{"key": "value"}`,
			want:  map[string]interface{}{"key": "value"},
		},
		{
			name:  "json fence",
			input: "```json\n{\"key\": \"value\"}\n```",
			want:  map[string]interface{}{"key": "value"},
		},
		{
			name:  "plain fence",
			input: "```\n{\"n\": 2}\n```",
			want:  map[string]interface{}{"n": float64(2)},
		},
		{
			name:  "preamble",
			input: `Here is the JSON: {"key": "value"}`,
			want:  map[string]interface{}{"key": "value"},
		},
		{
			name:  "postamble",
			input: `{"key": "value"} is the JSON`,
			want:  map[string]interface{}{"key": "value"},
		},
		{
			name:  "preamble and postamble",
			input: `Start {"key": "value"} End`,
			want:  map[string]interface{}{"key": "value"},
		},
		{
			name:  "nested object",
			input: `{"outer": {"inner": "value"}}`,
			want:  map[string]interface{}{"outer": map[string]interface{}{"inner": "value"}},
		},
		{
			name:  "valid followed by invalid",
			input: `{"valid": 1} { invalid }`,
			want:  map[string]interface{}{"valid": float64(1)},
		},
		{
			name:  "brace inside string value",
			input: `{"a": "}"}`,
			want:  map[string]interface{}{"a": "}"},
		},
		{
			name:  "braces inside string with prose",
			input: `Result: {"msg": "use {placeholder} here", "n": 2} done`,
			want:  map[string]interface{}{"msg": "use {placeholder} here", "n": float64(2)},
		},
		{
			name:  "unterminated object fails closed",
			input: `{ "key": "value"`,
			want:  map[string]interface{}{},
		},
		{
			name:  "not json at all",
			input: "not json at all",
			want:  map[string]interface{}{},
		},
		{
			name:  "empty input",
			input: "",
			want:  map[string]interface{}{},
		},
		{
			name:  "fence around garbage fails closed",
			input: "```json\nnope\n```",
			want:  map[string]interface{}{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.input)
			if got == nil {
				t.Fatal("Extract() returned nil map")
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Extract() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestExtractTo(t *testing.T) {
	type analysis struct {
		Complexity string   `json:"complexity"`
		Risks      []string `json:"risks"`
	}

	var a analysis
	ok := ExtractTo("```json\n{\"complexity\": \"high\", \"risks\": [\"auth\"]}\n```", &a)
	if !ok {
		t.Fatal("ExtractTo() = false, want true")
	}
	if a.Complexity != "high" || len(a.Risks) != 1 || a.Risks[0] != "auth" {
		t.Errorf("decoded %+v", a)
	}

	var b analysis
	if ExtractTo("total garbage", &b) {
		t.Error("ExtractTo() = true for garbage input")
	}
}

func TestStringAccess(t *testing.T) {
	m := map[string]interface{}{
		"s": "hello",
		"n": float64(3.5),
		"b": true,
	}
	if got := String(m, "s"); got != "hello" {
		t.Errorf("String(s) = %q", got)
	}
	if got := String(m, "n"); got != "3.5" {
		t.Errorf("String(n) = %q", got)
	}
	if got := String(m, "b"); got != "true" {
		t.Errorf("String(b) = %q", got)
	}
	if got := String(m, "missing"); got != "" {
		t.Errorf("String(missing) = %q", got)
	}
	if got := StringOr(m, "missing", "fallback"); got != "fallback" {
		t.Errorf("StringOr(missing) = %q", got)
	}
}

func TestFloatAccess(t *testing.T) {
	m := map[string]interface{}{
		"f":    float64(0.85),
		"str":  "0.7",
		"text": "high",
	}
	if f, ok := Float(m, "f"); !ok || f != 0.85 {
		t.Errorf("Float(f) = %v, %v", f, ok)
	}
	if f, ok := Float(m, "str"); !ok || f != 0.7 {
		t.Errorf("Float(str) = %v, %v", f, ok)
	}
	if _, ok := Float(m, "text"); ok {
		t.Error("Float(text) should fail")
	}
	if _, ok := Float(m, "missing"); ok {
		t.Error("Float(missing) should fail")
	}
	if got := FloatOr(m, "missing", 0.5); got != 0.5 {
		t.Errorf("FloatOr(missing) = %v", got)
	}
	if n, ok := Int(m, "f"); !ok || n != 0 {
		t.Errorf("Int(f) = %v, %v (want truncation to 0)", n, ok)
	}
}

func TestBoolAccess(t *testing.T) {
	m := map[string]interface{}{
		"b":   false,
		"yes": "true",
		"no":  "no",
		"bad": "perhaps",
	}
	if b, ok := Bool(m, "b"); !ok || b {
		t.Errorf("Bool(b) = %v, %v", b, ok)
	}
	if b, ok := Bool(m, "yes"); !ok || !b {
		t.Errorf("Bool(yes) = %v, %v", b, ok)
	}
	if b, ok := Bool(m, "no"); !ok || b {
		t.Errorf("Bool(no) = %v, %v", b, ok)
	}
	if _, ok := Bool(m, "bad"); ok {
		t.Error("Bool(bad) should fail")
	}
}

func TestSliceAccess(t *testing.T) {
	m := map[string]interface{}{
		"tags":  []interface{}{"a", float64(2), nil, "b"},
		"steps": []interface{}{map[string]interface{}{"action": "click"}, "stray"},
		"plain": "not a list",
	}

	tags := StringSlice(m, "tags")
	if !reflect.DeepEqual(tags, []string{"a", "2", "b"}) {
		t.Errorf("StringSlice(tags) = %#v", tags)
	}
	if StringSlice(m, "plain") != nil {
		t.Error("StringSlice(plain) should be nil")
	}

	steps := MapSlice(m, "steps")
	if len(steps) != 1 || steps[0]["action"] != "click" {
		t.Errorf("MapSlice(steps) = %#v", steps)
	}

	nested := Map(m, "missing")
	if nested == nil || len(nested) != 0 {
		t.Errorf("Map(missing) = %#v", nested)
	}
}
