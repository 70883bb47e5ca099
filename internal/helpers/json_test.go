package helpers

import "testing"

func TestExtractJSONObject(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "bare", in: `{"query":"go"}`, want: `{"query":"go"}`},
		{name: "fenced", in: "```json\n{\"query\":\"go\"}\n```", want: `{"query":"go"}`},
		{name: "prose around", in: `Here you go: {"a":{"b":"}"}} thanks`, want: `{"a":{"b":"}"}}`},
		{name: "nested arrays", in: `{"q":[1,{"x":2}]}`, want: `{"q":[1,{"x":2}]}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ExtractJSONObject(tt.in)
			if err != nil {
				t.Fatalf("ExtractJSONObject: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractJSONObjectMissing(t *testing.T) {
	if _, err := ExtractJSONObject("no object here [1,2]"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := ExtractJSONObject(`{"open": true`); err == nil {
		t.Fatalf("expected error for unbalanced input")
	}
}
