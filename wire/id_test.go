package wire

import (
	"encoding/json"
	"testing"
)

func TestIDUnmarshalAccepted(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want any
	}{
		{"string", `"abc"`, "abc"},
		{"numeric string", `"7"`, "7"},
		{"integer", `7`, int64(7)},
		{"negative integer", `-3`, int64(-3)},
		{"null", `null`, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var id ID
			if err := json.Unmarshal([]byte(tc.in), &id); err != nil {
				t.Fatalf("unmarshal %s: %v", tc.in, err)
			}
			if got := id.Value(); got != tc.want {
				t.Fatalf("got %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestIDUnmarshalRejected(t *testing.T) {
	for _, in := range []string{`1.5`, `1e3`, `true`, `[1]`, `{"a":1}`} {
		var id ID
		if err := json.Unmarshal([]byte(in), &id); err == nil {
			t.Fatalf("expected error for %s", in)
		}
	}
}

func TestIDKeySpacesDisjoint(t *testing.T) {
	s := StringID("7")
	n := Int64ID(7)
	if s.String() == n.String() {
		t.Fatalf("string id %q and integer id %q must not collide", s.String(), n.String())
	}
}

func TestIDMarshalNull(t *testing.T) {
	null := NullID()
	data, err := json.Marshal(null)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "null" {
		t.Fatalf("got %s, want null", data)
	}
	if !null.IsNull() {
		t.Fatal("zero ID must report null")
	}
}
