package store

import (
	"testing"

	"github.com/cordage-io/cordage/internal/model"
)

func TestMarshalPolicy_Variants(t *testing.T) {
	cases := []struct {
		name    string
		policy  model.Policy
		kind    string
		size    int
		relable bool
	}{
		{"data", model.Data(), "data", 0, false},
		{"buffer", model.Buffer(16), "buffer", 16, false},
		{"reliable buffer", model.Policy{Kind: model.PolicyBuffer, Size: 2, Reliable: true}, "buffer", 2, true},
	}

	for _, tc := range cases {
		kind, size, reliable, err := marshalPolicy(tc.policy)
		if err != nil {
			t.Errorf("%s: marshalPolicy() failed: %v", tc.name, err)
			continue
		}
		if kind != tc.kind || size != tc.size || reliable != tc.relable {
			t.Errorf("%s: got (%s, %d, %v), expected (%s, %d, %v)",
				tc.name, kind, size, reliable, tc.kind, tc.size, tc.relable)
		}

		back, err := unmarshalPolicy(kind, size, reliable)
		if err != nil {
			t.Errorf("%s: unmarshalPolicy() failed: %v", tc.name, err)
			continue
		}
		if back != tc.policy {
			t.Errorf("%s: round trip produced %v, expected %v", tc.name, back, tc.policy)
		}
	}
}

func TestMarshalPolicy_RejectsUnset(t *testing.T) {
	if _, _, _, err := marshalPolicy(model.Policy{}); err == nil {
		t.Fatal("marshalPolicy() accepted an unset policy")
	}
}

func TestUnmarshalPolicy_RejectsUnknownKind(t *testing.T) {
	if _, err := unmarshalPolicy("ring", 4, false); err == nil {
		t.Fatal("unmarshalPolicy() accepted an unknown kind")
	}
}

func TestMarshalDetail_NilAndCanonical(t *testing.T) {
	got, err := marshalDetail(nil)
	if err != nil {
		t.Fatalf("marshalDetail(nil) failed: %v", err)
	}
	if got != "{}" {
		t.Errorf("marshalDetail(nil) = %s, expected {}", got)
	}

	got, err = marshalDetail(map[string]any{"b": 2, "a": "x"})
	if err != nil {
		t.Fatalf("marshalDetail() failed: %v", err)
	}
	if got != `{"a":"x","b":2}` {
		t.Errorf("marshalDetail() = %s, expected sorted canonical form", got)
	}
}
