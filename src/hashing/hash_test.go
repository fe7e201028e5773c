package hashing

import "testing"

func TestJSONHashStable(t *testing.T) {
	a, err := JSONHash(map[string]any{"b": 1, "a": 2})
	if err != nil {
		t.Fatalf("JSONHash: %v", err)
	}
	b, err := JSONHash(map[string]any{"a": 2, "b": 1})
	if err != nil {
		t.Fatalf("JSONHash: %v", err)
	}
	if a != b {
		t.Fatalf("expected stable hash regardless of map insertion order, got %q vs %q", a, b)
	}
}

func TestJSONHashSensitivity(t *testing.T) {
	a := MustJSONHash([]any{"x", 1})
	b := MustJSONHash([]any{"x", 2})
	if a == b {
		t.Fatalf("expected different hashes for different payloads")
	}
}

func TestNodeHashDeterministic(t *testing.T) {
	h1 := Node("salt", "step", []string{"RUN", "echo hi"}, "parenthash")
	h2 := Node("salt", "step", []string{"RUN", "echo hi"}, "parenthash")
	if h1 != h2 {
		t.Fatalf("expected deterministic node hash, got %q vs %q", h1, h2)
	}
	h3 := Node("salt2", "step", []string{"RUN", "echo hi"}, "parenthash")
	if h1 == h3 {
		t.Fatalf("expected salt to affect node hash")
	}
}
