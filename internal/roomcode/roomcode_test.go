package roomcode

import (
	"strings"
	"testing"
)

func TestGenerateLength(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   int
	}{
		{name: "default length", length: 5, want: 5},
		{name: "longer code", length: 8, want: 8},
		{name: "zero falls back to default", length: 0, want: DefaultLength},
		{name: "negative falls back to default", length: -3, want: DefaultLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := Generate(tt.length)
			if len(code) != tt.want {
				t.Errorf("expected length %d, got %d (%q)", tt.want, len(code), code)
			}
		})
	}
}

func TestGenerateAlphabet(t *testing.T) {
	// Ambiguous glyphs must never appear.
	for i := 0; i < 200; i++ {
		code := Generate(6)
		for _, r := range code {
			if !strings.ContainsRune(Alphabet, r) {
				t.Fatalf("code %q contains %q outside the alphabet", code, r)
			}
		}
		if strings.ContainsAny(code, "IO01") {
			t.Fatalf("code %q contains an ambiguous glyph", code)
		}
	}
}

func TestGenerateVaries(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		seen[Generate(5)] = true
	}
	// 50 draws from 24^5 combinations colliding down to a single value would
	// mean the generator is broken.
	if len(seen) < 2 {
		t.Errorf("expected varied codes, got %d distinct of 50", len(seen))
	}
}
