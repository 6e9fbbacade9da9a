package voice

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		def   string
		want  string
	}{
		{"plain ascii kept", "study room", "", "study room"},
		{"emoji stripped", "Honza\U0001F600Novak", "", "HonzaNovak"},
		{"accented letters stripped", "Honza\U0001F600Novák", "", "HonzaNovk"},
		{"control chars stripped", "a\tb\nc", "", "abc"},
		{"all non-ascii yields default", "ŘŠČŽ", "fallback", "fallback"},
		{"empty yields default", "", "fallback", "fallback"},
		{"whitespace only yields default", "   ", "fallback", "fallback"},
		{"trimmed", "  hello  ", "", "hello"},
		{"truncated to 30", strings.Repeat("x", 45), "", strings.Repeat("x", 30)},
		{"default may be empty", "é", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.input, tt.def); got != tt.want {
				t.Errorf("Sanitize(%q, %q) = %q, want %q", tt.input, tt.def, got, tt.want)
			}
		})
	}
}
