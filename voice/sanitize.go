package voice

import "strings"

// maxNameLength is the channel name cap applied after sanitization.
const maxNameLength = 30

// Sanitize strips every rune outside the printable ASCII range, trims the
// result, and truncates it to maxNameLength. An input that sanitizes to
// nothing yields def. The same rule applies to requested channel names and to
// the owner display name substituted into the default name template.
func Sanitize(input, def string) string {
	var b strings.Builder
	for _, r := range input {
		if r >= 0x20 && r <= 0x7e {
			b.WriteRune(r)
		}
	}
	s := strings.TrimSpace(b.String())
	if s == "" {
		return def
	}
	if len(s) > maxNameLength {
		s = s[:maxNameLength]
	}
	return s
}
