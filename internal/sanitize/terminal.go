// Package sanitize neutralises text taken from the audited repository before it
// reaches a terminal. Escape sequences in a file name or source line must not be
// able to recolour, move the cursor or hide report lines.
package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Line returns s as a single terminal-safe line. Line breaks and tabs become
// spaces; other control characters are dropped.
func Line(s string) string {
	return clean(s, false)
}

// Block is like Line but keeps newlines, for multi-line detail text.
func Block(s string) string {
	return clean(strings.ReplaceAll(s, "\r\n", "\n"), true)
}

func clean(s string, keepNewlines bool) string {
	if !needsCleaning(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range s {
		switch {
		case r == '\n' && keepNewlines:
			b.WriteRune(r)
		case r == '\n', r == '\r', r == '\t':
			b.WriteRune(' ')
		case r == utf8.RuneError && isInvalidAt(s, i):
			b.WriteRune(utf8.RuneError)
		case unicode.IsControl(r):
			// C0, DEL and C1 controls, including ESC and CSI.
		case r == '\u202e' || r == '\u202d' || r == '\u2066' || r == '\u2067' || r == '\u2068' || r == '\u2069':
			// bidi overrides can visually reorder a line
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func needsCleaning(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f || (r >= 0x80 && r < 0xa0) || r == utf8.RuneError || (r >= '\u202d' && r <= '\u202e') || (r >= '\u2066' && r <= '\u2069') {
			return true
		}
	}
	return false
}

func isInvalidAt(s string, i int) bool {
	r, size := utf8.DecodeRuneInString(s[i:])
	return r == utf8.RuneError && size <= 1
}
