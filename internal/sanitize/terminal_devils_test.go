package sanitize

import (
	"strings"
	"testing"
)

func TestLine_ControlCharacters(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		reject string
	}{
		{"null byte", "test\x00evil.ts", "\x00"},
		{"newline injection", "test\nevil.ts", "\n"},
		{"carriage return", "test\revil.ts", "\r"},
		{"tab", "test\tevil.ts", "\t"},
		{"bell", "test\x07evil.ts", "\x07"},
		{"escape", "test\x1b[2Jevil.ts", "\x1b"},
		{"DEL", "test\x7fevil.ts", "\x7f"},
		{"C1 CSI", "test\u009b31mevil.ts", "\u009b"},
		{"bidi override", "test\u202eevil.ts", "\u202e"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Line(tt.input)
			if strings.Contains(result, tt.reject) {
				t.Errorf("Line should strip %q, got %q", tt.reject, result)
			}
		})
	}
}

func TestLine_WhitespaceBecomesSpaces(t *testing.T) {
	if got := Line("a\tb\nc\r\nd"); got != "a b c  d" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestLine_PlainTextUnchanged(t *testing.T) {
	for _, s := range []string{"", "src/app/page.tsx:12  const x = a?.b", "Umlaut äöü and emoji 🚀"} {
		if got := Line(s); got != s {
			t.Fatalf("expected %q unchanged, got %q", s, got)
		}
	}
}

func TestBlock_KeepsNewlines(t *testing.T) {
	got := Block("line one\r\nline\x1b[31m two\n\tthree")
	if got != "line one\nline[31m two\n three" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestLine_InvalidUTF8(t *testing.T) {
	got := Line("ok\xffok")
	if got != "ok�ok" {
		t.Fatalf("expected replacement character, got %q", got)
	}
}
