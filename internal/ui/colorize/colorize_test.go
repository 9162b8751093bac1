package colorize

import (
	"strings"
	"testing"
)

func TestLineNoColor(t *testing.T) {
	t.Setenv("IDENTIFY_NO_COLOR", "1")
	if got := Line(0x8048060, "push ebp"); got != "08048060  push ebp" {
		t.Errorf("Line = %q", got)
	}
	if got, err := Assembly("ret"); err != nil || got != "ret" {
		t.Errorf("Assembly = %q, %v", got, err)
	}
}

func TestLineColorPreservesText(t *testing.T) {
	t.Setenv("IDENTIFY_NO_COLOR", "")
	t.Setenv("NO_COLOR", "")
	tests := []string{
		"push ebp",
		"mov ebp, esp",
		"mov eax, dword ptr [ebp+0x8]",
	}
	for _, text := range tests {
		t.Run(text, func(t *testing.T) {
			got := Line(0x10, text)
			if !strings.Contains(got, "\x1b[") {
				t.Errorf("Line(%q) carries no escapes", text)
			}
			if plain := strings.TrimSpace(Strip(got)); plain != "00000010  "+text {
				t.Errorf("Strip(Line(%q)) = %q", text, plain)
			}
		})
	}
}
