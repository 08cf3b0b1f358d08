package adapter

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		in    string
		limit int
		mode  string
		want  []string
	}{
		{name: "short", in: "hello", limit: 10, want: []string{"hello"}},
		{name: "hard cut", in: "abcdefghij", limit: 4, want: []string{"abcd", "efgh", "ij"}},
		{name: "prefers newline", in: "line one\nline two", limit: 12, want: []string{"line one", "line two"}},
		{name: "html tag kept whole", in: "abc <b>bold</b>", limit: 6, mode: "HTML", want: []string{"abc ", "<b>bol", "d</b>"}},
	}
	for _, tc := range cases {
		got := splitTelegramText(tc.in, tc.limit, tc.mode)
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("%s (-want +got):\n%s", tc.name, diff)
		}
	}
}

func TestSplitTelegramTextRunes(t *testing.T) {
	t.Parallel()

	in := strings.Repeat("愛", 9001)
	parts := splitTelegramText(in, 0, "")
	if len(parts) != 3 {
		t.Fatalf("parts = %d, want 3", len(parts))
	}
	total := 0
	for _, p := range parts {
		if !utf8.ValidString(p) {
			t.Fatal("chunk split inside a rune")
		}
		total += utf8.RuneCountInString(p)
	}
	if total != 9001 {
		t.Fatalf("lost runes: %d", total)
	}
}
