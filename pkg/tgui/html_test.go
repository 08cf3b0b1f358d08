package tgui

import "testing"

func TestHTMLHelpers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		got  H
		want string
	}{
		{"escape", Esc(`<b>&"`), "&lt;b&gt;&amp;&#34;"},
		{"bold", B("1 < 2"), "<b>1 &lt; 2</b>"},
		{"code", Code("/bible"), "<code>/bible</code>"},
		{"pre", Pre("a\n<b>"), "<pre>a\n&lt;b&gt;</pre>"},
		{"mention", Mention("Ann <3", 42), `<a href="tg://user?id=42">Ann &lt;3</a>`},
		{"join skips blanks", JoinH("\n", B("x"), "", " ", I("y")), "<b>x</b>\n<i>y</i>"},
	}
	for _, tc := range cases {
		if tc.got.String() != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, tc.got, tc.want)
		}
	}
}
