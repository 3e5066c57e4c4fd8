package preprocess

import (
	"strings"
	"testing"
)

func TestCleanBasic(t *testing.T) {
	got := CleanBasic("  The ﬁrst\x00 result\t\tis\n\n\n\nhere  ")
	want := "The first result is\n\nhere"
	if got != want {
		t.Fatalf("CleanBasic = %q, want %q", got, want)
	}
}

func TestHTMLToTextSkipsScripts(t *testing.T) {
	html := `<html><head><script>var x = 1;</script></head><body>
<h1>Moon landing</h1><p>Apollo 11 landed in 1969.</p><ul><li>Armstrong</li></ul>
<table><tr><th>Year</th><th>Event</th></tr><tr><td>1969</td><td>Landing</td></tr></table>
<footer>All rights reserved</footer></body></html>`

	text, err := HTMLToText(html)
	if err != nil {
		t.Fatalf("HTMLToText error: %v", err)
	}
	for _, want := range []string{"# Moon landing", "Apollo 11 landed in 1969.", "- Armstrong", "| 1969 | Landing |"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in %q", want, text)
		}
	}
	if strings.Contains(text, "var x") || strings.Contains(text, "rights reserved") {
		t.Errorf("script or footer leaked into %q", text)
	}
}

func TestPreprocessRemovesNoiseAndDuplicates(t *testing.T) {
	raw := "Fact one.\n\nAccept cookies to continue\n\nFact one.\n\nFact two."
	got := Preprocess(raw)
	if got != "Fact one.\n\nFact two." {
		t.Fatalf("Preprocess = %q", got)
	}
}

func TestStripMarkupCleansSnippets(t *testing.T) {
	got := Preprocess("The <b>Go</b> gopher &amp; friends &ndash; since 2009")
	if got != "The Go gopher & friends - since 2009" {
		t.Fatalf("Preprocess = %q", got)
	}
	if got := StripMarkup("2 < 3 and 4 > 1"); got != "2 < 3 and 4 > 1" {
		t.Fatalf("comparison mistaken for a tag: %q", got)
	}
}

func TestRemoveWebNoiseKeepsLongLines(t *testing.T) {
	long := "The regulator said the privacy policy change, announced on Monday, would apply to every account opened after January and require explicit consent."
	got := RemoveWebNoise("Privacy Policy\n" + long)
	if got != long {
		t.Fatalf("RemoveWebNoise = %q", got)
	}
}

func TestChainOrder(t *testing.T) {
	upper := Step(strings.ToUpper)
	suffix := func(s string) string { return s + "!" }
	if got := Chain(upper, suffix)("go"); got != "GO!" {
		t.Fatalf("Chain = %q", got)
	}
}
