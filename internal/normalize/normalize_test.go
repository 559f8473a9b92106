package normalize

import (
	"strings"
	"testing"
)

func TestText_StripsNonContentTags(t *testing.T) {
	rawHTML := `<html><head>
		<script>var x = "secret";</script>
		<style>.a { color: red }</style>
	</head><body>
		<p>visible</p>
		<noscript>enable js</noscript>
		<iframe src="https://ads.example"></iframe>
		<svg><path d="M0 0"/></svg>
	</body></html>`

	got := Text(rawHTML)

	if got != "visible" {
		t.Errorf("Text() = %q, want %q", got, "visible")
	}
	for _, leaked := range []string{"secret", "color", "enable js", "ads.example", "M0 0"} {
		if strings.Contains(got, leaked) {
			t.Errorf("Text() leaked stripped content %q", leaked)
		}
	}
}

func TestText_RewritesLinks(t *testing.T) {
	got := Text(`<p>See <a href="/products?page=2">next page</a> now</p>`)

	want := "See next page (Link: /products?page=2) now"
	if got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestText_LinkWithoutHref(t *testing.T) {
	got := Text(`<a>just text</a>`)

	if got != "just text" {
		t.Errorf("Text() = %q, want %q", got, "just text")
	}
}

func TestText_RewritesImages(t *testing.T) {
	got := Text(`<div><img src="/cat.jpg" alt="a cat"></div>`)

	want := "a cat (Image: /cat.jpg)"
	if got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestText_ImageWithoutSrcDropped(t *testing.T) {
	got := Text(`<p>before <img alt="ghost"> after</p>`)

	want := "before after"
	if got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestText_CollapsesWhitespace(t *testing.T) {
	got := Text("<div>\n\t  one\n\n  <span>two</span>\t three  </div>")

	want := "one two three"
	if got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestText_MalformedMarkup(t *testing.T) {
	// Unclosed tags and stray brackets should still produce best-effort text.
	got := Text(`<div><p>broken <b>bold<p>more</div> trailing`)

	for _, want := range []string{"broken", "bold", "more", "trailing"} {
		if !strings.Contains(got, want) {
			t.Errorf("Text() = %q, missing %q", got, want)
		}
	}
}

func TestText_Empty(t *testing.T) {
	if got := Text(""); got != "" {
		t.Errorf("Text(\"\") = %q, want empty", got)
	}
}
