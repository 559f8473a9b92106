// Package normalize flattens rendered page markup into the plain-text block
// handed to the extraction model. Links and images are rewritten inline so
// their targets survive the flattening.
package normalize

import (
	"fmt"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Tags whose subtrees carry no extractable content.
var strippedTags = []string{"script", "style", "svg", "path", "noscript", "iframe"}

// Text converts raw rendered HTML into a single plain-text block:
//   - script/style/svg/path/noscript/iframe subtrees are dropped
//   - <a> becomes "visible text (Link: href)"
//   - <img> becomes "alt text (Image: src)"
//   - remaining markup is flattened and whitespace collapsed
//
// Malformed markup is tolerated; the parse is best-effort and Text never
// fails. Empty input yields an empty string.
func Text(rawHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		// html.Parse is lenient, this is effectively unreachable; fall back
		// to whitespace-collapsed input.
		return collapse(rawHTML)
	}

	doc.Find(strings.Join(strippedTags, ", ")).Remove()

	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" {
			sel.ReplaceWithHtml(html.EscapeString(text))
			return
		}
		sel.ReplaceWithHtml(html.EscapeString(fmt.Sprintf("%s (Link: %s)", text, href)))
	})

	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		alt := strings.TrimSpace(sel.AttrOr("alt", ""))
		src := strings.TrimSpace(sel.AttrOr("src", ""))
		if src == "" {
			sel.Remove()
			return
		}
		sel.ReplaceWithHtml(html.EscapeString(fmt.Sprintf("%s (Image: %s)", alt, src)))
	})

	return collapse(doc.Text())
}

// collapse folds all whitespace runs into single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
