package llm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// candidate is one clickable element that might advance pagination.
type candidate struct {
	Tag      string
	Text     string
	ID       string
	Class    string
	Href     string
	AriaInfo string
}

// Glyphs commonly used as "next" arrows.
var nextGlyphs = map[string]bool{
	">": true, "»": true, "→": true, "›": true, ">>": true,
}

// FindNextSelector inspects the rendered page for a next-page control. It
// harvests clickable candidates, asks the model which one advances to the
// next page, and returns a CSS selector for it. An empty selector with a nil
// error means no next page exists.
func (c *Client) FindNextSelector(ctx context.Context, pageHTML, model string) (string, error) {
	candidates, err := harvestCandidates(pageHTML)
	if err != nil {
		return "", fmt.Errorf("failed to parse page for pagination candidates: %w", err)
	}
	if len(candidates) == 0 {
		return "", nil
	}

	var listing strings.Builder
	for i, cand := range candidates {
		fmt.Fprintf(&listing, "%d: <%s", i, cand.Tag)
		if cand.ID != "" {
			fmt.Fprintf(&listing, " id=%q", cand.ID)
		}
		if cand.Class != "" {
			fmt.Fprintf(&listing, " class=%q", cand.Class)
		}
		if cand.Href != "" {
			fmt.Fprintf(&listing, " href=%q", cand.Href)
		}
		if cand.AriaInfo != "" {
			fmt.Fprintf(&listing, " aria-label=%q", cand.AriaInfo)
		}
		fmt.Fprintf(&listing, "> text=%q\n", cand.Text)
	}

	prompt := fmt.Sprintf(`The elements below are pagination-related controls found on a web page.
Which one navigates to the NEXT page of results?

Reply with the element's number only. Reply with NONE if no element leads to
the next page (for example when the page is the last one).

Elements:
%s`, listing.String())

	result, err := c.generate(ctx, model, prompt)
	if err != nil {
		return "", err
	}

	answer := strings.TrimSpace(result.Text)
	if strings.EqualFold(answer, "NONE") {
		return "", nil
	}

	fields := strings.Fields(answer)
	if len(fields) == 0 {
		c.logger.Debug("model returned empty next-page answer")
		return "", nil
	}

	idx, err := strconv.Atoi(fields[0])
	if err != nil || idx < 0 || idx >= len(candidates) {
		// Unusable answers mean no next page rather than a failed job.
		c.logger.Debug("model returned no usable next-page index", "answer", answer)
		return "", nil
	}

	return candidates[idx].selector(), nil
}

// selector builds a CSS selector for the candidate, preferring the most
// stable handle available: id, then first class token, then href.
func (c candidate) selector() string {
	if c.ID != "" {
		return "#" + c.ID
	}
	if c.Class != "" {
		if first := strings.Fields(c.Class); len(first) > 0 {
			return c.Tag + "." + first[0]
		}
	}
	if c.Href != "" {
		return fmt.Sprintf(`%s[href=%q]`, c.Tag, c.Href)
	}
	return ""
}

// harvestCandidates collects clickable elements that look pagination-related:
// "next" text or aria labels, arrow glyphs, rel=next, or class/id tokens
// containing "pagination" or "page".
func harvestCandidates(pageHTML string) ([]candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, err
	}

	var candidates []candidate
	doc.Find("a, button").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		id := sel.AttrOr("id", "")
		class := sel.AttrOr("class", "")
		href := sel.AttrOr("href", "")
		rel := sel.AttrOr("rel", "")
		aria := sel.AttrOr("aria-label", "")

		if !paginationLike(text, id, class, rel, aria) {
			return
		}

		tag := goquery.NodeName(sel)
		candidates = append(candidates, candidate{
			Tag:      tag,
			Text:     truncate(text, 60),
			ID:       id,
			Class:    class,
			Href:     href,
			AriaInfo: aria,
		})
	})

	return candidates, nil
}

func paginationLike(text, id, class, rel, aria string) bool {
	lowText := strings.ToLower(text)
	if strings.Contains(lowText, "next") || nextGlyphs[text] {
		return true
	}
	if strings.EqualFold(rel, "next") {
		return true
	}
	if strings.Contains(strings.ToLower(aria), "next") {
		return true
	}
	for _, attr := range []string{strings.ToLower(id), strings.ToLower(class)} {
		if strings.Contains(attr, "pagination") || strings.Contains(attr, "page") {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
