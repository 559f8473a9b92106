package llm

import (
	"context"
	"fmt"
	"strings"
)

// LearnPaginationURL projects the URL of targetPage from three known page
// URLs. Callers supply url2 and url3 alongside the job's first-page URL so
// the model can infer the numbering pattern. The answer must be an absolute
// URL; anything else is an error.
func (c *Client) LearnPaginationURL(ctx context.Context, url1, url2, url3 string, targetPage int, model string) (string, error) {
	prompt := fmt.Sprintf(`These are the URLs of consecutive result pages on the same site:

page 1: %s
page 2: %s
page 3: %s

Following the same pattern, what is the URL of page %d?
Reply with the URL only, no explanation.`, url1, url2, url3, targetPage)

	result, err := c.generate(ctx, model, prompt)
	if err != nil {
		return "", err
	}

	answer := strings.TrimSpace(result.Text)
	// Models occasionally wrap the URL in backticks or fences.
	answer = strings.Trim(StripFences(answer), "`")
	if fields := strings.Fields(answer); len(fields) > 0 {
		answer = fields[0]
	}

	if !strings.HasPrefix(answer, "http://") && !strings.HasPrefix(answer, "https://") {
		return "", fmt.Errorf("model did not return a usable URL for page %d: %q", targetPage, answer)
	}

	return answer, nil
}
