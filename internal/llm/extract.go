package llm

import (
	"context"
	"fmt"
)

const extractPromptTemplate = `You are a structured data extraction engine.
Extract the data described by the query from the page content below.

Rules:
- Respond with a single JSON object and nothing else. No markdown, no prose.
- Use descriptive snake_case keys derived from the query.
- When the query asks for multiple items of the same kind, return them as a
  JSON array under one key.
- Use null for values that are not present on the page. Never invent data.

Query:
%s

Page content:
%s`

// Extract asks the model for structured data matching query against the
// normalized page content. The returned map is the decoded JSON object; when
// the model's output cannot be parsed even after repair, the payload is
// {"error": <description>} rather than a Go error, so one bad page never
// aborts a multi-page run. A non-nil error means the model service itself was
// unreachable or refused the call.
func (c *Client) Extract(ctx context.Context, content, query, model string) (map[string]any, error) {
	prompt := fmt.Sprintf(extractPromptTemplate, query, content)

	result, err := c.generate(ctx, model, prompt)
	if err != nil {
		return nil, err
	}

	payload, err := DecodeObject(result.Text)
	if err != nil {
		c.logger.Warn("unparseable extraction payload",
			"model", model,
			"finish_reason", result.FinishReason,
			"error", err,
		)
		return map[string]any{"error": err.Error()}, nil
	}

	return payload, nil
}
