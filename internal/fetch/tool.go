package fetch

import (
	"context"
	"errors"
	"net/http"

	"github.com/web3scout/scout/internal/tools"
)

// Tool returns the fetch_page tool.
func Tool(f *Fetcher) *tools.Tool {
	return &tools.Tool{
		Name: "fetch_page",
		Description: "Download a web page and return its readable text, title, and publication date " +
			"when the page declares one. Use it to confirm that a source URL supports a claim before citing it.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The page to fetch, usually a URL returned by web_search or crypto_news.",
				},
				"max_chars": map[string]any{
					"type":        "integer",
					"description": "Maximum characters of text to return. Default: 8000.",
					"minimum":     1,
				},
			},
			"required": []string{"url"},
		},
		Handler: ToolHandler(f),
	}
}

// ToolHandler wraps the Fetcher as a tools.Handler.
func ToolHandler(f *Fetcher) tools.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		maxChars, _ := tools.IntArg(args, "max_chars")
		page, err := f.Fetch(ctx, tools.StringArg(args, "url"), maxChars)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests {
				return nil, tools.RateLimited("could not fetch page: the site is rate limiting requests")
			}
			return nil, tools.Unavailable("could not fetch page: %v", err)
		}
		return page, nil
	}
}
