package search

import (
	"context"
	"errors"

	"github.com/web3scout/scout/internal/tools"
)

const (
	// DefaultCount is the result count when the model does not ask for one.
	DefaultCount = 3

	// MaxCount caps results so observations stay small.
	MaxCount = 5
)

// Tool returns the web_search tool backed by mgr.
func Tool(mgr *Manager) *tools.Tool {
	return &tools.Tool{
		Name: "web_search",
		Description: "Search the web for Web3 funding rounds, token sales (ICO/IDO/IEO/TGE) and project news. " +
			"Returns up to 5 results with title, url, snippet and, when known, the published date. " +
			"Put explicit years and months in the query.",
		Parameters: ToolDefinition(),
		Handler:    ToolHandler(mgr),
	}
}

// ToolHandler wraps the Manager's search method for use as an agent tool.
func ToolHandler(mgr *Manager) tools.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		query := tools.StringArg(args, "query")
		if query == "" {
			return nil, tools.Malformed("web_search: query is required")
		}

		opts := Options{Count: mgr.DefaultCount()}
		if count, ok := tools.IntArg(args, "count"); ok {
			opts.Count = ClampCount(count)
		}
		if depth := tools.StringArg(args, "depth"); depth != "" {
			opts.Depth = Depth(depth)
		}
		if days, ok := tools.IntArg(args, "recent_days"); ok && days > 0 {
			opts.RecentDays = days
		}

		results, err := mgr.Search(ctx, query, opts)
		if err != nil {
			return nil, classify(err)
		}
		return results, nil
	}
}

// ClampCount bounds a requested result count to 1..MaxCount.
func ClampCount(n int) int {
	switch {
	case n < 1:
		return 1
	case n > MaxCount:
		return MaxCount
	}
	return n
}

func classify(err error) error {
	var se *StatusError
	switch {
	case errors.As(err, &se) && se.RateLimited():
		return tools.RateLimited("%s is rate limiting requests; try again later", se.Provider)
	case errors.Is(err, ErrMalformedResponse):
		return tools.Malformed("%v", err)
	}
	return tools.Unavailable("web search failed: %v", err)
}

// ToolDefinition returns the JSON Schema parameters for the web_search tool.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query string.",
			},
			"depth": map[string]any{
				"type":        "string",
				"enum":        []string{string(DepthBasic), string(DepthAdvanced)},
				"description": "Search depth. Use advanced only when basic results are thin.",
			},
			"count": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results to return (1-5). Default: 3.",
			},
			"recent_days": map[string]any{
				"type":        "integer",
				"minimum":     1,
				"description": "Only return pages published within this many days, e.g. 30 for the default recency window. Rounded up to a day, week, month or year.",
			},
		},
		"required": []string{"query"},
	}
}
