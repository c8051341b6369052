package news

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/web3scout/scout/internal/policy"
	"github.com/web3scout/scout/internal/tools"
)

// Result is the crypto_news tool payload.
type Result struct {
	Items    []Item `json:"items"`
	Currency string `json:"currency,omitempty"`

	// WindowDays and Note are set when the recency rule was applied.
	WindowDays int    `json:"window_days,omitempty"`
	Note       string `json:"note,omitempty"`
}

// Tool returns the crypto_news tool. now is injectable for tests; nil
// means time.Now.
func Tool(c *Client, p policy.Policy, now func() time.Time) *tools.Tool {
	if now == nil {
		now = time.Now
	}
	return &tools.Tool{
		Name: "crypto_news",
		Description: "Get the latest English crypto news headlines from CryptoPanic, newest first (up to 5). " +
			"Optionally filter by currency ticker such as BTC or ETH. Set recent=true to apply the recency window " +
			"and funding_only=true to keep only funding and token-sale announcements.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"currency": map[string]any{
					"type":        "string",
					"description": "Currency ticker, e.g. BTC or ETH. Omit for all currencies.",
				},
				"recent": map[string]any{
					"type":        "boolean",
					"description": "Apply the recency window and report which window was used.",
				},
				"funding_only": map[string]any{
					"type":        "boolean",
					"description": "Keep only funding, ICO, IDO, IEO, TGE and token-sale announcements.",
				},
			},
		},
		Handler: handler(c, p, now),
	}
}

func handler(c *Client, p policy.Policy, now func() time.Time) tools.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		currency := tools.StringArg(args, "currency")

		items, err := c.Posts(ctx, currency)
		if err != nil {
			return nil, classify(err)
		}

		if tools.BoolArg(args, "funding_only") {
			kept := items[:0]
			for _, it := range items {
				if p.Relevance.Qualifies(it.Title, "") {
					kept = append(kept, it)
				}
			}
			items = kept
		}

		res := Result{Currency: currency}
		if tools.BoolArg(args, "recent") {
			w := policy.ApplyRecency(p.Recency, items, func(it Item) time.Time { return it.Published }, now())
			items = w.Items
			res.WindowDays = w.Days
			res.Note = w.Note
		}

		if len(items) > MaxItems {
			items = items[:MaxItems]
		}
		if items == nil {
			items = []Item{}
		}
		res.Items = items
		if len(items) == 0 && res.Note == "" {
			res.Note = "No matching news posts were found."
		}
		return res, nil
	}
}

func classify(err error) error {
	var se *StatusError
	switch {
	case errors.Is(err, ErrNoCredential):
		return tools.Unavailable("could not fetch news: %v", err)
	case errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests:
		return tools.RateLimited("could not fetch news: CryptoPanic is rate limiting requests")
	case errors.Is(err, ErrMalformedResponse):
		return tools.Malformed("could not fetch news: %v", err)
	}
	return tools.Unavailable("could not fetch news: %v", err)
}
