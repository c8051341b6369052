package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/web3scout/scout/internal/httpkit"
)

const braveSearchURL = "https://api.search.brave.com/res/v1/web/search"

// braveMaxCount is the largest count the web search endpoint accepts.
const braveMaxCount = 20

// braveFreshness maps a TimeRange onto Brave's freshness codes.
var braveFreshness = map[string]string{
	RangeDay:   "pd",
	RangeWeek:  "pw",
	RangeMonth: "pm",
	RangeYear:  "py",
}

// Brave searches the Brave Search API. It asks for web and news results
// together: funding announcements often surface in the news vertical
// first, so news items lead and web results fill the rest.
type Brave struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewBrave creates a Brave Search provider. A nil httpClient gets the
// shared httpkit defaults.
func NewBrave(apiKey string, httpClient *http.Client) *Brave {
	if httpClient == nil {
		httpClient = httpkit.NewClient()
	}
	return &Brave{apiKey: apiKey, endpoint: braveSearchURL, httpClient: httpClient}
}

func (b *Brave) Name() string { return "brave" }

type braveItem struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	// PageAge is an ISO timestamp; Age is display text ("2 days ago").
	PageAge string `json:"page_age"`
}

type braveResponse struct {
	News struct {
		Results []braveItem `json:"results"`
	} `json:"news"`
	Web struct {
		Results []braveItem `json:"results"`
	} `json:"web"`
}

func (b *Brave) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	count := opts.Count
	if count <= 0 {
		count = DefaultCount
	}

	params := url.Values{
		"q":                {query},
		"count":            {strconv.Itoa(min(count, braveMaxCount))},
		"result_filter":    {"web,news"},
		"text_decorations": {"false"},
	}
	if f := braveFreshness[TimeRange(opts.RecentDays)]; f != "" {
		params.Set("freshness", f)
	}
	if opts.Language != "" {
		params.Set("search_lang", opts.Language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("brave: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Provider: "brave", StatusCode: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 512)}
	}

	var br braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("brave: %w: %w", ErrMalformedResponse, err)
	}

	seen := make(map[string]bool)
	results := make([]Result, 0, count)
	for _, group := range [][]braveItem{br.News.Results, br.Web.Results} {
		for _, it := range group {
			if len(results) == count {
				return results, nil
			}
			if it.URL == "" || seen[it.URL] {
				continue
			}
			seen[it.URL] = true
			results = append(results, Result{
				Title:     it.Title,
				URL:       it.URL,
				Snippet:   it.Description,
				Published: publishedDate(it.PageAge),
			})
		}
	}
	return results, nil
}
