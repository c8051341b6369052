package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/web3scout/scout/internal/httpkit"
)

// SearXNG queries a self-hosted SearXNG instance through its JSON API.
// The instance must have the json format enabled in settings.yml.
type SearXNG struct {
	baseURL    string
	httpClient *http.Client
}

// NewSearXNG creates a SearXNG provider for the instance rooted at
// baseURL, e.g. "http://localhost:8080".
func NewSearXNG(baseURL string, httpClient *http.Client) *SearXNG {
	if httpClient == nil {
		httpClient = httpkit.NewClient()
	}
	return &SearXNG{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

func (s *SearXNG) Name() string { return "searxng" }

type searxngResponse struct {
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		PublishedDate *string `json:"publishedDate"`
		Score         float64 `json:"score"`
	} `json:"results"`
}

// Search runs a query. A recency window becomes time_range and switches
// to the news category, where engines honour it; the general category
// ignores time_range on many engines.
func (s *SearXNG) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	count := opts.Count
	if count <= 0 {
		count = DefaultCount
	}

	params := url.Values{
		"q":          {query},
		"format":     {"json"},
		"categories": {"general"},
	}
	if tr := TimeRange(opts.RecentDays); tr != "" {
		params.Set("time_range", tr)
		params.Set("categories", "news")
	}
	if opts.Language != "" {
		params.Set("language", opts.Language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("searxng: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Provider: "searxng", StatusCode: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 512)}
	}

	var sr searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("searxng: %w: %w", ErrMalformedResponse, err)
	}

	// SearXNG merges engines, so the same page can appear under
	// slightly different URLs; exact duplicates are dropped.
	seen := make(map[string]bool)
	results := make([]Result, 0, count)
	for _, r := range sr.Results {
		if len(results) == count {
			break
		}
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		res := Result{Title: r.Title, URL: r.URL, Snippet: r.Content}
		if r.PublishedDate != nil {
			res.Published = publishedDate(*r.PublishedDate)
		}
		results = append(results, res)
	}
	return results, nil
}

// FormatResults builds a human-readable result list for the CLI.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s\n   %s", i+1, r.Title, r.URL)
		if r.Published != "" {
			fmt.Fprintf(&b, " (%s)", r.Published)
		}
		if r.Snippet != "" {
			b.WriteString("\n   ")
			b.WriteString(r.Snippet)
		}
	}
	return b.String()
}
