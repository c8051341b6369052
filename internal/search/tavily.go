package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/web3scout/scout/internal/httpkit"
)

// ParamProfile selects which request fields Tavily is sent.
type ParamProfile string

const (
	// ProfileFull sends depth, topic, and answer/raw-content switches.
	ProfileFull ParamProfile = "full"

	// ProfileMinimal sends only the query and result count, for API
	// versions or proxies that reject the optional fields.
	ProfileMinimal ParamProfile = "minimal"
)

// TavilyConfig holds configuration for the Tavily provider.
type TavilyConfig struct {
	APIKey       string
	BaseURL      string
	ParamProfile ParamProfile
	Depth        Depth
}

// Tavily implements the Provider interface for the Tavily search API.
type Tavily struct {
	cfg        TavilyConfig
	httpClient *http.Client
	logger     *slog.Logger

	// degraded latches once a full-profile request has been rejected, so
	// later calls go straight to the minimal profile.
	degraded atomic.Bool
}

// NewTavily creates a Tavily provider.
func NewTavily(cfg TavilyConfig, httpClient *http.Client, logger *slog.Logger) *Tavily {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.tavily.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ParamProfile == "" {
		cfg.ParamProfile = ProfileFull
	}
	if cfg.Depth == "" {
		cfg.Depth = DepthBasic
	}
	if httpClient == nil {
		httpClient = httpkit.NewClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tavily{cfg: cfg, httpClient: httpClient, logger: logger.With("provider", "tavily")}
}

func (t *Tavily) Name() string { return "tavily" }

type tavilyRequest struct {
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results"`
	SearchDepth       Depth  `json:"search_depth,omitempty"`
	Topic             string `json:"topic,omitempty"`
	IncludeAnswer     *bool  `json:"include_answer,omitempty"`
	IncludeRawContent *bool  `json:"include_raw_content,omitempty"`
	TimeRange         string `json:"time_range,omitempty"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
		// PublishedDate is only set for the news topic.
		PublishedDate string `json:"published_date"`
	} `json:"results"`
}

// Search runs a query. With the full profile, a 400 or 422 is treated as a
// parameter incompatibility and the request is repeated once with the
// minimal profile.
func (t *Tavily) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	count := opts.Count
	if count <= 0 {
		count = 5
	}

	profile := t.cfg.ParamProfile
	if t.degraded.Load() {
		profile = ProfileMinimal
	}

	results, err := t.search(ctx, t.buildRequest(profile, query, count, opts))
	var se *StatusError
	if profile == ProfileFull && errors.As(err, &se) &&
		(se.StatusCode == http.StatusBadRequest || se.StatusCode == http.StatusUnprocessableEntity) {
		if t.degraded.CompareAndSwap(false, true) {
			t.logger.Warn("tavily rejected full parameter profile, degrading to minimal",
				"status", se.StatusCode,
				"body", se.Body,
			)
		}
		return t.search(ctx, t.buildRequest(ProfileMinimal, query, count, Options{}))
	}
	return results, err
}

// buildRequest shapes the body for profile. Only the full profile carries
// depth, topic, and the recency window.
func (t *Tavily) buildRequest(profile ParamProfile, query string, count int, opts Options) tavilyRequest {
	req := tavilyRequest{Query: query, MaxResults: count}
	if profile == ProfileMinimal {
		return req
	}
	depth := opts.Depth
	if depth == "" {
		depth = t.cfg.Depth
	}
	off := false
	req.SearchDepth = depth
	req.Topic = "general"
	req.TimeRange = TimeRange(opts.RecentDays)
	req.IncludeAnswer = &off
	req.IncludeRawContent = &off
	return req
}

func (t *Tavily) search(ctx context.Context, body tavilyRequest) ([]Result, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("tavily: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/search", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("tavily: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Provider: "tavily", StatusCode: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 512)}
	}

	var tr tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("tavily: %w: %w", ErrMalformedResponse, err)
	}

	results := make([]Result, 0, len(tr.Results))
	for _, r := range tr.Results {
		results = append(results, Result{
			Title:     r.Title,
			URL:       r.URL,
			Snippet:   r.Content,
			Published: publishedDate(r.PublishedDate),
		})
	}
	return results, nil
}
