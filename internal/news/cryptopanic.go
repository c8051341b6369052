// Package news provides the crypto_news tool backed by the CryptoPanic
// developer API.
package news

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/web3scout/scout/internal/httpkit"
)

const (
	// DefaultBaseURL is the CryptoPanic developer API root.
	DefaultBaseURL = "https://cryptopanic.com/api/developer/v2"

	// MaxItems caps how many posts the tool returns.
	MaxItems = 5

	// Unknown fills any field the provider omitted.
	Unknown = "Unknown"

	postURLFormat = "https://cryptopanic.com/news/%s/"
)

// ErrNoCredential is returned when no API key is configured. No request
// is made.
var ErrNoCredential = errors.New("CryptoPanic API key is not configured (set CRYPTOPANIC_API_KEY)")

// ErrMalformedResponse wraps a response body that could not be decoded.
var ErrMalformedResponse = errors.New("malformed CryptoPanic response")

// Item is one normalised news post.
type Item struct {
	Title  string `json:"title"`
	Link   string `json:"link"`
	Date   string `json:"date"`
	Source string `json:"source"`

	// Published is the parsed timestamp; zero when the provider gave none.
	Published time.Time `json:"-"`
}

// StatusError is a non-2xx response from CryptoPanic.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cryptopanic: HTTP %d: %s", e.StatusCode, e.Body)
}

// Client queries the CryptoPanic posts endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a CryptoPanic client. An empty baseURL selects
// DefaultBaseURL.
func NewClient(apiKey, baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = httpkit.NewClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With("provider", "cryptopanic"),
	}
}

type postsResponse struct {
	Results []post `json:"results"`
}

type post struct {
	ID          json.RawMessage `json:"id"`
	Title       string          `json:"title"`
	URL         string          `json:"url"`
	PublishedAt string          `json:"published_at"`
	CreatedAt   string          `json:"created_at"`
	Source      *struct {
		Title  string `json:"title"`
		Domain string `json:"domain"`
		URL    string `json:"url"`
	} `json:"source"`
}

// Posts fetches the newest English news posts, optionally filtered to a
// currency ticker, normalised and sorted newest first. All posts on the
// first page are returned; callers trim.
func (c *Client) Posts(ctx context.Context, currency string) ([]Item, error) {
	if c.apiKey == "" {
		return nil, ErrNoCredential
	}

	params := url.Values{
		"auth_token": {c.apiKey},
		"public":     {"true"},
		"regions":    {"en"},
		"kind":       {"news"},
	}
	if currency = strings.ToUpper(strings.TrimSpace(currency)); currency != "" {
		params.Set("currencies", currency)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/posts/?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("cryptopanic: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The URL carries the token; never log or return it.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("cryptopanic: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 512)}
	}

	var pr postsResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("cryptopanic: %w: %w", ErrMalformedResponse, err)
	}

	items := make([]Item, 0, len(pr.Results))
	for _, p := range pr.Results {
		items = append(items, normalise(p))
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Published.After(items[j].Published)
	})

	c.logger.Debug("posts fetched", "currency", currency, "count", len(items))
	return items, nil
}

// normalise applies the field fallbacks: link from url, then source.url,
// then the post page built from id; date from published_at, then
// created_at.
func normalise(p post) Item {
	it := Item{
		Title:  strings.TrimSpace(p.Title),
		Link:   strings.TrimSpace(p.URL),
		Source: Unknown,
	}
	if p.Source != nil {
		switch {
		case p.Source.Title != "":
			it.Source = p.Source.Title
		case p.Source.Domain != "":
			it.Source = p.Source.Domain
		}
		if it.Link == "" {
			it.Link = strings.TrimSpace(p.Source.URL)
		}
	}
	if id := rawID(p.ID); it.Link == "" && id != "" {
		it.Link = fmt.Sprintf(postURLFormat, id)
	}

	for _, raw := range []string{p.PublishedAt, p.CreatedAt} {
		if t, ok := parseTime(raw); ok {
			it.Published = t
			break
		}
	}
	if !it.Published.IsZero() {
		it.Date = it.Published.UTC().Format(time.DateOnly)
	}

	if it.Title == "" {
		it.Title = Unknown
	}
	if it.Link == "" {
		it.Link = Unknown
	}
	if it.Date == "" {
		it.Date = Unknown
	}
	return it
}

// rawID accepts numeric or string ids.
func rawID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}

func parseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
