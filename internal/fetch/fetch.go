// Package fetch provides the fetch_page tool, which downloads a source
// URL and extracts its readable text so the agent can check a claim
// against the page itself.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/web3scout/scout/internal/httpkit"
)

// DefaultMaxBytes is the maximum response body size read (2 MB).
const DefaultMaxBytes int64 = 2 * 1024 * 1024

// DefaultMaxChars is the default character limit for extracted text.
// Pages are read for verification, not summarised whole.
const DefaultMaxChars = 8000

// Page holds the fetched and extracted content of a URL.
type Page struct {
	URL       string `json:"url"`
	FinalURL  string `json:"final_url,omitempty"`
	Title     string `json:"title,omitempty"`
	Published string `json:"published,omitempty"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
}

// StatusError is a non-2xx response from the fetched site.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// ErrUnsupportedContent is returned for binary responses.
var ErrUnsupportedContent = errors.New("unsupported content type")

// Fetcher downloads and extracts readable content from web pages.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

// New creates a Fetcher. A nil client gets the shared httpkit defaults.
func New(client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = httpkit.NewClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, maxBytes: DefaultMaxBytes, logger: logger}
}

// Fetch downloads rawURL and extracts readable text, limited to maxChars
// runes (0 uses DefaultMaxChars).
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Page, error) {
	target, err := normaliseURL(rawURL)
	if err != nil {
		return nil, err
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	page := &Page{URL: target}
	if final := resp.Request.URL.String(); final != target {
		page.FinalURL = final
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	switch {
	case strings.Contains(contentType, "html"):
		doc := extractHTML(string(body))
		page.Title, page.Published, page.Content = doc.title, doc.published, doc.text
	case strings.HasPrefix(contentType, "text/") || utf8.Valid(body):
		page.Content = cleanWhitespace(string(body))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContent, contentType)
	}

	if utf8.RuneCountInString(page.Content) > maxChars {
		page.Content = truncateRunes(page.Content, maxChars)
		page.Truncated = true
	}

	f.logger.Debug("page fetched",
		"url", target,
		"status", resp.StatusCode,
		"title", page.Title,
		"chars", len(page.Content),
		"truncated", page.Truncated,
	)
	return page, nil
}

func normaliseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	return u.String(), nil
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
