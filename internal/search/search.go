// Package search provides a pluggable web search interface for the agent.
//
// Each search provider implements the [Provider] interface and is
// registered by name. The [Manager] selects a provider based on
// configuration and exposes a single [Manager.Search] method that
// the tool layer calls.
package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
)

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`

	// Published is the page date as YYYY-MM-DD when the provider
	// reports one.
	Published string `json:"published,omitempty"`
}

// Depth hints how much effort a provider should spend.
type Depth string

const (
	DepthBasic    Depth = "basic"
	DepthAdvanced Depth = "advanced"
)

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results to return.
	// Providers may return fewer. Zero means provider default.
	Count int `json:"count,omitempty"`

	// Depth is passed to providers that support it; others ignore it.
	Depth Depth `json:"depth,omitempty"`

	// Language is an ISO 639-1 language code (e.g., "en", "de").
	Language string `json:"language,omitempty"`

	// RecentDays restricts results to pages published within that many
	// days. Providers round it up to their coarsest range that covers
	// it (see [TimeRange]). Zero means no restriction.
	RecentDays int `json:"recent_days,omitempty"`
}

// Provider is the interface that search backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "tavily", "brave").
	Name() string

	// Search executes a query and returns results.
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// ErrMalformedResponse wraps a provider response body that could not be
// decoded.
var ErrMalformedResponse = errors.New("malformed provider response")

// StatusError is a non-2xx response from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// RateLimited reports whether the provider refused with HTTP 429.
func (e *StatusError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Manager holds configured providers and routes searches.
type Manager struct {
	providers    map[string]Provider
	primary      string
	defaultCount int
}

// NewManager creates a search manager. The primary provider name
// determines which backend is used by default.
func NewManager(primary string) *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		primary:   primary,
	}
}

// Register adds a provider to the manager.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
}

// Search runs a query against the primary provider.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	return m.SearchWith(ctx, m.primary, query, opts)
}

// SearchWith runs a query against a specific named provider.
func (m *Manager) SearchWith(ctx context.Context, provider, query string, opts Options) ([]Result, error) {
	p, ok := m.providers[provider]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", provider)
	}
	results, err := p.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Title = CleanText(results[i].Title)
		results[i].Snippet = CleanText(results[i].Snippet)
	}
	if opts.Count > 0 && len(results) > opts.Count {
		results = results[:opts.Count]
	}
	return results, nil
}

// Primary returns the default provider name.
func (m *Manager) Primary() string { return m.primary }

// SetDefaultCount sets the result count used when the model does not ask
// for one. It is clamped to 1..MaxCount.
func (m *Manager) SetDefaultCount(n int) {
	m.defaultCount = ClampCount(n)
}

// DefaultCount returns the configured default result count.
func (m *Manager) DefaultCount() int {
	if m.defaultCount == 0 {
		return DefaultCount
	}
	return m.defaultCount
}

// Providers returns the names of all registered providers, sorted.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Configured reports whether at least one provider is registered.
func (m *Manager) Configured() bool {
	return len(m.providers) > 0
}
