package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/web3scout/scout/internal/tools"
)

// mockProvider is a simple test provider.
type mockProvider struct {
	name    string
	results []Result
	err     error
	gotOpts Options
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Search(_ context.Context, _ string, opts Options) ([]Result, error) {
	m.gotOpts = opts
	return m.results, m.err
}

func TestManagerSearch(t *testing.T) {
	mgr := NewManager("mock")
	mgr.Register(&mockProvider{
		name: "mock",
		results: []Result{
			{Title: "<b>Test</b> &amp; more", URL: "https://example.com", Snippet: "A  test\nresult"},
		},
	})

	results, err := mgr.Search(context.Background(), "test", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Result{{Title: "Test & more", URL: "https://example.com", Snippet: "A test result"}}
	if diff := cmp.Diff(want, results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
}

func TestManagerSearchWith(t *testing.T) {
	mgr := NewManager("primary")
	mgr.Register(&mockProvider{name: "primary", results: []Result{{Title: "Primary"}}})
	mgr.Register(&mockProvider{name: "secondary", results: []Result{{Title: "Secondary"}}})

	results, err := mgr.SearchWith(context.Background(), "secondary", "test", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Title != "Secondary" {
		t.Errorf("expected 'Secondary', got %q", results[0].Title)
	}
	if got := strings.Join(mgr.Providers(), ","); got != "primary,secondary" {
		t.Errorf("Providers() = %s", got)
	}
}

func TestManagerUnconfigured(t *testing.T) {
	mgr := NewManager("missing")
	_, err := mgr.Search(context.Background(), "test", Options{})
	if err == nil {
		t.Fatal("expected error for missing provider")
	}
}

func TestFormatResults(t *testing.T) {
	out := FormatResults([]Result{
		{Title: "First", URL: "https://a.com", Snippet: "Snippet A"},
		{Title: "Second", URL: "https://b.com"},
	})
	want := "1. First\n   https://a.com\n   Snippet A\n\n2. Second\n   https://b.com"
	if out != want {
		t.Errorf("FormatResults() = %q, want %q", out, want)
	}
	if got := FormatResults(nil); got != "No results found." {
		t.Errorf("expected 'No results found.', got %q", got)
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain text", "plain text"},
		{"  spaced\tout \n", "spaced out"},
		{"<p>Raised <strong>$10M</strong> seed</p>", "Raised $10M seed"},
		{"Tom &amp; Jerry", "Tom & Jerry"},
		{"<script>alert(1)</script>visible", "visible"},
	}
	for _, tt := range tests {
		if got := CleanText(tt.in); got != tt.want {
			t.Errorf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClampCount(t *testing.T) {
	for in, want := range map[int]int{-3: 1, 0: 1, 1: 1, 3: 3, 5: 5, 10: 5} {
		if got := ClampCount(in); got != want {
			t.Errorf("ClampCount(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestManagerDefaultCount(t *testing.T) {
	mgr := NewManager("mock")
	if got := mgr.DefaultCount(); got != DefaultCount {
		t.Errorf("unset DefaultCount() = %d, want %d", got, DefaultCount)
	}
	mgr.SetDefaultCount(4)
	if got := mgr.DefaultCount(); got != 4 {
		t.Errorf("DefaultCount() = %d, want 4", got)
	}
	mgr.SetDefaultCount(50)
	if got := mgr.DefaultCount(); got != MaxCount {
		t.Errorf("DefaultCount() = %d, want clamp to %d", got, MaxCount)
	}
}

func TestToolHandler(t *testing.T) {
	tests := []struct {
		name      string
		args      map[string]any
		provider  *mockProvider
		wantCount int
		wantKind  tools.FailureKind
	}{
		{
			name:      "default count",
			args:      map[string]any{"query": "eth seed round"},
			provider:  &mockProvider{name: "mock"},
			wantCount: DefaultCount,
		},
		{
			name:      "count clamped",
			args:      map[string]any{"query": "q", "count": float64(50)},
			provider:  &mockProvider{name: "mock"},
			wantCount: MaxCount,
		},
		{
			name:     "rate limited",
			args:     map[string]any{"query": "q"},
			provider: &mockProvider{name: "mock", err: &StatusError{Provider: "tavily", StatusCode: 429}},
			wantKind: tools.FailureRateLimited,
		},
		{
			name:     "provider down",
			args:     map[string]any{"query": "q"},
			provider: &mockProvider{name: "mock", err: errors.New("dial tcp: refused")},
			wantKind: tools.FailureUnavailable,
		},
		{
			name:     "garbled body",
			args:     map[string]any{"query": "q"},
			provider: &mockProvider{name: "mock", err: ErrMalformedResponse},
			wantKind: tools.FailureMalformed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := NewManager("mock")
			mgr.Register(tt.provider)
			r := tools.NewRegistry(0, nil)
			if err := r.Register(Tool(mgr)); err != nil {
				t.Fatal(err)
			}

			res := r.Execute(context.Background(), "web_search", tt.args)
			if tt.wantKind != "" {
				if res.OK || res.Failure.Kind != tt.wantKind {
					t.Fatalf("result = %+v, want %s failure", res, tt.wantKind)
				}
				return
			}
			if !res.OK {
				t.Fatalf("unexpected failure: %+v", res.Failure)
			}
			if tt.provider.gotOpts.Count != tt.wantCount {
				t.Errorf("count = %d, want %d", tt.provider.gotOpts.Count, tt.wantCount)
			}
		})
	}
}

func TestTavily_FullProfile(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.Header.Get("Authorization") != "Bearer tv-key" {
			t.Errorf("unexpected request %s auth=%q", r.URL.Path, r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"results":[{"title":"A","url":"https://a.example","content":"alpha"}]}`))
	}))
	defer srv.Close()

	tv := NewTavily(TavilyConfig{APIKey: "tv-key", BaseURL: srv.URL, Depth: DepthAdvanced}, nil, nil)
	results, err := tv.Search(context.Background(), "eth", Options{Count: 3})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Snippet != "alpha" {
		t.Errorf("results = %+v", results)
	}
	if got["search_depth"] != "advanced" || got["max_results"] != float64(3) || got["topic"] != "general" {
		t.Errorf("full profile request = %v", got)
	}
}

func TestTavily_DegradesToMinimal(t *testing.T) {
	var (
		mu       sync.Mutex
		requests []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		requests = append(requests, body)
		mu.Unlock()
		if _, ok := body["search_depth"]; ok {
			http.Error(w, `{"detail":"unknown field search_depth"}`, http.StatusUnprocessableEntity)
			return
		}
		w.Write([]byte(`{"results":[{"title":"B","url":"https://b.example","content":"beta"}]}`))
	}))
	defer srv.Close()

	tv := NewTavily(TavilyConfig{APIKey: "k", BaseURL: srv.URL}, nil, nil)

	for i := 0; i < 2; i++ {
		results, err := tv.Search(context.Background(), "eth", Options{Count: 2})
		if err != nil {
			t.Fatalf("Search #%d: %v", i, err)
		}
		if len(results) != 1 || results[0].Title != "B" {
			t.Fatalf("Search #%d results = %+v", i, results)
		}
	}

	// One rejected full request, then minimal for the retry and every
	// later call.
	if len(requests) != 3 {
		t.Fatalf("requests = %d, want 3", len(requests))
	}
	for _, req := range requests[1:] {
		if len(req) != 2 || req["query"] != "eth" || req["max_results"] != float64(2) {
			t.Errorf("minimal request = %v, want only query and max_results", req)
		}
	}
}

func TestTavily_MinimalProfileDoesNotRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	tv := NewTavily(TavilyConfig{APIKey: "k", BaseURL: srv.URL, ParamProfile: ProfileMinimal}, nil, nil)
	_, err := tv.Search(context.Background(), "eth", Options{})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400 StatusError", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestBrave_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "bk" || r.URL.Query().Get("count") != "2" {
			t.Errorf("unexpected request %s", r.URL)
		}
		w.Write([]byte(`{"web":{"results":[{"title":"T","url":"https://t.example","description":"d"}]}}`))
	}))
	defer srv.Close()

	b := NewBrave("bk", nil)
	b.endpoint = srv.URL
	results, err := b.Search(context.Background(), "q", Options{Count: 2})
	if err != nil || len(results) != 1 || results[0].Snippet != "d" {
		t.Fatalf("Search() = %+v, %v", results, err)
	}
}

func TestSearXNG_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewSearXNG(srv.URL+"/", nil).Search(context.Background(), "q", Options{})
	var se *StatusError
	if !errors.As(err, &se) || !se.RateLimited() {
		t.Fatalf("err = %v, want rate-limited StatusError", err)
	}
}

func TestTimeRange(t *testing.T) {
	tests := []struct {
		days int
		want string
	}{
		{0, ""},
		{-5, ""},
		{1, RangeDay},
		{2, RangeWeek},
		{7, RangeWeek},
		{30, RangeMonth},
		{31, RangeMonth},
		{90, RangeYear},
		{366, RangeYear},
		{400, ""},
	}
	for _, tt := range tests {
		if got := TimeRange(tt.days); got != tt.want {
			t.Errorf("TimeRange(%d) = %q, want %q", tt.days, got, tt.want)
		}
	}
}

func TestPublishedDate(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"2026-02-11T08:15:00Z", "2026-02-11"},
		{"2026-02-11T23:30:00-05:00", "2026-02-12"},
		{"2026-02-11T08:15:00", "2026-02-11"},
		{"2026-02-11 08:15:00", "2026-02-11"},
		{"2026-02-11", "2026-02-11"},
		{"Wed, 11 Feb 2026 08:15:00 +0000", "2026-02-11"},
		{"3 days ago", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := publishedDate(tt.in); got != tt.want {
			t.Errorf("publishedDate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBrave_RecentNewsFirst(t *testing.T) {
	var q map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q = r.URL.Query()
		w.Write([]byte(`{
			"news":{"results":[
				{"title":"Berachain closes $100M","url":"https://news.example/bera","description":"Series B","page_age":"2026-02-10T12:00:00"},
				{"title":"no url","url":""}
			]},
			"web":{"results":[
				{"title":"dup","url":"https://news.example/bera","description":"again"},
				{"title":"Berachain docs","url":"https://docs.berachain.com","description":"docs"},
				{"title":"extra","url":"https://extra.example","description":"x"}
			]}
		}`))
	}))
	defer srv.Close()

	b := NewBrave("bk", nil)
	b.endpoint = srv.URL
	results, err := b.Search(context.Background(), "Berachain funding", Options{Count: 2, RecentDays: 30})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	for key, want := range map[string]string{"freshness": "pm", "result_filter": "web,news", "count": "2"} {
		if got := strings.Join(q[key], ","); got != want {
			t.Errorf("param %s = %q, want %q", key, got, want)
		}
	}
	want := []Result{
		{Title: "Berachain closes $100M", URL: "https://news.example/bera", Snippet: "Series B", Published: "2026-02-10"},
		{Title: "Berachain docs", URL: "https://docs.berachain.com", Snippet: "docs"},
	}
	if diff := cmp.Diff(want, results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
}

func TestBrave_NoRecencyOmitsFreshness(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("freshness") {
			t.Errorf("freshness sent without a recency window: %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	b := NewBrave("bk", nil)
	b.endpoint = srv.URL
	results, err := b.Search(context.Background(), "q", Options{})
	if err != nil || len(results) != 0 {
		t.Fatalf("Search() = %+v, %v", results, err)
	}
}

func TestSearXNG_RecentUsesNewsCategory(t *testing.T) {
	tests := []struct {
		name           string
		days           int
		wantRange      string
		wantCategories string
	}{
		{"no window", 0, "", "general"},
		{"research window", 30, "month", "news"},
		{"this week", 5, "week", "news"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				if r.URL.Path != "/search" || q.Get("format") != "json" {
					t.Errorf("unexpected request %s", r.URL)
				}
				if q.Get("time_range") != tt.wantRange || q.Get("categories") != tt.wantCategories {
					t.Errorf("time_range=%q categories=%q, want %q %q",
						q.Get("time_range"), q.Get("categories"), tt.wantRange, tt.wantCategories)
				}
				w.Write([]byte(`{"results":[
					{"title":"Monad raise","url":"https://m.example","content":"$225M","publishedDate":"2026-01-20T00:00:00"},
					{"title":"Monad raise (mirror)","url":"https://m.example","content":"$225M"},
					{"title":"Monad site","url":"https://monad.xyz","content":"L1","publishedDate":null}
				]}`))
			}))
			defer srv.Close()

			results, err := NewSearXNG(srv.URL, nil).Search(context.Background(), "Monad", Options{RecentDays: tt.days})
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			want := []Result{
				{Title: "Monad raise", URL: "https://m.example", Snippet: "$225M", Published: "2026-01-20"},
				{Title: "Monad site", URL: "https://monad.xyz", Snippet: "L1"},
			}
			if diff := cmp.Diff(want, results); diff != "" {
				t.Errorf("results mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTavily_TimeRangeOnlyInFullProfile(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = nil
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"results":[{"title":"A","url":"https://a.example","content":"alpha","published_date":"Mon, 09 Feb 2026 10:00:00 +0000"}]}`))
	}))
	defer srv.Close()

	full := NewTavily(TavilyConfig{APIKey: "k", BaseURL: srv.URL}, nil, nil)
	results, err := full.Search(context.Background(), "eth", Options{Count: 1, RecentDays: 30})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got["time_range"] != "month" {
		t.Errorf("full profile time_range = %v, want month", got["time_range"])
	}
	if len(results) != 1 || results[0].Published != "2026-02-09" {
		t.Errorf("results = %+v", results)
	}

	minimal := NewTavily(TavilyConfig{APIKey: "k", BaseURL: srv.URL, ParamProfile: ProfileMinimal}, nil, nil)
	if _, err := minimal.Search(context.Background(), "eth", Options{Count: 1, RecentDays: 30}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if _, ok := got["time_range"]; ok || len(got) != 2 {
		t.Errorf("minimal request = %v, want only query and max_results", got)
	}
}

func TestToolHandler_RecentDays(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want int
	}{
		{"omitted", map[string]any{"query": "q"}, 0},
		{"research window", map[string]any{"query": "q", "recent_days": float64(30)}, 30},
		{"non-positive ignored", map[string]any{"query": "q", "recent_days": float64(-1)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockProvider{name: "mock"}
			mgr := NewManager("mock")
			mgr.Register(p)
			if _, err := ToolHandler(mgr)(context.Background(), tt.args); err != nil {
				t.Fatalf("handler: %v", err)
			}
			if p.gotOpts.RecentDays != tt.want {
				t.Errorf("RecentDays = %d, want %d", p.gotOpts.RecentDays, tt.want)
			}
		})
	}
}

func TestFormatResults_PublishedDate(t *testing.T) {
	out := FormatResults([]Result{{Title: "Raise", URL: "https://r.example", Published: "2026-02-10"}})
	if want := "1. Raise\n   https://r.example (2026-02-10)"; out != want {
		t.Errorf("FormatResults() = %q, want %q", out, want)
	}
}
