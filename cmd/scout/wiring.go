package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/web3scout/scout/internal/agent"
	"github.com/web3scout/scout/internal/api"
	"github.com/web3scout/scout/internal/config"
	"github.com/web3scout/scout/internal/events"
	"github.com/web3scout/scout/internal/fetch"
	"github.com/web3scout/scout/internal/httpkit"
	"github.com/web3scout/scout/internal/llm"
	"github.com/web3scout/scout/internal/memory"
	"github.com/web3scout/scout/internal/news"
	"github.com/web3scout/scout/internal/policy"
	"github.com/web3scout/scout/internal/search"
	"github.com/web3scout/scout/internal/tools"
)

// Provider names used for model routing.
const (
	providerGemini    = "gemini"
	providerAnthropic = "anthropic"
)

// app holds the wired components shared by serve and ask.
type app struct {
	loop  *agent.Loop
	bus   *events.Bus
	stats api.StoreStats
	close func() error
}

// Close releases the conversation store.
func (a *app) Close() error {
	if a.close == nil {
		return nil
	}
	return a.close()
}

// newApp builds the agent and everything it depends on from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	client, err := newLLMClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	pol := policyFromConfig(cfg.Policy)
	httpClient := newHTTPClient(cfg, logger)

	registry, err := newRegistry(cfg, pol, httpClient, logger)
	if err != nil {
		return nil, err
	}

	a := &app{bus: events.New()}
	var store memory.Store
	switch cfg.Persistence.Driver {
	case "memory":
		ms := memory.NewMemoryStore(cfg.Persistence.MaxHistory)
		store, a.stats = ms, ms
	default:
		ss, err := memory.Open(cfg.Persistence.Driver, cfg.Persistence.DatabaseURL, cfg.Persistence.MaxHistory, logger)
		if err != nil {
			return nil, fmt.Errorf("open conversation store: %w", err)
		}
		store, a.stats, a.close = ss, ss, ss.Close
		logger.Info("conversation store opened", "driver", cfg.Persistence.Driver, "path", cfg.Persistence.DatabaseURL)
	}

	a.loop = agent.NewLoop(agent.Config{
		Model:         cfg.Model.Name,
		MaxIterations: cfg.Agent.MaxIterations,
		RunTimeout:    cfg.Agent.RunTimeout,
		Policy:        pol,
	}, client, registry, store, memory.NewThreadLocks(), a.bus, logger)

	logger.Info("agent ready",
		"model", cfg.Model.Name,
		"provider", cfg.Model.Provider,
		"search", cfg.Search.Provider,
		"tools", registry.Names(),
	)
	return a, nil
}

// newLLMClient registers every provider with a key behind a MultiClient,
// routed by model-name prefix, with the configured provider as the
// fallback. The result retries transient failures.
func newLLMClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	opts := llm.Options{
		Temperature:     cfg.Model.Temperature,
		MaxOutputTokens: cfg.Model.MaxOutputTokens,
	}

	clients := make(map[string]llm.Client)
	if cfg.Gemini.APIKey != "" {
		gc, err := llm.NewGeminiClient(ctx, cfg.Gemini.APIKey, opts, logger)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		clients[providerGemini] = gc
	}
	if cfg.Anthropic.APIKey != "" {
		clients[providerAnthropic] = llm.NewAnthropicClient(cfg.Anthropic.APIKey, opts, logger)
	}

	fallback, ok := clients[cfg.Model.Provider]
	if !ok {
		return nil, &config.ConfigurationError{Reason: fmt.Sprintf("model provider %q has no API key", cfg.Model.Provider)}
	}

	multi := llm.NewMultiClient(fallback)
	for name, c := range clients {
		multi.AddProvider(name, c)
	}
	multi.AddPrefix("gemini-", providerGemini)
	multi.AddPrefix("claude-", providerAnthropic)

	return llm.NewRetryClient(multi, llm.RetryConfig{
		CallTimeout: cfg.Model.CallTimeout,
		MaxRetries:  cfg.Model.MaxRetries,
		BaseDelay:   cfg.Model.RetryBaseDelay,
	}, logger), nil
}

// newHTTPClient is the outbound client shared by every tool.
func newHTTPClient(cfg *config.Config, logger *slog.Logger) *http.Client {
	timeout := cfg.Agent.ToolTimeout
	if timeout <= 0 {
		timeout = httpkit.DefaultTimeout
	}
	return httpkit.NewClient(
		httpkit.WithTimeout(timeout),
		httpkit.WithRetry(2, 500*time.Millisecond),
		httpkit.WithLogger(logger),
	)
}

// newSearchManager registers every search provider that has credentials;
// the configured one is primary.
func newSearchManager(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) *search.Manager {
	mgr := search.NewManager(cfg.Search.Provider)
	if cfg.Search.Tavily.APIKey != "" {
		mgr.Register(search.NewTavily(search.TavilyConfig{
			APIKey:       cfg.Search.Tavily.APIKey,
			BaseURL:      cfg.Search.Tavily.BaseURL,
			ParamProfile: search.ParamProfile(cfg.Search.Tavily.ParamProfile),
			Depth:        search.Depth(cfg.Search.Tavily.Depth),
		}, httpClient, logger))
	}
	if cfg.Search.Brave.APIKey != "" {
		mgr.Register(search.NewBrave(cfg.Search.Brave.APIKey, httpClient))
	}
	if cfg.Search.SearXNG.URL != "" {
		mgr.Register(search.NewSearXNG(cfg.Search.SearXNG.URL, httpClient))
	}
	mgr.SetDefaultCount(cfg.Search.MaxResults)
	return mgr
}

// newRegistry builds the agent's fixed tool set.
func newRegistry(cfg *config.Config, pol policy.Policy, httpClient *http.Client, logger *slog.Logger) (*tools.Registry, error) {
	registry := tools.NewRegistry(cfg.Agent.ToolTimeout, logger)

	newsClient := news.NewClient(cfg.News.CryptoPanic.APIKey, cfg.News.CryptoPanic.BaseURL, httpClient, logger)
	for _, t := range []*tools.Tool{
		tools.CurrentTimeTool(nil),
		search.Tool(newSearchManager(cfg, httpClient, logger)),
		news.Tool(newsClient, pol, nil),
		fetch.Tool(fetch.New(httpClient, logger)),
	} {
		if err := registry.Register(t); err != nil {
			return nil, fmt.Errorf("register tool %s: %w", t.Name, err)
		}
	}
	return registry, nil
}

// policyFromConfig overlays the configured policy values on the stock
// policy. Relevance keywords are not configurable.
func policyFromConfig(pc config.PolicyConfig) policy.Policy {
	p := policy.Default()
	if pc.RecentDays > 0 {
		p.Recency.DefaultDays = pc.RecentDays
	}
	if pc.WidenedDays > 0 {
		p.Recency.WidenedDays = pc.WidenedDays
	}
	if p.Recency.WidenedDays < p.Recency.DefaultDays {
		p.Recency.WidenedDays = p.Recency.DefaultDays
	}
	if pc.MinResults > 0 {
		p.Recency.MinResults = pc.MinResults
	}
	if pc.MaxClarifyCandidates > 0 {
		p.Clarify.MaxCandidates = pc.MaxClarifyCandidates
	}
	if pc.ExcludedTerms != nil {
		p.Relevance.ExcludedTerms = pc.ExcludedTerms
	}
	if pc.OutputFormat != "" {
		p.Output.Format = policy.Format(pc.OutputFormat)
	}
	p.Verification.RequireSources = pc.RequireSources
	return p
}
