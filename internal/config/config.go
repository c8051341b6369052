// Package config handles Scout configuration loading.
//
// Configuration comes from an optional YAML file plus environment
// variables. Secrets are normally supplied through the environment; the
// YAML file may reference them with ${VAR} syntax or leave them out.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvGeminiKey      = "GEMINI_API_KEY"
	EnvAnthropicKey   = "ANTHROPIC_API_KEY"
	EnvTavilyKey      = "TAVILY_API_KEY"
	EnvBraveKey       = "BRAVE_API_KEY"
	EnvSearXNGURL     = "SEARXNG_URL"
	EnvCryptoPanicKey = "CRYPTOPANIC_API_KEY"
	EnvDatabaseURL    = "SCOUT_DATABASE_URL"
	EnvListenPort     = "SCOUT_LISTEN_PORT"
	EnvLogLevel       = "SCOUT_LOG_LEVEL"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/scout/config.yaml, /etc/scout/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "scout", "config.yaml"))
	}

	paths = append(paths, "/etc/scout/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// An empty path with a nil error means no file was found, which is fine:
// Scout can run from the environment alone.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// Config holds all Scout configuration.
type Config struct {
	Listen      ListenConfig      `yaml:"listen"`
	Model       ModelConfig       `yaml:"model"`
	Gemini      GeminiConfig      `yaml:"gemini"`
	Anthropic   AnthropicConfig   `yaml:"anthropic"`
	Search      SearchConfig      `yaml:"search"`
	News        NewsConfig        `yaml:"news"`
	Agent       AgentConfig       `yaml:"agent"`
	Policy      PolicyConfig      `yaml:"policy"`
	Persistence PersistenceConfig `yaml:"persistence"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	LogLevel    string            `yaml:"log_level"`
	LogFormat   string            `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelConfig selects the model provider and decoding settings.
type ModelConfig struct {
	Provider        string        `yaml:"provider"` // gemini, anthropic
	Name            string        `yaml:"name"`
	Temperature     float64       `yaml:"temperature"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
}

// GeminiConfig defines Google Gemini API settings.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// SearchConfig selects and configures the web search provider.
type SearchConfig struct {
	Provider   string        `yaml:"provider"` // tavily, brave, searxng
	MaxResults int           `yaml:"max_results"`
	Tavily     TavilyConfig  `yaml:"tavily"`
	Brave      BraveConfig   `yaml:"brave"`
	SearXNG    SearXNGConfig `yaml:"searxng"`
}

// TavilyConfig configures the Tavily search API.
type TavilyConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	// ParamProfile is "full" (depth, topic, answer flags) or "minimal"
	// (query and max_results only). Older API keys and proxies reject
	// some of the full parameters.
	ParamProfile string `yaml:"param_profile"`
	Depth        string `yaml:"depth"` // basic or advanced
}

// BraveConfig configures the Brave Search API.
type BraveConfig struct {
	APIKey string `yaml:"api_key"`
}

// SearXNGConfig configures a SearXNG instance.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// NewsConfig configures the crypto news provider.
type NewsConfig struct {
	CryptoPanic CryptoPanicConfig `yaml:"cryptopanic"`
}

// CryptoPanicConfig configures the CryptoPanic developer API.
type CryptoPanicConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// AgentConfig bounds the reasoning loop.
type AgentConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	ToolTimeout   time.Duration `yaml:"tool_timeout"`
	RunTimeout    time.Duration `yaml:"run_timeout"`
}

// PolicyConfig carries the tunable research policy values.
type PolicyConfig struct {
	OutputFormat         string   `yaml:"output_format"` // numbered or table
	RecentDays           int      `yaml:"recent_days"`
	WidenedDays          int      `yaml:"widened_days"`
	MinResults           int      `yaml:"min_results"`
	MaxClarifyCandidates int      `yaml:"max_clarify_candidates"`
	ExcludedTerms        []string `yaml:"excluded_terms"`
	RequireSources       bool     `yaml:"require_sources"`
}

// PersistenceConfig configures the conversation state store.
type PersistenceConfig struct {
	// Driver is "sqlite3" (mattn, cgo), "sqlite" (modernc, pure Go) or
	// "memory" for a process-local store.
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"database_url"`
	MaxHistory  int    `yaml:"max_history"`
}

// MQTTConfig configures the optional MQTT event forwarder.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// Configured reports whether an MQTT broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8000},
		Model: ModelConfig{
			Provider:        "gemini",
			Name:            "gemini-2.5-flash",
			Temperature:     0,
			MaxOutputTokens: 2048,
			CallTimeout:     60 * time.Second,
			MaxRetries:      5,
			RetryBaseDelay:  time.Second,
		},
		Search: SearchConfig{
			Provider:   "tavily",
			MaxResults: 3,
			Tavily: TavilyConfig{
				BaseURL:      "https://api.tavily.com",
				ParamProfile: "full",
				Depth:        "basic",
			},
		},
		News: NewsConfig{
			CryptoPanic: CryptoPanicConfig{
				BaseURL: "https://cryptopanic.com/api/developer/v2",
			},
		},
		Agent: AgentConfig{
			MaxIterations: 8,
			ToolTimeout:   20 * time.Second,
			RunTimeout:    3 * time.Minute,
		},
		Policy: PolicyConfig{
			OutputFormat:         "numbered",
			RecentDays:           30,
			WidenedDays:          90,
			MinResults:           3,
			MaxClarifyCandidates: 3,
			ExcludedTerms:        []string{"Information Commissioner", "ico.org.uk"},
			RequireSources:       true,
		},
		Persistence: PersistenceConfig{
			Driver:      "sqlite3",
			DatabaseURL: "scout.db",
			MaxHistory:  100,
		},
		MQTT: MQTTConfig{
			Topic:    "scout/events",
			ClientID: "scout",
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads configuration from a YAML file on top of Default. Environment
// variables referenced as ${VAR} are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides secrets and a few operational settings from the
// environment. getenv is usually os.Getenv; tests pass a map lookup.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Gemini.APIKey, EnvGeminiKey)
	set(&c.Anthropic.APIKey, EnvAnthropicKey)
	set(&c.Search.Tavily.APIKey, EnvTavilyKey)
	set(&c.Search.Brave.APIKey, EnvBraveKey)
	set(&c.Search.SearXNG.URL, EnvSearXNGURL)
	set(&c.News.CryptoPanic.APIKey, EnvCryptoPanicKey)
	set(&c.Persistence.DatabaseURL, EnvDatabaseURL)
	set(&c.LogLevel, EnvLogLevel)

	if v := getenv(EnvListenPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Listen.Port = port
		}
	}
}

// Validate checks that every credential the selected providers need is
// present. Missing credentials are collected into a single
// *ConfigurationError so the operator sees all of them at once.
func (c *Config) Validate() error {
	var missing []string

	switch c.Model.Provider {
	case "gemini":
		if c.Gemini.APIKey == "" {
			missing = append(missing, EnvGeminiKey)
		}
	case "anthropic":
		if c.Anthropic.APIKey == "" {
			missing = append(missing, EnvAnthropicKey)
		}
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unknown model provider %q (valid: gemini, anthropic)", c.Model.Provider)}
	}

	switch c.Search.Provider {
	case "tavily":
		if c.Search.Tavily.APIKey == "" {
			missing = append(missing, EnvTavilyKey)
		}
		if p := c.Search.Tavily.ParamProfile; p != "full" && p != "minimal" {
			return &ConfigurationError{Reason: fmt.Sprintf("unknown tavily param_profile %q (valid: full, minimal)", p)}
		}
	case "brave":
		if c.Search.Brave.APIKey == "" {
			missing = append(missing, EnvBraveKey)
		}
	case "searxng":
		if c.Search.SearXNG.URL == "" {
			missing = append(missing, EnvSearXNGURL)
		}
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unknown search provider %q (valid: tavily, brave, searxng)", c.Search.Provider)}
	}

	if c.News.CryptoPanic.APIKey == "" {
		missing = append(missing, EnvCryptoPanicKey)
	}

	switch c.Persistence.Driver {
	case "sqlite3", "sqlite":
		if c.Persistence.DatabaseURL == "" {
			missing = append(missing, EnvDatabaseURL)
		}
	case "memory":
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unknown persistence driver %q (valid: sqlite3, sqlite, memory)", c.Persistence.Driver)}
	}

	if f := c.Policy.OutputFormat; f != "numbered" && f != "table" {
		return &ConfigurationError{Reason: fmt.Sprintf("unknown policy output_format %q (valid: numbered, table)", f)}
	}

	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

// ConfigurationError reports a configuration that cannot start the
// server. It is only ever returned at startup.
type ConfigurationError struct {
	// Missing lists the environment variables that must be set.
	Missing []string
	// Reason describes any other invalid setting.
	Reason string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("configuration error: missing required environment variable(s): %s", strings.Join(e.Missing, ", "))
	}
	return "configuration error: " + e.Reason
}
