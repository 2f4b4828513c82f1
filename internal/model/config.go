package model

import "time"

// Config is the complete newsledger configuration tree
type Config struct {
	LogLevel   string            `yaml:"log_level" mapstructure:"log_level"`
	Store      StoreConfig       `yaml:"store" mapstructure:"store"`
	HTTP       HTTPConfig        `yaml:"http" mapstructure:"http"`
	Server     ServerConfig      `yaml:"server" mapstructure:"server"`
	Extraction ExtractionConfig  `yaml:"extraction" mapstructure:"extraction"`
	Search     SearchConfig      `yaml:"search" mapstructure:"search"`
	Ingest     IngestConfig      `yaml:"ingest" mapstructure:"ingest"`
	Oracle     OracleConfig      `yaml:"oracle" mapstructure:"oracle"`
	Scoring    ScoringConfig     `yaml:"scoring" mapstructure:"scoring"`
	Refresh    RefreshConfig     `yaml:"refresh" mapstructure:"refresh"`
	Cache      CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Archive    ArchiveConfig     `yaml:"archive" mapstructure:"archive"`
	Events     EventsConfig      `yaml:"events" mapstructure:"events"`
	Outlets    []OutletConfig    `yaml:"outlets" mapstructure:"outlets"`
	Aliases    map[string]string `yaml:"aliases" mapstructure:"aliases"`
}

// StoreConfig configures the sqlite store. An empty DSN leaves the store unconfigured.
type StoreConfig struct {
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// HTTPConfig holds outbound HTTP settings shared by fetchers
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent     string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RespectRobots bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
	HTTPProxy     string        `yaml:"http_proxy" mapstructure:"http_proxy"`
	HTTPSProxy    string        `yaml:"https_proxy" mapstructure:"https_proxy"`
	NoProxy       string        `yaml:"no_proxy" mapstructure:"no_proxy"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	ReadCacheTTL    time.Duration `yaml:"read_cache_ttl" mapstructure:"read_cache_ttl"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// ExtractionConfig configures the extraction fallback chain
type ExtractionConfig struct {
	StageTimeout time.Duration    `yaml:"stage_timeout" mapstructure:"stage_timeout"`
	MaxChars     int              `yaml:"max_chars" mapstructure:"max_chars"`
	Structured   StructuredConfig `yaml:"structured" mapstructure:"structured"`
	Render       RenderConfig     `yaml:"render" mapstructure:"render"`
}

// StructuredConfig configures the content-extraction API stage
type StructuredConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
}

// RenderConfig configures the headless render stage.
// Driver is "browserless", "playwright" or empty (stage disabled).
type RenderConfig struct {
	Driver         string `yaml:"driver" mapstructure:"driver"`
	BrowserlessURL string `yaml:"browserless_url" mapstructure:"browserless_url"`
	Token          string `yaml:"token" mapstructure:"token"`
	ExecutablePath string `yaml:"executable_path" mapstructure:"executable_path"`
}

// SearchConfig configures the web-search discovery client
type SearchConfig struct {
	BaseURL  string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey   string        `yaml:"api_key" mapstructure:"api_key"`
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// IngestConfig configures the ingest worker
type IngestConfig struct {
	BatchLimit        int           `yaml:"batch_limit" mapstructure:"batch_limit"`
	Workers           int           `yaml:"workers" mapstructure:"workers"`
	ItemTimeout       time.Duration `yaml:"item_timeout" mapstructure:"item_timeout"`
	ClaimTTL          time.Duration `yaml:"claim_ttl" mapstructure:"claim_ttl"`
	MaxAttempts       int           `yaml:"max_attempts" mapstructure:"max_attempts"` // 0 = retry forever
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size" mapstructure:"burst_size"`
}

// OracleConfig configures the scoring oracle
type OracleConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama, "" (disabled)
	Model         string `yaml:"model" mapstructure:"model"`
	APIKey        string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	Timeout       int    `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens     int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxInputChars int    `yaml:"max_input_chars" mapstructure:"max_input_chars"`
}

// ScoringConfig configures the ledger-build worker
type ScoringConfig struct {
	BatchLimit int `yaml:"batch_limit" mapstructure:"batch_limit"`
}

// RefreshConfig configures the refresh trigger
type RefreshConfig struct {
	Schedule string   `yaml:"schedule" mapstructure:"schedule"` // cron spec, empty disables
	Days     int      `yaml:"days" mapstructure:"days"`
	Outlets  []string `yaml:"outlets" mapstructure:"outlets"`
}

// CacheConfig configures read caching
type CacheConfig struct {
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
	RedisURL string        `yaml:"redis_url" mapstructure:"redis_url"`
}

// ArchiveConfig configures the S3 snapshot archive. Empty bucket disables it.
type ArchiveConfig struct {
	Bucket       string `yaml:"bucket" mapstructure:"bucket"`
	Prefix       string `yaml:"prefix" mapstructure:"prefix"`
	Region       string `yaml:"region" mapstructure:"region"`
	Profile      string `yaml:"profile" mapstructure:"profile"`
	UsePathStyle bool   `yaml:"use_path_style" mapstructure:"use_path_style"`
}

// EventsConfig configures ledger event publishing. No brokers disables it.
type EventsConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
}

// OutletConfig registers an outlet for backfill discovery
type OutletConfig struct {
	Canonical   string `yaml:"canonical" mapstructure:"canonical"`
	RSS         string `yaml:"rss,omitempty" mapstructure:"rss"`
	SearchQuery string `yaml:"search_query,omitempty" mapstructure:"search_query"`
	MaxResults  int    `yaml:"max_results,omitempty" mapstructure:"max_results"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Store: StoreConfig{
			DSN: "newsledger.db",
		},
		HTTP: HTTPConfig{
			Timeout:       8 * time.Second,
			UserAgent:     "newsledger/0.1 (+https://github.com/ppiankov/newsledger)",
			MaxBodyBytes:  4_000_000,
			RespectRobots: true,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadCacheTTL:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Extraction: ExtractionConfig{
			StageTimeout: 8 * time.Second,
			MaxChars:     20_000,
			Structured: StructuredConfig{
				BaseURL: "https://api.tavily.com",
			},
			Render: RenderConfig{
				BrowserlessURL: "https://chrome.browserless.io",
			},
		},
		Search: SearchConfig{
			BaseURL:  "https://api.tavily.com",
			CacheTTL: 15 * time.Minute,
		},
		Ingest: IngestConfig{
			BatchLimit:        10,
			Workers:           4,
			ItemTimeout:       40 * time.Second,
			ClaimTTL:          10 * time.Minute,
			MaxAttempts:       8,
			RequestsPerSecond: 1.0,
			BurstSize:         2,
		},
		Oracle: OracleConfig{
			Provider:      "openai",
			Model:         "gpt-4o-mini",
			Timeout:       60,
			MaxTokens:     1200,
			MaxInputChars: 6000,
		},
		Scoring: ScoringConfig{
			BatchLimit: 20,
		},
		Refresh: RefreshConfig{
			Days: 1,
		},
		Cache: CacheConfig{
			TTL: 5 * time.Minute,
		},
		Archive: ArchiveConfig{
			Prefix: "snapshots",
		},
		Events: EventsConfig{
			Topic: "newsledger.story.scored",
		},
		Outlets: DefaultOutlets(),
		Aliases: map[string]string{},
	}
}

// DefaultOutlets returns the built-in outlet registry
func DefaultOutlets() []OutletConfig {
	return []OutletConfig{
		{Canonical: "npr.org", RSS: "https://feeds.npr.org/1001/rss.xml", SearchQuery: "site:npr.org", MaxResults: 150},
		{Canonical: "bbc.com", RSS: "https://feeds.bbci.co.uk/news/rss.xml", SearchQuery: "site:bbc.com", MaxResults: 150},
		{Canonical: "reuters.com", RSS: "https://www.reutersagency.com/feed/?best-topics=politics", SearchQuery: "site:reuters.com", MaxResults: 150},
		{Canonical: "foxnews.com", RSS: "https://moxie.foxnews.com/google-publisher/latest.xml", SearchQuery: "site:foxnews.com", MaxResults: 150},
		{Canonical: "nytimes.com", RSS: "https://rss.nytimes.com/services/xml/rss/nyt/HomePage.xml", SearchQuery: "site:nytimes.com", MaxResults: 150},
	}
}
