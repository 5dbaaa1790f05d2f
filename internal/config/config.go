// Package config loads and validates actions-digest configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/actions-digest/internal/parser"
)

// DefaultRootURL is the first listing page of the presidential actions index.
const DefaultRootURL = "https://www.whitehouse.gov/presidential-actions/"

// DefaultUserAgent mimics a desktop browser; the source site rejects bare clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Source     SourceConfig     `mapstructure:"source"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher"`
	Selectors  parser.Selectors `mapstructure:"selectors"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Store      StoreConfig      `mapstructure:"store"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// SourceConfig names the listing to ingest.
type SourceConfig struct {
	RootURL string `mapstructure:"root_url"`
}

// CrawlerConfig governs pacing and scope of a scrape run.
type CrawlerConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	ListingDelay  time.Duration `mapstructure:"listing_delay"`
	DocumentDelay time.Duration `mapstructure:"document_delay"`
	Timeout       time.Duration `mapstructure:"timeout"`
	DrainBacklog  bool          `mapstructure:"drain_backlog"`
	RespectRobots bool          `mapstructure:"respect_robots"`
}

// FetcherConfig picks between the plain HTTP fetcher, headless Chrome, or
// "auto", which promotes client-rendered pages to Chrome.
type FetcherConfig struct {
	Mode             string        `mapstructure:"mode"`
	HeadlessParallel int           `mapstructure:"headless_parallel"`
	NavTimeout       time.Duration `mapstructure:"nav_timeout"`
	// RetryAttempts bounds attempts per fetch; 1 disables retries.
	RetryAttempts int `mapstructure:"retry_attempts"`
}

// EnrichmentConfig configures the chat-completions provider.
type EnrichmentConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Temperature       float64       `mapstructure:"temperature"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

// StoreConfig controls access to the document store.
type StoreConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// ArchiveConfig sets where raw document pages are copied.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for enrichment notifications. Publishing is
// disabled when ProjectID is empty.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the read API.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DIGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	sel := parser.DefaultSelectors()

	v.SetDefault("source.root_url", DefaultRootURL)
	v.SetDefault("crawler.user_agent", DefaultUserAgent)
	v.SetDefault("crawler.listing_delay", time.Second)
	v.SetDefault("crawler.document_delay", 2*time.Second)
	v.SetDefault("crawler.timeout", 30*time.Second)
	v.SetDefault("crawler.drain_backlog", false)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("fetcher.mode", "colly")
	v.SetDefault("fetcher.headless_parallel", 1)
	v.SetDefault("fetcher.nav_timeout", 25*time.Second)
	v.SetDefault("fetcher.retry_attempts", 3)
	v.SetDefault("selectors.article", sel.Article)
	v.SetDefault("selectors.article_url", sel.ArticleURL)
	v.SetDefault("selectors.title", sel.Title)
	v.SetDefault("selectors.pagination", sel.Pagination)
	v.SetDefault("selectors.body", sel.Body)
	v.SetDefault("selectors.date", sel.Date)
	v.SetDefault("enrichment.base_url", "https://api.openai.com/v1")
	v.SetDefault("enrichment.api_key", "")
	v.SetDefault("enrichment.model", "gpt-4o-mini")
	v.SetDefault("enrichment.max_tokens", 1600)
	v.SetDefault("enrichment.temperature", 0.7)
	v.SetDefault("enrichment.timeout", 120*time.Second)
	v.SetDefault("enrichment.requests_per_minute", 0)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "actions.db")
	v.SetDefault("store.max_open_conns", 4)
	v.SetDefault("store.max_idle_conns", 2)
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.base_dir", "archive")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "document.enriched")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 15*time.Second)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if u, err := url.Parse(c.Source.RootURL); err != nil || !u.IsAbs() {
		return fmt.Errorf("source.root_url must be an absolute URL")
	}
	if c.Crawler.ListingDelay < 0 || c.Crawler.DocumentDelay < 0 {
		return fmt.Errorf("crawler delays must be >= 0")
	}
	if c.Crawler.Timeout <= 0 {
		return fmt.Errorf("crawler.timeout must be > 0")
	}
	switch c.Fetcher.Mode {
	case "colly":
	case "headless", "auto":
		if c.Fetcher.HeadlessParallel <= 0 {
			return fmt.Errorf("fetcher.headless_parallel must be > 0 when fetcher.mode is %s", c.Fetcher.Mode)
		}
	default:
		return fmt.Errorf("fetcher.mode must be colly, headless or auto, got %q", c.Fetcher.Mode)
	}
	if c.Fetcher.RetryAttempts < 0 {
		return fmt.Errorf("fetcher.retry_attempts must be >= 0")
	}
	if c.Enrichment.BaseURL == "" {
		return fmt.Errorf("enrichment.base_url is required")
	}
	if c.Enrichment.MaxTokens <= 0 {
		return fmt.Errorf("enrichment.max_tokens must be > 0")
	}
	if c.Enrichment.RequestsPerMinute < 0 {
		return fmt.Errorf("enrichment.requests_per_minute must be >= 0")
	}
	switch c.Store.Driver {
	case "postgres", "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver must be postgres, sqlite or memory, got %q", c.Store.Driver)
	}
	switch c.Archive.Provider {
	case "none", "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local archive")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.provider must be none, memory, local or gcs, got %q", c.Archive.Provider)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.Topic == "" {
		return fmt.Errorf("pubsub.topic must be set when pubsub.project_id is set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}
