package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/rewired-gh/hypetrack/internal/models"
)

// Config represents the complete application configuration
type Config struct {
	Sources  SourcesConfig  `mapstructure:"sources"`
	Corpus   CorpusConfig   `mapstructure:"corpus"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Export   ExportConfig   `mapstructure:"export"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SourceConfig holds per-source fetch, resilience, and alignment settings.
// MinInterval is the minimum spacing between calls to the source, enforced
// even on the first attempt; GapPolicy is one of "carry", "zero", or
// "interpolate" and controls how empty buckets are filled during alignment.
type SourceConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	MinInterval    time.Duration `mapstructure:"min_interval"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	GapPolicy      string        `mapstructure:"gap_policy"`
}

// SourcesConfig holds configuration for every data source.
type SourcesConfig struct {
	Scholar SourceConfig `mapstructure:"scholar"`
	Trends  SourceConfig `mapstructure:"trends"`
	Arxiv   SourceConfig `mapstructure:"arxiv"`
	Corpus  SourceConfig `mapstructure:"corpus"`
}

// ForID returns the configuration block for a source.
func (s *SourcesConfig) ForID(id models.SourceID) SourceConfig {
	switch id {
	case models.SourceScholar:
		return s.Scholar
	case models.SourceTrends:
		return s.Trends
	case models.SourceArxiv:
		return s.Arxiv
	case models.SourceCorpus:
		return s.Corpus
	}
	return SourceConfig{}
}

// CorpusConfig holds the local document corpus location
type CorpusConfig struct {
	Dir  string `mapstructure:"dir"`
	Glob string `mapstructure:"glob"`
}

// CacheConfig holds cache persistence configuration
type CacheConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// ExportConfig holds output artifact configuration
type ExportConfig struct {
	OutDir string `mapstructure:"out_dir"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	Enabled        bool          `mapstructure:"enabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("HYPETRACK")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in configuration used when no config file is given.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; unmarshal cannot fail on them.
		panic(fmt.Sprintf("invalid built-in defaults: %v", err))
	}
	return &cfg
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Scholar: yearly publication counts behind an HTTP JSON API.
	v.SetDefault("sources.scholar.enabled", true)
	v.SetDefault("sources.scholar.base_url", "https://api.openscholar.dev")
	v.SetDefault("sources.scholar.timeout", "25s")
	v.SetDefault("sources.scholar.max_retries", 3)
	v.SetDefault("sources.scholar.retry_delay_base", "1s")
	v.SetDefault("sources.scholar.max_backoff", "30s")
	v.SetDefault("sources.scholar.min_interval", "2s")
	v.SetDefault("sources.scholar.cache_ttl", "168h")
	v.SetDefault("sources.scholar.gap_policy", "carry")

	// Trends: rate limits aggressively (429s); back off further and wait
	// longer between calls.
	v.SetDefault("sources.trends.enabled", true)
	v.SetDefault("sources.trends.base_url", "https://trends.googleapis.com")
	v.SetDefault("sources.trends.timeout", "25s")
	v.SetDefault("sources.trends.max_retries", 3)
	v.SetDefault("sources.trends.retry_delay_base", "4s")
	v.SetDefault("sources.trends.max_backoff", "60s")
	v.SetDefault("sources.trends.min_interval", "2s")
	v.SetDefault("sources.trends.cache_ttl", "168h")
	v.SetDefault("sources.trends.gap_policy", "carry")

	// arXiv asks for at most one request every 3 seconds.
	v.SetDefault("sources.arxiv.enabled", true)
	v.SetDefault("sources.arxiv.base_url", "http://export.arxiv.org")
	v.SetDefault("sources.arxiv.timeout", "15s")
	v.SetDefault("sources.arxiv.max_retries", 3)
	v.SetDefault("sources.arxiv.retry_delay_base", "3s")
	v.SetDefault("sources.arxiv.max_backoff", "30s")
	v.SetDefault("sources.arxiv.min_interval", "3s")
	v.SetDefault("sources.arxiv.cache_ttl", "168h")
	v.SetDefault("sources.arxiv.gap_policy", "carry")

	// Corpus scans are local; caching only avoids re-scanning large corpora.
	v.SetDefault("sources.corpus.enabled", true)
	v.SetDefault("sources.corpus.timeout", "60s")
	v.SetDefault("sources.corpus.cache_ttl", "720h")
	v.SetDefault("sources.corpus.gap_policy", "zero")

	v.SetDefault("corpus.dir", "./corpus")
	v.SetDefault("corpus.glob", "*.json")

	v.SetDefault("cache.db_path", "./data/hypetrack.db")

	v.SetDefault("export.out_dir", "./outputs")

	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

var validGapPolicies = map[string]bool{"carry": true, "zero": true, "interpolate": true}

func validateSource(name string, sc SourceConfig, network bool) error {
	if !sc.Enabled {
		return nil
	}
	if network {
		if sc.BaseURL == "" {
			return fmt.Errorf("sources.%s.base_url is required when the source is enabled", name)
		}
		if sc.MaxRetries < 0 {
			return fmt.Errorf("sources.%s.max_retries must not be negative", name)
		}
		if sc.RetryDelayBase <= 0 {
			return fmt.Errorf("sources.%s.retry_delay_base must be positive", name)
		}
		if sc.MinInterval < 0 {
			return fmt.Errorf("sources.%s.min_interval must not be negative", name)
		}
	}
	if sc.Timeout <= 0 {
		return fmt.Errorf("sources.%s.timeout must be positive", name)
	}
	if sc.CacheTTL <= 0 {
		return fmt.Errorf("sources.%s.cache_ttl must be positive", name)
	}
	if !validGapPolicies[sc.GapPolicy] {
		return fmt.Errorf("sources.%s.gap_policy must be one of: carry, zero, interpolate", name)
	}
	return nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if err := validateSource("scholar", c.Sources.Scholar, true); err != nil {
		return err
	}
	if err := validateSource("trends", c.Sources.Trends, true); err != nil {
		return err
	}
	if err := validateSource("arxiv", c.Sources.Arxiv, true); err != nil {
		return err
	}
	if err := validateSource("corpus", c.Sources.Corpus, false); err != nil {
		return err
	}

	if !c.Sources.Scholar.Enabled && !c.Sources.Trends.Enabled &&
		!c.Sources.Arxiv.Enabled && !c.Sources.Corpus.Enabled {
		return fmt.Errorf("at least one source must be enabled")
	}

	if c.Sources.Corpus.Enabled && c.Corpus.Dir == "" {
		return fmt.Errorf("corpus.dir is required when the corpus source is enabled")
	}

	if c.Cache.DBPath == "" {
		return fmt.Errorf("cache.db_path is required")
	}

	if c.Export.OutDir == "" {
		return fmt.Errorf("export.out_dir is required")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
