package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AWTOMATO_"

// Render modes.
const (
	RenderHTTP    = "http"
	RenderBrowser = "browser"
)

// Config holds awtomato configuration.
type Config struct {
	// Page source. File wins over URL when both are set.
	URL            string `yaml:"url"`
	File           string `yaml:"file"`
	Render         string `yaml:"render"` // http or browser
	BrowserBin     string `yaml:"browser_bin"`
	BrowserURL     string `yaml:"browser_url"` // DevTools websocket of a running browser
	Stealth        bool   `yaml:"stealth"`
	FollowSelector string `yaml:"follow_selector"`
	MaxPages       int    `yaml:"max_pages"`

	// Fetching
	Parallelism      int           `yaml:"parallelism"`
	Delay            time.Duration `yaml:"delay"`
	RandomDelay      time.Duration `yaml:"random_delay"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax  time.Duration `yaml:"retry_backoff_max"`
	UserAgent        string        `yaml:"user_agent"`
	RespectRobotsTxt bool          `yaml:"respect_robots_txt"`

	// Document
	LandingAreaID     string `yaml:"landing_area_id"`
	ViewportWidth     int    `yaml:"viewport_width"`
	ViewportHeight    int    `yaml:"viewport_height"`
	SelectorCacheSize int    `yaml:"selector_cache_size"`

	// Storage
	DBPath string `yaml:"db_path"`

	// Export
	Workers            int    `yaml:"workers"`
	PipelineBufferSize int    `yaml:"pipeline_buffer_size"`
	BatchSize          int    `yaml:"batch_size"`
	DedupeMaxSize      int    `yaml:"dedupe_max_size"`
	OutputFile         string `yaml:"output_file"`
	OutputFormat       string `yaml:"output_format"` // csv, json, or dual

	MetricsAddr string `yaml:"metrics_addr"`
	Verbose     bool   `yaml:"verbose"`
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		Render:             RenderHTTP,
		Stealth:            true,
		MaxPages:           1,
		Parallelism:        4,
		Delay:              0,
		RandomDelay:        0,
		Timeout:            15 * time.Second,
		MaxRetries:         2,
		RetryBackoff:       200 * time.Millisecond,
		RetryBackoffMax:    2 * time.Second,
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		RespectRobotsTxt:   false,
		LandingAreaID:      "awtomato-landing-area",
		ViewportWidth:      1280,
		ViewportHeight:     800,
		SelectorCacheSize:  512,
		DBPath:             "awtomato.db",
		Workers:            4,
		PipelineBufferSize: 256,
		BatchSize:          64,
		DedupeMaxSize:      100000,
		OutputFile:         "output/rows.csv",
		OutputFormat:       "csv",
		Verbose:            false,
	}
}

// Load returns the defaults overlaid with the YAML file at path, when path
// is set, and then with environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides fields from AWTOMATO_* variables.
func (c *Config) ApplyEnv() {
	c.URL = EnvString("URL", c.URL)
	c.File = EnvString("FILE", c.File)
	c.Render = EnvString("RENDER", c.Render)
	c.BrowserBin = EnvString("BROWSER_BIN", c.BrowserBin)
	c.BrowserURL = EnvString("BROWSER_URL", c.BrowserURL)
	c.Stealth = EnvBool("STEALTH", c.Stealth)
	c.FollowSelector = EnvString("FOLLOW_SELECTOR", c.FollowSelector)
	c.MaxPages = EnvInt("MAX_PAGES", c.MaxPages)
	c.Parallelism = EnvInt("PARALLELISM", c.Parallelism)
	c.Timeout = EnvDuration("TIMEOUT", c.Timeout)
	c.MaxRetries = EnvInt("MAX_RETRIES", c.MaxRetries)
	c.UserAgent = EnvString("USER_AGENT", c.UserAgent)
	c.LandingAreaID = EnvString("LANDING_AREA_ID", c.LandingAreaID)
	c.DBPath = EnvString("DB_PATH", c.DBPath)
	c.Workers = EnvInt("WORKERS", c.Workers)
	c.BatchSize = EnvInt("BATCH_SIZE", c.BatchSize)
	c.OutputFile = EnvString("OUTPUT_FILE", c.OutputFile)
	c.OutputFormat = EnvString("OUTPUT_FORMAT", c.OutputFormat)
	c.MetricsAddr = EnvString("METRICS_ADDR", c.MetricsAddr)
	c.Verbose = EnvBool("VERBOSE", c.Verbose)
}

// EnvString returns AWTOMATO_<key>, or def when unset or blank.
func EnvString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(EnvPrefix + key)); v != "" {
		return v
	}
	return def
}

// EnvInt returns AWTOMATO_<key> as an int, or def when unset or malformed.
func EnvInt(key string, def int) int {
	if n, err := strconv.Atoi(EnvString(key, "")); err == nil {
		return n
	}
	return def
}

// EnvBool returns AWTOMATO_<key> as a bool, or def when unset or malformed.
func EnvBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(EnvString(key, "")); err == nil {
		return b
	}
	return def
}

// EnvDuration returns AWTOMATO_<key> as a duration, or def when unset or
// malformed.
func EnvDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(EnvString(key, "")); err == nil {
		return d
	}
	return def
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.URL != "" {
		parsedURL, err := url.Parse(c.URL)
		if err != nil {
			return fmt.Errorf("invalid URL: %w", err)
		}
		if parsedURL.Host == "" {
			return fmt.Errorf("URL must include a host")
		}
	}
	if c.Render != RenderHTTP && c.Render != RenderBrowser {
		return fmt.Errorf("render mode must be %s or %s", RenderHTTP, RenderBrowser)
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.LandingAreaID == "" {
		return fmt.Errorf("landing area id cannot be empty")
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		return fmt.Errorf("viewport must be positive, got %dx%d", c.ViewportWidth, c.ViewportHeight)
	}
	if c.SelectorCacheSize <= 0 {
		return fmt.Errorf("selector cache size must be positive")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db path cannot be empty")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}

	return nil
}
