// Package config loads and watches the bot configuration.
//
// The file may be JSON or YAML; YAML is coerced to JSON so both formats go
// through the same strict decoder (unknown fields are rejected). Secrets may
// be referenced as ${ENV_VAR} and are expanded at parse time.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Database DatabaseConfig `json:"database"`
	Storage  StorageConfig  `json:"storage"`
	Posting  PostingConfig  `json:"posting"`
	Cleanup  CleanupConfig  `json:"cleanup"`
	Logging  LoggingConfig  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// ParseMode is "markdown" (default) or "plain".
	ParseMode string `json:"parse_mode,omitempty"`
	// RatePerSec caps outgoing Bot API calls process-wide.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// APITimeout is a Go duration string for the underlying HTTP client.
	APITimeout string `json:"api_timeout,omitempty"`
}

type DatabaseConfig struct {
	URL      string `json:"url"`
	MaxConns int    `json:"max_conns,omitempty"`
	MinConns int    `json:"min_conns,omitempty"`
	// Migrate runs pending schema migrations on startup.
	Migrate bool `json:"migrate,omitempty"`
}

type StorageConfig struct {
	// BaseURL of the S3-compatible image gateway, e.g. "https://img.example.kz".
	BaseURL   string `json:"base_url"`
	AuthToken string `json:"auth_token,omitempty"`
	// AssetMode is "derived" (default: build URLs from converted photo names
	// under BaseURL) or "raw" (use the stored photo URLs as-is).
	AssetMode string `json:"asset_mode,omitempty"`
}

type PostingConfig struct {
	// Channels maps a city key to the target channel chat ID.
	Channels map[string]int64 `json:"channels"`
	// PostTimes are daily "HH:MM" triggers, interpreted in Timezone.
	PostTimes []string `json:"post_times"`
	Timezone  string   `json:"timezone,omitempty"`
	// MaxPostsPerRun caps the batch per city per run.
	MaxPostsPerRun int `json:"max_posts_per_run"`
	// PostInterval is the slot spacing within a run (Go duration string).
	PostInterval string `json:"post_interval,omitempty"`
	// ItemPace is the pause after each successful post within one city's lane.
	ItemPace string `json:"item_pace,omitempty"`
	// FreshnessWindow bounds how old an unposted ad may be and still qualify.
	FreshnessWindow string `json:"freshness_window,omitempty"`
}

type CleanupConfig struct {
	// Time is the nightly "HH:MM" reconciliation trigger.
	Time string `json:"time,omitempty"`
	// RetentionWindow is how long a posted ad stays up before its channel
	// messages are removed.
	RetentionWindow string `json:"retention_window,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console bool        `json:"console,omitempty"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type MetricsConfig struct {
	// Addr enables the Prometheus endpoint when non-empty, e.g. "127.0.0.1:9090".
	Addr string `json:"addr,omitempty"`
}

// Defaults applied by the parsed accessors below.
const (
	DefaultPostInterval    = 2 * time.Minute
	DefaultItemPace        = 2 * time.Second
	DefaultFreshnessWindow = 7 * 24 * time.Hour
	DefaultRetentionWindow = 28 * 24 * time.Hour
	DefaultCleanupTime     = "02:00"
)

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("database.url is required")
	}
	if len(c.Posting.Channels) == 0 {
		return fmt.Errorf("posting.channels must map at least one city")
	}
	for city, chat := range c.Posting.Channels {
		if chat == 0 {
			return fmt.Errorf("posting.channels[%s]: chat id must be non-zero", city)
		}
	}
	if len(c.Posting.PostTimes) == 0 {
		return fmt.Errorf("posting.post_times must contain at least one HH:MM entry")
	}
	for _, t := range c.Posting.PostTimes {
		if _, _, err := ParseHHMM(t); err != nil {
			return fmt.Errorf("posting.post_times: %w", err)
		}
	}
	if c.Posting.MaxPostsPerRun <= 0 {
		return fmt.Errorf("posting.max_posts_per_run must be > 0")
	}
	if _, _, err := ParseHHMM(c.CleanupTime()); err != nil {
		return fmt.Errorf("cleanup.time: %w", err)
	}
	if mode := c.Telegram.ParseMode; mode != "" && mode != "markdown" && mode != "plain" {
		return fmt.Errorf("telegram.parse_mode: unknown mode %q", mode)
	}
	if mode := c.Storage.AssetMode; mode != "" && mode != "raw" && mode != "derived" {
		return fmt.Errorf("storage.asset_mode: unknown mode %q", mode)
	}
	if c.Storage.AssetMode != "raw" && strings.TrimSpace(c.Storage.BaseURL) == "" {
		return fmt.Errorf("storage.base_url is required in derived asset mode")
	}
	if c.Posting.Timezone != "" {
		if _, err := time.LoadLocation(c.Posting.Timezone); err != nil {
			return fmt.Errorf("posting.timezone: %w", err)
		}
	}
	// Durations are validated here so a hot-reloaded config cannot smuggle
	// in an unparsable value that only fails at the next run.
	for _, f := range []struct{ path, raw string }{
		{"telegram.api_timeout", c.Telegram.APITimeout},
		{"posting.post_interval", c.Posting.PostInterval},
		{"posting.item_pace", c.Posting.ItemPace},
		{"posting.freshness_window", c.Posting.FreshnessWindow},
		{"cleanup.retention_window", c.Cleanup.RetentionWindow},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}

// Cities returns the configured city keys in stable order.
func (c *Config) Cities() []string {
	out := make([]string, 0, len(c.Posting.Channels))
	for city := range c.Posting.Channels {
		out = append(out, city)
	}
	sort.Strings(out)
	return out
}

func (c *Config) PostInterval() time.Duration {
	return durationOr(c.Posting.PostInterval, DefaultPostInterval)
}

func (c *Config) ItemPace() time.Duration {
	return durationOr(c.Posting.ItemPace, DefaultItemPace)
}

func (c *Config) FreshnessWindow() time.Duration {
	return durationOr(c.Posting.FreshnessWindow, DefaultFreshnessWindow)
}

func (c *Config) RetentionWindow() time.Duration {
	return durationOr(c.Cleanup.RetentionWindow, DefaultRetentionWindow)
}

func (c *Config) CleanupTime() string {
	if strings.TrimSpace(c.Cleanup.Time) == "" {
		return DefaultCleanupTime
	}
	return c.Cleanup.Time
}

// durationOr assumes raw already passed Validate; a bad value falls back to
// the default rather than propagating an error into a running job.
func durationOr(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationField("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseHHMM parses a daily trigger time like "09:30".
func ParseHHMM(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid time %q: hour out of range", s)
	}
	if minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time %q: minute out of range", s)
	}
	return hour, minute, nil
}
