package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
telegram:
  token: "12345:token"
database:
  url: "postgres://bot:pw@localhost:5432/ads"
storage:
  base_url: "https://img.example.kz"
posting:
  channels:
    astana: -1001234567890
    almaty: -1009876543210
  post_times: ["09:00", "15:00", "21:00"]
  max_posts_per_run: 15
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Telegram.Token != "12345:token" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if got := cfg.Posting.Channels["astana"]; got != -1001234567890 {
		t.Fatalf("astana channel = %d", got)
	}
	if got := cfg.Cities(); len(got) != 2 || got[0] != "almaty" || got[1] != "astana" {
		t.Fatalf("Cities() = %v, want sorted [almaty astana]", got)
	}
	if m.Get() != cfg {
		t.Fatal("Get() does not return the committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML+"\nposting_extra: true\n"))
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown top-level field accepted")
	}

	m = NewManager(writeConfig(t, "config2.yaml", strings.Replace(validYAML,
		"max_posts_per_run: 15", "max_posts_per_run: 15\n  typo_field: 1", 1)))
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown nested field accepted")
	}
}

func TestParseExpandsEnv(t *testing.T) {
	t.Setenv("TEST_BOT_TOKEN", "999:fromenv")
	content := strings.Replace(validYAML, `"12345:token"`, `"${TEST_BOT_TOKEN}"`, 1)
	m := NewManager(writeConfig(t, "config.yaml", content))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Telegram.Token != "999:fromenv" {
		t.Fatalf("token = %q, want env-expanded value", cfg.Telegram.Token)
	}
}

func TestParseAcceptsJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", `{
  "telegram": {"token": "1:t"},
  "database": {"url": "postgres://x"},
  "storage": {"base_url": "https://img.example.kz"},
  "posting": {
    "channels": {"astana": -100},
    "post_times": ["09:00"],
    "max_posts_per_run": 5
  },
  "cleanup": {},
  "logging": {}
}`))
	if _, err := m.Parse(); err != nil {
		t.Fatalf("Parse error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = " " }, wantErr: "telegram.token"},
		{name: "missing db url", mutate: func(c *Config) { c.Database.URL = "" }, wantErr: "database.url"},
		{name: "no channels", mutate: func(c *Config) { c.Posting.Channels = nil }, wantErr: "posting.channels"},
		{name: "zero chat id", mutate: func(c *Config) { c.Posting.Channels["astana"] = 0 }, wantErr: "posting.channels[astana]"},
		{name: "no post times", mutate: func(c *Config) { c.Posting.PostTimes = nil }, wantErr: "post_times"},
		{name: "bad post time", mutate: func(c *Config) { c.Posting.PostTimes = []string{"25:00"} }, wantErr: "post_times"},
		{name: "zero batch cap", mutate: func(c *Config) { c.Posting.MaxPostsPerRun = 0 }, wantErr: "max_posts_per_run"},
		{name: "bad cleanup time", mutate: func(c *Config) { c.Cleanup.Time = "2am" }, wantErr: "cleanup.time"},
		{name: "bad parse mode", mutate: func(c *Config) { c.Telegram.ParseMode = "html" }, wantErr: "parse_mode"},
		{name: "bad asset mode", mutate: func(c *Config) { c.Storage.AssetMode = "s3" }, wantErr: "asset_mode"},
		{name: "derived mode needs base url", mutate: func(c *Config) { c.Storage.BaseURL = "" }, wantErr: "base_url"},
		{name: "raw mode allows empty base url", mutate: func(c *Config) {
			c.Storage.AssetMode = "raw"
			c.Storage.BaseURL = ""
		}},
		{name: "bad timezone", mutate: func(c *Config) { c.Posting.Timezone = "Mars/Olympus" }, wantErr: "timezone"},
		{name: "bad interval", mutate: func(c *Config) { c.Posting.PostInterval = "2 minutes" }, wantErr: "post_interval"},
		{name: "negative pace", mutate: func(c *Config) { c.Posting.ItemPace = "-1s" }, wantErr: "item_pace"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{
				Telegram: TelegramConfig{Token: "1:t"},
				Database: DatabaseConfig{URL: "postgres://x"},
				Storage:  StorageConfig{BaseURL: "https://img.example.kz"},
				Posting: PostingConfig{
					Channels:       map[string]int64{"astana": -100},
					PostTimes:      []string{"09:00"},
					MaxPostsPerRun: 5,
				},
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestDurationAccessorsDefaultWhenUnset(t *testing.T) {
	t.Parallel()
	var cfg Config
	if got := cfg.PostInterval(); got != DefaultPostInterval {
		t.Fatalf("PostInterval = %v", got)
	}
	if got := cfg.ItemPace(); got != DefaultItemPace {
		t.Fatalf("ItemPace = %v", got)
	}
	if got := cfg.FreshnessWindow(); got != DefaultFreshnessWindow {
		t.Fatalf("FreshnessWindow = %v", got)
	}
	if got := cfg.RetentionWindow(); got != DefaultRetentionWindow {
		t.Fatalf("RetentionWindow = %v", got)
	}
	if got := cfg.CleanupTime(); got != DefaultCleanupTime {
		t.Fatalf("CleanupTime = %v", got)
	}

	cfg.Posting.PostInterval = "90s"
	cfg.Cleanup.RetentionWindow = "336h"
	if got := cfg.PostInterval(); got != 90*time.Second {
		t.Fatalf("PostInterval = %v, want 90s", got)
	}
	if got := cfg.RetentionWindow(); got != 14*24*time.Hour {
		t.Fatalf("RetentionWindow = %v, want 336h", got)
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in           string
		hour, minute int
		wantErr      bool
	}{
		{in: "09:30", hour: 9, minute: 30},
		{in: "00:00", hour: 0, minute: 0},
		{in: "23:59", hour: 23, minute: 59},
		{in: " 12:05 ", hour: 12, minute: 5},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "12", wantErr: true},
		{in: "12:00:00", wantErr: true},
		{in: "noon", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			h, m, err := ParseHHMM(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseHHMM(%q) accepted", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseHHMM(%q) error: %v", tt.in, err)
			}
			if h != tt.hour || m != tt.minute {
				t.Fatalf("ParseHHMM(%q) = %d:%d, want %d:%d", tt.in, h, m, tt.hour, tt.minute)
			}
		})
	}
}

func TestLoadKeepsPreviousOnBadFile(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", validYAML)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if err := os.WriteFile(path, []byte("telegram: {token: ''}\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if _, err := m.Load(); err == nil {
		t.Fatal("invalid rewrite accepted")
	}
	if m.Get() != cfg {
		t.Fatal("previous config lost after failed reload")
	}
}
