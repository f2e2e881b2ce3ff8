// Package config loads the YAML configuration, overlays secrets from the
// environment (.env supported via godotenv in cmd/bot), and watches the
// file for runtime changes to the posting knobs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Posting   PostingConfig   `yaml:"posting"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	Storage   StorageConfig   `yaml:"storage"`
	Status    StatusConfig    `yaml:"status"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type TelegramConfig struct {
	// Token comes from TELEGRAM_BOT_TOKEN when empty here; never commit it.
	Token     string `yaml:"token"`
	ChannelID int64  `yaml:"channel_id"`
	// GroupID receives admin reports (daily analytics summary). 0 disables.
	GroupID int64 `yaml:"group_id"`
	// APIURL overrides the Bot API endpoint, for self-hosted servers.
	APIURL string `yaml:"api_url"`
	// RatePerMin caps channel posts. Telegram broadcast guidance is ~20/min.
	RatePerMin int      `yaml:"rate_per_min"`
	MaxWait    Duration `yaml:"max_wait"`
}

type CatalogConfig struct {
	// BaseURL of the deals page the scraping source parses.
	BaseURL string `yaml:"base_url"`
	// PartnerTag comes from AMAZON_PARTNER_TAG when empty here.
	PartnerTag  string   `yaml:"partner_tag"`
	RatePerSec  float64  `yaml:"rate_per_sec"`
	MaxWait     Duration `yaml:"max_wait"`
	MinDiscount float64  `yaml:"min_discount"`
	MinPrice    float64  `yaml:"min_price"`
	MaxPrice    float64  `yaml:"max_price"`
	Categories  []string `yaml:"categories"`
	MaxResults  int      `yaml:"max_results"`
	Timeout     Duration `yaml:"timeout"`
}

type PostingConfig struct {
	Schedule    string `yaml:"schedule"` // cron spec; default hourly at :00
	StartHour   int    `yaml:"start_hour"`
	EndHour     int    `yaml:"end_hour"`
	Timezone    string `yaml:"timezone"` // IANA TZ; default UTC
	PostsPerDay int    `yaml:"posts_per_day"`
	PostsPerRun int    `yaml:"posts_per_run"`
	// Disclosure is appended to every deal message.
	Disclosure string `yaml:"disclosure"`
}

type DedupConfig struct {
	Cooldown  Duration `yaml:"cooldown"`  // re-candidacy window
	Retention Duration `yaml:"retention"` // entries older than this are deactivated
}

type AnalyticsConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Schedule       string   `yaml:"schedule"` // default daily 00:00
	Window         Duration `yaml:"window"`   // how far back to reconcile
	CommissionRate float64  `yaml:"commission_rate"`
}

type CleanupConfig struct {
	Schedule     string   `yaml:"schedule"` // default daily 03:00
	JobRunMaxAge Duration `yaml:"job_run_max_age"`
}

type StorageConfig struct {
	Path        string   `yaml:"path"`
	BusyTimeout Duration `yaml:"busy_timeout"`
}

type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
	File    struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"file"`
}

// Load reads, strictly decodes, defaults, env-overlays and validates the
// config at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Telegram.RatePerMin <= 0 {
		c.Telegram.RatePerMin = 20
	}
	if c.Telegram.MaxWait <= 0 {
		c.Telegram.MaxWait = Duration(30 * time.Second)
	}
	if c.Catalog.RatePerSec <= 0 {
		c.Catalog.RatePerSec = 1
	}
	if c.Catalog.MaxWait <= 0 {
		c.Catalog.MaxWait = Duration(10 * time.Second)
	}
	if c.Catalog.MaxResults <= 0 {
		c.Catalog.MaxResults = 25
	}
	if c.Catalog.Timeout <= 0 {
		c.Catalog.Timeout = Duration(30 * time.Second)
	}
	if c.Posting.Schedule == "" {
		c.Posting.Schedule = "0 * * * *"
	}
	if c.Posting.StartHour == 0 && c.Posting.EndHour == 0 {
		c.Posting.StartHour, c.Posting.EndHour = 8, 22
	}
	if c.Posting.Timezone == "" {
		c.Posting.Timezone = "UTC"
	}
	if c.Posting.PostsPerDay <= 0 {
		c.Posting.PostsPerDay = 10
	}
	if c.Posting.PostsPerRun <= 0 {
		c.Posting.PostsPerRun = 3
	}
	if c.Posting.Disclosure == "" {
		c.Posting.Disclosure = "🔗 Amazon Affiliate Link"
	}
	if c.Dedup.Cooldown <= 0 {
		c.Dedup.Cooldown = Duration(72 * time.Hour)
	}
	if c.Dedup.Retention <= 0 {
		c.Dedup.Retention = Duration(30 * 24 * time.Hour)
	}
	if c.Analytics.Schedule == "" {
		c.Analytics.Schedule = "0 0 * * *"
	}
	if c.Analytics.Window <= 0 {
		c.Analytics.Window = Duration(48 * time.Hour)
	}
	if c.Analytics.CommissionRate <= 0 {
		c.Analytics.CommissionRate = 0.03
	}
	if c.Cleanup.Schedule == "" {
		c.Cleanup.Schedule = "0 3 * * *"
	}
	if c.Cleanup.JobRunMaxAge <= 0 {
		c.Cleanup.JobRunMaxAge = Duration(90 * 24 * time.Hour)
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./data/g3r4kihub.db"
	}
	if c.Storage.BusyTimeout <= 0 {
		c.Storage.BusyTimeout = Duration(5 * time.Second)
	}
	if c.Status.Addr == "" {
		c.Status.Addr = "127.0.0.1:8090"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// applyEnv overlays secrets so they never live in the config file.
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")); v != "" {
		c.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("AMAZON_PARTNER_TAG")); v != "" {
		c.Catalog.PartnerTag = v
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram token is required (telegram.token or TELEGRAM_BOT_TOKEN)")
	}
	if c.Telegram.ChannelID == 0 {
		return errors.New("telegram.channel_id is required")
	}
	if strings.TrimSpace(c.Catalog.PartnerTag) == "" {
		return errors.New("catalog partner tag is required (catalog.partner_tag or AMAZON_PARTNER_TAG)")
	}
	if c.Posting.StartHour < 0 || c.Posting.StartHour > 23 {
		return fmt.Errorf("posting.start_hour %d out of range", c.Posting.StartHour)
	}
	if c.Posting.EndHour < 0 || c.Posting.EndHour > 23 {
		return fmt.Errorf("posting.end_hour %d out of range", c.Posting.EndHour)
	}
	if c.Posting.StartHour > c.Posting.EndHour {
		return fmt.Errorf("posting window start %d after end %d", c.Posting.StartHour, c.Posting.EndHour)
	}
	if _, err := time.LoadLocation(c.Posting.Timezone); err != nil {
		return fmt.Errorf("posting.timezone: %w", err)
	}
	if c.Catalog.MinDiscount < 0 || c.Catalog.MinDiscount > 100 {
		return fmt.Errorf("catalog.min_discount %.1f out of range", c.Catalog.MinDiscount)
	}
	return nil
}
