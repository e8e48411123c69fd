package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

const (
	defaultListen       = "127.0.0.1:8080"
	defaultTimezone     = "Asia/Bangkok"
	defaultRefresh      = "@every 10m"
	defaultFetchTimeout = 15 * time.Second
	defaultHorizonDays  = 60
	defaultNotifyTO     = 15 * time.Second
	defaultPollTimeout  = 10 * time.Second
	defaultListingLimit = 10

	DestinationTelegram = "telegram"
	DestinationLog      = "log"
)

// Environment variables that override file values when set.
const (
	EnvTelegramToken = "CTFCAL_TELEGRAM_TOKEN"
	EnvFeedURL       = "CTFCAL_FEED_URL"
)

// FeedConfig describes the polled ICS feed.
type FeedConfig struct {
	// URL is the ICS endpoint (public .ics link).
	URL string `yaml:"url" json:"url"`
	// Timeout bounds a single fetch; expiry is treated as a fetch failure.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// CachePath is the bbolt file used for conditional GET metadata.
	// Empty disables the cache.
	CachePath string `yaml:"cache_path" json:"cache_path"`
	// ExpandRecurring expands RRULE events into individual occurrences.
	ExpandRecurring bool `yaml:"expand_recurring" json:"expand_recurring"`
	// HorizonDays bounds recurrence expansion.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`
}

// RemindersConfig holds reminder lead times.
type RemindersConfig struct {
	// Days are the day offsets; each fires at local midnight that many days
	// before the event date.
	Days []int `yaml:"days" json:"days"`
	// Hours is the lead time of the short reminder. Zero disables it.
	Hours int `yaml:"hours" json:"hours"`
}

// NotifyConfig controls message delivery.
type NotifyConfig struct {
	// Destination selects where messages go: "telegram" or "log".
	// A telegram destination without token/chat falls back to "log".
	Destination string `yaml:"destination" json:"destination"`
	// AnnounceNew toggles the "new event" message.
	AnnounceNew *bool         `yaml:"announce_new,omitempty" json:"announce_new,omitempty"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	RatePerSec  int           `yaml:"rate_per_sec" json:"rate_per_sec"`
}

// TelegramConfig holds bot credentials and the announcement target.
type TelegramConfig struct {
	Token       string        `yaml:"token" json:"-"`
	ChatID      int64         `yaml:"chat_id" json:"chat_id"`
	ThreadID    int           `yaml:"thread_id" json:"thread_id"`
	PollTimeout time.Duration `yaml:"poll_timeout" json:"poll_timeout"`
}

// ListingConfig controls the on-demand listing.
type ListingConfig struct {
	Limit int `yaml:"limit" json:"limit"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the status API. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for naive feed times, reminder
	// midnights and message formatting (e.g. "Asia/Bangkok").
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule string ("@every 10m",
	// "*/10 * * * *") driving the periodic sync.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	Log       LogConfig       `yaml:"log" json:"log"`
	Feed      FeedConfig      `yaml:"feed" json:"feed"`
	Reminders RemindersConfig `yaml:"reminders" json:"reminders"`
	Notify    NotifyConfig    `yaml:"notify" json:"notify"`
	Telegram  TelegramConfig  `yaml:"telegram" json:"telegram"`
	Listing   ListingConfig   `yaml:"listing" json:"listing"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	announce := true
	return &Config{
		Listen:      defaultListen,
		Timezone:    defaultTimezone,
		RefreshCron: defaultRefresh,
		Log:         LogConfig{Level: "info"},
		Feed: FeedConfig{
			Timeout:     defaultFetchTimeout,
			CachePath:   "/var/lib/ctfcal/feed-cache.db",
			HorizonDays: defaultHorizonDays,
		},
		Reminders: RemindersConfig{Days: []int{1, 2, 3}, Hours: 1},
		Notify: NotifyConfig{
			Destination: DestinationTelegram,
			AnnounceNew: &announce,
			Timeout:     defaultNotifyTO,
			RatePerSec:  1,
		},
		Telegram: TelegramConfig{PollTimeout: defaultPollTimeout},
		Listing:  ListingConfig{Limit: defaultListingLimit},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Feed.Timeout <= 0 {
		c.Feed.Timeout = defaultFetchTimeout
	}
	if c.Feed.HorizonDays <= 0 {
		c.Feed.HorizonDays = defaultHorizonDays
	}
	// nil means "not set"; an explicit empty list disables day reminders.
	if c.Reminders.Days == nil {
		c.Reminders.Days = []int{1, 2, 3}
	}
	if c.Reminders.Hours < 0 {
		c.Reminders.Hours = 0
	}
	switch strings.ToLower(c.Notify.Destination) {
	case DestinationTelegram, DestinationLog:
		c.Notify.Destination = strings.ToLower(c.Notify.Destination)
	default:
		c.Notify.Destination = DestinationTelegram
	}
	if c.Notify.AnnounceNew == nil {
		announce := true
		c.Notify.AnnounceNew = &announce
	}
	if c.Notify.Timeout <= 0 {
		c.Notify.Timeout = defaultNotifyTO
	}
	if c.Notify.RatePerSec <= 0 {
		c.Notify.RatePerSec = 1
	}
	if c.Telegram.PollTimeout <= 0 {
		c.Telegram.PollTimeout = defaultPollTimeout
	}
	if c.Listing.Limit <= 0 {
		c.Listing.Limit = defaultListingLimit
	}
}

// ApplyEnv overrides secrets and the feed URL from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvTelegramToken)); v != "" {
		c.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvFeedURL)); v != "" {
		c.Feed.URL = v
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Feed.URL) == "" {
		errs = append(errs, errors.New("feed.url is required"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh %q: %w", c.RefreshCron, err))
	}
	seen := make(map[int]bool, len(c.Reminders.Days))
	for _, d := range c.Reminders.Days {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("reminders.days: offset must be > 0, got %d", d))
			continue
		}
		if seen[d] {
			errs = append(errs, fmt.Errorf("reminders.days: duplicate offset %d", d))
		}
		seen[d] = true
	}
	return errors.Join(errs...)
}

// Location resolves Timezone. Call Validate first; an invalid zone falls
// back to UTC here.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AnnounceNewEvents reports whether new-event messages are enabled.
func (c *Config) AnnounceNewEvents() bool {
	return c.Notify.AnnounceNew == nil || *c.Notify.AnnounceNew
}

// TelegramReady reports whether telegram credentials and a target are set.
func (c *Config) TelegramReady() bool {
	return strings.TrimSpace(c.Telegram.Token) != "" && c.Telegram.ChatID != 0
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// Environment overrides are applied in both cases; validation is left to
// the caller.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				cfg.ApplyEnv(nil)
				return cfg, err
			}
			cfg.ApplyEnv(nil)
			return cfg, nil
		}
		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(nil)
	return cfg, nil
}

// Parse decodes YAML bytes into a normalized Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".ctfcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// String renders the target chat for logs.
func (t TelegramConfig) String() string {
	if t.ThreadID != 0 {
		return strconv.FormatInt(t.ChatID, 10) + "/" + strconv.Itoa(t.ThreadID)
	}
	return strconv.FormatInt(t.ChatID, 10)
}
