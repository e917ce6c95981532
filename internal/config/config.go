package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultModel         = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens     = 1024
	DefaultBufSize       = 100
	DefaultTickInterval  = "1m"
	DefaultNotifyTimeout = "15s"
	DefaultMaxAttempts   = 5
	DefaultSummaryHour   = 9
	DefaultOverdueEvery  = "4h"

	ClassifierKeyword = "keyword"
	ClassifierLLM     = "llm"
)

type Config struct {
	Channels   ChannelsConfig   `json:"channels"`
	Provider   ProviderConfig   `json:"provider"`
	Classifier ClassifierConfig `json:"classifier"`
	Reminder   ReminderConfig   `json:"reminder"`
	Storage    StorageConfig    `json:"storage"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type ClassifierConfig struct {
	Mode      string `json:"mode"` // "keyword" (default) or "llm"
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`
}

// ReminderConfig holds the scheduler settings. Durations use time.ParseDuration
// syntax.
type ReminderConfig struct {
	TickInterval  string `json:"tickInterval"`
	NotifyTimeout string `json:"notifyTimeout"`
	MaxAttempts   int    `json:"maxAttempts"`
	SummaryHour   int    `json:"summaryHour"`
	Timezone      string `json:"timezone,omitempty"`
	OverdueEvery  string `json:"overdueEvery"`
}

type StorageConfig struct {
	DBPath string `json:"dbPath,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Classifier: ClassifierConfig{
			Mode:      ClassifierKeyword,
			Model:     DefaultModel,
			MaxTokens: DefaultMaxTokens,
		},
		Reminder: ReminderConfig{
			TickInterval:  DefaultTickInterval,
			NotifyTimeout: DefaultNotifyTimeout,
			MaxAttempts:   DefaultMaxAttempts,
			SummaryHour:   DefaultSummaryHour,
			OverdueEvery:  DefaultOverdueEvery,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".linkkeeper")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// DBPath returns the configured database path or the default under ConfigDir.
func (c *Config) DBPath() string {
	if p := strings.TrimSpace(c.Storage.DBPath); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "data", "linkkeeper.db")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	fillDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if key := os.Getenv("LINKKEEPER_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("LINKKEEPER_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if token := os.Getenv("LINKKEEPER_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" && cfg.Channels.Telegram.Token == "" {
		cfg.Channels.Telegram.Token = token
	}
	if mode := os.Getenv("LINKKEEPER_CLASSIFIER"); mode != "" {
		cfg.Classifier.Mode = mode
	}
	if tz := os.Getenv("LINKKEEPER_TIMEZONE"); tz != "" {
		cfg.Reminder.Timezone = tz
	}
	if interval := os.Getenv("LINKKEEPER_TICK_INTERVAL"); interval != "" {
		cfg.Reminder.TickInterval = interval
	}
	if hour := os.Getenv("LINKKEEPER_SUMMARY_HOUR"); hour != "" {
		if parsed, err := strconv.Atoi(hour); err == nil {
			cfg.Reminder.SummaryHour = parsed
		}
	}
	if attempts := os.Getenv("LINKKEEPER_MAX_ATTEMPTS"); attempts != "" {
		if parsed, err := strconv.Atoi(attempts); err == nil {
			cfg.Reminder.MaxAttempts = parsed
		}
	}
	if dbPath := os.Getenv("LINKKEEPER_DB_PATH"); dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
}

func fillDefaults(cfg *Config) {
	if cfg.Classifier.Mode == "" {
		cfg.Classifier.Mode = ClassifierKeyword
	}
	if cfg.Classifier.Model == "" {
		cfg.Classifier.Model = DefaultModel
	}
	if cfg.Classifier.MaxTokens <= 0 {
		cfg.Classifier.MaxTokens = DefaultMaxTokens
	}
	if cfg.Reminder.TickInterval == "" {
		cfg.Reminder.TickInterval = DefaultTickInterval
	}
	if cfg.Reminder.NotifyTimeout == "" {
		cfg.Reminder.NotifyTimeout = DefaultNotifyTimeout
	}
	if cfg.Reminder.MaxAttempts <= 0 {
		cfg.Reminder.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Reminder.OverdueEvery == "" {
		cfg.Reminder.OverdueEvery = DefaultOverdueEvery
	}
}

// Validate checks the values LoadConfig cannot default.
func (c *Config) Validate() error {
	switch c.Classifier.Mode {
	case ClassifierKeyword, ClassifierLLM:
	default:
		return fmt.Errorf("invalid classifier mode %q", c.Classifier.Mode)
	}
	if c.Reminder.SummaryHour < 0 || c.Reminder.SummaryHour > 23 {
		return fmt.Errorf("invalid summary hour %d", c.Reminder.SummaryHour)
	}
	for name, v := range map[string]string{
		"tickInterval":  c.Reminder.TickInterval,
		"notifyTimeout": c.Reminder.NotifyTimeout,
		"overdueEvery":  c.Reminder.OverdueEvery,
	} {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return fmt.Errorf("invalid reminder %s %q", name, v)
		}
	}
	if _, err := c.Reminder.Location(); err != nil {
		return err
	}
	return nil
}

func (r ReminderConfig) Interval() time.Duration {
	return parseDuration(r.TickInterval, DefaultTickInterval)
}

func (r ReminderConfig) Timeout() time.Duration {
	return parseDuration(r.NotifyTimeout, DefaultNotifyTimeout)
}

func (r ReminderConfig) OverdueInterval() time.Duration {
	return parseDuration(r.OverdueEvery, DefaultOverdueEvery)
}

// Location resolves the configured IANA zone, the local zone when unset.
func (r ReminderConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(r.Timezone) == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", r.Timezone, err)
	}
	return loc, nil
}

func parseDuration(v, fallback string) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
