package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"StooqSync/internal/model"
	"StooqSync/internal/textstore"
)

const (
	DefaultUpdatePeriod = 5
	DefaultCertFile     = "curl-ca-bundle.crt"
	DefaultCookieFile   = "stooq.cookie"
	DefaultTimeout      = 60
	DefaultDigits       = 5
)

// LogConfig controls log level, format and optional file rotation.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Config holds all application configuration. JSON files load as well,
// since yaml.v3 accepts JSON documents.
type Config struct {
	CertFile        string               `yaml:"sert_file"`
	UpdatePeriod    int                  `yaml:"update_period"`
	SymbolHSTSuffix string               `yaml:"symbol_hst_suffix"`
	SymbolCSVSuffix string               `yaml:"symbol_csv_suffix"`
	PathCSV         string               `yaml:"path_csv"`
	PathHST         string               `yaml:"path_hst"`
	Symbols         []model.SymbolConfig `yaml:"symbols"`

	CSVDialect         string  `yaml:"csv_dialect"`
	CookieFile         string  `yaml:"cookie_file"`
	UseCookies         *bool   `yaml:"use_cookies"`
	BaseURL            string  `yaml:"base_url"`
	TimeoutSeconds     int     `yaml:"timeout_seconds"`
	RequestsPerSecond  float64 `yaml:"requests_per_second"`
	AbortOnSymbolError bool    `yaml:"abort_on_symbol_error"`
	Cooldown           struct {
		InitialMinutes int `yaml:"initial_minutes"`
		MaxMinutes     int `yaml:"max_minutes"`
	} `yaml:"cooldown"`

	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Proxy string    `yaml:"proxy"`
	Log   LogConfig `yaml:"log"`
}

// Load reads config from a YAML or JSON file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Environment variable overrides
	if v := os.Getenv("STOOQ_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("UPDATE_PERIOD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("UPDATE_PERIOD: %w", err)
		}
		cfg.UpdatePeriod = n
	}
	if v := os.Getenv("PATH_CSV"); v != "" {
		cfg.PathCSV = v
	}
	if v := os.Getenv("PATH_HST"); v != "" {
		cfg.PathHST = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	// Defaults
	if cfg.UpdatePeriod == 0 {
		cfg.UpdatePeriod = DefaultUpdatePeriod
	}
	if cfg.CertFile == "" {
		cfg.CertFile = DefaultCertFile
	}
	if cfg.CookieFile == "" {
		cfg.CookieFile = DefaultCookieFile
	}
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = DefaultTimeout
	}
	if cfg.CSVDialect == "" {
		cfg.CSVDialect = textstore.DialectMT4.String()
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	for i := range cfg.Symbols {
		if cfg.Symbols[i].Digits == 0 {
			cfg.Symbols[i].Digits = DefaultDigits
		}
		if cfg.Symbols[i].Period == 0 {
			cfg.Symbols[i].Period = model.PeriodDay
		}
		cfg.Symbols[i].Period = cfg.Symbols[i].Period.Canonical()
	}

	return cfg, nil
}

// Validate checks that the configuration can drive a sync cycle.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols: at least one symbol is required")
	}
	for i, s := range c.Symbols {
		if s.Symbol == "" {
			return fmt.Errorf("symbols[%d]: symbol is required", i)
		}
		if _, err := s.Period.Code(); err != nil {
			return fmt.Errorf("symbols[%d] %s: %w", i, s.Symbol, err)
		}
		if s.Digits < 0 {
			return fmt.Errorf("symbols[%d] %s: digits must not be negative", i, s.Symbol)
		}
	}
	if c.UpdatePeriod <= 0 {
		return fmt.Errorf("update_period must be positive")
	}
	if _, err := textstore.ParseDialect(c.CSVDialect); err != nil {
		return fmt.Errorf("csv_dialect: %w", err)
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds must not be negative")
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	return nil
}

// CookiesEnabled reports whether the fetcher keeps a cookie jar; on unless disabled.
func (c *Config) CookiesEnabled() bool {
	return c.UseCookies == nil || *c.UseCookies
}

// Timeout returns the request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CooldownInitial returns the first cool-down after throttling, zero for the default.
func (c *Config) CooldownInitial() time.Duration {
	return time.Duration(c.Cooldown.InitialMinutes) * time.Minute
}

// CooldownMax returns the longest cool-down, zero for the default.
func (c *Config) CooldownMax() time.Duration {
	return time.Duration(c.Cooldown.MaxMinutes) * time.Minute
}
