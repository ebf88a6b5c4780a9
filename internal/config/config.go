package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// MaxHistoryLimit caps how many recent predictions a history refresh requests.
const MaxHistoryLimit = 10

// Config represents the complete application configuration
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Session  SessionConfig  `mapstructure:"session"`
	History  HistoryConfig  `mapstructure:"history"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// APIConfig holds the screening API connection settings
type APIConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryWait  time.Duration `mapstructure:"retry_wait"`
}

// SessionConfig holds local session persistence settings
type SessionConfig struct {
	DBPath string `mapstructure:"db_path"`
	// Secret, when set, seals the persisted token at rest.
	Secret string `mapstructure:"secret"`
}

// HistoryConfig holds history loader settings
type HistoryConfig struct {
	Limit int `mapstructure:"limit"`
}

// TelegramConfig holds Telegram alert configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file, .env and environment variables.
// An empty path skips the config file and uses defaults plus environment.
// Flags, when non-nil, take precedence over everything else.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("BRAINSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		bindFlag(v, flags, "api.base_url", "api")
		bindFlag(v, flags, "session.db_path", "session-db")
		bindFlag(v, flags, "logging.level", "log-level")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")

	return &cfg, nil
}

func bindFlag(v *viper.Viper, flags *pflag.FlagSet, key, name string) {
	if f := flags.Lookup(name); f != nil {
		_ = v.BindPFlag(key, f)
	}
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// API defaults
	v.SetDefault("api.base_url", "http://localhost:5000")
	v.SetDefault("api.timeout", "60s")
	v.SetDefault("api.max_retries", 3)
	v.SetDefault("api.retry_wait", "1s")

	// Session defaults
	v.SetDefault("session.db_path", "./data/session.db")
	v.SetDefault("session.secret", "")

	// History defaults
	v.SetDefault("history.limit", MaxHistoryLimit)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate API config
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute http(s) URL")
	}
	if c.API.Timeout < 0 {
		return fmt.Errorf("api.timeout must not be negative")
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("api.max_retries must not be negative")
	}

	// Validate Session config
	if c.Session.DBPath == "" {
		return fmt.Errorf("session.db_path is required")
	}

	// Validate History config
	if c.History.Limit < 1 || c.History.Limit > MaxHistoryLimit {
		return fmt.Errorf("history.limit must be between 1 and %d", MaxHistoryLimit)
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Logging config
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
