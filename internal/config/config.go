// Package config loads and validates application configuration from a
// YAML file with environment-variable overrides.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/ambrusq/marketsig/internal/detector"
)

// Config represents the complete application configuration.
type Config struct {
	Detector DetectorConfig `mapstructure:"detector"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Server   ServerConfig   `mapstructure:"server"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DetectorConfig holds signal-detection thresholds and windows.
type DetectorConfig struct {
	MinAbsoluteChange   float64       `mapstructure:"min_absolute_change"`
	LargeAbsoluteChange float64       `mapstructure:"large_absolute_change"`
	MinRelativeChange   float64       `mapstructure:"min_relative_change"`
	LargeRelativeChange float64       `mapstructure:"large_relative_change"`
	ShortWindow         time.Duration `mapstructure:"short_window"`
	MediumWindow        time.Duration `mapstructure:"medium_window"`
	LongWindow          time.Duration `mapstructure:"long_window"`
	MinPriceThreshold   float64       `mapstructure:"min_price_threshold"`
	Lookback            time.Duration `mapstructure:"lookback"` // <= 0 means all available history
}

// SourcesConfig holds the upstream price-history API settings.
type SourcesConfig struct {
	PolymarketAPIURL string        `mapstructure:"polymarket_api_url"`
	KalshiAPIURL     string        `mapstructure:"kalshi_api_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RatePerSecond    float64       `mapstructure:"rate_per_second"`
	MaxRetries       int           `mapstructure:"max_retries"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	DBPath     string `mapstructure:"db_path"`
	MaxSignals int    `mapstructure:"max_signals"`
}

// ServerConfig holds the HTTP trigger surface configuration.
type ServerConfig struct {
	BindAddress string   `mapstructure:"bind_address"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	Enabled  bool   `mapstructure:"enabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("MARKETSIG")
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

func setDefaults(v *viper.Viper) {
	def := detector.DefaultConfig()

	v.SetDefault("detector.min_absolute_change", def.MinAbsoluteChange)
	v.SetDefault("detector.large_absolute_change", def.LargeAbsoluteChange)
	v.SetDefault("detector.min_relative_change", def.MinRelativeChange)
	v.SetDefault("detector.large_relative_change", def.LargeRelativeChange)
	v.SetDefault("detector.short_window", def.ShortWindow.String())
	v.SetDefault("detector.medium_window", def.MediumWindow.String())
	v.SetDefault("detector.long_window", def.LongWindow.String())
	v.SetDefault("detector.min_price_threshold", def.MinPriceThreshold)
	v.SetDefault("detector.lookback", def.Lookback.String())

	v.SetDefault("sources.polymarket_api_url", "https://clob.polymarket.com")
	v.SetDefault("sources.kalshi_api_url", "https://api.elections.kalshi.com/trade-api/v2")
	v.SetDefault("sources.timeout", "30s")
	v.SetDefault("sources.rate_per_second", 5.0)
	v.SetDefault("sources.max_retries", 3)

	v.SetDefault("storage.db_path", "./data/marketsig.db")
	v.SetDefault("storage.max_signals", 10000)

	v.SetDefault("server.bind_address", ":8000")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// DetectorConfig converts the detector section into the pipeline's
// configuration value.
func (c *Config) DetectorConfig() detector.Config {
	return detector.Config{
		MinAbsoluteChange:   c.Detector.MinAbsoluteChange,
		LargeAbsoluteChange: c.Detector.LargeAbsoluteChange,
		MinRelativeChange:   c.Detector.MinRelativeChange,
		LargeRelativeChange: c.Detector.LargeRelativeChange,
		ShortWindow:         c.Detector.ShortWindow,
		MediumWindow:        c.Detector.MediumWindow,
		LongWindow:          c.Detector.LongWindow,
		MinPriceThreshold:   c.Detector.MinPriceThreshold,
		Lookback:            c.Detector.Lookback,
	}
}

// Validate checks that all configuration values are valid.
func (c *Config) Validate() error {
	if err := c.DetectorConfig().Validate(); err != nil {
		return err
	}

	if c.Sources.PolymarketAPIURL == "" {
		return fmt.Errorf("sources.polymarket_api_url is required")
	}
	if c.Sources.KalshiAPIURL == "" {
		return fmt.Errorf("sources.kalshi_api_url is required")
	}
	if c.Sources.Timeout < time.Second {
		return fmt.Errorf("sources.timeout must be at least 1 second")
	}
	if c.Sources.RatePerSecond <= 0 {
		return fmt.Errorf("sources.rate_per_second must be positive")
	}
	if c.Sources.MaxRetries < 1 {
		return fmt.Errorf("sources.max_retries must be at least 1")
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.MaxSignals < 1 {
		return fmt.Errorf("storage.max_signals must be at least 1")
	}

	if c.Server.BindAddress == "" {
		return fmt.Errorf("server.bind_address is required")
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
