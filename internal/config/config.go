// Package config provides configuration management for z88.
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

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"z88-quant/internal/analysis"
	"z88-quant/internal/analysis/indicators"
	"z88-quant/internal/analysis/waves"
	apperrors "z88-quant/internal/errors"
	"z88-quant/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	Analysis    AnalysisConfig    `mapstructure:"analysis" json:"analysis"`
	Provider    ProviderConfig    `mapstructure:"provider" json:"provider"`
	Store       StoreConfig       `mapstructure:"store" json:"store"`
	Cache       CacheConfig       `mapstructure:"cache" json:"cache"`
	Server      ServerConfig      `mapstructure:"server" json:"server"`
	Schedule    ScheduleConfig    `mapstructure:"schedule" json:"schedule"`
	Notify      NotifyConfig      `mapstructure:"notify" json:"notify"`
	Log         logging.LogConfig `mapstructure:"log" json:"log"`
	Credentials Credentials       `mapstructure:"-" json:"-"` // Loaded separately
	Dir         string            `mapstructure:"-" json:"dir"`
}

// AnalysisConfig holds the analysis tunables.
type AnalysisConfig struct {
	SubCycleLookback   int     `mapstructure:"sub_cycle_lookback" json:"sub_cycle_lookback"`
	CyclePolicy        string  `mapstructure:"cycle_policy" json:"cycle_policy"` // fixed, roll-forward
	ClassifierLookback int     `mapstructure:"classifier_lookback" json:"classifier_lookback"`
	HistoryDays        int     `mapstructure:"history_days" json:"history_days"`
	SqueezeThreshold   float64 `mapstructure:"squeeze_threshold" json:"squeeze_threshold"`
	SqueezeLimit       int     `mapstructure:"squeeze_limit" json:"squeeze_limit"`
	ReversalDays       int     `mapstructure:"reversal_days" json:"reversal_days"`
	Workers            int     `mapstructure:"workers" json:"workers"`
}

// ProviderConfig selects and tunes the historical series source.
type ProviderConfig struct {
	Kind            string        `mapstructure:"kind" json:"kind"` // csv, kite
	CSVDir          string        `mapstructure:"csv_dir" json:"csv_dir"`
	Exchange        string        `mapstructure:"exchange" json:"exchange"`
	Timeout         time.Duration `mapstructure:"timeout" json:"timeout"`
	RatePerSecond   float64       `mapstructure:"rate_per_second" json:"rate_per_second"`
	Burst           int           `mapstructure:"burst" json:"burst"`
	MaxRetries      int           `mapstructure:"max_retries" json:"max_retries"`
	BreakerFailures uint32        `mapstructure:"breaker_failures" json:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown" json:"breaker_cooldown"`
}

// StoreConfig holds the history database settings.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Driver  string `mapstructure:"driver" json:"driver"` // sqlite3, postgres
	DSN     string `mapstructure:"dsn" json:"-"`
}

// CacheConfig holds the Redis result cache settings.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled" json:"enabled"`
	Addr     string        `mapstructure:"addr" json:"addr"`
	Password string        `mapstructure:"password" json:"-"`
	DB       int           `mapstructure:"db" json:"db"`
	TTL      time.Duration `mapstructure:"ttl" json:"ttl"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr" json:"addr"`
}

// ScheduleConfig holds the periodic re-analysis settings.
type ScheduleConfig struct {
	Enabled      bool   `mapstructure:"enabled" json:"enabled"`
	Spec         string `mapstructure:"spec" json:"spec"`
	SnapshotPath string `mapstructure:"snapshot_path" json:"snapshot_path"`
}

// NotifyConfig holds the batch summary notification settings.
type NotifyConfig struct {
	Enabled        bool   `mapstructure:"enabled" json:"enabled"`
	WebhookURL     string `mapstructure:"webhook_url" json:"-"`
	TelegramChatID string `mapstructure:"telegram_chat_id" json:"telegram_chat_id"`
	TopSetups      int    `mapstructure:"top_setups" json:"top_setups"`
}

// Credentials holds API credentials.
type Credentials struct {
	Kite     KiteCredentials     `mapstructure:"kite"`
	Telegram TelegramCredentials `mapstructure:"telegram"`
}

// TelegramCredentials holds the Telegram bot token.
type TelegramCredentials struct {
	BotToken string `mapstructure:"bot_token"`
}

// KiteCredentials holds Kite Connect credentials.
type KiteCredentials struct {
	APIKey      string `mapstructure:"api_key"`
	AccessToken string `mapstructure:"access_token"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/z88-quant"
	}
	return filepath.Join(home, ".config", "z88-quant")
}

// ConfigPath returns the path of config.toml inside configDir.
func ConfigPath(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, "config.toml")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. Missing files are
// created from templates and the defaults are used.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	if err := loadDotEnv(configDir); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{Dir: configDir}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in defaults without touching the filesystem.
func Default() *Config {
	v := viper.New()
	setDefaults(v, DefaultConfigDir())
	cfg := &Config{Dir: DefaultConfigDir()}
	_ = v.Unmarshal(cfg)
	return cfg
}

// loadDotEnv reads .env from the working directory and the config dir.
// Variables already set in the environment win.
func loadDotEnv(configDir string) error {
	for _, path := range []string{".env", filepath.Join(configDir, ".env")} {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func setDefaults(v *viper.Viper, dataDir string) {
	v.SetDefault("analysis.sub_cycle_lookback", waves.DefaultSubLookback)
	v.SetDefault("analysis.cycle_policy", string(waves.CyclePolicyFixed))
	v.SetDefault("analysis.classifier_lookback", 20)
	v.SetDefault("analysis.history_days", 730)
	v.SetDefault("analysis.squeeze_threshold", 60.0)
	v.SetDefault("analysis.squeeze_limit", 10)
	v.SetDefault("analysis.reversal_days", 7)
	v.SetDefault("analysis.workers", 4)

	v.SetDefault("provider.kind", "csv")
	v.SetDefault("provider.csv_dir", filepath.Join(dataDir, "history"))
	v.SetDefault("provider.exchange", "EGX")
	v.SetDefault("provider.timeout", 15*time.Second)
	v.SetDefault("provider.rate_per_second", 3.0)
	v.SetDefault("provider.burst", 3)
	v.SetDefault("provider.max_retries", 3)
	v.SetDefault("provider.breaker_failures", 5)
	v.SetDefault("provider.breaker_cooldown", 30*time.Second)

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.driver", "sqlite3")
	v.SetDefault("store.dsn", filepath.Join(dataDir, "z88.db"))

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", 6*time.Hour)

	v.SetDefault("server.addr", ":8088")

	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.spec", "0 30 15 * * 0-4")
	v.SetDefault("schedule.snapshot_path", filepath.Join(dataDir, "snapshot.csv"))

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.top_setups", 5)

	def := logging.DefaultLogConfig()
	v.SetDefault("log.level", def.Level)
	v.SetDefault("log.console", def.Console)
	v.SetDefault("log.file", def.File)
	v.SetDefault("log.file_path", def.FilePath)
	v.SetDefault("log.max_size", def.MaxSize)
	v.SetDefault("log.max_backups", def.MaxBackups)
	v.SetDefault("log.max_age", def.MaxAge)
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		if err := createTemplate(configDir, "config.toml", configTemplate, 0644); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		// Use restricted permissions for credentials file
		return createTemplate(configDir, "credentials.toml", credentialsTemplate, 0600)
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("Z88_KITE_API_KEY"); v != "" {
		cfg.Credentials.Kite.APIKey = v
	}
	if v := os.Getenv("Z88_KITE_ACCESS_TOKEN"); v != "" {
		cfg.Credentials.Kite.AccessToken = v
	}
	if v := os.Getenv("Z88_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Credentials.Telegram.BotToken = v
	}
	if v := os.Getenv("Z88_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("Z88_PROVIDER"); v != "" {
		cfg.Provider.Kind = v
	}
	if v := os.Getenv("Z88_CSV_DIR"); v != "" {
		cfg.Provider.CSVDir = v
	}
	if v := os.Getenv("Z88_CYCLE_POLICY"); v != "" {
		cfg.Analysis.CyclePolicy = v
	}
	if v := os.Getenv("Z88_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("Z88_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("Z88_REDIS_ADDR"); v != "" {
		cfg.Cache.Addr = v
		cfg.Cache.Enabled = true
	}
	if v := os.Getenv("Z88_REDIS_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("Z88_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("Z88_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("Z88_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.Workers = n
		}
	}
}

func invalid(format string, args ...interface{}) error {
	return apperrors.Wrapf(apperrors.ErrConfigInvalid, format, args...)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := waves.ParseCyclePolicy(c.Analysis.CyclePolicy); err != nil {
		return invalid("cycle_policy %q must be 'fixed' or 'roll-forward'", c.Analysis.CyclePolicy)
	}
	if c.Analysis.SubCycleLookback < 1 {
		return invalid("sub_cycle_lookback must be positive")
	}
	if c.Analysis.ClassifierLookback < 2 {
		return invalid("classifier_lookback must be at least 2")
	}
	if c.Analysis.HistoryDays < 1 {
		return invalid("history_days must be positive")
	}
	if c.Analysis.SqueezeThreshold < 0 || c.Analysis.SqueezeThreshold > 100 {
		return invalid("squeeze_threshold must be between 0 and 100")
	}
	if c.Analysis.SqueezeLimit < 0 || c.Analysis.ReversalDays < 0 {
		return invalid("squeeze_limit and reversal_days must be non-negative")
	}
	if c.Analysis.Workers < 1 {
		return invalid("workers must be at least 1")
	}

	switch strings.ToLower(c.Provider.Kind) {
	case "csv":
		if c.Provider.CSVDir == "" {
			return invalid("provider.csv_dir is required for the csv provider")
		}
	case "kite":
	default:
		return invalid("provider.kind %q must be 'csv' or 'kite'", c.Provider.Kind)
	}
	if c.Provider.Timeout <= 0 {
		return invalid("provider.timeout must be positive")
	}
	if c.Provider.RatePerSecond <= 0 {
		return invalid("provider.rate_per_second must be positive")
	}

	if c.Store.Enabled {
		switch c.Store.Driver {
		case "sqlite3", "postgres":
		default:
			return invalid("store.driver %q must be 'sqlite3' or 'postgres'", c.Store.Driver)
		}
		if c.Store.DSN == "" {
			return invalid("store.dsn is required when the store is enabled")
		}
	}

	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return invalid("cache.ttl must be positive")
	}
	if c.Schedule.Enabled && c.Schedule.Spec == "" {
		return invalid("schedule.spec is required when the schedule is enabled")
	}
	if c.Notify.Enabled && !c.HasWebhook() && !c.HasTelegram() {
		return invalid("notify needs webhook_url or telegram_chat_id with a bot token")
	}

	return nil
}

// AnalyzerConfig converts the analysis section for analysis.NewAnalyzer.
func (c *Config) AnalyzerConfig() (analysis.Config, error) {
	policy, err := waves.ParseCyclePolicy(c.Analysis.CyclePolicy)
	if err != nil {
		return analysis.Config{}, err
	}
	return analysis.Config{
		Waves: waves.Config{
			SubCycleLookback: c.Analysis.SubCycleLookback,
			Policy:           policy,
			Now:              time.Now,
		},
		ClassifierLookback: c.Analysis.ClassifierLookback,
		Indicators:         indicators.DefaultSet(),
	}, nil
}

// IsKite returns true if the Kite provider is selected.
func (c *Config) IsKite() bool {
	return strings.EqualFold(c.Provider.Kind, "kite")
}

// HasWebhook returns true if a webhook URL is configured.
func (c *Config) HasWebhook() bool {
	return c.Notify.WebhookURL != ""
}

// HasTelegram returns true if both the chat id and the bot token are set.
func (c *Config) HasTelegram() bool {
	return c.Notify.TelegramChatID != "" && c.Credentials.Telegram.BotToken != ""
}
