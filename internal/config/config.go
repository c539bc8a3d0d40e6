package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StoreRedis    = "redis"
	RemoteHTTP    = "http"
	RemoteSheets  = "sheets"
	defaultAPIKey = "x-api-key"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Logging    LoggingConfig    `yaml:"logging"`
	Store      StoreConfig      `yaml:"store"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Retry      RetryConfig      `yaml:"retry"`
	Queue      QueueConfig      `yaml:"queue"`
	Network    NetworkConfig    `yaml:"network"`
	Remote     RemoteConfig     `yaml:"remote"`
	Google     GoogleConfig     `yaml:"google"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Notify     NotifyConfig     `yaml:"notify"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// StoreConfig selects the PersistentStore backend.
// With Failover set, Redis is primary and SQLite at Path is the fallback.
type StoreConfig struct {
	Driver    string `yaml:"driver"`
	Path      string `yaml:"path"`
	KeyPrefix string `yaml:"key_prefix"`
	Failover  bool   `yaml:"failover"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

// RetryConfig is linear by default; BackoffFactor > 1 switches to exponential.
type RetryConfig struct {
	MaxAttempts   int     `yaml:"max_attempts"`
	RetryDelayMs  int     `yaml:"retry_delay_ms"`
	MaxDelayMs    int     `yaml:"max_delay_ms"`
	BackoffFactor float64 `yaml:"backoff_factor"`
	Jitter        float64 `yaml:"jitter"`
}

func (r RetryConfig) RetryDelay() time.Duration {
	return time.Duration(r.RetryDelayMs) * time.Millisecond
}

func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

type QueueConfig struct {
	StorageKey           string `yaml:"storage_key"`
	MaxActionAttempts    int    `yaml:"max_action_attempts"`
	DrainIntervalSeconds int    `yaml:"drain_interval_seconds"`
}

func (q QueueConfig) DrainInterval() time.Duration {
	return time.Duration(q.DrainIntervalSeconds) * time.Second
}

type NetworkConfig struct {
	ProbeURL             string `yaml:"probe_url"`
	ProbeIntervalSeconds int    `yaml:"probe_interval_seconds"`
	ProbeTimeoutSeconds  int    `yaml:"probe_timeout_seconds"`
	DebounceMs           int    `yaml:"debounce_ms"`
	AssumeOnline         bool   `yaml:"assume_online"`
}

func (n NetworkConfig) ProbeInterval() time.Duration {
	return time.Duration(n.ProbeIntervalSeconds) * time.Second
}

func (n NetworkConfig) ProbeTimeout() time.Duration {
	return time.Duration(n.ProbeTimeoutSeconds) * time.Second
}

func (n NetworkConfig) Debounce() time.Duration {
	return time.Duration(n.DebounceMs) * time.Millisecond
}

type RemoteConfig struct {
	Driver         string          `yaml:"driver"`
	BaseURL        string          `yaml:"base_url"`
	APIKey         string          `yaml:"api_key"`
	HeaderAPIKey   string          `yaml:"header_api_key"`
	TimeoutSeconds int             `yaml:"timeout_seconds"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	SheetName       string `yaml:"sheet_name"`
}

// APIConfig configures the local status and control server.
type APIConfig struct {
	Enabled      bool            `yaml:"enabled"`
	Port         int             `yaml:"port"`
	APIKey       string          `yaml:"api_key"`
	HeaderAPIKey string          `yaml:"header_api_key"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Messages MessagesConfig `yaml:"messages"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
	Debug    bool   `yaml:"debug"`
}

// MessagesConfig overrides the user-facing text per error category.
type MessagesConfig struct {
	Network    string `yaml:"network"`
	Storage    string `yaml:"storage"`
	Auth       string `yaml:"auth"`
	Permission string `yaml:"permission"`
	Generic    string `yaml:"generic"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			return errors.New("store path is required for sqlite driver")
		}
	case StoreRedis:
		if c.Redis.Address == "" {
			return errors.New("redis address is required for redis driver")
		}
		if c.Store.Failover && c.Store.Path == "" {
			return errors.New("store path is required for redis failover")
		}
	default:
		return fmt.Errorf("unknown store driver: %q", c.Store.Driver)
	}

	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry max_attempts must be at least 1")
	}
	if c.Retry.RetryDelayMs < 0 {
		return errors.New("retry retry_delay_ms must not be negative")
	}
	if c.Queue.MaxActionAttempts < 1 {
		return errors.New("queue max_action_attempts must be at least 1")
	}

	if c.Network.DebounceMs < 0 {
		return errors.New("network debounce_ms must not be negative")
	}
	if c.Network.ProbeURL != "" && c.Network.Debounce() >= c.Network.ProbeInterval() {
		return errors.New("network debounce_ms must be shorter than probe_interval_seconds")
	}

	switch c.Remote.Driver {
	case RemoteHTTP:
		if c.Remote.BaseURL == "" {
			return errors.New("remote base_url is required for http driver")
		}
	case RemoteSheets:
		if c.Google.CredentialsFile == "" || c.Google.SpreadsheetID == "" {
			return errors.New("google credentials_file and spreadsheet_id are required for sheets driver")
		}
	default:
		return fmt.Errorf("unknown remote driver: %q", c.Remote.Driver)
	}

	if c.Notify.Telegram.BotToken != "" && c.Notify.Telegram.ChatID == 0 {
		return errors.New("notify telegram chat_id is required when bot_token is set")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "offlinesync"
	}
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = StoreSQLite
	}
	if c.Store.KeyPrefix == "" {
		c.Store.KeyPrefix = "offlinesync:"
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.RetryDelayMs == 0 {
		c.Retry.RetryDelayMs = 1000
	}

	if c.Queue.StorageKey == "" {
		c.Queue.StorageKey = "pending_actions"
	}
	if c.Queue.MaxActionAttempts == 0 {
		c.Queue.MaxActionAttempts = c.Retry.MaxAttempts
	}

	if c.Network.ProbeIntervalSeconds == 0 {
		c.Network.ProbeIntervalSeconds = 15
	}
	if c.Network.ProbeTimeoutSeconds == 0 {
		c.Network.ProbeTimeoutSeconds = 5
	}

	c.Remote.Driver = strings.ToLower(strings.TrimSpace(c.Remote.Driver))
	if c.Remote.Driver == "" {
		c.Remote.Driver = RemoteHTTP
	}
	if c.Remote.TimeoutSeconds == 0 {
		c.Remote.TimeoutSeconds = 10
	}
	if c.Remote.HeaderAPIKey == "" {
		c.Remote.HeaderAPIKey = defaultAPIKey
	}
	if c.Google.SheetName == "" {
		c.Google.SheetName = "Sync"
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.HeaderAPIKey == "" {
		c.API.HeaderAPIKey = defaultAPIKey
	}

	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
