package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Notifier drivers
const (
	NotifierLark = "lark"
	NotifierNATS = "nats"
	NotifierLog  = "log"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Locks    LocksConfig    `mapstructure:"locks"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Notifier NotifierConfig `mapstructure:"notifier"`
	Lark     LarkConfig     `mapstructure:"lark"`
	NATS     NATSConfig     `mapstructure:"nats"`
	IDs      IDConfig       `mapstructure:"ids"`
	Workbook WorkbookConfig `mapstructure:"workbook"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Debug           bool          `mapstructure:"debug"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// LocksConfig bounds lock waits
type LocksConfig struct {
	QuickTimeout time.Duration `mapstructure:"quick_timeout"`
	LongTimeout  time.Duration `mapstructure:"long_timeout"`
}

// CacheConfig holds reference data cache configuration
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// StorageConfig holds receipt storage configuration
type StorageConfig struct {
	BaseDir       string `mapstructure:"base_dir"`
	Folder        string `mapstructure:"folder"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// NotifierConfig selects the messaging channel
type NotifierConfig struct {
	Driver string `mapstructure:"driver"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	AppID         string `mapstructure:"app_id"`
	AppSecret     string `mapstructure:"app_secret"`
	BaseURL       string `mapstructure:"base_url"`
	ReceiveIDType string `mapstructure:"receive_id_type"`
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	PublishEvents bool          `mapstructure:"publish_events"`
}

// NATSEnabled reports whether a NATS connection is needed
func (c *Config) NATSEnabled() bool {
	return c.Notifier.Driver == NotifierNATS || c.NATS.PublishEvents
}

// IDConfig holds identifier generation configuration
type IDConfig struct {
	NodeID int64 `mapstructure:"node_id"`
}

// WorkbookConfig holds spreadsheet import/export configuration
type WorkbookConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// Location resolves Timezone, defaulting to local time
func (w WorkbookConfig) Location() (*time.Location, error) {
	if w.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(w.Timezone)
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables.
// A .env file next to the working directory is applied first if present.
// An empty configPath uses defaults and environment only.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/trips.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	v.SetDefault("locks.quick_timeout", 10*time.Second)
	v.SetDefault("locks.long_timeout", 30*time.Second)
	v.SetDefault("cache.ttl", time.Hour)

	v.SetDefault("storage.base_dir", "data/files")
	v.SetDefault("storage.folder", "receipts")
	v.SetDefault("storage.public_base_url", "http://localhost:8080/files")

	v.SetDefault("notifier.driver", NotifierLog)
	v.SetDefault("lark.receive_id_type", "open_id")

	v.SetDefault("nats.name", "trip-approval")
	v.SetDefault("nats.subject_prefix", "trips")
	v.SetDefault("nats.max_reconnects", 60)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)

	v.SetDefault("ids.node_id", 1)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		"lark.app_id":             "LARK_APP_ID",
		"lark.app_secret":         "LARK_APP_SECRET",
		"nats.url":                "NATS_URL",
		"database.path":           "DATABASE_PATH",
		"storage.public_base_url": "PUBLIC_BASE_URL",
		"notifier.driver":         "NOTIFIER_DRIVER",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Locks.QuickTimeout <= 0 || c.Locks.LongTimeout <= 0 {
		return fmt.Errorf("locks timeouts must be positive")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if c.IDs.NodeID < 0 || c.IDs.NodeID > 1023 {
		return fmt.Errorf("ids.node_id must be between 0 and 1023")
	}

	switch c.Notifier.Driver {
	case NotifierLark:
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required")
		}
	case NotifierNATS, NotifierLog:
	default:
		return fmt.Errorf("unknown notifier.driver %q", c.Notifier.Driver)
	}

	if c.NATSEnabled() && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}

	if _, err := c.Workbook.Location(); err != nil {
		return fmt.Errorf("workbook.timezone: %w", err)
	}

	return nil
}
