// Package config provides configuration management for vertd using Viper.
// Values come from defaults, an optional YAML file, and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 24153
	defaultServerTimeout   = 30 * time.Second
	defaultIdleTimeout     = 2 * time.Minute
	defaultShutdownTimeout = 10 * time.Second
	defaultInputDelay      = 15 * time.Second
	defaultOutputLifetime  = time.Hour
	defaultUploadLifetime  = time.Hour
	defaultSweepSchedule   = "@every 10m"
	defaultProbeTimeout    = 30 * time.Second
	defaultWebhookTimeout  = time.Minute
	defaultRetryAttempts   = 3
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxIdleTime = 30 * time.Minute
	defaultMirrorPrefix    = "vertd:job:"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Retention RetentionConfig `mapstructure:"retention"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Mirror    MirrorConfig    `mapstructure:"mirror"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	// MaxUploadSize accepts values like "10GiB" or raw byte counts.
	MaxUploadSize ByteSize `mapstructure:"max_upload_size"`
	// PublicURL is the externally reachable base URL, used in notification links.
	PublicURL string `mapstructure:"public_url"`
}

// StorageConfig holds the working directories and the permanent store.
type StorageConfig struct {
	BaseDir   string          `mapstructure:"base_dir"`
	InputDir  string          `mapstructure:"input_dir"`
	OutputDir string          `mapstructure:"output_dir"`
	Reset     bool            `mapstructure:"reset_on_start"`
	Permanent PermanentConfig `mapstructure:"permanent"`
}

// PermanentConfig selects where kept files are stored.
type PermanentConfig struct {
	Backend   string `mapstructure:"backend"` // local, s3
	Dir       string `mapstructure:"dir"`
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Prefix    string `mapstructure:"prefix"`
}

// RetentionConfig holds artifact lifetimes.
type RetentionConfig struct {
	InputDelay     Duration `mapstructure:"input_delay"`
	OutputLifetime Duration `mapstructure:"output_lifetime"`
	UploadLifetime Duration `mapstructure:"upload_lifetime"`
	SweepSchedule  string   `mapstructure:"sweep_schedule"`
}

// FFmpegConfig holds encoder binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // empty = auto-detect
	ProbePath  string `mapstructure:"probe_path"`  // empty = auto-detect
	// ForceGPU skips vendor detection: amd, intel, nvidia or apple.
	ForceGPU     string        `mapstructure:"force_gpu"`
	RenderNode   string        `mapstructure:"render_node"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	// MonitorInterval logs encoder resource usage; zero disables it.
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
}

// AdminConfig holds the privileged download password.
type AdminConfig struct {
	Password string `mapstructure:"password"`
}

// WebhookConfig holds notification delivery settings.
type WebhookConfig struct {
	URL           string        `mapstructure:"url"` // empty disables notifications
	Pings         string        `mapstructure:"pings"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
}

// DatabaseConfig holds the conversion history database configuration.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// MirrorConfig holds the redis job-state mirror configuration.
type MirrorConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// legacyEnv maps environment variables of older deployments to config keys.
// They are consulted after the VERTD_ prefixed names.
var legacyEnv = map[string]string{
	"server.port":       "PORT",
	"server.public_url": "PUBLIC_URL",
	"admin.password":    "ADMIN_PASSWORD",
	"webhook.url":       "WEBHOOK_URL",
	"webhook.pings":     "WEBHOOK_PINGS",
	"ffmpeg.force_gpu":  "VERTD_FORCE_GPU",
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with VERTD_ and use underscores for nesting.
// Example: VERTD_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v, err := NewViper(configPath)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// NewViper prepares a Viper instance with defaults, the config file and
// environment bindings applied.
func NewViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/vertd")
		v.AddConfigPath("$HOME/.vertd")
	}

	v.SetEnvPrefix("VERTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "VERTD_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return v, nil
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.idle_timeout", defaultIdleTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_upload_size", "10GiB")
	v.SetDefault("server.public_url", "")

	v.SetDefault("storage.base_dir", ".")
	v.SetDefault("storage.input_dir", "input")
	v.SetDefault("storage.output_dir", "output")
	v.SetDefault("storage.reset_on_start", true)
	v.SetDefault("storage.permanent.backend", "local")
	v.SetDefault("storage.permanent.dir", "permanent")
	v.SetDefault("storage.permanent.endpoint", "")
	v.SetDefault("storage.permanent.bucket", "")
	v.SetDefault("storage.permanent.access_key", "")
	v.SetDefault("storage.permanent.secret_key", "")
	v.SetDefault("storage.permanent.use_ssl", true)
	v.SetDefault("storage.permanent.prefix", "")

	v.SetDefault("retention.input_delay", defaultInputDelay.String())
	v.SetDefault("retention.output_lifetime", defaultOutputLifetime.String())
	v.SetDefault("retention.upload_lifetime", defaultUploadLifetime.String())
	v.SetDefault("retention.sweep_schedule", defaultSweepSchedule)

	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.force_gpu", "")
	v.SetDefault("ffmpeg.render_node", "")
	v.SetDefault("ffmpeg.probe_timeout", defaultProbeTimeout)
	v.SetDefault("ffmpeg.monitor_interval", 0)

	v.SetDefault("admin.password", "")

	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.pings", "")
	v.SetDefault("webhook.timeout", defaultWebhookTimeout)
	v.SetDefault("webhook.retry_attempts", defaultRetryAttempts)

	v.SetDefault("database.enabled", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "vertd.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("mirror.enabled", false)
	v.SetDefault("mirror.addr", "localhost:6379")
	v.SetDefault("mirror.password", "")
	v.SetDefault("mirror.db", 0)
	v.SetDefault("mirror.key_prefix", defaultMirrorPrefix)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	if c.Server.MaxUploadSize <= 0 {
		return errors.New("server.max_upload_size must be positive")
	}

	if c.Storage.BaseDir == "" {
		return errors.New("storage.base_dir is required")
	}
	if c.Storage.InputDir == "" || c.Storage.OutputDir == "" {
		return errors.New("storage.input_dir and storage.output_dir are required")
	}
	if c.Storage.InputDir == c.Storage.OutputDir {
		return errors.New("storage.input_dir and storage.output_dir must differ")
	}
	switch c.Storage.Permanent.Backend {
	case "local":
		if c.Storage.Permanent.Dir == "" {
			return errors.New("storage.permanent.dir is required for the local backend")
		}
	case "s3":
		if c.Storage.Permanent.Endpoint == "" || c.Storage.Permanent.Bucket == "" {
			return errors.New("storage.permanent.endpoint and storage.permanent.bucket are required for the s3 backend")
		}
	default:
		return errors.New("storage.permanent.backend must be one of: local, s3")
	}

	if c.Retention.InputDelay < 0 || c.Retention.OutputLifetime <= 0 || c.Retention.UploadLifetime <= 0 {
		return errors.New("retention lifetimes must be positive")
	}
	if c.Retention.SweepSchedule == "" {
		return errors.New("retention.sweep_schedule is required")
	}

	switch c.FFmpeg.ForceGPU {
	case "", "amd", "intel", "nvidia", "apple":
	default:
		return errors.New("ffmpeg.force_gpu must be one of: amd, intel, nvidia, apple")
	}

	if c.Database.Enabled {
		validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
		if !validDrivers[c.Database.Driver] {
			return errors.New("database.driver must be one of: sqlite, postgres, mysql")
		}
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required")
		}
	}

	if c.Mirror.Enabled && c.Mirror.Addr == "" {
		return errors.New("mirror.addr is required when the mirror is enabled")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return errors.New("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return errors.New("logging.format must be one of: json, text")
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
