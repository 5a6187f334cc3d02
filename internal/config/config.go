// Package config loads surrealtodo settings from a yaml file, SURREALTODO_
// environment variables and flags, on top of built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "SURREALTODO"

type Config struct {
	Remote  RemoteConfig  `mapstructure:"remote" yaml:"remote"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Sync    SyncConfig    `mapstructure:"sync" yaml:"sync"`
	API     APIConfig     `mapstructure:"api" yaml:"api"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// RemoteConfig points at the remote document database.
type RemoteConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
	// Transport is "http" or "ws".
	Transport string        `mapstructure:"transport" yaml:"transport"`
	Namespace string        `mapstructure:"namespace" yaml:"namespace"`
	Database  string        `mapstructure:"database" yaml:"database"`
	Table     string        `mapstructure:"table" yaml:"table"`
	Token     string        `mapstructure:"token" yaml:"token,omitempty"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// StoreConfig selects where the queue, conflicts and task snapshot live.
type StoreConfig struct {
	// Driver is one of "memory", "sqlite", "postgres" or "s3".
	Driver string `mapstructure:"driver" yaml:"driver"`
	// Path is the sqlite database file.
	Path string `mapstructure:"path" yaml:"path"`
	// DSN is the postgres connection string.
	DSN    string   `mapstructure:"dsn" yaml:"dsn,omitempty"`
	S3     S3Config `mapstructure:"s3" yaml:"s3"`
	Prefix string   `mapstructure:"prefix" yaml:"prefix,omitempty"`
	// Compression is "none" or "snappy".
	Compression string `mapstructure:"compression" yaml:"compression"`
	// Codec is "json" or "cbor".
	Codec string `mapstructure:"codec" yaml:"codec"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	UsePathStyle    bool   `mapstructure:"use_path_style" yaml:"use_path_style"`
}

type SyncConfig struct {
	// MaxRetries bounds transient failures before a mutation needs attention.
	MaxRetries   int           `mapstructure:"max_retries" yaml:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	// RetryInterval is how often due retries are drained while online (0 = off).
	RetryInterval time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	ProbeInterval time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
	// AutoResolve settles conflicts whose server value already matches the edit.
	AutoResolve bool `mapstructure:"auto_resolve" yaml:"auto_resolve"`
}

type APIConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

type LoggingConfig struct {
	// Level is one of "debug", "info", "warn" or "error".
	Level string `mapstructure:"level" yaml:"level"`
	// Format is "json" (slog) or "zerolog".
	Format string `mapstructure:"format" yaml:"format"`
	// Path, when set, writes logs to a rotated file instead of stderr.
	Path string `mapstructure:"path" yaml:"path,omitempty"`
}

var (
	transports   = []string{"http", "ws"}
	drivers      = []string{"memory", "sqlite", "postgres", "s3"}
	compressions = []string{"none", "snappy"}
	codecs       = []string{"json", "cbor"}
	levels       = []string{"debug", "info", "warn", "error"}
	formats      = []string{"json", "zerolog"}
)

func Default() *Config {
	return &Config{
		Remote: RemoteConfig{
			URL:       "http://localhost:8000",
			Transport: "http",
			Namespace: "app",
			Database:  "todo",
			Table:     "task",
			Timeout:   10 * time.Second,
		},
		Store: StoreConfig{
			Driver:      "sqlite",
			Path:        filepath.Join(Dir(), "surrealtodo.db"),
			Compression: "none",
			Codec:       "json",
		},
		Sync: SyncConfig{
			MaxRetries:    5,
			InitialDelay:  2 * time.Second,
			MaxDelay:      5 * time.Minute,
			RetryInterval: 30 * time.Second,
			ProbeInterval: 5 * time.Second,
		},
		API: APIConfig{
			Listen: "127.0.0.1:8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("remote.url", d.Remote.URL)
	v.SetDefault("remote.transport", d.Remote.Transport)
	v.SetDefault("remote.namespace", d.Remote.Namespace)
	v.SetDefault("remote.database", d.Remote.Database)
	v.SetDefault("remote.table", d.Remote.Table)
	v.SetDefault("remote.token", d.Remote.Token)
	v.SetDefault("remote.timeout", d.Remote.Timeout)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.prefix", d.Store.Prefix)
	v.SetDefault("store.compression", d.Store.Compression)
	v.SetDefault("store.codec", d.Store.Codec)
	v.SetDefault("store.s3.bucket", d.Store.S3.Bucket)
	v.SetDefault("store.s3.prefix", d.Store.S3.Prefix)
	v.SetDefault("store.s3.region", d.Store.S3.Region)
	v.SetDefault("store.s3.endpoint", d.Store.S3.Endpoint)
	v.SetDefault("store.s3.access_key_id", d.Store.S3.AccessKeyID)
	v.SetDefault("store.s3.secret_access_key", d.Store.S3.SecretAccessKey)
	v.SetDefault("store.s3.use_path_style", d.Store.S3.UsePathStyle)

	v.SetDefault("sync.max_retries", d.Sync.MaxRetries)
	v.SetDefault("sync.initial_delay", d.Sync.InitialDelay)
	v.SetDefault("sync.max_delay", d.Sync.MaxDelay)
	v.SetDefault("sync.retry_interval", d.Sync.RetryInterval)
	v.SetDefault("sync.probe_interval", d.Sync.ProbeInterval)
	v.SetDefault("sync.auto_resolve", d.Sync.AutoResolve)

	v.SetDefault("api.listen", d.API.Listen)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.path", d.Logging.Path)
}

// New returns a viper instance with defaults, the SURREALTODO_ environment
// binding and the config file search path set up.
func New(file string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
		v.AddConfigPath(".")
	}
	return v
}

// Load reads the config file, if any, and decodes v into a validated Config.
// A missing file is not an error when no explicit file was requested.
func Load(v *viper.Viper) (*Config, error) {
	if file := v.ConfigFileUsed(); file != "" {
		if _, err := os.Stat(file); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	check := func(field, value string, allowed []string) {
		if !slices.Contains(allowed, value) {
			errs = append(errs, fmt.Errorf("config: %s must be one of %s, got %q",
				field, strings.Join(allowed, ", "), value))
		}
	}
	check("remote.transport", c.Remote.Transport, transports)
	check("store.driver", c.Store.Driver, drivers)
	check("store.compression", c.Store.Compression, compressions)
	check("store.codec", c.Store.Codec, codecs)
	check("logging.level", c.Logging.Level, levels)
	check("logging.format", c.Logging.Format, formats)

	if c.Remote.URL == "" {
		errs = append(errs, errors.New("config: remote.url is required"))
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("config: store.path is required for sqlite"))
		}
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("config: store.dsn is required for postgres"))
		}
	case "s3":
		if c.Store.S3.Bucket == "" {
			errs = append(errs, errors.New("config: store.s3.bucket is required for s3"))
		}
	}
	if c.Sync.MaxRetries < 0 {
		errs = append(errs, errors.New("config: sync.max_retries must not be negative"))
	}
	return errors.Join(errs...)
}

// Dir returns the per-user config directory, ~/.config/surrealtodo.
func Dir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "surrealtodo")
	}
	return ".surrealtodo"
}
