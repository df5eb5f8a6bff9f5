package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Store drivers accepted by store.driver.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

type Config struct {
	Runtime  RuntimeConfig `mapstructure:"runtime"`
	Store    StoreConfig   `mapstructure:"store"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
	Server   ServerConfig  `mapstructure:"server"`
	LogLevel string        `mapstructure:"log_level"`
}

type RuntimeConfig struct {
	Workers       int           `mapstructure:"workers"`
	Priority      []string      `mapstructure:"priority"`
	LaunchTimeout time.Duration `mapstructure:"launch_timeout"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Runtime: RuntimeConfig{
			Workers:       4,
			Priority:      nil,
			LaunchTimeout: 0,
		},
		Store: StoreConfig{
			Driver: DriverMemory,
			DSN:    "",
		},
		Metrics: MetricsConfig{
			ListenAddr: "",
		},
		Server: ServerConfig{
			ListenAddr: ":9090",
		},
		LogLevel: "info",
	}
}

// flagKeys maps each registered flag to the config key it overrides.
var flagKeys = map[string]string{
	"runtime-workers":        "runtime.workers",
	"runtime-priority":       "runtime.priority",
	"runtime-launch-timeout": "runtime.launch_timeout",
	"store-driver":           "store.driver",
	"store-dsn":              "store.dsn",
	"metrics-listen-addr":    "metrics.listen_addr",
	"server-listen-addr":     "server.listen_addr",
	"log-level":              "log_level",
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.Int("runtime-workers", defaults.Runtime.Workers, "Actor worker pool size")
	fs.StringSlice("runtime-priority", defaults.Runtime.Priority, "Backend priority order, highest first (default: file order)")
	fs.Duration("runtime-launch-timeout", defaults.Runtime.LaunchTimeout, "Per-launch timeout (0 disables)")
	fs.String("store-driver", defaults.Store.Driver, "Run history store: memory, sqlite or mysql")
	fs.String("store-dsn", defaults.Store.DSN, "Store DSN (sqlite path or mysql DSN)")
	fs.String("metrics-listen-addr", defaults.Metrics.ListenAddr, "Serve Prometheus /metrics on this address")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "Device server listen address")
	fs.String("log-level", defaults.LogLevel, "Log level: debug, info, warn or error")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("HETGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("hetgraph")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("runtime.workers", c.Runtime.Workers)
	v.SetDefault("runtime.priority", c.Runtime.Priority)
	v.SetDefault("runtime.launch_timeout", c.Runtime.LaunchTimeout)
	v.SetDefault("store.driver", c.Store.Driver)
	v.SetDefault("store.dsn", c.Store.DSN)
	v.SetDefault("metrics.listen_addr", c.Metrics.ListenAddr)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("log_level", c.LogLevel)
}

// bindFlags binds every registered flag present in fs. Flags are only
// consulted when set on the command line.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Validate checks value ranges and normalizes the store driver.
func (c *Config) Validate() error {
	if c.Runtime.Workers < 1 {
		return fmt.Errorf("runtime.workers must be at least 1, got %d", c.Runtime.Workers)
	}
	if c.Runtime.LaunchTimeout < 0 {
		return fmt.Errorf("runtime.launch_timeout must not be negative, got %v", c.Runtime.LaunchTimeout)
	}
	driver, err := NormalizeDriver(c.Store.Driver)
	if err != nil {
		return err
	}
	c.Store.Driver = driver
	if driver != DriverMemory && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for driver %q", driver)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// NormalizeDriver lowercases and resolves aliases of a store driver name.
// The empty string selects the in-memory store.
func NormalizeDriver(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "memory", "mem":
		return DriverMemory, nil
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "mysql", "mariadb":
		return DriverMySQL, nil
	}
	return "", fmt.Errorf("unsupported store driver %q (want memory, sqlite or mysql)", raw)
}

// ParseLogLevel converts a level name to a slog.Level.
func ParseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", raw)
}
