// Package config loads kprefs CLI settings from a config file, KPREFS_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment variable names: sqlite.path is read
// from KPREFS_SQLITE_PATH.
const EnvPrefix = "KPREFS"

// Backends lists the accepted values of Config.Backend.
var Backends = []string{"memory", "sqlite", "badger", "file", "redis", "consul"}

// Config holds every setting the CLI understands.
type Config struct {
	Backend   string `mapstructure:"backend"`
	Namespace string `mapstructure:"namespace"`
	Schema    string `mapstructure:"schema"`

	SQLite struct {
		Path         string        `mapstructure:"path"`
		PollInterval time.Duration `mapstructure:"poll_interval"`
	} `mapstructure:"sqlite"`

	Badger struct {
		Path     string `mapstructure:"path"`
		InMemory bool   `mapstructure:"in_memory"`
	} `mapstructure:"badger"`

	File struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"file"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Consul struct {
		Address    string `mapstructure:"address"`
		Datacenter string `mapstructure:"datacenter"`
		Token      string `mapstructure:"token"`
		Prefix     string `mapstructure:"prefix"`
	} `mapstructure:"consul"`

	Metrics struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"metrics"`
}

// defaults are registered with viper so AutomaticEnv can see every key.
var defaults = map[string]any{
	"backend":              "sqlite",
	"namespace":            "default",
	"schema":               "",
	"sqlite.path":          "kprefs.db",
	"sqlite.poll_interval": 500 * time.Millisecond,
	"badger.path":          "kprefs.badger",
	"badger.in_memory":     false,
	"file.path":            "prefs.yaml",
	"redis.addr":           "localhost:6379",
	"redis.password":       "",
	"redis.db":             0,
	"consul.address":       "127.0.0.1:8500",
	"consul.datacenter":    "",
	"consul.token":         "",
	"consul.prefix":        "kprefs",
	"metrics.listen":       "",
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"backend":        "backend",
	"namespace":      "namespace",
	"schema":         "schema",
	"metrics-listen": "metrics.listen",
}

// Load reads configuration. An empty path searches for kprefs.yaml in the
// working directory and tolerates its absence; an explicit path must exist.
// flags may be nil; flags that were set override file and environment.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kprefs")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have a closed set of values.
func (c *Config) Validate() error {
	for _, b := range Backends {
		if c.Backend == b {
			if strings.TrimSpace(c.Namespace) == "" {
				return errors.New("namespace must not be empty")
			}
			return nil
		}
	}
	return fmt.Errorf("unknown backend %q (want one of %s)", c.Backend, strings.Join(Backends, ", "))
}
