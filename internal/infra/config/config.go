package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Groups    []GroupConfig   `mapstructure:"groups" yaml:"groups"`
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`

	Port string `mapstructure:"port" yaml:"port"`
}

// GroupConfig is one download group. MaxDownloads 0 means no limit.
type GroupConfig struct {
	Name         string `mapstructure:"name" yaml:"name"`
	MaxDownloads int    `mapstructure:"max_downloads" yaml:"max_downloads"`
}

type TransportConfig struct {
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	UserAgent        string        `mapstructure:"user_agent" yaml:"user_agent"`
	BandwidthLimit   int64         `mapstructure:"bandwidth_limit" yaml:"bandwidth_limit"`
	ProgressInterval time.Duration `mapstructure:"progress_interval" yaml:"progress_interval"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type StoreConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
	BlobDir     string `mapstructure:"blob_dir" yaml:"blob_dir"`
}

// DefaultGroup is used when the config names no groups.
const DefaultGroup = "default"

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("transport.timeout", "0s")
	v.SetDefault("transport.user_agent", "stackdl")
	v.SetDefault("transport.bandwidth_limit", 0)
	v.SetDefault("transport.progress_interval", "250ms")
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.sqlite_path", "./data/stackdl.db")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.blob_dir", "./data/blobs")
	v.SetDefault("log.path", "stackdl.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)
}

// Load reads path, or config.yaml when path is empty. A missing default file
// is not an error: defaults and STACKDL_ environment variables apply.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = "config.yaml"
		// Docker images mount their config here
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if _, errEx := os.Stat("/config/config.yaml"); errEx == nil {
				path = "/config/config.yaml"
			}
		}
	}

	v := viper.New()
	setDefaults(v)

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Support Environment Variables
	v.SetEnvPrefix("STACKDL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Groups) == 0 {
		c.Groups = []GroupConfig{{Name: DefaultGroup, MaxDownloads: 4}}
	}

	seen := make(map[string]bool, len(c.Groups))
	for i, g := range c.Groups {
		if g.Name == "" {
			return fmt.Errorf("group[%d] requires a name", i)
		}
		if seen[g.Name] {
			return fmt.Errorf("group %s is configured twice", g.Name)
		}
		seen[g.Name] = true

		if g.MaxDownloads < 0 {
			return fmt.Errorf("group %s: max_downloads cannot be negative", g.Name)
		}
	}

	if c.Transport.BandwidthLimit < 0 {
		return errors.New("transport.bandwidth_limit cannot be negative")
	}
	if c.Transport.Timeout < 0 {
		return errors.New("transport.timeout cannot be negative")
	}

	switch c.Store.Driver {
	case "":
		c.Store.Driver = DriverSQLite
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == DriverPostgres && c.Store.PostgresDSN == "" {
		return errors.New("store.postgres_dsn is required for the postgres driver")
	}
	if c.Store.Driver == DriverSQLite && c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "./data/stackdl.db"
	}

	if c.Port == "" {
		c.Port = "8080"
	}

	return nil
}

// Group returns the named group's settings.
func (c *Config) Group(name string) (GroupConfig, bool) {
	for _, g := range c.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return GroupConfig{}, false
}
