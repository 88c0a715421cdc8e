// Package config loads cuptrack settings from defaults, an optional
// cuptrack.yaml, a .env file and CUPTRACK_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "CUPTRACK"

type Config struct {
	DataDir        string `mapstructure:"data_dir"`
	HTTPAddr       string `mapstructure:"http_addr"`
	LogLevel       string `mapstructure:"log_level"`
	CatalogBaseURL string `mapstructure:"catalog_base_url"`
	Timezone       string `mapstructure:"timezone"`

	EngineBootstrapTimeout  time.Duration `mapstructure:"engine_bootstrap_timeout"`
	DelegationSocketTimeout time.Duration `mapstructure:"delegation_socket_timeout"`
	DelegationSharedTimeout time.Duration `mapstructure:"delegation_shared_timeout"`
	CatalogTimeout          time.Duration `mapstructure:"catalog_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("http_addr", "localhost:8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("catalog_base_url", "")
	v.SetDefault("timezone", "Local")
	v.SetDefault("engine_bootstrap_timeout", 15*time.Second)
	v.SetDefault("delegation_socket_timeout", 900*time.Millisecond)
	v.SetDefault("delegation_shared_timeout", 1200*time.Millisecond)
	v.SetDefault("catalog_timeout", 60*time.Second)
}

// New returns a viper instance with defaults, env binding and, when
// configFile is empty, a search for cuptrack.yaml in the working directory.
func New(configFile string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("cuptrack")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	return v
}

// Load reads .env (if present) and the config file (if present) into v
// and returns the resulting Config.
func Load(v *viper.Viper) (*Config, error) {
	// .env is optional.
	_ = godotenv.Load()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("data_dir must not be empty")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	for name, d := range map[string]time.Duration{
		"engine_bootstrap_timeout":  c.EngineBootstrapTimeout,
		"delegation_socket_timeout": c.DelegationSocketTimeout,
		"delegation_shared_timeout": c.DelegationSharedTimeout,
		"catalog_timeout":           c.CatalogTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

// Location is the time zone that decides which calendar day it is.
func (c *Config) Location() (*time.Location, error) {
	switch c.Timezone {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
