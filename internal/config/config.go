// Package config loads process configuration from an optional YAML file and
// NUDGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/danielpatrickdp/nudge-engine/internal/bandit"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid")

// #region types
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

type Config struct {
	Bandit  BanditConfig  `yaml:"bandit"`
	Storage StorageConfig `yaml:"storage"`
	Persist PersistConfig `yaml:"persist"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type BanditConfig struct {
	NumArms        int     `yaml:"num_arms"`
	Alpha          float64 `yaml:"alpha"`
	Regularization float64 `yaml:"regularization"`
}

// StorageConfig selects where the model lives. DBPath always holds the
// decision journal and audit log; with the sqlite backend it also holds the
// model snapshots. An empty DBPath keeps decisions in memory only.
type StorageConfig struct {
	Backend   string `yaml:"backend"`
	ModelPath string `yaml:"model_path"`
	DBPath    string `yaml:"db_path"`
}

type PersistConfig struct {
	AfterUpdate bool `yaml:"after_update"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the listener
}
// #endregion types

// #region defaults
var defaults = map[string]any{
	"bandit.num_arms":       5,
	"bandit.alpha":          0.1,
	"bandit.regularization": 1e-6,
	"storage.backend":       BackendFile,
	"storage.model_path":    "data/model.json",
	"storage.db_path":       "data/nudge.db",
	"persist.after_update":  true,
	"log.level":             "info",
	"log.development":       false,
	"metrics.addr":          "",
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(fmt.Sprintf("config: decoding defaults: %v", err))
	}
	return cfg
}
// #endregion defaults

// #region load
// Load reads path (skipped when empty), applies NUDGE_* overrides such as
// NUDGE_BANDIT_ALPHA and validates the result.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
		}
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("NUDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	return &cfg, nil
}
// #endregion load

// #region validate
// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if err := c.EngineConfig(1).Validate(); err != nil {
		return fmt.Errorf("%w: bandit: %v", ErrInvalidConfig, err)
	}
	switch c.Storage.Backend {
	case BackendFile:
		if c.Storage.ModelPath == "" {
			return fmt.Errorf("%w: storage.model_path is required for the file backend", ErrInvalidConfig)
		}
	case BackendSQLite:
		if c.Storage.DBPath == "" {
			return fmt.Errorf("%w: storage.db_path is required for the sqlite backend", ErrInvalidConfig)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("%w: unknown storage.backend %q", ErrInvalidConfig, c.Storage.Backend)
	}
	return nil
}

// EngineConfig builds the engine configuration for a context of dim features.
func (c *Config) EngineConfig(dim int) bandit.Config {
	return bandit.Config{
		NumArms:        c.Bandit.NumArms,
		ContextDim:     dim,
		Alpha:          c.Bandit.Alpha,
		Regularization: c.Bandit.Regularization,
	}
}
// #endregion validate
