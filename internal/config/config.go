// Package config loads the diskbrowser configuration from a YAML or TOML
// file with DISKBROWSER_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"diskbrowser/internal/disk"
	"diskbrowser/pkg/types"
)

const envPrefix = "DISKBROWSER"

type Config struct {
	Logging LoggingConfig          `mapstructure:"logging"`
	ACL     ACLConfig              `mapstructure:"acl"`
	Disks   map[string]disk.Config `mapstructure:"disks" validate:"required,min=1,dive"`
	Metrics MetricsConfig          `mapstructure:"metrics"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json console"`
	Output string `mapstructure:"output" validate:"required"`
}

// ACLConfig controls entry annotation and hiding. Rules come from the
// config file, a badger store or a PostgreSQL table depending on Source.
type ACLConfig struct {
	Enabled    bool            `mapstructure:"enabled"`
	HideFromFM bool            `mapstructure:"hide_from_fm"`
	Strategy   string          `mapstructure:"strategy" validate:"required,oneof=blacklist whitelist"`
	Source     string          `mapstructure:"source" validate:"required,oneof=config badger postgres"`
	DSN        string          `mapstructure:"dsn"`
	DataDir    string          `mapstructure:"data_dir"`
	Rules      []types.ACLRule `mapstructure:"rules" validate:"dive"`
}

type MetricsConfig struct {
	// Textfile, when set, receives the metrics in text exposition format on exit.
	Textfile string `mapstructure:"textfile"`
}

// Load reads configPath, applies environment overrides and defaults, and
// validates the result. Viper lower-cases map keys, so disk names are
// lower case.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	v := viper.New()
	setupViper(v, configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// setupViper wires env overrides: DISKBROWSER_LOGGING_LEVEL=debug sets
// logging.level. Defaults are registered so that AutomaticEnv sees the keys.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("acl.enabled", false)
	v.SetDefault("acl.hide_from_fm", false)
	v.SetDefault("acl.strategy", "blacklist")
	v.SetDefault("acl.source", "config")
	v.SetDefault("acl.dsn", "")
	v.SetDefault("acl.data_dir", "")
	v.SetDefault("metrics.textfile", "")

	v.SetConfigFile(configPath)
}

// ApplyDefaults fills zero values. Log levels are lower-cased.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}

	if cfg.ACL.Strategy == "" {
		cfg.ACL.Strategy = "blacklist"
	}
	if cfg.ACL.Source == "" {
		cfg.ACL.Source = "config"
	}
}

var validate = validator.New()

// Validate checks struct tags, then the rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	for name := range c.Disks {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("disks: disk name cannot be empty")
		}
	}

	switch c.ACL.Source {
	case "postgres":
		if c.ACL.DSN == "" {
			return fmt.Errorf("acl: source postgres requires dsn")
		}
	case "badger":
		if c.ACL.DataDir == "" {
			return fmt.Errorf("acl: source badger requires data_dir")
		}
	}

	for i, rule := range c.ACL.Rules {
		if _, ok := c.Disks[rule.Disk]; !ok {
			return fmt.Errorf("acl.rules[%d]: unknown disk %q", i, rule.Disk)
		}
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
