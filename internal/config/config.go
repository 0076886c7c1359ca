// Package config loads the service configuration from layered sources.
// Defaults, an optional YAML file, and environment variables are folded
// together with mergo, later layers overriding earlier ones.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/shineum/anymail-lite/internal/merge"
	"github.com/shineum/anymail-lite/internal/settings"
	"github.com/shineum/anymail-lite/internal/smtp"
)

// Config holds the complete application configuration.
type Config struct {
	SMTP     SMTPConfig     `yaml:"smtp"`
	Provider string         `yaml:"provider"`
	TLS      TLSConfig      `yaml:"tls"`
	Logging  LoggingConfig  `yaml:"logging"`
	Anymail  map[string]any `yaml:"anymail"`
}

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Listen         string `yaml:"listen"`
	Hostname       string `yaml:"hostname"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	MaxMessageSize int64  `yaml:"max_message_size"`
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load builds the configuration by folding three layers: built-in
// defaults, the YAML file at path (skipped when path is empty), and
// environment variables. Each layer overrides the one below it.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		fileCfg, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config file: %w", err)
		}
	}

	envCfg, err := fromEnv()
	if err != nil {
		return nil, err
	}
	if err := mergo.Merge(cfg, envCfg, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge environment: %w", err)
	}

	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Provider = strings.ToLower(cfg.Provider)
	return cfg, nil
}

// Settings builds a settings resolver over the anymail section and the
// process environment. Providers resolve their options through it.
func (c *Config) Settings() *settings.Resolver {
	return settings.NewResolver(settings.NewStore(c.Anymail), os.Getenv)
}

// SMTPAuth resolves the SMTP AUTH credentials through the settings
// resolver. Values from the smtp config section act as per-call
// overrides; absent ones are passed as explicit nil so resolution falls
// through to the anymail section (smtp_username / smtp_password) or the
// ANYMAIL_SMTP_* environment, defaulting to empty.
func (c *Config) SMTPAuth() (username, password string, err error) {
	r := c.Settings()
	username, err = resolveCredential(r, "username", c.SMTP.Username)
	if err != nil {
		return "", "", err
	}
	password, err = resolveCredential(r, "password", c.SMTP.Password)
	if err != nil {
		return "", "", err
	}
	return username, password, nil
}

func resolveCredential(r *settings.Resolver, name, value string) (string, error) {
	overrides := map[string]any{name: nil}
	if value != "" {
		overrides[name] = value
	}
	return r.GetString(name, settings.Opts{
		ESPName:   "smtp",
		Overrides: overrides,
		Default:   merge.Set[any](""),
	})
}

// defaults is the bottom configuration layer.
func defaults() *Config {
	return &Config{
		SMTP: SMTPConfig{
			Listen:         ":2525",
			MaxMessageSize: smtp.DefaultMaxMessageSize,
		},
		Provider: "stdout",
		Logging:  LoggingConfig{Level: "info"},
	}
}

// loadFile parses the YAML configuration file layer.
func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// fromEnv builds the environment variable layer. Unset variables leave
// zero values, which mergo treats as absent during the fold.
func fromEnv() (*Config, error) {
	cfg := &Config{
		SMTP: SMTPConfig{
			Listen:   os.Getenv("SMTP_LISTEN"),
			Hostname: os.Getenv("SMTP_HOSTNAME"),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
		},
		Provider: os.Getenv("PROVIDER"),
		TLS: TLSConfig{
			CertFile: os.Getenv("TLS_CERT_FILE"),
			KeyFile:  os.Getenv("TLS_KEY_FILE"),
		},
		Logging: LoggingConfig{Level: os.Getenv("LOG_LEVEL")},
	}

	if v := os.Getenv("SMTP_MAX_MESSAGE_SIZE"); v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SMTP_MAX_MESSAGE_SIZE %q: %w", v, err)
		}
		cfg.SMTP.MaxMessageSize = size
	}

	return cfg, nil
}
