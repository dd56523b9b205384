// Package appconf holds process-level configuration for the transiter binary.
package appconf

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Environment int

const (
	Development Environment = iota
	Test
	Production
)

func (e Environment) String() string {
	switch e {
	case Test:
		return "test"
	case Production:
		return "production"
	default:
		return "development"
	}
}

// EnvFlagToEnvironment maps the value of the --env flag to an Environment.
// Unknown values fall back to Development.
func EnvFlagToEnvironment(env string) Environment {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "test":
		return Test
	case "production", "prod":
		return Production
	default:
		return Development
	}
}

// Config is the resolved configuration the application is built from.
type Config struct {
	Env         Environment
	DBPath      string
	LogLevel    string
	LogFormat   string
	MetricsAddr string
	ApiKeys     []string
	// RateLimit is the number of admin API requests allowed per second per
	// API key. Zero disables limiting.
	RateLimit int
	Verbose   bool
}

// FileConfig mirrors the on-disk configuration file.
type FileConfig struct {
	Env         string   `yaml:"env" validate:"omitempty,oneof=development test production prod"`
	DBPath      string   `yaml:"db-path" validate:"required"`
	LogLevel    string   `yaml:"log-level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat   string   `yaml:"log-format" validate:"omitempty,oneof=text json"`
	MetricsAddr string   `yaml:"metrics-addr" validate:"omitempty,hostname_port"`
	ApiKeys     []string `yaml:"api-keys" validate:"dive,required"`
	RateLimit   int      `yaml:"rate-limit" validate:"gte=0"`
	Verbose     bool     `yaml:"verbose"`
}

// LoadFromFile reads, decodes and validates a YAML (or JSON) configuration file.
func LoadFromFile(path string) (*FileConfig, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration bytes.
func Parse(data []byte) (*FileConfig, error) {
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("invalid configuration: field %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ToAppConfig converts the file representation into a Config with defaults applied.
func (fc *FileConfig) ToAppConfig() Config {
	cfg := Config{
		Env:         EnvFlagToEnvironment(fc.Env),
		DBPath:      fc.DBPath,
		LogLevel:    fc.LogLevel,
		LogFormat:   fc.LogFormat,
		MetricsAddr: fc.MetricsAddr,
		ApiKeys:     fc.ApiKeys,
		RateLimit:   fc.RateLimit,
		Verbose:     fc.Verbose,
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	return cfg
}
