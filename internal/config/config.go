// Package config loads the gallery-watch YAML configuration file and
// watches it for live identity and feed changes.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the client configuration file. Zero fields mean "not set" so
// flags and environment can fill them.
type Config struct {
	BaseURL         string        `yaml:"baseURL"`
	OwnerID         string        `yaml:"ownerId"`
	Token           string        `yaml:"token"`
	SigningSecret   string        `yaml:"signingSecret"`
	Feed            *bool         `yaml:"feed"`
	PageSize        int           `yaml:"pageSize"`
	Sort            string        `yaml:"sort"`
	Order           string        `yaml:"order"`
	RefreshInterval time.Duration `yaml:"refreshInterval"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	LogLevel        string        `yaml:"logLevel"`
	LogFormat       string        `yaml:"logFormat"`
}

// FeedEnabled defaults to true when the file does not say.
func (c Config) FeedEnabled() bool {
	return c.Feed == nil || *c.Feed
}

func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.PageSize < 0 {
		return Config{}, fmt.Errorf("parse config: pageSize must not be negative")
	}
	if cfg.RefreshInterval < 0 || cfg.RequestTimeout < 0 {
		return Config{}, fmt.Errorf("parse config: durations must not be negative")
	}
	return cfg, nil
}

// Load reads path. An empty path yields the zero Config.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}
