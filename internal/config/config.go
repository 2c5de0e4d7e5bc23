// Package config provides configuration management for the llmlog capture
// service. It handles loading and parsing the YAML configuration file and
// provides structured access to server, storage, deduplication and logging
// settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Port is the network port on which the capture API server listens.
	Port int `yaml:"port"`

	// StorePath is the path of the bolt database holding conversations.
	StorePath string `yaml:"store-path"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`

	// LoggingToFile switches log output from stdout to rotating files.
	LoggingToFile bool `yaml:"logging-to-file"`

	// NotifyURL is the webhook the Claude-style adapter announces new
	// exchanges to. Empty disables the side channel.
	NotifyURL string `yaml:"notify-url"`

	// DedupWindowSeconds is the span within which matching content is
	// treated as the same logical exchange. Zero means the default.
	DedupWindowSeconds int `yaml:"dedup-window-seconds"`

	// DedupMaxEntries bounds the adapter-side fingerprint caches. Zero
	// means the default.
	DedupMaxEntries int `yaml:"dedup-max-entries"`
}

// DedupWindow returns the configured dedup window as a duration.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowSeconds) * time.Second
}

// LoadConfig reads a YAML configuration file from the given path, unmarshals
// it into a Config struct, applies defaults, and returns it.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.Port == 0 {
		config.Port = 8317
	}
	if config.StorePath == "" {
		config.StorePath = "data/conversations.bolt"
	}

	return &config, nil
}
