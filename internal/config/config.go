package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultPageSize is the history page size used when the config does not set one.
const DefaultPageSize = 50

// Config represents the global ~/.chirp/config.toml.
type Config struct {
	ServerURL      string `toml:"server_url"`
	StreamURL      string `toml:"stream_url"`
	DefaultProfile string `toml:"default_profile"`
	PageSize       int    `toml:"page_size"`
}

// Validate checks the fields a session cannot start without.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("no server URL (set server_url in config.toml or pass -server)")
	}
	if c.StreamURL == "" {
		return errors.New("no stream URL (set stream_url in config.toml or pass -stream)")
	}
	return nil
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
