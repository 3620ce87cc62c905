package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatview/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	Cache          Cache  `toml:"cache"`
}

// Cache holds cache tuning knobs. Zero values mean defaults.
type Cache struct {
	DialogTTLSeconds   int `toml:"dialog_ttl_seconds"`
	MessageTTLSeconds  int `toml:"message_ttl_seconds"`
	WindowSize         int `toml:"window_size"`
	DialogFetchLimit   int `toml:"dialog_fetch_limit"`
	AvatarConcurrency  int `toml:"avatar_concurrency"`
	SendTimeoutSeconds int `toml:"send_timeout_seconds"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Cache: Cache{
			DialogTTLSeconds:   30,
			MessageTTLSeconds:  30,
			WindowSize:         50,
			DialogFetchLimit:   100,
			AvatarConcurrency:  10,
			SendTimeoutSeconds: 30,
		},
	}
}

// Load reads config from the given path, filling unset fields with
// defaults. Returns the defaults and an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return Default(), err
	}
	c := Default().Cache
	if cfg.Cache.DialogTTLSeconds <= 0 {
		cfg.Cache.DialogTTLSeconds = c.DialogTTLSeconds
	}
	if cfg.Cache.MessageTTLSeconds <= 0 {
		cfg.Cache.MessageTTLSeconds = c.MessageTTLSeconds
	}
	if cfg.Cache.WindowSize <= 0 {
		cfg.Cache.WindowSize = c.WindowSize
	}
	if cfg.Cache.DialogFetchLimit <= 0 {
		cfg.Cache.DialogFetchLimit = c.DialogFetchLimit
	}
	if cfg.Cache.AvatarConcurrency <= 0 {
		cfg.Cache.AvatarConcurrency = c.AvatarConcurrency
	}
	if cfg.Cache.SendTimeoutSeconds <= 0 {
		cfg.Cache.SendTimeoutSeconds = c.SendTimeoutSeconds
	}
	return cfg, nil
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
