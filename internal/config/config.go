// Package config handles application configuration
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed config.sample.yaml
var sampleConfig string

// GetSampleConfig returns the embedded sample configuration content
func GetSampleConfig() string {
	return sampleConfig
}

// Config represents the application configuration
type Config struct {
	DatabasePath       string   `yaml:"database_path"`
	CacheDir           string   `yaml:"cache_dir"`
	OriginAddr         string   `yaml:"origin_addr"`
	GatewayAddr        string   `yaml:"gateway_addr"`
	CacheVersion       string   `yaml:"cache_version"`
	PrecachePaths      []string `yaml:"precache_paths"`
	CredentialsService string   `yaml:"credentials_service"`
	WatchDatabase      *bool    `yaml:"watch_database"` // default true
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DatabasePath: filepath.Join(GetDataDir(), "todos.db"),
		CacheDir:     filepath.Join(GetDataDir(), "cache"),
		OriginAddr:   "127.0.0.1:8710",
		GatewayAddr:  "127.0.0.1:8700",
		CacheVersion: "v1",
	}
}

// Load loads configuration from the specified path, or the default XDG path
// if empty. If the config file doesn't exist, it creates one with defaults.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in config file: %w", err)
	}

	// Apply defaults for unset fields
	defaults := DefaultConfig()
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = defaults.DatabasePath
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = defaults.CacheDir
	}
	if cfg.OriginAddr == "" {
		cfg.OriginAddr = defaults.OriginAddr
	}
	if cfg.GatewayAddr == "" {
		cfg.GatewayAddr = defaults.GatewayAddr
	}
	if cfg.CacheVersion == "" {
		cfg.CacheVersion = defaults.CacheVersion
	}

	cfg.DatabasePath = ExpandPath(cfg.DatabasePath)
	cfg.CacheDir = ExpandPath(cfg.CacheDir)

	return cfg, nil
}

// save writes the sample configuration to the specified path
func (c *Config) save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The embedded sample documents every option; defaults apply on load.
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.OriginAddr == c.GatewayAddr {
		return fmt.Errorf("origin_addr and gateway_addr must differ, both are %q", c.OriginAddr)
	}
	if strings.Contains(c.CacheVersion, string(os.PathSeparator)) {
		return fmt.Errorf("invalid cache_version: %q", c.CacheVersion)
	}
	for _, p := range c.PrecachePaths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("precache path %q must start with /", p)
		}
	}
	return nil
}

// IsWatchDatabaseEnabled returns whether the database file watcher should run.
func (c *Config) IsWatchDatabaseEnabled() bool {
	if c.WatchDatabase == nil {
		return true
	}
	return *c.WatchDatabase
}

// OriginURL returns the base URL of the origin server.
func (c *Config) OriginURL() string {
	return "http://" + c.OriginAddr
}

// GetConfigDir returns the XDG config directory for todokeep
func GetConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "todokeep")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "todokeep"
	}
	return filepath.Join(home, ".config", "todokeep")
}

// GetDataDir returns the XDG data directory for todokeep
func GetDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "todokeep")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "todokeep"
	}
	return filepath.Join(home, ".local", "share", "todokeep")
}

// ExpandPath expands a leading ~ to the user's home directory
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
	}
	return path
}
