package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoadCreatesDefaultConfig verifies a missing file is created and
// defaults apply.
func TestLoadCreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if cfg.CacheVersion != "v1" {
		t.Errorf("CacheVersion = %q, want v1", cfg.CacheVersion)
	}
	if cfg.DatabasePath == "" || cfg.CacheDir == "" {
		t.Error("default paths not set")
	}
	if !cfg.IsWatchDatabaseEnabled() {
		t.Error("watch_database should default to enabled")
	}
}

// TestLoadAppliesDefaultsForUnsetFields verifies partial configs fill in.
func TestLoadAppliesDefaultsForUnsetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "cache_version: v9\nwatch_database: false\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.CacheVersion != "v9" {
		t.Errorf("CacheVersion = %q, want v9", cfg.CacheVersion)
	}
	if cfg.OriginAddr != "127.0.0.1:8710" {
		t.Errorf("OriginAddr = %q, want default", cfg.OriginAddr)
	}
	if cfg.IsWatchDatabaseEnabled() {
		t.Error("watch_database: false not honored")
	}
}

// TestLoadRejectsInvalidYAML verifies malformed config files fail loudly.
func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("cache_version: [unclosed"), 0644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted invalid YAML")
	}
}

// TestValidate covers the address and precache path checks.
func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cfg.GatewayAddr = cfg.OriginAddr
	if err := cfg.Validate(); err == nil {
		t.Error("identical origin and gateway addresses accepted")
	}

	cfg = DefaultConfig()
	cfg.PrecachePaths = []string{"offline"}
	if err := cfg.Validate(); err == nil {
		t.Error("relative precache path accepted")
	}
}

// TestExpandPath verifies ~ expansion.
func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/x.db"); got != filepath.Join(home, "x.db") {
		t.Errorf("ExpandPath(~/x.db) = %q", got)
	}
	if got := ExpandPath("/abs/x.db"); got != "/abs/x.db" {
		t.Errorf("ExpandPath(/abs/x.db) = %q", got)
	}
}
