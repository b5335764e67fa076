package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adrg/xdg"
)

// TestDefaultConfig verifies that DefaultConfig returns sensible defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		getValue func(*Config) string
		want     string
	}{
		{"cache dir", func(c *Config) string { return c.Cache.Dir }, "/var/lib/assetsync/download_cache"},
		{"manifest name", func(c *Config) string { return c.Cache.ManifestName }, "download_manifest.json"},
		{"db path", func(c *Config) string { return c.Cache.DBPath }, ""},
		{"github api", func(c *Config) string { return c.GitHub.APIURL }, "https://api.github.com"},
		{"min interval", func(c *Config) string { return c.Sync.MinInterval.String() }, "5m0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.getValue(cfg)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if len(cfg.Sync.IncludePatterns) != 3 {
		t.Errorf("IncludePatterns length = %d, want 3", len(cfg.Sync.IncludePatterns))
	}
	if cfg.Repos == nil {
		t.Errorf("Repos = nil, want non-nil slice")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

// TestLoad tests loading a valid config file
func TestLoad(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "assetsync.yaml")

	configContent := `
cache:
  dir: "/custom/cache"
sync:
  min_interval: 10m
  download_timeout: 5m
repos:
  - type: github
    locator: owner/icons/releases/latest
  - type: GitHub
    locator: owner/names/releases/latest
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Cache.Dir != "/custom/cache" {
		t.Errorf("Cache.Dir = %q, want /custom/cache", cfg.Cache.Dir)
	}
	if cfg.Cache.ManifestName != "download_manifest.json" {
		t.Errorf("ManifestName should keep default, got %q", cfg.Cache.ManifestName)
	}
	if cfg.Sync.MinInterval != 10*time.Minute {
		t.Errorf("MinInterval = %v, want 10m", cfg.Sync.MinInterval)
	}
	if cfg.Sync.DownloadTimeout != 5*time.Minute {
		t.Errorf("DownloadTimeout = %v, want 5m", cfg.Sync.DownloadTimeout)
	}
	if cfg.Sync.MetadataTimeout != 60*time.Second {
		t.Errorf("MetadataTimeout should keep default, got %v", cfg.Sync.MetadataTimeout)
	}
	if len(cfg.Repos) != 2 {
		t.Fatalf("Repos length = %d, want 2", len(cfg.Repos))
	}
	if cfg.Repos[1].Locator != "owner/names/releases/latest" {
		t.Errorf("Repos[1].Locator = %q", cfg.Repos[1].Locator)
	}
}

// TestLoadPatternsReplaceDefaults checks that configured slices are not
// merged with the default entries.
func TestLoadPatternsReplaceDefaults(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "assetsync.yaml")
	content := `
sync:
  include_patterns: ["skins*.zip"]
`
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Sync.IncludePatterns) != 1 || cfg.Sync.IncludePatterns[0] != "skins*.zip" {
		t.Errorf("IncludePatterns = %v, want [skins*.zip]", cfg.Sync.IncludePatterns)
	}

	// Loading twice must not accumulate entries.
	cfg2, err := Load(configFile)
	if err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if len(cfg2.Sync.IncludePatterns) != 1 {
		t.Errorf("second load IncludePatterns = %v", cfg2.Sync.IncludePatterns)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(configFile, []byte("cache: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(configFile); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty cache dir", func(c *Config) { c.Cache.Dir = "" }, "cache.dir"},
		{"empty manifest name", func(c *Config) { c.Cache.ManifestName = "" }, "manifest_name"},
		{"negative interval", func(c *Config) { c.Sync.MinInterval = -time.Second }, "min_interval"},
		{"zero metadata timeout", func(c *Config) { c.Sync.MetadataTimeout = 0 }, "metadata_timeout"},
		{"zero download timeout", func(c *Config) { c.Sync.DownloadTimeout = 0 }, "download_timeout"},
		{"empty locator", func(c *Config) {
			c.Repos = []RepoConfig{{Type: "github", Locator: " "}}
		}, "locator is required"},
		{"unknown type", func(c *Config) {
			c.Repos = []RepoConfig{{Type: "gitlab", Locator: "a/b"}}
		}, "unsupported type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestDBPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Dir = "/data/cache"
	if got := cfg.DBPath(); got != filepath.Join("/data", "assetsync.db") {
		t.Errorf("DBPath() = %q", got)
	}

	cfg.Cache.DBPath = ":memory:"
	if got := cfg.DBPath(); got != ":memory:" {
		t.Errorf("DBPath() = %q, want :memory:", got)
	}
}

func TestFindConfigFile(t *testing.T) {
	tempDir := t.TempDir()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	if err := os.Chdir(tempDir); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	if err := os.WriteFile("assetsync.yaml", []byte("cache:\n  dir: /x\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	path, err := FindConfigFile()
	if err != nil {
		t.Fatalf("FindConfigFile() error = %v", err)
	}
	if path != "assetsync.yaml" {
		t.Errorf("FindConfigFile() = %q, want assetsync.yaml", path)
	}
}

func TestFindConfigFileXDGConfigHome(t *testing.T) {
	// Registered first so it runs after t.Setenv restores the environment.
	t.Cleanup(xdg.Reload)

	configHome := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configHome)
	xdg.Reload()

	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	want := filepath.Join(configHome, "assetsync", "assetsync.yaml")
	if err := os.MkdirAll(filepath.Dir(want), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(want, []byte("cache:\n  dir: /x\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	path, err := FindConfigFile()
	if err != nil {
		t.Fatalf("FindConfigFile() error = %v", err)
	}
	if path != want {
		t.Errorf("FindConfigFile() = %q, want %q", path, want)
	}
}
