package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Supported repository types.
const (
	RepoTypeGitHub = "github"
)

// Config is the top-level configuration
type Config struct {
	Cache  CacheConfig  `yaml:"cache"`
	Sync   SyncConfig   `yaml:"sync"`
	GitHub GitHubConfig `yaml:"github"`
	Repos  []RepoConfig `yaml:"repos"`
}

// CacheConfig holds the local cache settings
type CacheConfig struct {
	Dir          string `yaml:"dir"`
	ManifestName string `yaml:"manifest_name"`
	DBPath       string `yaml:"db_path"`
}

// SyncConfig holds rate limiting, timeouts and the asset name filter
type SyncConfig struct {
	MinInterval     time.Duration `yaml:"min_interval"`
	MetadataTimeout time.Duration `yaml:"metadata_timeout"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	IncludePatterns []string      `yaml:"include_patterns"`
}

// GitHubConfig holds settings for the GitHub Releases provider
type GitHubConfig struct {
	APIURL   string   `yaml:"api_url"`
	TokenEnv []string `yaml:"token_env"`
}

// RepoConfig is a single configured remote repository
type RepoConfig struct {
	Type    string `yaml:"type"`
	Locator string `yaml:"locator"`
}

// DefaultConfig returns a config with sensible defaults.
// Defaults are only ever applied here, before the file is unmarshalled
// over them; yaml.v3 replaces slices rather than appending to them.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Dir:          "/var/lib/assetsync/download_cache",
			ManifestName: "download_manifest.json",
			DBPath:       "",
		},
		Sync: SyncConfig{
			MinInterval:     5 * time.Minute,
			MetadataTimeout: 60 * time.Second,
			DownloadTimeout: 30 * time.Minute,
			IncludePatterns: []string{"iconpack*.zip", "appnames*.txt", "appnames*.json"},
		},
		GitHub: GitHubConfig{
			APIURL:   "https://api.github.com",
			TokenEnv: []string{"GITHUB_TOKEN", "GH_TOKEN"},
		},
		Repos: []RepoConfig{},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations: the
// working directory, the XDG config directories, then /etc/assetsync.
func FindConfigFile() (string, error) {
	searchPaths := []string{"assetsync.yaml"}
	for _, dir := range append([]string{xdg.ConfigHome}, xdg.ConfigDirs...) {
		searchPaths = append(searchPaths, filepath.Join(dir, "assetsync", "assetsync.yaml"))
	}
	searchPaths = append(searchPaths, "/etc/assetsync/assetsync.yaml")

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate checks the config for values the sync engine cannot work with.
func (c *Config) Validate() error {
	if c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir is required")
	}
	if c.Cache.ManifestName == "" {
		return fmt.Errorf("cache.manifest_name is required")
	}
	if c.Sync.MinInterval < 0 {
		return fmt.Errorf("sync.min_interval must not be negative")
	}
	if c.Sync.MetadataTimeout <= 0 {
		return fmt.Errorf("sync.metadata_timeout must be positive")
	}
	if c.Sync.DownloadTimeout <= 0 {
		return fmt.Errorf("sync.download_timeout must be positive")
	}
	for i, r := range c.Repos {
		if strings.TrimSpace(r.Locator) == "" {
			return fmt.Errorf("repos[%d]: locator is required", i)
		}
		if !strings.EqualFold(r.Type, RepoTypeGitHub) {
			return fmt.Errorf("repos[%d]: unsupported type %q", i, r.Type)
		}
	}
	return nil
}

// DBPath returns the sync history database path, defaulting to a file
// next to the cache directory.
func (c *Config) DBPath() string {
	if c.Cache.DBPath != "" {
		return c.Cache.DBPath
	}
	return filepath.Join(filepath.Dir(filepath.Clean(c.Cache.Dir)), "assetsync.db")
}
