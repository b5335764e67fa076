package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/assetsync/internal/config"
	"github.com/BadgerOps/assetsync/internal/download"
	"github.com/BadgerOps/assetsync/internal/engine"
	"github.com/BadgerOps/assetsync/internal/manifest"
	"github.com/BadgerOps/assetsync/internal/provider"
	"github.com/BadgerOps/assetsync/internal/provider/github"
	"github.com/BadgerOps/assetsync/internal/ratelimit"
	"github.com/BadgerOps/assetsync/internal/store"
)

var (
	// Global flags
	cfgPath   string
	cacheDir  string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger

	// Global components
	globalStore     *store.Store
	globalCache     billy.Filesystem
	globalManifests *manifest.Store
	globalRegistry  *provider.Registry
	globalClient    *download.Client
	globalRepos     []provider.RepositoryRef
)

// initializeComponents opens the cache directory, history store and
// providers described by the loaded config.
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	if err := os.MkdirAll(globalCfg.Cache.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	globalCache = osfs.New(globalCfg.Cache.Dir)
	globalManifests = manifest.NewStore(globalCache, globalCfg.Cache.ManifestName, logger)

	dbPath := globalCfg.DBPath()
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	st, err := store.New(dbPath, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	globalStore = st

	filter, err := provider.NewNameFilter(globalCfg.Sync.IncludePatterns)
	if err != nil {
		return fmt.Errorf("invalid include patterns: %w", err)
	}
	filter.Reserve(globalManifests.ReservedNames()...)

	gh, err := github.New(github.Options{
		APIURL:  globalCfg.GitHub.APIURL,
		Token:   github.TokenFromEnv(globalCfg.GitHub.TokenEnv),
		Filter:  filter,
		Timeout: globalCfg.Sync.MetadataTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize github provider: %w", err)
	}
	globalRegistry = provider.NewRegistry()
	globalRegistry.Register(gh)

	globalRepos, err = repositoryRefs(globalCfg)
	if err != nil {
		return err
	}

	globalClient = download.NewClient(logger, globalCfg.Sync.DownloadTimeout)

	logger.Debug("components initialized",
		"cache_dir", globalCfg.Cache.Dir,
		"db_path", dbPath,
		"repos", len(globalRepos))
	return nil
}

// repositoryRefs converts the configured repos into provider refs, in
// configuration order with duplicates removed.
func repositoryRefs(cfg *config.Config) ([]provider.RepositoryRef, error) {
	refs := make([]provider.RepositoryRef, 0, len(cfg.Repos))
	for i, r := range cfg.Repos {
		kind, err := provider.ParseKind(r.Type)
		if err != nil {
			return nil, fmt.Errorf("repos[%d]: %w", i, err)
		}
		refs = append(refs, provider.RepositoryRef{Kind: kind, Locator: strings.Trim(strings.TrimSpace(r.Locator), "/")})
	}
	return provider.UniqueRefs(refs), nil
}

// newSyncManager builds the sync engine from the initialized components.
func newSyncManager(sink engine.ProgressSink) (*engine.SyncManager, error) {
	return engine.NewSyncManager(engine.Options{
		Cache:     globalCache,
		Manifests: globalManifests,
		Limiter:   ratelimit.New(globalCfg.Sync.MinInterval),
		Registry:  globalRegistry,
		Client:    globalClient,
		Repos:     globalRepos,
		History:   globalStore,
		Sink:      sink,
	}, logger)
}

// Commands that never touch the config, and commands that only need the
// config without opening the cache or history store.
var (
	skipConfigCmds    = map[string]bool{"help": true, "version": true}
	skipComponentCmds = map[string]bool{"help": true, "version": true, "config": true, "show": true, "path": true}
)

// loadConfig resolves the config file (flag, then discovery), falls back to
// defaults when none exists and applies flag overrides.
func loadConfig() error {
	if cfgPath == "" {
		found, err := config.FindConfigFile()
		if err != nil {
			logger.Warn("config file not found, using defaults", "error", err)
		}
		cfgPath = found
	}

	if cfgPath == "" {
		globalCfg = config.DefaultConfig()
	} else {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		globalCfg = cfg
	}

	if cacheDir != "" {
		globalCfg.Cache.Dir = cacheDir
	}
	logger.Debug("config loaded", "path", cfgPath, "cache_dir", globalCfg.Cache.Dir)
	return nil
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		globalStore = nil
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assetsync",
		Short: "Keep a local cache in step with published release assets",
		Long: `assetsync periodically synchronizes a local cache directory with the
assets published by one or more GitHub Releases repositories. A manifest in
the cache records what was downloaded and when upstream was last checked, so
unchanged assets are never fetched twice and assets removed upstream are
evicted.`,
		Example: `  assetsync sync
  assetsync sync --force
  assetsync sync --every 10m
  assetsync status --failed
  assetsync manifest
  assetsync config show`,
		Version:      "0.1.0",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			if skipConfigCmds[cmd.Name()] {
				return nil
			}
			if err := loadConfig(); err != nil {
				return err
			}
			if skipComponentCmds[cmd.Name()] {
				return nil
			}
			if err := initializeComponents(); err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "override cache directory")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	cmd.AddCommand(
		newSyncCmd(),
		newStatusCmd(),
		newManifestCmd(),
		newConfigCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if quiet && level < slog.LevelError {
		level = slog.LevelError
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}
