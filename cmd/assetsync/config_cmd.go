package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/assetsync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
		Long: `Inspect the configuration a sync pass would run with.

Without --config the file is discovered from ./assetsync.yaml, then
assetsync/assetsync.yaml under $XDG_CONFIG_HOME and the other XDG config
directories, then /etc/assetsync/assetsync.yaml. When none exists the
built-in defaults are used.`,
		Example: `  assetsync config show
  assetsync config show --cache-dir /srv/cache
  assetsync config path`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration as YAML",
			Long: `Print the loaded configuration, with --cache-dir applied, as YAML.
A header names the source file and the values derived from it: the
history database location and which token variable is set. Token values
are never printed.`,
			RunE: configShowRun,
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file in use",
			RunE:  configPathRun,
		},
	)

	return cmd
}

func configShowRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	return writeConfig(os.Stdout, globalCfg, cfgPath)
}

func configPathRun(cmd *cobra.Command, args []string) error {
	if cfgPath == "" {
		fmt.Println("(none, using built-in defaults)")
		return nil
	}
	fmt.Println(cfgPath)
	return nil
}

func writeConfig(out io.Writer, cfg *config.Config, source string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if source == "" {
		source = "built-in defaults"
	}
	fmt.Fprintf(out, "# source:   %s\n", source)
	fmt.Fprintf(out, "# database: %s\n", cfg.DBPath())
	fmt.Fprintf(out, "# token:    %s\n", tokenSource(cfg.GitHub.TokenEnv))
	fmt.Fprintf(out, "# repos:    %d configured\n", len(cfg.Repos))
	_, err = out.Write(data)
	return err
}

// tokenSource names the first token variable that is set.
func tokenSource(vars []string) string {
	for _, env := range vars {
		if os.Getenv(env) != "" {
			return "$" + env
		}
	}
	return "none (anonymous API requests)"
}
