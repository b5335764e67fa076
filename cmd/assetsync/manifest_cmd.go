package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var manifestNames bool

func newManifestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Print the cache manifest",
		Long: `Print the manifest stored in the cache directory as JSON. With --names,
print one line per cached asset instead.`,
		Example: `  assetsync manifest
  assetsync manifest --names`,
		RunE: manifestRun,
	}

	cmd.Flags().BoolVar(&manifestNames, "names", false, "list asset names with their tag and source repository")

	return cmd
}

func manifestRun(cmd *cobra.Command, args []string) error {
	if globalManifests == nil {
		return fmt.Errorf("components not initialized")
	}

	mf, err := globalManifests.Load()
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	if !manifestNames {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode manifest: %w", err)
		}
		return nil
	}

	if len(mf.Entries) == 0 {
		fmt.Println("Manifest is empty")
		return nil
	}

	fmt.Printf("%-32s %-12s %-22s %s\n", "Asset", "Tag", "Updated", "Repository")
	fmt.Println(strings.Repeat("-", 90))
	for _, name := range mf.Names() {
		e := mf.Entries[name]
		fmt.Printf("%-32s %-12s %-22s %s\n", name, e.Tag, e.UpdatedAt, e.RepoLocator)
	}
	return nil
}
