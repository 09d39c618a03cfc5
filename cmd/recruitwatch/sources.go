package main

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/amishk599/recruitwatch/internal/adapter"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List supported sources",
	Long:  "Prints every supported source with its display name, listing page and whether it is enabled.",
	RunE:  runSources,
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

func runSources(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	urls := adapter.ListingURLs()
	fmt.Printf("%-10s %-9s %-22s %s\n", "Source", "Status", "Name", "Listing")
	fmt.Println(strings.Repeat("─", 90))

	enabled := 0
	for _, id := range adapter.KnownSources {
		status := "disabled"
		if slices.Contains(cfg.Sources.Enabled, id) {
			status = "enabled"
			enabled++
		}
		fmt.Printf("%-10s %-9s %-22s %s\n", id, status, adapter.DisplayName(id), urls[id])
	}

	fmt.Printf("\nTotal: %d sources (%d enabled, %d disabled)\n", len(adapter.KnownSources), enabled, len(adapter.KnownSources)-enabled)
	return nil
}
