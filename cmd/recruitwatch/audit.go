package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/amishk599/recruitwatch/internal/adapter"
	"github.com/amishk599/recruitwatch/internal/audit"
	"github.com/amishk599/recruitwatch/internal/model"
	"github.com/amishk599/recruitwatch/internal/store"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Browse source listings interactively (TUI)",
	Long:  "Shows the source picker TUI, dry-scrapes the chosen source, then launches the split-pane audit view.",
	RunE:  runAuditCmd,
}

func init() {
	rootCmd.AddCommand(auditCmd)
}

func runAuditCmd(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)
	cfg := mustConfig(logger)

	// Any log output while the TUI is up corrupts the display.
	silent := slog.New(slog.NewTextHandler(io.Discard, nil))

	httpClient := &http.Client{Timeout: 30 * time.Second}
	registry, err := buildRegistry(cfg, store.NewNopCursor(), httpClient, silent)
	if err != nil {
		logger.Error("failed to build adapters", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(context.Background(), cfg.Store.DSN)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	runAudit(registry, st)
	return nil
}

func runAudit(registry *adapter.Registry, subs model.SubscriptionStore) {
	urls := adapter.ListingURLs()
	var items []audit.SourceItem
	for _, id := range registry.Sources() {
		items = append(items, audit.SourceItem{ID: id, Name: adapter.DisplayName(id), URL: urls[id]})
	}

	for {
		choice, err := audit.RunSourcePicker(items)
		if err != nil {
			fmt.Printf("Picker error: %v\n", err)
			return
		}
		if choice < 0 {
			return
		}
		item := items[choice]
		a, _ := registry.Get(item.ID)

		postings, err := audit.RunLoader(item.Name, a.Scrape)
		if err != nil {
			fmt.Printf("Error scraping %s: %v\n", item.ID, err)
			continue
		}

		subscriptions, err := subs.ListBySources(context.Background(), []string{item.ID})
		if err != nil {
			fmt.Printf("Error reading subscriptions: %v\n", err)
			continue
		}

		wantQuit, err := audit.RunAuditTUI(item.Name, postings, subscriptions, adapter.Location())
		if err != nil {
			fmt.Printf("TUI error: %v\n", err)
		}
		if wantQuit {
			return
		}
		// else: back to the picker
	}
}
