package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/amishk599/recruitwatch/internal/adapter"
	"github.com/amishk599/recruitwatch/internal/model"
)

var postingsLimit int

var postingsCmd = &cobra.Command{
	Use:   "postings [source]",
	Short: "List stored postings, newest first",
	Long:  "Prints the most recent stored postings of one source, or of every enabled source when none is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPostings,
}

func init() {
	postingsCmd.Flags().IntVarP(&postingsLimit, "limit", "n", 10, "postings per source")
	rootCmd.AddCommand(postingsCmd)
}

func runPostings(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)
	cfg := mustConfig(logger)

	sources := cfg.Sources.Enabled
	if len(args) == 1 {
		if !adapter.IsKnown(args[0]) {
			fmt.Fprintf(os.Stderr, "unknown source %q (see `recruitwatch sources`)\n", args[0])
			os.Exit(1)
		}
		sources = args
	}

	ctx := context.Background()
	a := mustQueueApp(ctx, cfg, logger)
	defer a.Close()

	loc := adapter.Location()
	for i, source := range sources {
		postings, err := a.store.ListPostings(ctx, source, postingsLimit)
		if err != nil {
			logger.Error("listing postings failed", "source", source, "error", err)
			a.Close()
			os.Exit(1)
		}
		if i > 0 {
			fmt.Println()
		}
		fmt.Printf("%s (%s): %d shown\n", adapter.DisplayName(source), source, len(postings))
		fmt.Println(strings.Repeat("─", 90))
		for _, p := range postings {
			fmt.Printf("%-12s %-10s %-14s %s\n", p.ExternalID, p.StartAt.In(loc).Format("2006-01-02"), closingText(p, loc), p.Title)
		}
	}
	return nil
}

func closingText(p model.Posting, loc *time.Location) string {
	switch {
	case p.IsOpenUntilFilled:
		return "until filled"
	case p.EndAt != nil:
		return "~" + p.EndAt.In(loc).Format("2006-01-02")
	default:
		return "-"
	}
}
