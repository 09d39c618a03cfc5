package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/amishk599/recruitwatch/internal/adapter"
	"github.com/amishk599/recruitwatch/internal/audit"
	"github.com/amishk599/recruitwatch/internal/model"
	"github.com/amishk599/recruitwatch/internal/store"
)

var (
	checkLimit int
	checkMatch bool
)

var checkCmd = &cobra.Command{
	Use:   "check [source]",
	Short: "Dry-scrape sources, print postings, exit",
	Long:  "One-shot scrape ignoring the stored cursor. Prints what each source lists; nothing is stored and no email is sent.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().IntVarP(&checkLimit, "limit", "n", 10, "postings to print per source (0 = all)")
	checkCmd.Flags().BoolVar(&checkMatch, "match", false, "also show which stored subscriptions each posting would notify")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)
	cfg := mustConfig(logger)
	if len(args) == 1 {
		if !adapter.IsKnown(args[0]) {
			logger.Error("unknown source", "source", args[0])
			os.Exit(1)
		}
		cfg.Sources.Enabled = []string{args[0]}
	}

	logger.Info("check mode: nothing will be stored")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	registry, err := buildRegistry(cfg, store.NewNopCursor(), httpClient, logger)
	if err != nil {
		logger.Error("failed to build adapters", "error", err)
		os.Exit(1)
	}

	var subs []model.Subscription
	if checkMatch {
		st, err := store.Open(ctx, cfg.Store.DSN)
		if err != nil {
			logger.Error("failed to open store", "error", err)
			os.Exit(1)
		}
		subs, err = st.ListBySources(ctx, registry.Sources())
		st.Close()
		if err != nil {
			logger.Error("failed to list subscriptions", "error", err)
			os.Exit(1)
		}
	}

	failed := 0
	for _, source := range registry.Sources() {
		a, _ := registry.Get(source)
		postings, err := a.Scrape(ctx)
		if err != nil {
			logger.Error("scrape failed", "source", source, "error", err)
			failed++
			continue
		}
		_, recipients := audit.Partition(postings, subs)
		printPostings(source, postings, recipients)
	}

	if failed > 0 {
		os.Exit(1)
	}
	logger.Info("check complete")
	return nil
}

// printPostings prints the newest postings first.
func printPostings(source string, postings []model.Posting, recipients map[string][]string) {
	fmt.Printf("\n%s (%s): %d postings\n", adapter.DisplayName(source), source, len(postings))
	shown := 0
	loc := adapter.Location()
	for i := len(postings) - 1; i >= 0; i-- {
		if checkLimit > 0 && shown == checkLimit {
			fmt.Printf("  … %d more\n", len(postings)-shown)
			break
		}
		p := postings[i]
		end := "open until filled"
		if !p.IsOpenUntilFilled && p.EndAt != nil {
			end = p.EndAt.In(loc).Format("2006-01-02")
		} else if !p.IsOpenUntilFilled {
			end = "-"
		}
		fmt.Printf("  %-10s %s ~ %s  %s\n", p.ExternalID, p.StartAt.In(loc).Format("2006-01-02"), end, p.Title)
		if to := recipients[p.ExternalID]; len(to) > 0 {
			fmt.Printf("  %-10s → %v\n", "", to)
		}
		shown++
	}
}
