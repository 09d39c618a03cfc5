package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amishk599/recruitwatch/internal/discovery"
	"github.com/amishk599/recruitwatch/internal/scheduler"
)

var discoverNotify bool

var discoverCmd = &cobra.Command{
	Use:   "discover [source]",
	Short: "Run discovery once",
	Long:  "Scrapes one source, or every enabled source when none is given, stores new postings and queues notifications.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDiscover,
}

func init() {
	discoverCmd.Flags().BoolVar(&discoverNotify, "notify", false, "dispatch pending notifications after discovery")
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)
	cfg := mustConfig(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := mustApp(ctx, cfg, logger)
	defer a.Close()

	var results []discovery.Result
	var err error
	if len(args) == 1 {
		var r discovery.Result
		r, err = a.trigger.DiscoverOne(ctx, args[0])
		if err == nil || r.Err != nil {
			results = append(results, r)
		}
	} else {
		results, err = a.trigger.DiscoverAll(ctx)
	}
	switch {
	case errors.Is(err, scheduler.ErrBusy):
		fmt.Fprintln(os.Stderr, "another discovery run holds the lock, try again later")
		a.Close()
		os.Exit(1)
	case errors.Is(err, discovery.ErrUnknownSource):
		fmt.Fprintf(os.Stderr, "unknown or disabled source %q (see `recruitwatch sources`)\n", args[0])
		a.Close()
		os.Exit(1)
	case err != nil && len(results) == 0:
		logger.Error("discovery not run", "error", err)
		a.Close()
		os.Exit(1)
	}

	printResults(results)

	if discoverNotify {
		sum, derr := a.trigger.DispatchPending(ctx)
		if derr != nil {
			logger.Error("dispatch failed", "error", derr)
			os.Exit(1)
		}
		fmt.Printf("\nDispatched: %d claimed, %d sent, %d failed\n", sum.Claimed, sum.Sent, sum.Failed)
	}

	if err != nil {
		a.Close()
		os.Exit(1)
	}
	return nil
}

func printResults(results []discovery.Result) {
	fmt.Printf("%-12s %8s %8s %8s %8s  %s\n", "Source", "Scraped", "New", "Skipped", "Queued", "Error")
	for _, r := range results {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		fmt.Printf("%-12s %8d %8d %8d %8d  %s\n", r.Source, r.Scraped, len(r.Persisted), r.Skipped, r.Queued, errText)
	}
}
