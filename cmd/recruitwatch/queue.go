package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amishk599/recruitwatch/internal/model"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Send one batch of pending notifications",
	RunE:  runDispatch,
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Requeue failed notifications that have retries left",
	RunE:  runRetry,
}

var queueStatsCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show notification counts per status",
	RunE:  runQueueStats,
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(queueStatsCmd)
}

func runDispatch(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)
	cfg := mustConfig(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := mustQueueApp(ctx, cfg, logger)
	defer a.Close()

	sum, err := a.dispatcher.DispatchPending(ctx)
	if err != nil {
		logger.Error("dispatch failed", "error", err)
		a.Close()
		os.Exit(1)
	}
	fmt.Printf("Claimed %d, sent %d, failed %d, skipped %d\n", sum.Claimed, sum.Sent, sum.Failed, sum.Skipped)
	return nil
}

func runRetry(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)
	cfg := mustConfig(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := mustQueueApp(ctx, cfg, logger)
	defer a.Close()

	n, err := a.dispatcher.RetryFailed(ctx)
	if err != nil {
		logger.Error("retry failed", "error", err)
		a.Close()
		os.Exit(1)
	}
	fmt.Printf("Requeued %d notification(s) (max retries %d)\n", n, a.dispatcher.MaxRetries())
	return nil
}

func runQueueStats(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)
	cfg := mustConfig(logger)

	ctx := context.Background()
	a := mustQueueApp(ctx, cfg, logger)
	defer a.Close()

	counts, err := a.store.CountByStatus(ctx)
	if err != nil {
		logger.Error("count failed", "error", err)
		a.Close()
		os.Exit(1)
	}

	total := 0
	for _, st := range model.AllStatuses {
		fmt.Printf("%-12s %d\n", st, counts[st])
		total += counts[st]
	}
	fmt.Printf("\nTotal: %d notifications\n", total)
	return nil
}
