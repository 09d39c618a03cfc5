package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/amishk599/recruitwatch/internal/notifier"
)

var notifyTo string

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Notification subcommands",
}

var notifyTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a test email",
	Long:  "Sends a test email through the configured mailer (log or smtp).",
	RunE:  runNotifyTest,
}

var notifyAlertCmd = &cobra.Command{
	Use:   "alert",
	Short: "Send a test operator alert",
	Long:  "Posts a sample alert to the Slack webhook, or logs it when none is configured.",
	RunE:  runNotifyAlert,
}

func init() {
	notifyTestCmd.Flags().StringVar(&notifyTo, "to", "", "recipient address (required)")
	_ = notifyTestCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(notifyCmd)
	notifyCmd.AddCommand(notifyTestCmd)
	notifyCmd.AddCommand(notifyAlertCmd)
}

func runNotifyTest(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)
	cfg := mustConfig(logger)

	mailer, err := setupMailer(cfg, logger)
	if err != nil {
		logger.Error("failed to set up mailer", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := notifier.SendTestEmail(ctx, mailer, notifyTo); err != nil {
		logger.Error("test email failed", "error", err)
		os.Exit(1)
	}
	logger.Info("test email sent successfully", "recipient", notifyTo)
	return nil
}

func runNotifyAlert(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)
	cfg := mustConfig(logger)

	alerter := setupAlerter(cfg, &http.Client{Timeout: 30 * time.Second}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := notifier.SendTestAlert(ctx, alerter); err != nil {
		logger.Error("test alert failed", "error", err)
		os.Exit(1)
	}
	logger.Info("test alert sent successfully")
	return nil
}
