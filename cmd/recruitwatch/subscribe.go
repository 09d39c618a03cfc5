package main

import (
	"context"
	"fmt"
	"net/mail"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/amishk599/recruitwatch/internal/adapter"
	"github.com/amishk599/recruitwatch/internal/model"
	"github.com/amishk599/recruitwatch/internal/store"
)

var (
	subEmail    string
	subSource   string
	subKeywords []string
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Create a subscription",
	Long:  "Stores a subscription so the given address is emailed about new postings of a source whose title contains a keyword.",
	RunE:  runSubscribe,
}

func init() {
	subscribeCmd.Flags().StringVar(&subEmail, "email", "", "recipient address (required)")
	subscribeCmd.Flags().StringVar(&subSource, "source", "", "source id, see `recruitwatch sources` (required)")
	subscribeCmd.Flags().StringSliceVarP(&subKeywords, "keyword", "k", nil, "title keyword, repeatable or comma separated")
	_ = subscribeCmd.MarkFlagRequired("email")
	_ = subscribeCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(subscribeCmd)
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)
	cfg := mustConfig(logger)

	if !adapter.IsKnown(subSource) {
		logger.Error("unknown source", "source", subSource)
		os.Exit(1)
	}
	if _, err := mail.ParseAddress(subEmail); err != nil {
		logger.Error("invalid email", "email", subEmail, "error", err)
		os.Exit(1)
	}
	var keywords []string
	for _, k := range subKeywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	if len(keywords) == 0 {
		logger.Warn("subscription has no keywords and will never match")
	}

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Store.DSN)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	sub, err := st.CreateSubscription(ctx, model.Subscription{
		Email:    strings.TrimSpace(subEmail),
		SourceID: subSource,
		Keywords: keywords,
	})
	if err != nil {
		logger.Error("failed to create subscription", "error", err)
		st.Close()
		os.Exit(1)
	}
	fmt.Printf("Subscription %d: %s ← %s %v\n", sub.ID, sub.Email, sub.SourceID, sub.Keywords)
	return nil
}
