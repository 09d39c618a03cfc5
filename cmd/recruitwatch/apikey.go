package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/amishk599/recruitwatch/internal/api"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "API key subcommands",
}

var apikeyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an API key and its bcrypt hash",
	Long:  "Prints a new random API key for the x-api-key header and the hash to set as HASHED_API_KEY.",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, hash, err := api.GenerateAPIKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate api key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("API key (give to callers):   %s\n", key)
		fmt.Printf("HASHED_API_KEY (server env): %s\n", hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.AddCommand(apikeyGenerateCmd)
}
