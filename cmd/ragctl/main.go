package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	tenantID string
	jsonOut  bool
)

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "Run queries against the RAG core without the HTTP server",
	Long: `ragctl builds the same backends as the server from the environment
(.env is honoured) and runs one operation in-process.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&tenantID, "tenant", "t", "", "tenant id (required)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print the raw JSON response")
	_ = rootCmd.MarkPersistentFlagRequired("tenant")

	rootCmd.AddCommand(queryCmd, searchCmd, statsCmd, ingestCmd, deleteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
