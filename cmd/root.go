// Package cmd defines the CLI commands for the pbscraper executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pbscraper",
		Short: "Archive a ProBoards forum into a local database.",
		Long: `pbscraper walks a ProBoards-hosted forum and archives its users,
categories, boards, threads, posts, polls, shoutbox, and images into a
SQLite database file plus an image directory.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(newScrapeCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
