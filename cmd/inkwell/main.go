package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "inkwell",
	Short: "Local manuscript analysis service for novel drafts",
	Long: `inkwell runs AI analyses over novel manuscripts: chapter timelines,
consistency and style checks, story bibles, plot threads, and reader
simulations. Results are cached by content hash, so unchanged text is
never re-analyzed.

Start the server with 'inkwell start', then manage projects and queue
analyses through the other commands or through any MCP client.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(chapterCmd)
	rootCmd.AddCommand(sceneCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(insightsCmd)
	rootCmd.AddCommand(bibleCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
