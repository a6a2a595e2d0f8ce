package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "docreview",
	Short: "Review server for streamed document extraction results",
	Long: `docreview drives batch extractions against a streaming extraction
backend, aggregates the streamed results and serves them for review,
correction and approval.

Without a subcommand it behaves like "docreview serve".`,
	SilenceUsage: true,
	RunE:         runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "docreview %s (built %s)\n", Version, BuildTime)
	},
}

func init() {
	addServeFlags(rootCmd)
	rootCmd.AddCommand(serveCmd, replayCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
