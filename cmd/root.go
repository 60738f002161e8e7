package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the mcp-memory application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mcp-memory",
	Short: "MCP server for hybrid memory caching and retrieval",
	Long: `mcp-memory is a Model Context Protocol (MCP) server that stores and
retrieves memories across two tiers: a low-latency hot store acting as a
TTL-managed cache, and a cloud memory API as the durable source of truth.
It offers tools for adding, searching, listing, deleting, and deduplicating
memories, plus cache maintenance and status reporting.

When run without subcommands, it starts the MCP server (equivalent to 'mcp-memory serve').`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. It is called from the
// main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcp-memory version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		// Cobra itself usually prints the error. Exiting with a non-zero
		// status code indicates that an error occurred during execution.
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd())
}
