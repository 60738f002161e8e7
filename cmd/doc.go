// Package cmd provides the command-line interface for mcp-memory.
//
// This package implements a Cobra-based CLI with multiple subcommands:
//   - serve: Starts the MCP server (default behavior when no subcommand is provided)
//   - version: Displays the application version
//
// The CLI runs the serve command when no subcommand is specified, so the
// binary can be pointed at directly from an MCP client configuration.
//
// Command Structure:
//
//	mcp-memory [flags]                 # Starts the MCP server (default)
//	mcp-memory serve [flags]           # Explicitly starts the MCP server
//	mcp-memory version                 # Shows version information
//	mcp-memory help [command]          # Shows help information
//
// The serve command supports two transport options:
//   - stdio: Standard input/output (default) - for command-line integration
//   - streamable-http: Streamable HTTP transport - for HTTP-based integration,
//     with /healthz, /readyz, and /metrics endpoints on the same listener
//
// Transport Configuration Examples:
//
//	mcp-memory serve --transport stdio
//	mcp-memory serve --transport streamable-http --http-addr :9000 --http-endpoint /mcp
//
// Store configuration comes from the environment (MEMORY_API_KEY,
// MEMORY_BASE_URL, HOT_STORE_URL, and friends); a handful of flags override
// individual values. Without credentials the server runs in demo mode with an
// in-process store.
package cmd
