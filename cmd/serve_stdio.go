package cmd

import (
	"fmt"

	mcpserver "github.com/mark3labs/mcp-go/server"
)

// runStdioServer serves the MCP protocol over stdin/stdout and blocks until
// the client closes the stream. Stdout carries protocol frames only; all
// diagnostics go to stderr via the logger.
func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	if err := mcpserver.ServeStdio(mcpSrv); err != nil {
		return fmt.Errorf("stdio transport stopped: %w", err)
	}
	return nil
}
