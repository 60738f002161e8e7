// Package tools holds shared plumbing for the MCP tool handlers: the
// handler signature, audit logging, and argument extraction helpers.
package tools

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hybridmem/mcp-memory/internal/logging"
	"github.com/hybridmem/mcp-memory/internal/server"
)

// HandlerFunc is the signature every tool handler implements.
type HandlerFunc func(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error)

// WrapWithAuditLogging logs each invocation with its outcome and latency
// and records tool metrics when instrumentation is enabled.
func WrapWithAuditLogging(tool string, handler HandlerFunc, sc *server.ServerContext) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		result, err := handler(ctx, request, sc)
		elapsed := time.Since(start)

		status := logging.StatusSuccess
		if err != nil || (result != nil && result.IsError) {
			status = logging.StatusError
		}
		logging.WithTool(sc.Logger(), tool).Info("tool call",
			logging.Status(status), logging.Duration(elapsed))

		if m := sc.Metrics(); m != nil {
			var callErr error
			if err != nil {
				callErr = err
			} else if result != nil && result.IsError {
				callErr = errToolResult
			}
			m.RecordToolCall(tool, callErr, elapsed)
		}
		return result, err
	}
}

// errToolResult marks a handler that returned a structured error result.
var errToolResult = toolResultError{}

type toolResultError struct{}

func (toolResultError) Error() string { return "tool returned error result" }

// StringArg extracts an optional string argument.
func StringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// IntArg extracts an optional integer argument. JSON numbers decode as
// float64, so both encodings are accepted.
func IntArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

// FloatArg extracts an optional float argument.
func FloatArg(args map[string]any, key string, fallback float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return fallback
}

// BoolArg extracts an optional boolean argument.
func BoolArg(args map[string]any, key string, fallback bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}

// MapArg extracts an optional object argument.
func MapArg(args map[string]any, key string) map[string]any {
	v, _ := args[key].(map[string]any)
	return v
}
