// Package cachetool registers the cache-operations MCP tools: optimize,
// statistics, and sync status.
package cachetool

import (
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hybridmem/mcp-memory/internal/server"
	"github.com/hybridmem/mcp-memory/internal/tools"
)

// RegisterCacheTools registers all cache tools with the MCP server.
func RegisterCacheTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	optimizeTool := mcp.NewTool("optimize_cache",
		mcp.WithDescription("Repopulate the cache from the cloud store, optionally wiping the previous generation first."),
		mcp.WithString("user_id",
			mcp.Description("User partition. Defaults to the configured user."),
		),
		mcp.WithBoolean("force_refresh",
			mcp.Description("Wipe all cached data before repopulating. Default false."),
		),
		mcp.WithNumber("max_memories",
			mcp.Description("Maximum memories to load. Default 1000."),
		),
	)
	s.AddTool(optimizeTool, tools.WrapWithAuditLogging("optimize_cache", handleOptimizeCache, sc))

	statsTool := mcp.NewTool("cache_stats",
		mcp.WithDescription("Report cache statistics: record counts, access totals, hit rates, and queue depths."),
	)
	s.AddTool(statsTool, tools.WrapWithAuditLogging("cache_stats", handleCacheStats, sc))

	syncTool := mcp.NewTool("sync_status",
		mcp.WithDescription("Report the engine's operating mode and connectivity to the hot store and the cloud."),
	)
	s.AddTool(syncTool, tools.WrapWithAuditLogging("sync_status", handleSyncStatus, sc))

	return nil
}
