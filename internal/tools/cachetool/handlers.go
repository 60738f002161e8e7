package cachetool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hybridmem/mcp-memory/internal/engine"
	"github.com/hybridmem/mcp-memory/internal/server"
	"github.com/hybridmem/mcp-memory/internal/tools"
)

func handleOptimizeCache(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	force := tools.BoolArg(args, "force_refresh", false)
	maxMemories := tools.IntArg(args, "max_memories", sc.Config().Cache.MaxSize)

	res, err := sc.Engine().Optimize(ctx, tools.StringArg(args, "user_id"), force, maxMemories)
	if err != nil {
		if errors.Is(err, engine.ErrCacheUnavailable) {
			return mcp.NewToolResultError("cache_unavailable: no hot store is reachable, nothing to optimize"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to optimize cache: %v", err)), nil
	}

	jsonData, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

func handleCacheStats(ctx context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	stats, err := sc.Engine().Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to collect cache stats: %v", err)), nil
	}

	jsonData, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

func handleSyncStatus(ctx context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	status := sc.Engine().SyncStatus(ctx)

	jsonData, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}
