// Package memorytool registers the memory-facing MCP tools: add, search,
// list, delete, and deduplicate.
package memorytool

import (
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hybridmem/mcp-memory/internal/server"
	"github.com/hybridmem/mcp-memory/internal/tools"
)

// RegisterMemoryTools registers all memory tools with the MCP server.
func RegisterMemoryTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	addTool := mcp.NewTool("add_memory",
		mcp.WithDescription("Store a new memory. Accepts either free text or a list of conversation messages."),
		mcp.WithString("content",
			mcp.Description("Memory text. Provide this or messages."),
		),
		mcp.WithArray("messages",
			mcp.Description("Conversation messages as objects with role and content. Provide this or content."),
		),
		mcp.WithString("user_id",
			mcp.Description("User partition. Defaults to the configured user."),
		),
		mcp.WithObject("metadata",
			mcp.Description("Free-form metadata stored with the memory."),
		),
		mcp.WithString("priority",
			mcp.Description("Cache placement priority: low, medium, or high. Default medium."),
		),
		mcp.WithBoolean("async",
			mcp.Description("Accept immediately and store in the background. Default true."),
		),
		mcp.WithBoolean("skip_duplicate_check",
			mcp.Description("Skip the similarity gate against existing memories. Default false."),
		),
	)
	s.AddTool(addTool, tools.WrapWithAuditLogging("add_memory", handleAddMemory, sc))

	searchTool := mcp.NewTool("search_memory",
		mcp.WithDescription("Search memories by keyword, merging cached and cloud results."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query."),
		),
		mcp.WithString("user_id",
			mcp.Description("User partition. Defaults to the configured user."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results to return. Default 10."),
		),
		mcp.WithBoolean("prefer_cache",
			mcp.Description("Serve from the cache first when possible. Default true."),
		),
	)
	s.AddTool(searchTool, tools.WrapWithAuditLogging("search_memory", handleSearchMemory, sc))

	listTool := mcp.NewTool("get_all_memories",
		mcp.WithDescription("List memories for a user with pagination."),
		mcp.WithString("user_id",
			mcp.Description("User partition. Defaults to the configured user."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Page size, up to 500. Default 500."),
		),
		mcp.WithNumber("offset",
			mcp.Description("Number of memories to skip."),
		),
		mcp.WithBoolean("prefer_cache",
			mcp.Description("Serve from the cache when it holds data. Default true."),
		),
		mcp.WithBoolean("include_cache_stats",
			mcp.Description("Attach cache statistics to the response. Default true."),
		),
	)
	s.AddTool(listTool, tools.WrapWithAuditLogging("get_all_memories", handleGetAllMemories, sc))

	deleteTool := mcp.NewTool("delete_memory",
		mcp.WithDescription("Delete a memory everywhere: cloud store, cache tiers, and keyword indices."),
		mcp.WithString("memory_id",
			mcp.Required(),
			mcp.Description("Identifier of the memory to delete."),
		),
		mcp.WithString("user_id",
			mcp.Description("User partition. Defaults to the configured user."),
		),
	)
	s.AddTool(deleteTool, tools.WrapWithAuditLogging("delete_memory", handleDeleteMemory, sc))

	dedupTool := mcp.NewTool("deduplicate_memories",
		mcp.WithDescription("Find near-identical memories by Jaccard similarity, optionally deleting all but one per group."),
		mcp.WithString("user_id",
			mcp.Description("User partition. Defaults to the configured user."),
		),
		mcp.WithNumber("similarity_threshold",
			mcp.Description("Similarity threshold in [0,1]. Default 0.85."),
		),
		mcp.WithBoolean("dry_run",
			mcp.Description("Report groups without deleting. Default true."),
		),
	)
	s.AddTool(dedupTool, tools.WrapWithAuditLogging("deduplicate_memories", handleDeduplicateMemories, sc))

	return nil
}
