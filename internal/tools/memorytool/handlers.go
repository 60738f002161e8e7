package memorytool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hybridmem/mcp-memory/internal/engine"
	"github.com/hybridmem/mcp-memory/internal/memory"
	"github.com/hybridmem/mcp-memory/internal/server"
	"github.com/hybridmem/mcp-memory/internal/tools"
)

// decodeMessages converts the raw messages argument into typed messages.
func decodeMessages(raw any) ([]memory.Message, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, &memory.ValidationError{Field: "messages", Reason: "must be an array of {role, content} objects"}
	}
	msgs := make([]memory.Message, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, &memory.ValidationError{Field: fmt.Sprintf("messages[%d]", i), Reason: "must be an object with role and content"}
		}
		role, _ := obj["role"].(string)
		content, _ := obj["content"].(string)
		msgs = append(msgs, memory.Message{Role: role, Content: content})
	}
	return msgs, nil
}

func handleAddMemory(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	messages, err := decodeMessages(args["messages"])
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	priority, err := memory.ParsePriority(tools.StringArg(args, "priority"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	req := engine.AddRequest{
		UserID: tools.StringArg(args, "user_id"),
		Input: memory.WriteInput{
			Content:  tools.StringArg(args, "content"),
			Messages: messages,
		},
		Metadata:           tools.MapArg(args, "metadata"),
		Priority:           priority,
		Async:              tools.BoolArg(args, "async", true),
		SkipDuplicateCheck: tools.BoolArg(args, "skip_duplicate_check", false),
	}

	res, err := sc.Engine().AddMemory(ctx, req)
	if err != nil {
		var dup *memory.DuplicateError
		if errors.As(err, &dup) {
			return mcp.NewToolResultError(fmt.Sprintf(
				"duplicate_memory: content matches existing memory %s (similarity %.0f%%)",
				dup.ExistingID, dup.Similarity*100)), nil
		}
		var verr *memory.ValidationError
		if errors.As(err, &verr) {
			return mcp.NewToolResultError("validation_error: " + verr.Error()), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to add memory: %v", err)), nil
	}

	var body any
	if res.Async() {
		body = map[string]any{
			"jobId":    res.JobID,
			"accepted": res.Accepted,
			"message":  "Memory accepted for asynchronous storage.",
		}
	} else {
		body = map[string]any{
			"count":    len(res.Memories),
			"memories": res.Memories,
			"message":  fmt.Sprintf("Stored %d memories.", len(res.Memories)),
		}
	}

	jsonData, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

func handleSearchMemory(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	query := tools.StringArg(args, "query")
	limit := tools.IntArg(args, "limit", engine.DefaultSearchLimit)
	preferCache := tools.BoolArg(args, "prefer_cache", true)

	res, err := sc.Engine().SearchMemory(ctx, tools.StringArg(args, "user_id"), query, limit, preferCache)
	if err != nil {
		var verr *memory.ValidationError
		if errors.As(err, &verr) {
			return mcp.NewToolResultError("validation_error: " + verr.Error()), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to search memories: %v", err)), nil
	}

	body := map[string]any{
		"results": res.Results,
		"counts": map[string]int{
			"hot":   res.HotCount,
			"cloud": res.CloudCount,
		},
	}
	jsonData, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

func handleGetAllMemories(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	req := engine.ListRequest{
		UserID:      tools.StringArg(args, "user_id"),
		Limit:       tools.IntArg(args, "limit", engine.MaxListLimit),
		Offset:      tools.IntArg(args, "offset", 0),
		PreferCache: tools.BoolArg(args, "prefer_cache", true),
	}

	res, err := sc.Engine().ListMemories(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list memories: %v", err)), nil
	}

	body := map[string]any{
		"total":    res.Total,
		"limit":    res.Limit,
		"offset":   res.Offset,
		"returned": res.Returned,
		"hasMore":  res.HasMore,
		"source":   res.Source,
		"memories": res.Memories,
	}
	if res.Truncated {
		body["truncated"] = true
	}
	if tools.BoolArg(args, "include_cache_stats", true) {
		if stats, err := sc.Engine().Stats(ctx); err == nil {
			body["cacheStats"] = stats
		}
	}

	jsonData, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}

func handleDeleteMemory(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	id := tools.StringArg(args, "memory_id")
	if err := sc.Engine().DeleteMemory(ctx, tools.StringArg(args, "user_id"), id); err != nil {
		var verr *memory.ValidationError
		if errors.As(err, &verr) {
			return mcp.NewToolResultError("validation_error: " + verr.Error()), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to delete memory: %v", err)), nil
	}

	jsonData, _ := json.MarshalIndent(map[string]any{
		"ok":      true,
		"message": fmt.Sprintf("Memory %s deleted.", id),
	}, "", "  ")
	return mcp.NewToolResultText(string(jsonData)), nil
}

func handleDeduplicateMemories(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	threshold := tools.FloatArg(args, "similarity_threshold", 0.85)
	dryRun := tools.BoolArg(args, "dry_run", true)

	res, err := sc.Engine().Deduplicate(ctx, tools.StringArg(args, "user_id"), threshold, dryRun)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to deduplicate memories: %v", err)), nil
	}

	jsonData, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonData)), nil
}
