package memorytool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridmem/mcp-memory/internal/config"
	"github.com/hybridmem/mcp-memory/internal/engine"
	"github.com/hybridmem/mcp-memory/internal/server"
)

func newDemoServerContext(t *testing.T) *server.ServerContext {
	t.Helper()
	cfg := config.Default()
	e := engine.New(*cfg)

	sc, err := server.NewServerContext(context.Background(),
		server.WithEngine(e), server.WithConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })
	return sc
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	request := mcp.CallToolRequest{}
	request.Params.Arguments = args
	return request
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	textContent, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent in result, got %T", result.Content[0])
	return textContent.Text
}

func decodeResult(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &body))
	return body
}

func TestHandleAddMemorySync(t *testing.T) {
	sc := newDemoServerContext(t)

	result, err := handleAddMemory(context.Background(), callRequest(map[string]any{
		"content": "user enjoys structured logging",
		"async":   false,
	}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)

	body := decodeResult(t, result)
	assert.Equal(t, float64(1), body["count"])
	assert.NotEmpty(t, body["memories"])
}

func TestHandleAddMemoryFromMessages(t *testing.T) {
	sc := newDemoServerContext(t)

	result, err := handleAddMemory(context.Background(), callRequest(map[string]any{
		"messages": []any{
			map[string]any{"role": "user", "content": "remember the standup moved"},
			map[string]any{"role": "assistant", "content": "standup is at nine now"},
		},
		"async": false,
	}), sc)
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestHandleAddMemoryValidation(t *testing.T) {
	sc := newDemoServerContext(t)

	result, err := handleAddMemory(context.Background(), callRequest(map[string]any{}), sc)
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "validation_error")

	result, err = handleAddMemory(context.Background(), callRequest(map[string]any{
		"content":  "valid content here",
		"priority": "urgent",
	}), sc)
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "priority")
}

func TestHandleAddMemoryDuplicate(t *testing.T) {
	sc := newDemoServerContext(t)
	ctx := context.Background()

	first, err := handleAddMemory(ctx, callRequest(map[string]any{
		"content": "User prefers TypeScript and dark mode",
		"async":   false,
	}), sc)
	require.NoError(t, err)
	require.False(t, first.IsError)

	second, err := handleAddMemory(ctx, callRequest(map[string]any{
		"content": "User prefers typescript and Dark Mode",
		"async":   false,
	}), sc)
	require.NoError(t, err)
	require.True(t, second.IsError)
	assert.Contains(t, resultText(t, second), "duplicate_memory")
}

func TestHandleSearchMemory(t *testing.T) {
	sc := newDemoServerContext(t)
	ctx := context.Background()

	_, err := handleAddMemory(ctx, callRequest(map[string]any{
		"content": "searchable deployment notes",
		"async":   false,
	}), sc)
	require.NoError(t, err)

	result, err := handleSearchMemory(ctx, callRequest(map[string]any{
		"query": "deployment",
	}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)

	body := decodeResult(t, result)
	results := body["results"].([]any)
	assert.Len(t, results, 1)
	counts := body["counts"].(map[string]any)
	assert.Equal(t, float64(1), counts["cloud"])
}

func TestHandleSearchMemoryRequiresQuery(t *testing.T) {
	sc := newDemoServerContext(t)

	result, err := handleSearchMemory(context.Background(), callRequest(map[string]any{}), sc)
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "validation_error")
}

func TestHandleGetAllMemories(t *testing.T) {
	sc := newDemoServerContext(t)
	ctx := context.Background()

	for _, content := range []string{"first stored fact", "second stored fact"} {
		_, err := handleAddMemory(ctx, callRequest(map[string]any{
			"content":              content,
			"async":                false,
			"skip_duplicate_check": true,
		}), sc)
		require.NoError(t, err)
	}

	result, err := handleGetAllMemories(ctx, callRequest(map[string]any{
		"limit": float64(10),
	}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)

	body := decodeResult(t, result)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(2), body["returned"])
	assert.Equal(t, false, body["hasMore"])
	assert.Contains(t, body, "cacheStats")
}

func TestHandleDeleteMemory(t *testing.T) {
	sc := newDemoServerContext(t)
	ctx := context.Background()

	add, err := handleAddMemory(ctx, callRequest(map[string]any{
		"content": "short-lived record",
		"async":   false,
	}), sc)
	require.NoError(t, err)
	memories := decodeResult(t, add)["memories"].([]any)
	id := memories[0].(map[string]any)["id"].(string)

	result, err := handleDeleteMemory(ctx, callRequest(map[string]any{
		"memory_id": id,
	}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, true, decodeResult(t, result)["ok"])

	// Missing id fails validation.
	result, err = handleDeleteMemory(ctx, callRequest(map[string]any{}), sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleDeduplicateMemories(t *testing.T) {
	sc := newDemoServerContext(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := handleAddMemory(ctx, callRequest(map[string]any{
			"content":              "exact duplicate fact about caching",
			"async":                false,
			"skip_duplicate_check": true,
		}), sc)
		require.NoError(t, err)
	}

	result, err := handleDeduplicateMemories(ctx, callRequest(map[string]any{
		"dry_run": true,
	}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)

	body := decodeResult(t, result)
	groups := body["groups"].([]any)
	assert.Len(t, groups, 1)
	assert.Equal(t, true, body["dryRun"])
}
