package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridmem/mcp-memory/internal/bus"
	"github.com/hybridmem/mcp-memory/internal/config"
	"github.com/hybridmem/mcp-memory/internal/memory"
)

func TestSyncRefreshesTopAccessed(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	res, err := rig.engine.AddMemory(ctx, AddRequest{
		UserID: "u1",
		Input:  memory.WriteInput{Content: "frequently consulted deployment runbook"},
	})
	require.NoError(t, err)
	id := res.Memories[0].ID
	rig.cache.WaitBackground()

	for i := 0; i < 5; i++ {
		_, err := rig.cache.GetMemory(ctx, id)
		require.NoError(t, err)
	}

	// The cloud copy changes behind the cache's back; a sync pass must
	// bring the cached record up to date at the hot TTL.
	rig.demo.Seed(memory.Memory{
		ID:      id,
		UserID:  "u1",
		Content: "frequently consulted deployment runbook, revised",
	})

	rig.engine.SyncOnce(ctx)
	rig.cache.WaitBackground()

	got, err := rig.cache.GetMemory(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Contains(t, got.Content, "revised")
	assert.Equal(t, rig.cache.L1TTL(), rig.mr.TTL("memory:"+id))
}

func TestSyncDrainsStalePending(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	var processed = make(chan string, 1)
	require.NoError(t, rig.bus.Subscribe(ctx, bus.ChannelMemoryProcess, func(_, payload string) {
		select {
		case processed <- payload:
		default:
		}
	}))

	rig.engine.enqueuePending("m-stale", "u1", memory.PriorityMedium)
	rig.engine.pendingMu.Lock()
	p := rig.engine.pending["m-stale"]
	p.EnqueuedAt = time.Now().Add(-2 * time.Minute)
	rig.engine.pending["m-stale"] = p
	rig.engine.pendingMu.Unlock()

	rig.engine.enqueuePending("m-fresh", "u1", memory.PriorityMedium)

	rig.engine.SyncOnce(ctx)

	select {
	case payload := <-processed:
		assert.Contains(t, payload, "m-stale")
	case <-time.After(2 * time.Second):
		t.Fatal("stale pending entry was never republished")
	}
	assert.Equal(t, 1, rig.engine.pendingCount())
}

func TestRunSyncStopsOnCancel(t *testing.T) {
	rig := newTestRig(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rig.engine.RunSync(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sync worker did not honor cancellation")
	}
}

func TestOptimizeForceRefresh(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := rig.demo.AddMemory(ctx, "u1", memory.WriteInput{
			Content: fmt.Sprintf("catalog entry number %d with details", i),
		}, nil)
		require.NoError(t, err)
	}

	// A record from the previous cache generation must not survive a forced
	// refresh.
	require.NoError(t, rig.cache.PutMemory(ctx, "old-gen",
		memory.Memory{ID: "old-gen", Content: "stale leftover"}, 0))
	rig.cache.WaitBackground()

	res, err := rig.engine.Optimize(ctx, "u1", true, 15)
	require.NoError(t, err)

	assert.Equal(t, 15, res.Cached)
	assert.Equal(t, 15, res.L1Count+res.L2Count)
	assert.False(t, rig.mr.Exists("memory:old-gen"))
}

func TestOptimizeWithoutCacheFails(t *testing.T) {
	e := New(*config.Default())
	t.Cleanup(e.Close)

	_, err := e.Optimize(context.Background(), "u1", false, 10)
	assert.ErrorIs(t, err, ErrCacheUnavailable)
}

func TestStatsAggregatesEngineState(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	res, err := rig.engine.AddMemory(ctx, AddRequest{
		UserID: "u1",
		Input:  memory.WriteInput{Content: "statistics aggregation sample content"},
	})
	require.NoError(t, err)
	rig.cache.WaitBackground()

	for i := 0; i < 3; i++ {
		_, err := rig.cache.GetMemory(ctx, res.Memories[0].ID)
		require.NoError(t, err)
	}
	rig.engine.enqueuePending("m-waiting", "u1", memory.PriorityLow)

	st, err := rig.engine.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, st.CachedMemories)
	assert.Equal(t, 1, st.AccessCounters)
	assert.Positive(t, st.KeywordIndexes)
	assert.Equal(t, int64(3), st.TotalAccesses)
	assert.Equal(t, 1, st.PendingMemories)
	require.NotEmpty(t, st.TopAccessed)
	assert.Equal(t, res.Memories[0].ID, st.TopAccessed[0].ID)
}

func TestListMemoriesPagination(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, err := rig.demo.AddMemory(ctx, "u1", memory.WriteInput{
			Content: fmt.Sprintf("paginated fact number %d", i),
		}, nil)
		require.NoError(t, err)
	}

	page, err := rig.engine.ListMemories(ctx, ListRequest{UserID: "u1", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, page.Total)
	assert.Equal(t, 3, page.Returned)
	assert.True(t, page.HasMore)

	last, err := rig.engine.ListMemories(ctx, ListRequest{UserID: "u1", Limit: 3, Offset: 6})
	require.NoError(t, err)
	assert.Equal(t, 1, last.Returned)
	assert.False(t, last.HasMore)
}

func TestListMemoriesPrefersCacheWhenPopulated(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	res, err := rig.engine.AddMemory(ctx, AddRequest{
		UserID: "u1",
		Input:  memory.WriteInput{Content: "cached listing entry"},
	})
	require.NoError(t, err)
	rig.cache.WaitBackground()

	page, err := rig.engine.ListMemories(ctx, ListRequest{UserID: "u1", PreferCache: true})
	require.NoError(t, err)
	assert.Equal(t, memory.SourceHot, page.Source)
	require.Len(t, page.Memories, 1)
	assert.Equal(t, res.Memories[0].ID, page.Memories[0].ID)
}

func TestListMemoriesTruncatesOversizedPages(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	big := strings.Repeat("oversized content block ", 100)
	for i := 0; i < 30; i++ {
		_, err := rig.demo.AddMemory(ctx, "u1", memory.WriteInput{
			Content: fmt.Sprintf("%s #%d", big, i),
		}, nil)
		require.NoError(t, err)
	}

	page, err := rig.engine.ListMemories(ctx, ListRequest{UserID: "u1", Limit: MaxListLimit})
	require.NoError(t, err)

	assert.True(t, page.Truncated)
	for _, m := range page.Memories {
		assert.LessOrEqual(t, len([]rune(m.Content)), truncatedContent)
		assert.Equal(t, true, m.Metadata[truncatedMetaFlag])
	}
}

func TestDeduplicateDryRunGroups(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	contents := []string{
		"User prefers TypeScript and dark mode",
		"User prefers typescript and Dark Mode",
		"Lunch meetings happen on Fridays only",
	}
	for _, c := range contents {
		_, err := rig.demo.AddMemory(ctx, "u1", memory.WriteInput{Content: c}, nil)
		require.NoError(t, err)
	}

	res, err := rig.engine.Deduplicate(ctx, "u1", 0.85, true)
	require.NoError(t, err)

	require.Len(t, res.Groups, 1)
	assert.Len(t, res.Groups[0].Duplicates, 1)
	assert.GreaterOrEqual(t, res.Groups[0].Duplicates[0].Similarity, 85.0)
	assert.Zero(t, res.Deleted)
	assert.Equal(t, 3, rig.demo.Len())
}

func TestDeduplicateDeletes(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	for _, c := range []string{
		"duplicate candidate entry about caching",
		"duplicate candidate entry about caching",
		"duplicate candidate entry about caching",
	} {
		_, err := rig.demo.AddMemory(ctx, "u1", memory.WriteInput{Content: c}, nil)
		require.NoError(t, err)
	}

	res, err := rig.engine.Deduplicate(ctx, "u1", 0.85, false)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 1, rig.demo.Len())
}
