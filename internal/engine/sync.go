package engine

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/hybridmem/mcp-memory/internal/bus"
	"github.com/hybridmem/mcp-memory/internal/cache"
	"github.com/hybridmem/mcp-memory/internal/logging"
)

// refreshTopN is how many top-accessed memories each sync pass re-fetches.
const refreshTopN = 50

// RunSync drives the background sync worker until ctx is cancelled. Each
// tick refreshes the hottest memories from the cloud, drains stale pending
// entries, and prunes anomalous search-cache keys.
func (e *Engine) RunSync(ctx context.Context) {
	interval := e.cfg.Sync.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("sync worker started", logging.Duration(interval))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sync worker stopped")
			return
		case <-ticker.C:
			e.SyncOnce(ctx)
		}
	}
}

// SyncOnce runs a single sync pass. Exported so operators (and tests) can
// trigger a pass outside the timer.
func (e *Engine) SyncOnce(ctx context.Context) {
	if e.cacheReady() {
		e.refreshTopAccessed(ctx)
		e.pruneSearchCache(ctx)
	}
	e.drainPending(ctx)
}

// refreshTopAccessed re-fetches the most-accessed memories from the cloud
// and re-caches them at the hot TTL. Per-memory failures are logged and
// skipped.
func (e *Engine) refreshTopAccessed(ctx context.Context) {
	counts, err := e.cache.AccessCounts(ctx)
	if err != nil {
		e.logger.Warn("sync refresh skipped, counters unreadable", logging.Err(err))
		return
	}
	if len(counts) == 0 {
		return
	}

	stats := make([]cache.AccessStat, 0, len(counts))
	for id, n := range counts {
		stats = append(stats, cache.AccessStat{ID: id, Count: n})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].ID < stats[j].ID
	})
	if len(stats) > refreshTopN {
		stats = stats[:refreshTopN]
	}

	ids := make([]string, len(stats))
	for i, s := range stats {
		ids[i] = s.ID
	}
	cached, err := e.cache.BatchGet(ctx, ids)
	if err != nil {
		e.logger.Warn("sync refresh hydrate failed", logging.Err(err))
		return
	}
	owners := make(map[string]string, len(cached))
	for _, m := range cached {
		owners[m.ID] = m.UserID
	}

	refreshed := 0
	for _, s := range stats {
		userID := e.userOrDefault(owners[s.ID])
		mem, err := e.cloud.Get(ctx, userID, s.ID)
		if err != nil {
			e.logger.Debug("sync re-fetch failed", logging.MemoryID(s.ID), logging.Err(err))
			continue
		}
		if err := e.cache.PutMemory(ctx, mem.ID, *mem, e.cache.L1TTL()); err != nil {
			e.logger.Debug("sync re-cache failed", logging.MemoryID(mem.ID), logging.Err(err))
			continue
		}
		refreshed++
	}
	if refreshed > 0 {
		e.logger.Info("sync refreshed hot memories", logging.Count(refreshed))
	}
}

// drainPending republishes process events for pending memories older than
// the drain age and removes them from the queue.
func (e *Engine) drainPending(ctx context.Context) {
	stale := e.stalePending()
	if len(stale) == 0 {
		return
	}

	for _, p := range stale {
		e.removePending(p.ID)
		if e.bus == nil {
			continue
		}
		payload, _ := json.Marshal(processEvent{
			MemoryID: p.ID,
			UserID:   p.UserID,
			Priority: string(p.Priority),
		})
		if err := e.bus.Publish(ctx, bus.ChannelMemoryProcess, string(payload)); err != nil {
			e.logger.Warn("pending drain publish failed",
				logging.MemoryID(p.ID), logging.Err(err))
		}
	}
	e.logger.Info("sync drained pending memories", logging.Count(len(stale)))
}

func (e *Engine) pruneSearchCache(ctx context.Context) {
	pruned, err := e.cache.PruneSearchCache(ctx)
	if err != nil {
		e.logger.Debug("search cache hygiene failed", logging.Err(err))
		return
	}
	if pruned > 0 {
		e.logger.Info("sync pruned unexpiring search entries", logging.Count(pruned))
	}
}
