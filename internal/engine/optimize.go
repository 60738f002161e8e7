package engine

import (
	"context"
	"errors"

	"github.com/hybridmem/mcp-memory/internal/cache"
	"github.com/hybridmem/mcp-memory/internal/logging"
)

// ErrCacheUnavailable is returned by cache-bound operations when no hot
// store is reachable.
var ErrCacheUnavailable = errors.New("cache unavailable")

// OptimizeResult reports the outcome of a cache optimization pass.
type OptimizeResult struct {
	Cached  int `json:"cached"`
	L1Count int `json:"l1Count"`
	L2Count int `json:"l2Count"`
}

// Optimize repopulates the cache from the cloud store. With forceRefresh
// the previous generation is wiped first, so no stale record survives. Up
// to maxMemories are loaded; placement follows each memory's access count.
func (e *Engine) Optimize(ctx context.Context, userID string, forceRefresh bool, maxMemories int) (OptimizeResult, error) {
	if !e.cacheReady() {
		return OptimizeResult{}, ErrCacheUnavailable
	}
	if maxMemories <= 0 || maxMemories > e.cfg.Cache.MaxSize {
		maxMemories = e.cfg.Cache.MaxSize
	}
	userID = e.userOrDefault(userID)

	if forceRefresh {
		if err := e.cache.Clear(ctx); err != nil {
			return OptimizeResult{}, err
		}
	}

	memories, err := e.cloud.ListAll(ctx, userID, maxMemories)
	if err != nil {
		return OptimizeResult{}, err
	}

	if err := e.cache.BatchSet(ctx, memories, 0); err != nil {
		// Error isolation in BatchSet means some entries landed; report
		// what did.
		e.logger.Warn("optimization batch had failures", logging.Err(err))
	}
	e.cache.WaitBackground()

	res := OptimizeResult{Cached: len(memories)}
	for _, m := range memories {
		secs, ok, err := e.cache.RemainingTTL(ctx, m.ID)
		if err != nil || !ok {
			continue
		}
		// The tiers differ only by TTL; anything at or under the hot TTL
		// is L1.
		if secs <= e.cache.L1TTL().Seconds() {
			res.L1Count++
		} else {
			res.L2Count++
		}
	}
	return res, nil
}

// CacheStats is the cache_stats snapshot: the cache manager's counters
// enriched with engine-side queue depths.
type CacheStats struct {
	CachedMemories   int                `json:"cached_memories"`
	AccessCounters   int                `json:"access_counters"`
	KeywordIndexes   int                `json:"keyword_indexes"`
	CachedSearches   int                `json:"cached_searches"`
	TotalAccesses    int64              `json:"total_accesses"`
	EstimatedHitRate float64            `json:"estimated_hit_rate"`
	TrueHitRate      float64            `json:"true_hit_rate"`
	MemoryUsage      string             `json:"memory_usage"`
	PendingJobs      int                `json:"pending_jobs"`
	PendingMemories  int                `json:"pending_memories"`
	TopAccessed      []cache.AccessStat `json:"top_accessed"`
}

// Stats assembles the cache_stats snapshot.
func (e *Engine) Stats(ctx context.Context) (CacheStats, error) {
	if !e.cacheReady() {
		return CacheStats{
			MemoryUsage:     "unknown",
			PendingMemories: e.pendingCount(),
		}, nil
	}

	st, err := e.cache.Stats(ctx)
	if err != nil {
		return CacheStats{}, err
	}
	counters, err := e.cache.AccessCounts(ctx)
	if err != nil {
		return CacheStats{}, err
	}
	kw, err := e.cache.KeywordIndexCount(ctx)
	if err != nil {
		return CacheStats{}, err
	}

	out := CacheStats{
		CachedMemories:   st.TotalMemories,
		AccessCounters:   len(counters),
		KeywordIndexes:   kw,
		CachedSearches:   st.SearchCached,
		TotalAccesses:    st.TotalAccess,
		EstimatedHitRate: st.HitRate,
		TrueHitRate:      st.TrueHitRate,
		MemoryUsage:      st.MemoryUsage,
		PendingMemories:  e.pendingCount(),
		TopAccessed:      st.TopAccessed,
	}
	if e.jobs != nil {
		out.PendingJobs = e.jobs.Pending()
	}
	return out, nil
}
