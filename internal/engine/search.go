package engine

import (
	"context"

	"github.com/hybridmem/mcp-memory/internal/logging"
	"github.com/hybridmem/mcp-memory/internal/memory"
)

// DefaultSearchLimit applies when a search omits a limit.
const DefaultSearchLimit = 10

// SearchResult is the outcome of SearchMemory, with per-tier hit counts.
type SearchResult struct {
	Results    []memory.Memory
	HotCount   int
	CloudCount int
	// Cached reports that the whole result came from the search cache.
	Cached bool
}

// SearchMemory runs the hybrid planner. With preferCache the cache answers
// first (cached result, then keyword index) and the cloud only fills the
// remainder; without it the cloud answers and the cache is refreshed
// opportunistically. The merged list is cached under the (query, limit) key.
func (e *Engine) SearchMemory(ctx context.Context, userID, query string, limit int, preferCache bool) (SearchResult, error) {
	if query == "" {
		return SearchResult{}, &memory.ValidationError{Field: "query", Reason: "must not be empty"}
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	userID = e.userOrDefault(userID)

	useCache := preferCache && e.cacheReady()

	if useCache {
		if cached, ok, err := e.cache.GetCachedSearch(ctx, query, limit); err == nil && ok {
			for i := range cached {
				cached[i].Source = memory.SourceHot
			}
			return SearchResult{Results: cached, HotCount: len(cached), Cached: true}, nil
		}
	}

	var (
		merged []memory.Memory
		res    SearchResult
	)

	if useCache {
		hot, err := e.cache.SearchKeywords(ctx, query, limit)
		if err != nil {
			// Cache reads in the hot path fail soft; the cloud serves.
			e.logger.Warn("keyword search failed, falling through to cloud", logging.Err(err))
			hot = nil
		}
		merged = hot
		res.HotCount = len(hot)

		if len(merged) < limit {
			cloudHits, err := e.cloud.Search(ctx, userID, query, limit)
			if err != nil {
				if len(merged) == 0 {
					return SearchResult{}, err
				}
				e.logger.Warn("cloud fill failed, serving hot results only", logging.Err(err))
			}
			merged = mergePreferHot(merged, cloudHits, limit, &res.CloudCount)
		}
	} else {
		cloudHits, err := e.cloud.Search(ctx, userID, query, limit)
		if err != nil {
			return SearchResult{}, err
		}
		if len(cloudHits) > limit {
			cloudHits = cloudHits[:limit]
		}
		for i := range cloudHits {
			cloudHits[i].Source = memory.SourceCloud
		}
		merged = cloudHits
		res.CloudCount = len(cloudHits)

		// Opportunistic refresh: each cloud hit lands in the cache at its
		// placement TTL.
		if e.cacheReady() {
			for _, m := range cloudHits {
				if err := e.cache.PutMemory(ctx, m.ID, m, 0); err != nil {
					e.logger.Debug("opportunistic cache write failed",
						logging.MemoryID(m.ID), logging.Err(err))
				}
			}
		}
	}

	if len(merged) > limit {
		merged = merged[:limit]
	}

	if e.cacheReady() {
		if err := e.cache.CacheSearch(ctx, query, limit, merged); err != nil {
			e.logger.Debug("search result caching failed", logging.Err(err))
		}
	}

	res.Results = merged
	return res, nil
}

// mergePreferHot appends cloud hits that do not collide with a hot id,
// stamping them with the cloud source, until limit is reached.
func mergePreferHot(hot, cloudHits []memory.Memory, limit int, cloudCount *int) []memory.Memory {
	seen := make(map[string]struct{}, len(hot))
	for _, m := range hot {
		seen[m.ID] = struct{}{}
	}

	merged := hot
	for _, m := range cloudHits {
		if len(merged) >= limit {
			break
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		m.Source = memory.SourceCloud
		merged = append(merged, m)
		seen[m.ID] = struct{}{}
		*cloudCount++
	}
	return merged
}
