package cache

import (
	"context"
	"sort"
	"strconv"
	"strings"
)

// AccessStat pairs a memory id with its access count.
type AccessStat struct {
	ID    string `json:"id"`
	Count int64  `json:"count"`
}

// Stats is the cache statistics snapshot.
type Stats struct {
	TotalMemories int   `json:"totalMemories"`
	TotalAccess   int64 `json:"totalAccess"`
	// HitRate is the historical activity heuristic, clamped to [0,100].
	// External dashboards chart it, so the formula is frozen.
	HitRate float64 `json:"hitRate"`
	// TrueHitRate is hits/(hits+misses) over this process lifetime.
	TrueHitRate  float64      `json:"trueHitRate"`
	Hits         int64        `json:"hits"`
	Misses       int64        `json:"misses"`
	SearchCached int          `json:"searchCached"`
	MemoryUsage  string       `json:"memoryUsage"`
	TopAccessed  []AccessStat `json:"topAccessed"`
}

// Stats assembles the cache statistics snapshot. It SCANs the keyspace and
// so runs on the longer stats deadline.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	opCtx, cancel := m.opCtx(ctx, m.cfg.StatsTimeout)
	defer cancel()

	var st Stats

	keys, err := m.hot.ScanAll(opCtx, memoryPrefix+"*", scanBatch)
	if err != nil {
		return st, timeoutErr(err)
	}
	for _, k := range keys {
		if isMemoryRecordKey(k) {
			st.TotalMemories++
		}
	}

	searchKeys, err := m.hot.ScanAll(opCtx, searchPrefix+"*", scanBatch)
	if err != nil {
		return st, timeoutErr(err)
	}
	st.SearchCached = len(searchKeys)

	counts, err := m.AccessCounts(opCtx)
	if err != nil {
		return st, err
	}
	for id, n := range counts {
		st.TotalAccess += n
		st.TopAccessed = append(st.TopAccessed, AccessStat{ID: id, Count: n})
	}
	sort.Slice(st.TopAccessed, func(i, j int) bool {
		if st.TopAccessed[i].Count != st.TopAccessed[j].Count {
			return st.TopAccessed[i].Count > st.TopAccessed[j].Count
		}
		return st.TopAccessed[i].ID < st.TopAccessed[j].ID
	})
	if len(st.TopAccessed) > 3 {
		st.TopAccessed = st.TopAccessed[:3]
	}

	if st.TotalMemories > 0 {
		rate := float64(st.TotalAccess) / float64(st.TotalMemories) * 10
		if rate > 100 {
			rate = 100
		}
		st.HitRate = rate
	}

	st.Hits = m.hits.Load()
	st.Misses = m.misses.Load()
	if total := st.Hits + st.Misses; total > 0 {
		st.TrueHitRate = float64(st.Hits) / float64(total) * 100
	}

	st.MemoryUsage = m.memoryUsage(opCtx)
	return st, nil
}

// memoryUsage pulls used_memory_human out of INFO memory. Best-effort: any
// failure reports "unknown" rather than failing the stats call.
func (m *Manager) memoryUsage(ctx context.Context) string {
	info, err := m.hot.Info(ctx, "memory")
	if err != nil {
		return "unknown"
	}
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if val, ok := strings.CutPrefix(line, "used_memory_human:"); ok {
			return val
		}
	}
	return "unknown"
}

// AccessCounts returns the full access-counter hash as id -> count.
// Unparseable fields are skipped.
func (m *Manager) AccessCounts(ctx context.Context) (map[string]int64, error) {
	fields, err := m.hot.HashGetAll(ctx, metadataKey)
	if err != nil {
		return nil, timeoutErr(err)
	}
	counts := make(map[string]int64, len(fields))
	for field, val := range fields {
		id, ok := strings.CutPrefix(field, accessFieldPrefix)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		counts[id] = n
	}
	return counts, nil
}

// ListMemoryIDs enumerates every cached memory record id via SCAN.
func (m *Manager) ListMemoryIDs(ctx context.Context) ([]string, error) {
	opCtx, cancel := m.opCtx(ctx, m.cfg.StatsTimeout)
	defer cancel()

	keys, err := m.hot.ScanAll(opCtx, memoryPrefix+"*", scanBatch)
	if err != nil {
		return nil, timeoutErr(err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if isMemoryRecordKey(k) {
			ids = append(ids, idFromMemoryKey(k))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// KeywordIndexCount reports how many keyword sets exist.
func (m *Manager) KeywordIndexCount(ctx context.Context) (int, error) {
	opCtx, cancel := m.opCtx(ctx, m.cfg.StatsTimeout)
	defer cancel()

	keys, err := m.hot.ScanAll(opCtx, keywordPrefix+"*", scanBatch)
	if err != nil {
		return 0, timeoutErr(err)
	}
	return len(keys), nil
}

// PruneSearchCache deletes search entries that carry no expiry. Expiry
// normally handles the search cache; a key without one is an anomaly left by
// an interrupted write.
func (m *Manager) PruneSearchCache(ctx context.Context) (int, error) {
	opCtx, cancel := m.opCtx(ctx, m.cfg.StatsTimeout)
	defer cancel()

	keys, err := m.hot.ScanAll(opCtx, searchPrefix+"*", scanBatch)
	if err != nil {
		return 0, timeoutErr(err)
	}

	var stale []string
	for _, k := range keys {
		ttl, err := m.hot.TTL(opCtx, k)
		if err != nil {
			continue
		}
		if ttl < 0 {
			stale = append(stale, k)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	return len(stale), timeoutErr(m.deleteChunked(opCtx, stale))
}

// RemainingTTL reports the TTL left on a memory record. The boolean is false
// when the record does not exist or carries no expiry.
func (m *Manager) RemainingTTL(ctx context.Context, id string) (float64, bool, error) {
	opCtx, cancel := m.opCtx(ctx, m.cfg.OperationTimeout)
	defer cancel()

	ttl, err := m.hot.TTL(opCtx, memoryKey(id))
	if err != nil {
		return 0, false, timeoutErr(err)
	}
	if ttl <= 0 {
		return 0, false, nil
	}
	return ttl.Seconds(), true, nil
}
