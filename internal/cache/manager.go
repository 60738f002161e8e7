// Package cache implements the two-tier memory cache on top of the hot
// store: TTL-based L1/L2 placement driven by access counters, an inverted
// keyword index, a TTL-bound search-result cache, and chunked batch
// operations.
//
// The cache manager exclusively owns all hot-store keys; no other component
// writes them.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/hybridmem/mcp-memory/internal/hotstore"
	"github.com/hybridmem/mcp-memory/internal/logging"
	"github.com/hybridmem/mcp-memory/internal/memory"
)

// ErrTimeout indicates a cache operation exceeded its per-call deadline.
var ErrTimeout = errors.New("cache operation timed out")

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 100

// Config holds the cache manager's TTL policy and limits.
type Config struct {
	// L1TTL is the hot tier TTL. Default 24h.
	L1TTL time.Duration
	// L2TTL is the warm tier TTL. Default 7d.
	L2TTL time.Duration
	// SearchTTL bounds cached search results. Default 5m.
	SearchTTL time.Duration
	// FrequentAccessThreshold is the access count at which a memory is
	// promoted to L1 on its next write. Default 3.
	FrequentAccessThreshold int
	// OperationTimeout is the per-call deadline. Default 5s.
	OperationTimeout time.Duration
	// StatsTimeout is the deadline for Stats, which SCANs the keyspace.
	// Default 10s.
	StatsTimeout time.Duration
	// MaxSize caps how many memories optimize passes will load.
	MaxSize int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		L1TTL:                   24 * time.Hour,
		L2TTL:                   7 * 24 * time.Hour,
		SearchTTL:               5 * time.Minute,
		FrequentAccessThreshold: 3,
		OperationTimeout:        5 * time.Second,
		StatsTimeout:            10 * time.Second,
		MaxSize:                 1000,
	}
}

// MetricsRecorder receives cache events. Implementations must be safe for
// concurrent use.
type MetricsRecorder interface {
	RecordHit(ctx context.Context)
	RecordMiss(ctx context.Context)
	RecordEviction(ctx context.Context, reason string)
}

type noopRecorder struct{}

func (noopRecorder) RecordHit(context.Context)              {}
func (noopRecorder) RecordMiss(context.Context)             {}
func (noopRecorder) RecordEviction(context.Context, string) {}

// Manager is the two-tier cache manager. All methods are safe for concurrent
// callers.
type Manager struct {
	hot     hotstore.Client
	cfg     Config
	logger  *slog.Logger
	metrics MetricsRecorder

	// fetches deduplicates concurrent in-flight GetMemory calls per id.
	fetches singleflight.Group

	// True hit/miss counters, kept alongside the legacy hit-rate heuristic.
	hits   atomic.Int64
	misses atomic.Int64

	// bg tracks background keyword indexers.
	bg sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig sets the cache configuration.
func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec MetricsRecorder) Option {
	return func(m *Manager) { m.metrics = rec }
}

// NewManager builds a cache manager over the given hot store.
func NewManager(hot hotstore.Client, opts ...Option) *Manager {
	m := &Manager{
		hot:     hot,
		cfg:     DefaultConfig(),
		logger:  slog.Default(),
		metrics: noopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.OperationTimeout <= 0 {
		m.cfg.OperationTimeout = DefaultConfig().OperationTimeout
	}
	if m.cfg.StatsTimeout <= 0 {
		m.cfg.StatsTimeout = DefaultConfig().StatsTimeout
	}
	return m
}

// L1TTL exposes the hot tier TTL for callers placing high-priority writes.
func (m *Manager) L1TTL() time.Duration { return m.cfg.L1TTL }

// L2TTL exposes the warm tier TTL.
func (m *Manager) L2TTL() time.Duration { return m.cfg.L2TTL }

// opCtx derives the per-call deadline context.
func (m *Manager) opCtx(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

// timeoutErr converts a deadline expiry into ErrTimeout so callers see the
// cache taxonomy rather than raw context errors.
func timeoutErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

// GetMemory returns the cached memory for id, or nil when absent. A hit
// atomically increments the access counter. Concurrent calls for the same id
// are deduplicated: the second caller receives the first caller's result.
func (m *Manager) GetMemory(ctx context.Context, id string) (*memory.Memory, error) {
	v, err, _ := m.fetches.Do("get:"+id, func() (interface{}, error) {
		// The in-flight fetch runs on its own deadline so that one caller's
		// cancellation does not poison joined callers.
		opCtx, cancel := m.opCtx(context.Background(), m.cfg.OperationTimeout)
		defer cancel()
		return m.getMemory(opCtx, id)
	})
	if err != nil {
		return nil, timeoutErr(err)
	}
	if ctx.Err() != nil {
		return nil, timeoutErr(ctx.Err())
	}
	if v == nil {
		return nil, nil
	}
	return v.(*memory.Memory), nil
}

func (m *Manager) getMemory(ctx context.Context, id string) (*memory.Memory, error) {
	raw, ok, err := m.hot.Get(ctx, memoryKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		m.misses.Add(1)
		m.metrics.RecordMiss(ctx)
		return nil, nil
	}

	var mem memory.Memory
	if err := json.Unmarshal([]byte(raw), &mem); err != nil {
		m.logger.Warn("dropping undecodable cached memory", logging.MemoryID(id), logging.Err(err))
		_ = m.hot.Del(ctx, memoryKey(id))
		m.misses.Add(1)
		m.metrics.RecordMiss(ctx)
		return nil, nil
	}

	// Atomic hash-field increment; never a read-modify-write.
	if _, err := m.hot.HashIncrBy(ctx, metadataKey, accessField(id), 1); err != nil {
		m.logger.Debug("access counter update failed", logging.MemoryID(id), logging.Err(err))
	}

	m.hits.Add(1)
	m.metrics.RecordHit(ctx)
	mem.Source = memory.SourceHot
	return &mem, nil
}

// PutMemory writes a memory to the cache. A zero ttl selects the tier from
// the current access count: counters at or above the frequent-access
// threshold earn L1, everything else lands in L2. Keyword indexing is
// scheduled in the background and is best-effort.
func (m *Manager) PutMemory(ctx context.Context, id string, mem memory.Memory, ttl time.Duration) error {
	opCtx, cancel := m.opCtx(ctx, m.cfg.OperationTimeout)
	defer cancel()

	if ttl == 0 {
		ttl = m.placementTTL(opCtx, id)
	}

	// Transient read-side fields are never persisted.
	record := mem
	record.Source = ""
	record.RelevanceScore = 0

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := m.hot.SetWithTTL(opCtx, memoryKey(id), string(data), ttl); err != nil {
		return timeoutErr(err)
	}

	// Create the counter on first insert without disturbing existing values.
	if _, err := m.hot.HashIncrBy(opCtx, metadataKey, accessField(id), 0); err != nil {
		m.logger.Debug("access counter init failed", logging.MemoryID(id), logging.Err(err))
	}

	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		bgCtx, bgCancel := context.WithTimeout(context.Background(), m.cfg.OperationTimeout)
		defer bgCancel()
		m.indexKeywords(bgCtx, id, mem.Content)
	}()

	return nil
}

// placementTTL implements the access-driven promotion rule.
func (m *Manager) placementTTL(ctx context.Context, id string) time.Duration {
	val, ok, err := m.hot.HashGet(ctx, metadataKey, accessField(id))
	if err != nil || !ok {
		return m.cfg.L2TTL
	}
	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return m.cfg.L2TTL
	}
	if count >= int64(m.cfg.FrequentAccessThreshold) {
		return m.cfg.L1TTL
	}
	return m.cfg.L2TTL
}

// indexKeywords maintains the inverted index and the per-memory reverse set.
// Failures are logged and swallowed; the index is rebuilt by any subsequent
// PutMemory.
func (m *Manager) indexKeywords(ctx context.Context, id, content string) {
	words := memory.Keywords(content)
	if len(words) == 0 {
		return
	}
	if err := m.hot.SetAdd(ctx, memoryKeywordsKey(id), words...); err != nil {
		m.logger.Debug("keyword reverse-set write failed", logging.MemoryID(id), logging.Err(err))
		return
	}
	for _, w := range words {
		if err := m.hot.SetAdd(ctx, keywordKey(w), id); err != nil {
			m.logger.Debug("keyword index write failed", logging.MemoryID(id), logging.Err(err))
		}
	}
}

// WaitBackground blocks until in-flight background indexers finish. Used at
// shutdown and by tests that need a settled index.
func (m *Manager) WaitBackground() {
	m.bg.Wait()
}

// DeleteMemory removes the memory record, its access counter, its reverse
// keyword set, and each keyword-index membership in one pipeline. A crash
// mid-pipeline leaves stale index members that resolve to misses and are
// rebuilt by later writes.
func (m *Manager) DeleteMemory(ctx context.Context, id string) error {
	opCtx, cancel := m.opCtx(ctx, m.cfg.OperationTimeout)
	defer cancel()

	words, err := m.hot.SetMembers(opCtx, memoryKeywordsKey(id))
	if err != nil {
		m.logger.Debug("keyword reverse-set read failed, removing record only",
			logging.MemoryID(id), logging.Err(err))
	}

	err = m.hot.Pipelined(opCtx, func(p redis.Pipeliner) error {
		p.Del(opCtx, memoryKey(id), memoryKeywordsKey(id))
		p.HDel(opCtx, metadataKey, accessField(id))
		for _, w := range words {
			p.SRem(opCtx, keywordKey(w), id)
		}
		return nil
	})
	if err != nil {
		return timeoutErr(err)
	}

	m.metrics.RecordEviction(opCtx, "delete")
	return nil
}

// CacheSearch materializes a search result list under the (query, limit) key
// for the search TTL.
func (m *Manager) CacheSearch(ctx context.Context, query string, limit int, results []memory.Memory) error {
	opCtx, cancel := m.opCtx(ctx, m.cfg.OperationTimeout)
	defer cancel()

	data, err := json.Marshal(results)
	if err != nil {
		return err
	}
	return timeoutErr(m.hot.SetWithTTL(opCtx, searchCacheKey(query, limit), string(data), m.cfg.SearchTTL))
}

// GetCachedSearch returns the cached result list for (query, limit), if any.
func (m *Manager) GetCachedSearch(ctx context.Context, query string, limit int) ([]memory.Memory, bool, error) {
	opCtx, cancel := m.opCtx(ctx, m.cfg.OperationTimeout)
	defer cancel()

	raw, ok, err := m.hot.Get(opCtx, searchCacheKey(query, limit))
	if err != nil {
		return nil, false, timeoutErr(err)
	}
	if !ok {
		return nil, false, nil
	}
	var results []memory.Memory
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		return nil, false, nil
	}
	return results, true, nil
}

// InvalidateSearchCache SCAN-deletes every search:* key.
func (m *Manager) InvalidateSearchCache(ctx context.Context) error {
	opCtx, cancel := m.opCtx(ctx, m.cfg.OperationTimeout)
	defer cancel()

	keys, err := m.hot.ScanAll(opCtx, searchPrefix+"*", scanBatch)
	if err != nil {
		return timeoutErr(err)
	}
	return timeoutErr(m.deleteChunked(opCtx, keys))
}

// SearchKeywords runs the cache-side search: tokenize the query, collect
// keyword-index memberships, score each id by matched token count, and
// hydrate the top entries. Results carry source "hot" and a relevance score.
func (m *Manager) SearchKeywords(ctx context.Context, query string, limit int) ([]memory.Memory, error) {
	opCtx, cancel := m.opCtx(ctx, m.cfg.OperationTimeout)
	defer cancel()

	tokens := memory.Keywords(query)
	if len(tokens) == 0 || limit <= 0 {
		return nil, nil
	}

	scores := make(map[string]int)
	for _, tok := range tokens {
		ids, err := m.hot.SetMembers(opCtx, keywordKey(tok))
		if err != nil {
			return nil, timeoutErr(err)
		}
		for _, id := range ids {
			scores[id]++
		}
	}
	if len(scores) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > limit {
		ids = ids[:limit]
	}

	hydrated, err := m.BatchGet(opCtx, ids)
	if err != nil {
		return nil, err
	}
	for i := range hydrated {
		hydrated[i].Source = memory.SourceHot
		hydrated[i].RelevanceScore = float64(scores[hydrated[i].ID])
	}
	return hydrated, nil
}

// Clear wipes every cache-owned key: memory records, keyword indices, search
// results, and the access-counter hash. Used by forced cache refreshes.
func (m *Manager) Clear(ctx context.Context) error {
	opCtx, cancel := m.opCtx(ctx, m.cfg.StatsTimeout)
	defer cancel()

	for _, pattern := range []string{memoryPrefix + "*", keywordPrefix + "*", searchPrefix + "*"} {
		keys, err := m.hot.ScanAll(opCtx, pattern, scanBatch)
		if err != nil {
			return timeoutErr(err)
		}
		if err := m.deleteChunked(opCtx, keys); err != nil {
			return timeoutErr(err)
		}
	}
	return timeoutErr(m.hot.Del(opCtx, metadataKey))
}
