// Package engine is the hybrid caching and async processing core. It routes
// every memory operation through the two-tier cache, the cloud store, and
// the event bus, and degrades gracefully as either side becomes unavailable.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hybridmem/mcp-memory/internal/bus"
	"github.com/hybridmem/mcp-memory/internal/cache"
	"github.com/hybridmem/mcp-memory/internal/cloud"
	"github.com/hybridmem/mcp-memory/internal/config"
	"github.com/hybridmem/mcp-memory/internal/hotstore"
	"github.com/hybridmem/mcp-memory/internal/logging"
	"github.com/hybridmem/mcp-memory/internal/memory"
)

// defaultWriteWorkers bounds concurrent async cloud writes.
const defaultWriteWorkers = 16

// pendingDrainAge is how long a pending memory may sit before the sync
// worker republishes it for processing.
const pendingDrainAge = 60 * time.Second

// invalidateEvent is the payload of cache:invalidate messages.
type invalidateEvent struct {
	MemoryID  string `json:"memoryId"`
	Operation string `json:"operation"`
}

// processEvent is the payload of memory:process messages.
type processEvent struct {
	MemoryID string `json:"memoryId"`
	UserID   string `json:"userId"`
	Priority string `json:"priority"`
}

// pendingMemory is a memory awaiting background re-indexing.
type pendingMemory struct {
	ID         string
	UserID     string
	Priority   memory.Priority
	EnqueuedAt time.Time
}

// Engine coordinates the cache manager, the cloud store, and the bus.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	hot   hotstore.Client // nil when no hot store is configured
	cache *cache.Manager  // nil when no hot store is configured
	cloud cloud.Store
	bus   *bus.Bus  // nil when pub/sub is disabled
	jobs  *bus.Jobs // nil when pub/sub is disabled

	// cloudRemote distinguishes a real cloud credential from the demo
	// substitute. The operation paths never branch on it; only mode
	// reporting does.
	cloudRemote bool

	writeSem chan struct{}

	pendingMu sync.Mutex
	pending   map[string]pendingMemory

	clock func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithHotStore wires the hot store and its cache manager.
func WithHotStore(hot hotstore.Client, mgr *cache.Manager) Option {
	return func(e *Engine) {
		e.hot = hot
		e.cache = mgr
	}
}

// WithCloud wires the cloud store. remote is true for a credentialed HTTP
// client and false for the demo substitute.
func WithCloud(store cloud.Store, remote bool) Option {
	return func(e *Engine) {
		e.cloud = store
		e.cloudRemote = remote
	}
}

// WithBus wires the event bus and the job registry.
func WithBus(b *bus.Bus, jobs *bus.Jobs) Option {
	return func(e *Engine) {
		e.bus = b
		e.jobs = jobs
	}
}

// WithWriteWorkers overrides the async write pool size.
func WithWriteWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.writeSem = make(chan struct{}, n)
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

// New builds an engine. A nil cloud store selects the demo substitute so
// that write operations always produce a response.
func New(cfg config.Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		logger:   slog.Default(),
		writeSem: make(chan struct{}, defaultWriteWorkers),
		pending:  make(map[string]pendingMemory),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cloud == nil {
		e.cloud = cloud.NewDemoStore()
		e.cloudRemote = false
	}
	return e
}

// Start subscribes the engine's event handlers. Call once before serving.
func (e *Engine) Start(ctx context.Context) error {
	if e.bus == nil {
		return nil
	}
	if err := e.bus.Subscribe(ctx, bus.ChannelCacheInvalidate, e.onInvalidate); err != nil {
		return err
	}
	return e.bus.Subscribe(ctx, bus.ChannelMemoryProcess, e.onProcess)
}

// Close releases engine resources. The bus, cache, and hot store are owned
// by the caller that constructed them.
func (e *Engine) Close() {
	if e.cache != nil {
		e.cache.WaitBackground()
	}
}

// cacheReady reports whether the hot path is usable right now.
func (e *Engine) cacheReady() bool {
	return e.cache != nil && e.hot != nil && e.hot.Connected()
}

// asyncReady reports whether the async pipeline can accept work: pub/sub
// must be live, otherwise writes run synchronously.
func (e *Engine) asyncReady() bool {
	return e.jobs != nil && e.cacheReady()
}

// Mode reports the engine's operating mode. A configured override wins;
// otherwise the mode is derived from live health signals.
func (e *Engine) Mode() string {
	if e.cfg.Mode != "" {
		return e.cfg.Mode
	}
	hot := e.cacheReady()
	switch {
	case hot && e.cloudRemote:
		return config.ModeHybrid
	case hot:
		return config.ModeHotOnly
	case e.cloudRemote:
		return config.ModeCloudOnly
	default:
		return config.ModeDemo
	}
}

// Status is the sync_status snapshot.
type Status struct {
	Mode            string `json:"mode"`
	HotConnected    bool   `json:"hot_connected"`
	CloudConnected  bool   `json:"cloud_connected"`
	ActiveJobs      int    `json:"active_jobs"`
	PendingMemories int    `json:"pending_memories"`
}

// SyncStatus reports the engine's operational posture.
func (e *Engine) SyncStatus(ctx context.Context) Status {
	st := Status{
		Mode:         e.Mode(),
		HotConnected: e.hot != nil && e.hot.Connected(),
	}
	if e.cloud != nil {
		st.CloudConnected = e.cloud.Healthy(ctx)
	}
	if e.jobs != nil {
		st.ActiveJobs = e.jobs.Pending()
	}
	st.PendingMemories = e.pendingCount()
	return st
}

// onInvalidate evicts a memory from every tier and clears the search cache.
// Idempotent: a second event for an already-evicted id is a no-op.
func (e *Engine) onInvalidate(_, payload string) {
	var ev invalidateEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil || ev.MemoryID == "" {
		e.logger.Warn("dropping malformed invalidation event", logging.Err(err))
		return
	}
	if !e.cacheReady() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Cache.OperationTimeout)
	defer cancel()

	if err := e.cache.DeleteMemory(ctx, ev.MemoryID); err != nil {
		e.logger.Warn("invalidation eviction failed",
			logging.MemoryID(ev.MemoryID), logging.Err(err))
	}
	if err := e.cache.InvalidateSearchCache(ctx); err != nil {
		e.logger.Warn("search cache invalidation failed", logging.Err(err))
	}
}

// onProcess re-fetches a memory from the cloud and re-caches it at the TTL
// its priority earns.
func (e *Engine) onProcess(_, payload string) {
	var ev processEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil || ev.MemoryID == "" {
		e.logger.Warn("dropping malformed process event", logging.Err(err))
		return
	}
	if !e.cacheReady() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Cache.OperationTimeout)
	defer cancel()

	mem, err := e.cloud.Get(ctx, ev.UserID, ev.MemoryID)
	if err != nil {
		e.logger.Warn("process re-fetch failed",
			logging.MemoryID(ev.MemoryID), logging.Err(err))
		return
	}

	ttl := time.Duration(0)
	if memory.Priority(ev.Priority) == memory.PriorityHigh {
		ttl = e.cache.L1TTL()
	}
	if err := e.cache.PutMemory(ctx, mem.ID, *mem, ttl); err != nil {
		e.logger.Warn("process re-cache failed",
			logging.MemoryID(mem.ID), logging.Err(err))
	}
	e.removePending(ev.MemoryID)
}

// enqueuePending records a memory for background re-indexing.
func (e *Engine) enqueuePending(id, userID string, priority memory.Priority) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	e.pending[id] = pendingMemory{
		ID:         id,
		UserID:     userID,
		Priority:   priority,
		EnqueuedAt: e.clock(),
	}
}

func (e *Engine) removePending(id string) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	delete(e.pending, id)
}

func (e *Engine) pendingCount() int {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	return len(e.pending)
}

// stalePending returns pending entries older than the drain age.
func (e *Engine) stalePending() []pendingMemory {
	cutoff := e.clock().Add(-pendingDrainAge)
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()

	var stale []pendingMemory
	for _, p := range e.pending {
		if p.EnqueuedAt.Before(cutoff) {
			stale = append(stale, p)
		}
	}
	return stale
}

// userOrDefault substitutes the configured partition when a call omits one.
func (e *Engine) userOrDefault(userID string) string {
	if userID != "" {
		return userID
	}
	return e.cfg.Cloud.UserID
}
