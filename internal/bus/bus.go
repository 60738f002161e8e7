// Package bus carries cross-component events: cache invalidations, async
// write hand-offs, and job completions. Events travel over the hot store's
// pub/sub when it is reachable and fall back to in-process dispatch when it
// is not, so a hot-store outage degrades delivery scope (other instances
// stop hearing events) without stopping the local pipeline.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hybridmem/mcp-memory/internal/hotstore"
	"github.com/hybridmem/mcp-memory/internal/logging"
)

// Well-known channels. The names are contractual across service instances.
const (
	// ChannelCacheInvalidate announces that cached entries for a memory id
	// must be dropped.
	ChannelCacheInvalidate = "cache:invalidate"
	// ChannelMemoryProcess hands a queued write to the async pipeline.
	ChannelMemoryProcess = "memory:process"
	// ChannelJobComplete resolves a pending job.
	ChannelJobComplete = "job:complete"
)

// remoteRetryInterval paces re-subscription attempts after a failed remote
// subscribe. It matches the hot store's liveness probe cadence.
const remoteRetryInterval = 2 * time.Second

// Handler receives bus events.
type Handler func(channel, payload string)

// registration is one subscribed handler. remote reports whether a live
// hot-store subscription carries it; until then Publish covers it locally.
type registration struct {
	fn     Handler
	remote bool
}

// Bus is the event bus. Safe for concurrent use.
type Bus struct {
	hot    hotstore.Client
	logger *slog.Logger

	mu       sync.RWMutex
	local    map[string][]*registration
	cancels  []func()
	closed   bool
	stop     chan struct{}
	dispatch sync.WaitGroup
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// New builds a bus. hot may be nil, in which case all delivery is local.
func New(hot hotstore.Client, opts ...Option) *Bus {
	b := &Bus{
		hot:    hot,
		logger: slog.Default(),
		local:  make(map[string][]*registration),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for a channel. Each published event reaches
// the handler exactly once: over the hot store's pub/sub once a remote
// subscription is attached, through local dispatch until then. A remote
// attach that fails (hot store down at subscription time) is retried in the
// background until it succeeds or the bus closes.
func (b *Bus) Subscribe(ctx context.Context, channel string, handler Handler) error {
	reg := &registration{fn: handler}
	b.mu.Lock()
	b.local[channel] = append(b.local[channel], reg)
	b.mu.Unlock()

	if b.hot == nil {
		return nil
	}

	if err := b.attachRemote(ctx, channel, reg); err != nil {
		b.logger.Warn("remote subscription failed, retrying in background",
			logging.Channel(channel), logging.Err(err))
		b.dispatch.Add(1)
		go b.retryRemote(ctx, channel, reg)
	}
	return nil
}

// attachRemote establishes the hot-store subscription for one registration
// and marks it remote-carried.
func (b *Bus) attachRemote(ctx context.Context, channel string, reg *registration) error {
	cancel, err := b.hot.Subscribe(ctx, channel, hotstore.Handler(reg.fn))
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		return nil
	}
	reg.remote = true
	b.cancels = append(b.cancels, cancel)
	b.mu.Unlock()
	return nil
}

// retryRemote keeps attempting the remote attach for a handler whose initial
// subscribe failed. While it runs, Publish delivers to the handler locally,
// so a reconnected hot store never strands the subscriber.
func (b *Bus) retryRemote(ctx context.Context, channel string, reg *registration) {
	defer b.dispatch.Done()

	ticker := time.NewTicker(remoteRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stop:
			return
		case <-ticker.C:
		}
		if !b.hot.Connected() {
			continue
		}
		if err := b.attachRemote(ctx, channel, reg); err == nil {
			b.logger.Info("remote subscription established", logging.Channel(channel))
			return
		}
	}
}

// Publish delivers a payload on a channel. While the hot store is connected
// the event goes over its pub/sub; handlers whose remote subscription is not
// attached (or not yet re-attached after an outage) are dispatched locally
// so no subscriber misses the event. Without the hot store every handler is
// dispatched locally in its own goroutine.
func (b *Bus) Publish(ctx context.Context, channel, payload string) error {
	if b.hot != nil && b.hot.Connected() {
		if err := b.hot.Publish(ctx, channel, payload); err == nil {
			b.dispatchLocal(channel, payload, false)
			return nil
		} else {
			b.logger.Warn("remote publish failed, dispatching locally",
				logging.Channel(channel), logging.Err(err))
		}
	}
	b.dispatchLocal(channel, payload, true)
	return nil
}

// dispatchLocal fires handlers for a channel in their own goroutines. With
// includeRemote false, handlers already carried by a live remote
// subscription are skipped: the hot store delivers to those.
func (b *Bus) dispatchLocal(channel, payload string, includeRemote bool) {
	b.mu.RLock()
	var handlers []Handler
	for _, reg := range b.local[channel] {
		if includeRemote || !reg.remote {
			handlers = append(handlers, reg.fn)
		}
	}
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return
	}
	for _, h := range handlers {
		h := h
		b.dispatch.Add(1)
		go func() {
			defer b.dispatch.Done()
			h(channel, payload)
		}()
	}
}

// Close cancels remote subscriptions, stops attach retries, and waits for
// in-flight local dispatches.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.stop)
	cancels := b.cancels
	b.cancels = nil
	b.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	b.dispatch.Wait()
}
