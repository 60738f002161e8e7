// Package server wires the engine and its dependencies into a single
// lifecycle-managed context consumed by the MCP tool handlers and the
// transport layer.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hybridmem/mcp-memory/internal/config"
	"github.com/hybridmem/mcp-memory/internal/engine"
	"github.com/hybridmem/mcp-memory/internal/instrumentation"
)

// DefaultShutdownTimeout bounds graceful HTTP server shutdown.
const DefaultShutdownTimeout = 30 * time.Second

// Validation errors returned by NewServerContext.
var (
	ErrMissingEngine = errors.New("server context requires an engine")
	ErrMissingConfig = errors.New("server context requires a config")
)

// ServerContext encapsulates the dependencies needed by the MCP server and
// manages their lifecycle.
type ServerContext struct {
	engine  *engine.Engine
	config  *config.Config
	logger  *slog.Logger
	metrics *instrumentation.Metrics

	// closers release resources the context owns (hot store connections,
	// the bus), last-registered first.
	closers []func() error

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	shutdown bool
}

// Option customizes a ServerContext during construction.
type Option func(*ServerContext) error

// WithEngine sets the memory engine.
func WithEngine(e *engine.Engine) Option {
	return func(sc *ServerContext) error {
		if e == nil {
			return ErrMissingEngine
		}
		sc.engine = e
		return nil
	}
}

// WithConfig sets the configuration.
func WithConfig(cfg *config.Config) Option {
	return func(sc *ServerContext) error {
		if cfg == nil {
			return ErrMissingConfig
		}
		sc.config = cfg
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(sc *ServerContext) error {
		sc.logger = logger
		return nil
	}
}

// WithMetrics sets the Prometheus metric set. Optional: tool handlers skip
// recording when absent.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(sc *ServerContext) error {
		sc.metrics = m
		return nil
	}
}

// WithCloser registers a cleanup function invoked on Shutdown. Closers run
// in reverse registration order.
func WithCloser(fn func() error) Option {
	return func(sc *ServerContext) error {
		sc.closers = append(sc.closers, fn)
		return nil
	}
}

// NewServerContext builds a ServerContext from the given options.
func NewServerContext(ctx context.Context, opts ...Option) (*ServerContext, error) {
	serverCtx, cancel := context.WithCancel(ctx)

	sc := &ServerContext{
		logger: slog.Default(),
		ctx:    serverCtx,
		cancel: cancel,
	}
	for _, opt := range opts {
		if err := opt(sc); err != nil {
			cancel()
			return nil, err
		}
	}
	if err := sc.validate(); err != nil {
		cancel()
		return nil, err
	}
	return sc, nil
}

func (sc *ServerContext) validate() error {
	if sc.engine == nil {
		return ErrMissingEngine
	}
	if sc.config == nil {
		return ErrMissingConfig
	}
	return nil
}

// Context returns the server's lifecycle context.
func (sc *ServerContext) Context() context.Context {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.ctx
}

// Engine returns the memory engine.
func (sc *ServerContext) Engine() *engine.Engine {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.engine
}

// Config returns the configuration.
func (sc *ServerContext) Config() *config.Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config
}

// Logger returns the logger.
func (sc *ServerContext) Logger() *slog.Logger {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.logger
}

// Metrics returns the metric set, or nil when instrumentation is disabled.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.metrics
}

// IsShutdown reports whether Shutdown has run.
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown cancels the lifecycle context and releases owned resources.
// Idempotent.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	if sc.shutdown {
		sc.mu.Unlock()
		return nil
	}
	sc.shutdown = true
	closers := sc.closers
	sc.closers = nil
	sc.mu.Unlock()

	sc.logger.Info("shutting down server context")
	sc.cancel()
	sc.engine.Close()

	var err error
	for i := len(closers) - 1; i >= 0; i-- {
		if cerr := closers[i](); cerr != nil && err == nil {
			err = cerr
		}
	}
	sc.logger.Info("server context shutdown complete")
	return err
}
