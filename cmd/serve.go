package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hybridmem/mcp-memory/internal/bus"
	"github.com/hybridmem/mcp-memory/internal/cache"
	"github.com/hybridmem/mcp-memory/internal/cloud"
	"github.com/hybridmem/mcp-memory/internal/config"
	"github.com/hybridmem/mcp-memory/internal/engine"
	"github.com/hybridmem/mcp-memory/internal/hotstore"
	"github.com/hybridmem/mcp-memory/internal/instrumentation"
	"github.com/hybridmem/mcp-memory/internal/server"
	"github.com/hybridmem/mcp-memory/internal/tools/cachetool"
	"github.com/hybridmem/mcp-memory/internal/tools/memorytool"
)

// Transport type constants for the MCP server.
const (
	transportStdio          = "stdio"
	transportStreamableHTTP = "streamable-http"
)

// ServeConfig carries the command-line options into runServe.
type ServeConfig struct {
	Transport    string
	HTTPAddr     string
	HTTPEndpoint string
	DebugMode    bool

	HotStoreURL string
	UserID      string
	Mode        string
	DisableSync bool
}

// newServeCmd creates the Cobra command for starting the MCP server.
func newServeCmd() *cobra.Command {
	var sc ServeConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP memory server",
		Long: `Start the MCP memory server to provide memory storage and retrieval
tools via the Model Context Protocol.

Supports multiple transport types:
  - stdio: Standard input/output (default)
  - streamable-http: Streamable HTTP transport with health and metrics endpoints

Operating modes:
  - hybrid (default): cloud store as source of truth, hot store as cache
  - demo: no credentials required, memories live in process memory
The mode is derived from configuration: set MEMORY_API_KEY for the cloud
store and HOT_STORE_URL for the cache, or force a mode with --mode.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			if cmd.Flags().Changed("hot-store-url") {
				cfg.HotStore.URL = sc.HotStoreURL
			}
			if cmd.Flags().Changed("user-id") {
				cfg.Cloud.UserID = sc.UserID
			}
			if cmd.Flags().Changed("mode") {
				cfg.Mode = sc.Mode
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runServe(sc, cfg)
		},
	}

	cmd.Flags().BoolVar(&sc.DebugMode, "debug", false, "Enable debug logging (default: false)")

	// Transport flags
	cmd.Flags().StringVar(&sc.Transport, "transport", transportStdio, "Transport type: stdio or streamable-http")
	cmd.Flags().StringVar(&sc.HTTPAddr, "http-addr", ":8080", "HTTP server address (for streamable-http transport)")
	cmd.Flags().StringVar(&sc.HTTPEndpoint, "http-endpoint", "/mcp", "HTTP endpoint path (for streamable-http transport)")

	// Store flags
	cmd.Flags().StringVar(&sc.HotStoreURL, "hot-store-url", "", "Hot store connection URL (can also be set via HOT_STORE_URL env var)")
	cmd.Flags().StringVar(&sc.UserID, "user-id", "", "Default user partition (can also be set via MEMORY_USER_ID env var)")
	cmd.Flags().StringVar(&sc.Mode, "mode", "", "Force operating mode: hybrid, hotOnly, cloudOnly, or demo (can also be set via MEMORY_MODE env var)")
	cmd.Flags().BoolVar(&sc.DisableSync, "disable-sync", false, "Disable the background sync worker (default: false)")

	return cmd
}

// runServe contains the main server logic with support for multiple transports.
func runServe(sc ServeConfig, cfg *config.Config) error {
	// Logs go to stderr: stdout belongs to the MCP protocol in stdio mode.
	logLevel := slog.LevelInfo
	if sc.DebugMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	// Setup graceful shutdown - listen for both SIGINT and SIGTERM
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metrics := instrumentation.New()

	engineOpts := []engine.Option{engine.WithLogger(logger)}
	serverOpts := []server.Option{
		server.WithConfig(cfg),
		server.WithLogger(logger),
		server.WithMetrics(metrics),
	}

	// Hot store is optional: without it the engine runs cache-less and every
	// read goes to the cloud store.
	if cfg.HotStore.URL != "" {
		hot, err := hotstore.New(cfg.HotStore.URL, hotstore.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to create hot store client: %w", err)
		}
		serverOpts = append(serverOpts, server.WithCloser(hot.Close))

		mgr := cache.NewManager(hot,
			cache.WithConfig(cache.Config{
				L1TTL:                   cfg.Cache.L1TTL,
				L2TTL:                   cfg.Cache.L2TTL,
				SearchTTL:               cfg.Cache.SearchTTL,
				FrequentAccessThreshold: cfg.Cache.FrequentAccessThreshold,
				OperationTimeout:        cfg.Cache.OperationTimeout,
				MaxSize:                 cfg.Cache.MaxSize,
			}),
			cache.WithLogger(logger),
			cache.WithMetrics(metrics),
		)
		engineOpts = append(engineOpts, engine.WithHotStore(hot, mgr))

		b := bus.New(hot, bus.WithLogger(logger))
		serverOpts = append(serverOpts, server.WithCloser(func() error {
			b.Close()
			return nil
		}))
		jobs, err := bus.NewJobs(shutdownCtx, b,
			bus.WithJobTimeout(cfg.Async.JobTimeout),
			bus.WithMaxPending(cfg.Async.MaxPendingJobs),
			bus.WithJobsLogger(logger),
		)
		if err != nil {
			return fmt.Errorf("failed to create job registry: %w", err)
		}
		engineOpts = append(engineOpts, engine.WithBus(b, jobs))
		metrics.RegisterPendingJobs(jobs.Pending)
	}

	// Without credentials the engine falls back to the in-process demo store.
	if cfg.Cloud.APIKey != "" {
		cloudClient, err := cloud.NewHTTPClient(cfg.Cloud.BaseURL, cfg.Cloud.APIKey,
			cloud.WithHTTPLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to create cloud client: %w", err)
		}
		engineOpts = append(engineOpts, engine.WithCloud(cloudClient, true))
	} else {
		logger.Warn("no cloud API key configured, using in-process demo store")
	}

	eng := engine.New(*cfg, engineOpts...)
	if err := eng.Start(shutdownCtx); err != nil {
		return fmt.Errorf("failed to start memory engine: %w", err)
	}

	if !sc.DisableSync {
		go eng.RunSync(shutdownCtx)
	}

	serverOpts = append(serverOpts, server.WithEngine(eng))
	serverContext, err := server.NewServerContext(shutdownCtx, serverOpts...)
	if err != nil {
		return fmt.Errorf("failed to create server context: %w", err)
	}
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			// Only log shutdown errors for non-stdio transports to avoid
			// interfering with MCP output.
			if sc.Transport != transportStdio {
				logger.Error("error during server context shutdown", "error", err)
			}
		}
	}()

	// Create MCP server
	mcpSrv := mcpserver.NewMCPServer("mcp-memory", rootCmd.Version,
		mcpserver.WithToolCapabilities(true),
	)

	if err := memorytool.RegisterMemoryTools(mcpSrv, serverContext); err != nil {
		return fmt.Errorf("failed to register memory tools: %w", err)
	}
	if err := cachetool.RegisterCacheTools(mcpSrv, serverContext); err != nil {
		return fmt.Errorf("failed to register cache tools: %w", err)
	}

	logger.Info("memory engine started", "mode", eng.Mode(), "transport", sc.Transport)

	var runErr error
	switch sc.Transport {
	case transportStdio:
		// Don't print startup messages to stdout for stdio mode as it
		// interferes with MCP communication.
		runErr = runStdioServer(mcpSrv)
	case transportStreamableHTTP:
		runErr = runStreamableHTTPServer(mcpSrv, sc.HTTPAddr, sc.HTTPEndpoint, shutdownCtx, logger, serverContext, metrics)
	default:
		return fmt.Errorf("unsupported transport type: %s (supported: stdio, streamable-http)", sc.Transport)
	}
	if runErr != nil {
		return runErr
	}

	// Conventional exit status when a signal stopped the server. Shutdown is
	// idempotent, so running it here before exiting is safe alongside the
	// deferred call.
	if shutdownCtx.Err() != nil {
		if err := serverContext.Shutdown(); err != nil && sc.Transport != transportStdio {
			logger.Error("error during server context shutdown", "error", err)
		}
		os.Exit(130)
	}
	return nil
}
