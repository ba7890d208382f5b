package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/docsync/internal/config"
	"github.com/alexjbarnes/docsync/internal/engine"
	derrors "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/logging"
	"github.com/alexjbarnes/docsync/internal/mcpserver"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/alexjbarnes/docsync/internal/provider"
	"github.com/alexjbarnes/docsync/internal/queue"
	"github.com/alexjbarnes/docsync/internal/server"
	"github.com/alexjbarnes/docsync/internal/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("docsync starting",
		slog.String("version", Version),
		slog.String("queue_backend", cfg.QueueBackend),
		slog.Bool("folder_provider", cfg.FolderProviderDir != ""),
		slog.Bool("mcp", cfg.EnableMCP),
	)

	keys, err := cfg.ParseAPIKeys()
	if err != nil {
		return fmt.Errorf("parsing API keys: %w", err)
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath, err = config.DefaultDBPath()
		if err != nil {
			return err
		}
	}

	appState, err := state.LoadAt(dbPath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	backlog, closeBacklog, err := openBacklog(cfg)
	if err != nil {
		return err
	}
	defer closeBacklog()

	registry := provider.NewRegistry()

	var folder *provider.Folder

	if cfg.FolderProviderDir != "" {
		folder, err = provider.NewFolder(cfg.FolderProviderDir, logger)
		if err != nil {
			return fmt.Errorf("opening provider folder: %w", err)
		}

		if err := registry.Register(models.ProviderFolder, folder); err != nil {
			return err
		}

		logger.Info("local folder provider enabled", slog.String("dir", folder.Dir()))
	}

	svc := engine.New(appState, registry, engine.Config{
		Backlog:          backlog,
		Debounce:         cfg.Debounce,
		MaxRetries:       cfg.MaxRetries,
		ItemTimeout:      cfg.ItemTimeout,
		Priority:         cfg.DefaultPriority,
		RecoveryInterval: cfg.RecoveryInterval,
		DocTypes:         cfg.DocTypes,
	}, logger)
	defer svc.Close()

	if cfg.RulesFile != "" {
		n, err := svc.Rules().LoadRulesFile(cfg.RulesFile)
		if err != nil {
			return fmt.Errorf("loading rules file: %w", err)
		}

		logger.Info("coordination rules loaded", slog.Int("count", n))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svc.Run(gctx)
	})

	if folder != nil {
		g.Go(func() error {
			return runWatcher(gctx, svc, folder, logger)
		})
	}

	g.Go(func() error {
		return runHTTP(gctx, cfg, svc, keys, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("docsync stopped")

	return nil
}

// openBacklog returns the queue backlog selected by QUEUE_BACKEND and a
// function that releases it.
func openBacklog(cfg *config.Config) (queue.Backlog, func(), error) {
	switch cfg.QueueBackend {
	case "", "memory":
		return queue.NewMemoryBacklog(), func() {}, nil
	case "postgres":
		b, err := queue.NewPostgresBacklog(cfg.QueuePostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres backlog: %w", err)
		}

		return b, func() { b.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
}

// runWatcher reports external writes in the provider folder as cloud edits.
func runWatcher(ctx context.Context, svc *engine.Service, folder *provider.Folder, logger *slog.Logger) error {
	w := provider.NewWatcher(folder, func(ctx context.Context, e provider.Edit) {
		content := e.Content

		_, err := svc.CloudFileChanged(ctx, "", models.ProviderFolder, e.CloudFileID, &content, e.At)
		if errors.Is(err, derrors.ErrNotLinked) {
			return
		}

		if err != nil {
			logger.Warn("recording folder edit failed",
				slog.String("path", e.CloudFileID),
				slog.String("error", err.Error()),
			)
		}
	}, logger)

	return w.Watch(ctx)
}

// runHTTP serves webhooks, the status stream, and MCP until ctx is done.
func runHTTP(ctx context.Context, cfg *config.Config, svc *engine.Service, keys []config.APIKeyEntry, logger *slog.Logger) error {
	httpLogger := logger.With(slog.String("component", "http"))

	var mcpHandler http.Handler

	if cfg.EnableMCP {
		// One MCP server per tenant so every tool is bound to the caller's tenant.
		servers := make(map[string]*mcp.Server)

		for _, k := range keys {
			if _, ok := servers[k.TenantID]; ok {
				continue
			}

			s := mcp.NewServer(&mcp.Implementation{Name: "docsync", Version: Version}, nil)
			mcpserver.RegisterTools(s, svc, k.TenantID)
			servers[k.TenantID] = s
		}

		mcpHandler = mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
			return servers[server.RequestTenantID(r.Context())]
		}, nil)
	}

	if len(keys) == 0 {
		httpLogger.Warn("no API keys configured, every authenticated route will reject requests")
	}

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: server.NewMux(server.MuxConfig{
			Service:    svc,
			APIKeys:    keys,
			MCPHandler: mcpHandler,
			Logger:     httpLogger,
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	httpLogger.Info("HTTP server listening",
		slog.String("listen", cfg.ListenAddr),
		slog.Int("tenants", len(keys)),
	)

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		httpLogger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}
