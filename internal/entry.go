// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/treeapp/internal/api"
	"github.com/starford/treeapp/internal/index"
	"github.com/starford/treeapp/internal/metrics"
	"github.com/starford/treeapp/internal/nodestore"
	"github.com/starford/treeapp/internal/sse"
	"github.com/starford/treeapp/internal/storage"
	"github.com/starford/treeapp/internal/treeservice"
	"github.com/starford/treeapp/internal/workspace"
)

// NewLogger returns a JSON logger writing to w at the given level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// App holds the wired components. Close releases them.
type App struct {
	Config  *Config
	Logger  *slog.Logger
	Store   *nodestore.Store
	Index   *index.DB
	Broker  *sse.Broker
	Metrics *metrics.Recorder
	Service *treeservice.Service

	// fs is set only for the fs driver; it backs the external-change watcher.
	fs *storage.FS
}

// Open builds the storage provider, node store, search index, event broker
// and service described by the options, and brings the index up to date.
// The workspace is not initialized.
func Open(ctx context.Context, opts ...Option) (*App, error) {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}

	cfg := app.config
	logger := app.logger
	if logger == nil {
		logger = NewLogger(os.Stdout, cfg.App.LogLevel)
	}

	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New()}

	var provider storage.Provider
	switch cfg.Store.Driver {
	case StoreDriverS3:
		s3p, err := storage.NewS3(ctx, cfg.Store.S3.provider())
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		provider = s3p
	default:
		fsp, err := storage.NewFS(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		a.fs = fsp
		provider = fsp
	}

	store, err := nodestore.Open(provider,
		nodestore.WithLogger(logger),
		nodestore.WithObserver(a.Metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Store = store

	db, err := index.Open(cfg.Index.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}
	a.Index = db

	a.Broker = sse.NewBroker(cfg.Events.TreeThrottle)
	ws := workspace.New(store, a.Broker, logger)
	a.Service = treeservice.NewService(store, db, ws, a.Broker, logger)

	if err := a.Service.RebuildIndex(ctx); err != nil {
		logger.Warn("initial index rebuild failed", slog.String("error", err.Error()))
	}

	logger.Debug("Application opened",
		slog.String("store", store.Location()),
		slog.String("index_path", cfg.Index.Path),
		slog.Int("nodes", store.CountNodes()))

	return a, nil
}

// Close stops the broker and closes the index.
func (a *App) Close() error {
	a.Broker.Close()
	return a.Index.Close()
}

// Handler builds the HTTP handler: health checks, Prometheus metrics and
// the REST API with its SSE stream under /api.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if a.Store.RootID() == "" {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"needs_init"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Handle("/metrics", a.Metrics.Handler())

	r.Mount("/api", api.NewRouter(a.Service, a.Config.Auth.AuthEnabled(), a.Config.Auth.Token, a.Broker))

	return r
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	a, err := Open(ctx, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	cfg := a.Config
	logger := a.Logger
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_driver", cfg.Store.Driver),
		slog.String("store", a.Store.Location()),
		slog.String("index_path", cfg.Index.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	res, err := a.Service.InitWorkspace(ctx)
	if err != nil {
		return fmt.Errorf("init workspace: %w", err)
	}
	logger.Info("Workspace ready",
		slog.String("root_id", res.RootID),
		slog.Bool("created_new", res.CreatedNew))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gCtx := errgroup.WithContext(runCtx)

	// Watch the data file for writes by other processes.
	if a.fs != nil {
		g.Go(func() error {
			if err := index.WatchDocument(gCtx, a.fs.Location(), a.fs.LastWriteSum, logger, a.Service.ExternalChange); err != nil {
				logger.Warn("document watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")
		stop()
		// Open SSE streams end when the broker closes.
		a.Broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
