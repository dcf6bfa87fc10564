// Package app wires configuration into the long-lived services of one crawl:
// logger, progress hub and sinks, storage, fetcher, engine and the optional
// operator HTTP listener.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/catalog-crawler/internal/api"
	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	"github.com/JakeFAU/catalog-crawler/internal/progress/sinks"
	"github.com/JakeFAU/catalog-crawler/internal/storage"
	"github.com/JakeFAU/catalog-crawler/internal/storage/gcs"
	"github.com/JakeFAU/catalog-crawler/internal/storage/local"
	"github.com/JakeFAU/catalog-crawler/internal/storage/memory"
	"github.com/JakeFAU/catalog-crawler/internal/storage/postgres"
)

const shutdownTimeout = 5 * time.Second

// App holds the services for one crawl and owns their shutdown.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	status   *sinks.StatusSink
	hub      *progress.Hub
	sink     crawler.Sink
	engine   *crawler.Engine

	server   *http.Server
	listener net.Listener
	serveErr chan error

	closers []func() error
}

// Option customizes New.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	gcsOpts []option.ClientOption
}

// WithLogger replaces the logger built from cfg.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithGCSOptions passes client options to the GCS storage driver.
func WithGCSOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.gcsOpts = append(o.gcsOpts, opts...) }
}

// New validates cfg and builds every service. On error, anything already
// opened is closed again.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		status:   sinks.NewStatusSink(),
	}
	if err := a.registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}
	if err := a.registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}

	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	progressSinks := []progress.Sink{a.status, promSink}
	if cfg.Progress.LogEvents {
		progressSinks = append(progressSinks, sinks.NewLogSink(logger.Named("progress")))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   cfg.Progress.MaxBatchWait(),
		SinkTimeout:    cfg.Progress.SinkTimeout(),
		Logger:         logger,
	}, progressSinks...)

	if err := a.build(ctx, o); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, o options) error {
	sink, err := a.openSink(ctx, o)
	if err != nil {
		return err
	}
	a.sink = sink

	// The engine scopes fetch events to the run through the crawl context.
	fetcher, err := collyfetcher.New(collyfetcher.Config{
		URLTemplate:       a.cfg.Crawler.URLTemplate,
		UserAgent:         a.cfg.Crawler.UserAgent,
		Timeout:           a.cfg.HTTP.Timeout(),
		MaxAttempts:       a.cfg.HTTP.MaxAttempts,
		BackoffInitial:    a.cfg.HTTP.BackoffInitial(),
		BackoffMax:        a.cfg.HTTP.BackoffMax(),
		RespectRobots:     a.cfg.Crawler.RespectRobots,
		RequestsPerSecond: a.cfg.Crawler.RequestsPerSecond,
		Burst:             a.cfg.Crawler.Burst,
	}, a.hub, a.logger.Named("fetcher"))
	if err != nil {
		return fmt.Errorf("init fetcher: %w", err)
	}

	a.engine, err = crawler.NewEngine(
		crawler.Config{Concurrency: a.cfg.Crawler.Concurrency},
		fetcher,
		a.sink,
		a.hub,
		system.New(),
		uuid.New(),
		a.logger.Named("crawler"),
	)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	if a.cfg.Metrics.Enabled {
		server, err := api.NewServer(a.status, a.registry, a.registry, a.logger.Named("api"))
		if err != nil {
			return fmt.Errorf("init api server: %w", err)
		}
		listener, err := net.Listen("tcp", a.cfg.Metrics.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", a.cfg.Metrics.Addr, err)
		}
		a.listener = listener
		a.server = &http.Server{
			Handler:           server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return nil
}

func (a *App) openSink(ctx context.Context, o options) (crawler.Sink, error) {
	storageCfg := a.cfg.Storage
	a.logger.Info("opening record sink", zap.String("driver", storageCfg.Driver))
	switch storageCfg.Driver {
	case config.DriverMemory:
		return memory.NewRecordStore(), nil
	case config.DriverPostgres:
		store, err := postgres.NewRecordStore(ctx, postgres.RecordStoreConfig{
			DSN:      a.cfg.DB.DSN,
			Table:    a.cfg.DB.Table,
			MaxConns: a.cfg.DB.MaxConns,
			MinConns: a.cfg.DB.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		if a.cfg.DB.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("ensure schema: %w", err)
			}
		}
		return store, nil
	case config.DriverJSONL:
		lines, err := local.NewLinesSink(storageCfg.JSONLPath)
		if err != nil {
			return nil, fmt.Errorf("open jsonl sink: %w", err)
		}
		a.closers = append(a.closers, lines.Close)
		return lines, nil
	case config.DriverLocal:
		blobs, err := local.New(local.Config{BaseDir: storageCfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("open local blob store: %w", err)
		}
		return storage.NewSnapshotSink(blobs, storageCfg.Prefix, a.logger.Named("storage"))
	case config.DriverGCS:
		blobs, err := gcs.Open(ctx, gcs.Config{Bucket: storageCfg.GCSBucket}, o.gcsOpts...)
		if err != nil {
			return nil, fmt.Errorf("open gcs blob store: %w", err)
		}
		a.closers = append(a.closers, blobs.Close)
		return storage.NewSnapshotSink(blobs, storageCfg.Prefix, a.logger.Named("storage"))
	default:
		return nil, fmt.Errorf("unknown storage driver %q", storageCfg.Driver)
	}
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Status returns the live crawl summary.
func (a *App) Status() sinks.Status {
	return a.status.Status()
}

// Sink returns the configured record sink.
func (a *App) Sink() crawler.Sink {
	return a.sink
}

// ServerAddr reports the operator listener address, or "" when disabled.
func (a *App) ServerAddr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Run starts the operator listener (if enabled) and crawls the catalog once.
func (a *App) Run(ctx context.Context) (crawler.Result, error) {
	if a.server != nil && a.serveErr == nil {
		serveErr := make(chan error, 1)
		server, listener := a.server, a.listener
		a.serveErr = serveErr
		a.logger.Info("operator listener started", zap.String("addr", listener.Addr().String()))
		go func() {
			if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
			close(serveErr)
		}()
	}
	result, err := a.engine.Run(ctx)
	if err != nil {
		return result, fmt.Errorf("run crawl: %w", err)
	}
	return result, nil
}

// Close stops the listener, flushes progress sinks and closes storage.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	switch {
	case a.serveErr != nil:
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown api server: %w", err))
		}
		cancel()
		if err := <-a.serveErr; err != nil {
			errs = append(errs, fmt.Errorf("serve api: %w", err))
		}
	case a.listener != nil:
		if err := a.listener.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close listener: %w", err))
		}
	}
	a.server, a.listener, a.serveErr = nil, nil, nil
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
