// Package server builds the worker's dependency graph and runs it.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/offline-catalog-worker/internal/api"
	"github.com/JakeFAU/offline-catalog-worker/internal/bridge"
	"github.com/JakeFAU/offline-catalog-worker/internal/cache"
	"github.com/JakeFAU/offline-catalog-worker/internal/catalog"
	"github.com/JakeFAU/offline-catalog-worker/internal/clock/system"
	"github.com/JakeFAU/offline-catalog-worker/internal/config"
	"github.com/JakeFAU/offline-catalog-worker/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/offline-catalog-worker/internal/fetcher/colly"
	"github.com/JakeFAU/offline-catalog-worker/internal/fetcher/network"
	"github.com/JakeFAU/offline-catalog-worker/internal/id/uuid"
	"github.com/JakeFAU/offline-catalog-worker/internal/lifecycle"
	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
	"github.com/JakeFAU/offline-catalog-worker/internal/policy/ratelimit"
	"github.com/JakeFAU/offline-catalog-worker/internal/policy/simple"
	"github.com/JakeFAU/offline-catalog-worker/internal/prefetch"
	memorypublisher "github.com/JakeFAU/offline-catalog-worker/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/offline-catalog-worker/internal/publisher/pubsub"
	"github.com/JakeFAU/offline-catalog-worker/internal/queue"
	"github.com/JakeFAU/offline-catalog-worker/internal/router"
	"github.com/JakeFAU/offline-catalog-worker/internal/sessions"
	gcsstorage "github.com/JakeFAU/offline-catalog-worker/internal/storage/gcs"
	localstorage "github.com/JakeFAU/offline-catalog-worker/internal/storage/local"
	memorystorage "github.com/JakeFAU/offline-catalog-worker/internal/storage/memory"
	pgstore "github.com/JakeFAU/offline-catalog-worker/internal/storage/postgres"
	sqlitestorage "github.com/JakeFAU/offline-catalog-worker/internal/storage/sqlite"
	"github.com/JakeFAU/offline-catalog-worker/internal/strategy"
	"github.com/JakeFAU/offline-catalog-worker/internal/surface"
	"github.com/JakeFAU/offline-catalog-worker/internal/trigger"
)

const publisherSource = "offlineworker"

// App contains the worker's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	group      *lifecycle.Group
	tiers      *cache.Manager
	queue      *queue.Store
	sessions   *sessions.Hub
	surface    *surface.Surface
	dispatch   *dispatcher.Dispatcher
	bridge     *bridge.Bridge
	trigger    *trigger.Trigger
	installer  *prefetch.Installer
	apiServer  *api.Server
	httpClient *network.Fetcher

	sqliteDBs       map[string]*sql.DB
	pgQueue         *pgstore.QueueStore
	storage         *storage.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
}

// Build creates the worker's dependencies. On error every resource opened so
// far is released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:       cfg,
		logger:    logger,
		group:     lifecycle.New(logger),
		sqliteDBs: make(map[string]*sql.DB),
	}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
		}
	}()

	logger.Info("building application dependencies",
		zap.String("origin", cfg.Scope()),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("queue_backend", cfg.Queue.Backend),
	)

	tierBackend, err := app.setupTiers(ctx)
	if err != nil {
		return nil, err
	}
	queueBackend, err := app.setupQueue(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	ids := uuid.New()
	scope := cfg.Scope()
	offlineDoc := cfg.Resolve(cfg.Origin.OfflineDocument)
	placeholder := cfg.Resolve(cfg.Origin.Placeholder)
	catalogURL := cfg.Resolve(cfg.Origin.CatalogPath)

	app.httpClient = network.New(network.Config{
		Timeout:   cfg.HTTPTimeout(),
		UserAgent: cfg.HTTP.UserAgent,
		Scope:     scope,
	})
	app.tiers = cache.NewManager(tierBackend, cache.TierConfig{
		Prefix:  cfg.Cache.Prefix,
		Version: cfg.Cache.Version,
	}, logger.Named("cache"))
	engine := strategy.New(app.tiers, app.httpClient, app.group, clock, logger,
		strategy.WithWriteTimeout(time.Duration(cfg.Cache.WriteTimeoutSeconds)*time.Second))
	app.queue = queue.New(queueBackend, clock, ids, logger)

	var launcher sessions.Launcher
	if cfg.Notifications.LaunchWebhook != "" {
		launcher = sessions.WebhookLauncher(app.httpClient, cfg.Notifications.LaunchWebhook)
		logger.Info("session launcher webhook configured", zap.String("endpoint", cfg.Notifications.LaunchWebhook))
	}
	app.sessions = sessions.NewHub(sessions.Config{
		Scope:      scope,
		BufferSize: cfg.Notifications.SessionBuffer,
	}, ids, launcher, logger)
	app.surface = surface.New(clock, logger)

	loader := catalog.NewLoader(app.tiers, app.httpClient, catalogURL, logger)
	app.dispatch = dispatcher.New(app.queue, app.surface, app.sessions, loader, clock, dispatcher.Config{
		AppName:         cfg.Notifications.AppName,
		Placeholder:     placeholder,
		Scope:           scope,
		DeepLinkPattern: cfg.Notifications.DeepLinkPattern,
		Allowed:         cfg.Notifications.AllowedCategories,
		Excluded:        cfg.Notifications.ExcludedCategories,
		BodyLimit:       cfg.Notifications.BodyLimit,
		Topic:           cfg.PubSub.EventTopic,
		Backoff: dispatcher.Backoff{
			BaseDelay: time.Duration(cfg.Queue.BackoffBaseSeconds) * time.Second,
			MaxDelay:  time.Duration(cfg.Queue.BackoffMaxSeconds) * time.Second,
		},
	}, logger, dispatcher.WithPublisher(publisher))

	app.bridge = bridge.New(app.queue, app.dispatch, app.tiers, app.sessions, app.surface, app.group,
		bridge.Config{AppName: cfg.Notifications.AppName}, logger)
	app.trigger = trigger.New(app.dispatch, app.group, trigger.Config{
		Tag:      cfg.Trigger.Tag,
		Interval: time.Duration(cfg.Trigger.IntervalSeconds) * time.Second,
	}, logger)

	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.HTTP.UserAgent,
		Timeout:     cfg.HTTPTimeout(),
		MaxBodySize: cfg.Prefetch.MaxBodyBytes,
		Scope:       scope,
	})
	var limiter prefetch.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.DefaultRPS,
			DefaultBurst: cfg.RateLimit.DefaultBurst,
			Hosts:        cfg.RateLimit.Hosts,
		})
		logger.Info("rate limiter enabled",
			zap.Float64("default_rps", cfg.RateLimit.DefaultRPS),
			zap.Int("default_burst", cfg.RateLimit.DefaultBurst),
		)
	} else {
		limiter = simple.New()
		logger.Info("rate limiter disabled, using simple policy")
	}
	prefetcher := prefetch.New(app.tiers, probe, engine, limiter, prefetch.Config{
		Scope:       scope,
		CatalogURL:  catalogURL,
		Concurrency: cfg.Prefetch.Concurrency,
	}, logger)
	app.installer = prefetch.NewInstaller(app.tiers, app.tiers, app.httpClient, engine, prefetcher,
		prefetch.ShellSet(scope, offlineDoc, placeholder), app.tiers.Config().Names(), logger)
	logger.Info("prefetcher configured", zap.Int("concurrency", cfg.Prefetch.Concurrency))

	rt := router.New(router.DefaultRoutes(offlineDoc, placeholder), engine, app.httpClient, logger)
	app.apiServer = api.NewServer(api.Deps{
		Bridge:        app.bridge,
		Notifications: app.surface,
		Trigger:       app.trigger,
		Sessions:      app.sessions,
		Router:        rt,
		Installer:     app.installer,
		Ready:         app.ready,
	}, api.Config{
		Origin:       scope,
		MaxBodyBytes: int64(cfg.Server.MaxBodyBytes),
	}, logger)

	return app, nil
}

func (a *App) setupTiers(ctx context.Context) (offline.TierBackend, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := a.gcsClient(ctx)
		if err != nil {
			return nil, err
		}
		backend, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.GCSPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs tier store init failed: %w", err)
		}
		a.logger.Info("using GCS tier backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return backend, nil
	case "sqlite":
		db, err := a.sqliteDB(ctx, a.cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.logger.Info("using SQLite tier backend", zap.String("path", a.cfg.Storage.SQLitePath))
		return sqlitestorage.NewTierStore(db), nil
	case "local":
		backend, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local tier store init failed: %w", err)
		}
		a.logger.Info("using local tier backend", zap.String("path", a.cfg.Storage.LocalDir))
		return backend, nil
	default:
		a.logger.Info("using in-memory tier backend")
		return memorystorage.NewTierStore(), nil
	}
}

func (a *App) setupQueue(ctx context.Context) (offline.QueueBackend, error) {
	switch a.cfg.Queue.Backend {
	case "postgres":
		pg := a.cfg.Queue.Postgres
		store, err := pgstore.NewQueueStore(ctx, pgstore.QueueStoreConfig{
			DSN:             pg.DSN,
			Table:           pg.Table,
			MaxConns:        pg.MaxConns,
			MinConns:        pg.MinConns,
			MaxConnLifetime: pg.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres queue store init failed: %w", err)
		}
		a.pgQueue = store
		a.logger.Info("using Postgres queue backend", zap.String("table", pg.Table))
		return store, nil
	case "sqlite":
		db, err := a.sqliteDB(ctx, a.cfg.Queue.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.logger.Info("using SQLite queue backend", zap.String("path", a.cfg.Queue.SQLitePath))
		return sqlitestorage.NewQueueStore(db), nil
	default:
		a.logger.Warn("using in-memory queue backend; queued notifications do not survive restarts")
		return memorystorage.NewQueueStore(), nil
	}
}

// sqliteDB opens each database file once so tiers and queue can share it.
func (a *App) sqliteDB(ctx context.Context, path string) (*sql.DB, error) {
	if db, ok := a.sqliteDBs[path]; ok {
		return db, nil
	}
	db, err := sqlitestorage.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open failed: %w", err)
	}
	a.sqliteDBs[path] = db
	return db, nil
}

func (a *App) gcsClient(ctx context.Context) (*storage.Client, error) {
	if a.storage != nil {
		return a.storage, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client init failed: %w", err)
	}
	a.storage = client
	return client, nil
}

func (a *App) setupPublisher(ctx context.Context) (offline.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubPublisher = a.pubsubClient.Publisher(a.cfg.PubSub.TopicName)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(a.pubsubPublisher, publisherSource), nil
}

// ready checks that both stores answer.
func (a *App) ready(ctx context.Context) error {
	if _, err := a.tiers.Names(ctx); err != nil {
		return fmt.Errorf("tier backend: %w", err)
	}
	if _, err := a.queue.NextUnsent(ctx); err != nil {
		return fmt.Errorf("queue backend: %w", err)
	}
	return nil
}

// Tiers exposes the cache tier manager.
func (a *App) Tiers() *cache.Manager {
	return a.tiers
}

// Queue exposes the notification queue.
func (a *App) Queue() *queue.Store {
	return a.queue
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Install runs the install phase followed by activation.
func (a *App) Install(ctx context.Context) (prefetch.InstallReport, []string, error) {
	report, err := a.installer.Install(ctx)
	if err != nil {
		return report, nil, fmt.Errorf("install: %w", err)
	}
	removed, err := a.installer.Activate(ctx)
	if err != nil {
		return report, removed, fmt.Errorf("activate: %w", err)
	}
	return report, removed, nil
}

// Run serves HTTP and drives the periodic trigger until ctx is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.logger.Info("application started")

	a.startInstall(ctx)

	triggerCtx, stopTrigger := context.WithCancel(ctx)
	defer stopTrigger()
	triggerDone := make(chan struct{})
	if a.cfg.Trigger.Enabled {
		go func() {
			defer close(triggerDone)
			a.trigger.Run(triggerCtx)
		}()
	} else {
		close(triggerDone)
		a.logger.Info("periodic trigger disabled")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	stopTrigger()
	<-triggerDone

	return a.Close(shutdownCtx)
}

// startInstall precaches in the background when configured; activation
// always runs so stale tiers are pruned at startup.
func (a *App) startInstall(ctx context.Context) {
	if !a.cfg.Prefetch.OnStart {
		if removed, err := a.installer.Activate(ctx); err != nil {
			a.logger.Warn("activate failed", zap.Error(err))
		} else {
			a.logger.Info("activated", zap.Strings("removed", removed))
		}
		return
	}
	a.group.Go("install", func() {
		report, removed, err := a.Install(ctx)
		if err != nil {
			a.logger.Warn("startup install failed", zap.Error(err))
			return
		}
		a.logger.Info("startup install complete",
			zap.Int("shell_stored", len(report.ShellStored)),
			zap.Int("shell_failed", len(report.ShellFailed)),
			zap.Int64("prefetched", report.Prefetch.Stored),
			zap.Strings("removed", removed),
		)
	})
}

// Close drains outstanding background work and releases every resource.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.group.Drain(ctx); err != nil {
		errs = append(errs, err)
		a.logger.Warn("lifecycle drain incomplete", zap.Error(err))
	}
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storage = nil
	}
	if a.pgQueue != nil {
		a.pgQueue.Close()
		a.pgQueue = nil
	}
	for path, db := range a.sqliteDBs {
		if err := db.Close(); err != nil {
			a.logger.Warn("sqlite close failed", zap.String("path", path), zap.Error(err))
		}
		delete(a.sqliteDBs, path)
	}
}
