// Package app initializes and holds the long-lived services of the
// progress engine, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	gcps "cloud.google.com/go/pubsub"

	"github.com/jroyal/phasetrack/internal/api"
	"github.com/jroyal/phasetrack/internal/assets"
	"github.com/jroyal/phasetrack/internal/clock/system"
	"github.com/jroyal/phasetrack/internal/config"
	"github.com/jroyal/phasetrack/internal/logging"
	"github.com/jroyal/phasetrack/internal/phase"
	pubmem "github.com/jroyal/phasetrack/internal/publisher/memory"
	pubgcp "github.com/jroyal/phasetrack/internal/publisher/pubsub"
	"github.com/jroyal/phasetrack/internal/report"
	"github.com/jroyal/phasetrack/internal/report/sinks"
	"github.com/jroyal/phasetrack/internal/runner"
	"github.com/jroyal/phasetrack/internal/storage/gcs"
	"github.com/jroyal/phasetrack/internal/storage/local"
	"github.com/jroyal/phasetrack/internal/storage/memory"
	"github.com/jroyal/phasetrack/internal/storage/postgres"
	"github.com/jroyal/phasetrack/internal/store"
	"github.com/jroyal/phasetrack/internal/telemetry"
)

const serviceName = "phasetrack"

// App holds the shared, long-lived services. It is initialized once at
// startup and passed to the commands that need it.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Registry  *prometheus.Registry
	Manager   *phase.Manager
	Repo      store.RunRepository
	Blobs     assets.BlobStore
	Loadings  map[phase.Phase]*assets.Loading
	Hub       *report.Hub
	Publisher runner.Publisher
	Runner    *runner.Runner
	Server    *api.Server

	closers []func(context.Context) error
}

// New builds the full service graph from configuration. It fails fast
// when any critical service cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
		Loadings: make(map[phase.Phase]*assets.Loading),
	}

	tp, err := telemetry.InitTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, tp.Shutdown)

	if err := a.initRepo(ctx, cfg); err != nil {
		return nil, err
	}
	if err := a.initBlobs(ctx, cfg); err != nil {
		return nil, err
	}
	if err := a.initPublisher(ctx, cfg); err != nil {
		return nil, err
	}
	if err := a.initEngine(ctx, cfg); err != nil {
		return nil, err
	}

	a.Server = api.NewServer(a.Manager, a.Repo, a.Registry, cfg, logger)
	logger.Info("application services initialized",
		zap.String("db_provider", cfg.DB.Provider),
		zap.String("assets_provider", cfg.Assets.Provider),
		zap.Bool("pubsub_enabled", cfg.PubSub.Enabled),
	)
	return a, nil
}

func (a *App) initRepo(ctx context.Context, cfg config.Config) error {
	switch cfg.DB.Provider {
	case "postgres":
		repo, err := postgres.NewRunStore(ctx, cfg.DB.DSN)
		if err != nil {
			return fmt.Errorf("init postgres run store: %w", err)
		}
		a.Repo = repo
		a.closers = append(a.closers, func(context.Context) error {
			repo.Close()
			return nil
		})
	case "memory":
		a.Repo = memory.NewRunStore()
	default:
		return fmt.Errorf("unknown db.provider %q", cfg.DB.Provider)
	}
	return nil
}

func (a *App) initBlobs(ctx context.Context, cfg config.Config) error {
	switch cfg.Assets.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		blobs, err := gcs.New(client, gcs.Config{Bucket: cfg.Assets.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs blob store: %w", err)
		}
		a.Blobs = blobs
		a.closers = append(a.closers, func(context.Context) error {
			return client.Close()
		})
	case "local":
		blobs, err := local.New(local.Config{BaseDir: cfg.Assets.BaseDir})
		if err != nil {
			return fmt.Errorf("init local blob store: %w", err)
		}
		a.Blobs = blobs
	case "memory":
		a.Blobs = memory.NewBlobStore()
	default:
		return fmt.Errorf("unknown assets.provider %q", cfg.Assets.Provider)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context, cfg config.Config) error {
	if !cfg.PubSub.Enabled {
		a.Publisher = pubmem.New()
		return nil
	}
	client, err := gcps.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	pub := pubgcp.New(client)
	a.Publisher = pub
	a.closers = append(a.closers, func(context.Context) error {
		return pub.Close()
	})
	return nil
}

func (a *App) initEngine(ctx context.Context, cfg config.Config) error {
	phaseConfigs := make([]phase.Config, 0, len(cfg.Phases))
	for _, p := range cfg.Phases {
		phaseConfigs = append(phaseConfigs, phase.Config{
			Phase:       phase.Phase(p.Name),
			NextPhase:   phase.Phase(p.NextPhase),
			TrackAssets: p.TrackAssets,
		})
	}
	manager, err := phase.NewManager(a.Logger, phaseConfigs...)
	if err != nil {
		return fmt.Errorf("build phase manager: %w", err)
	}
	a.Manager = manager

	promSink, err := sinks.NewPrometheusSink(a.Registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	a.Hub = report.NewHub(report.Config{
		BufferSize:    cfg.Report.BufferSize,
		FlushCount:    cfg.Report.FlushCount,
		FlushInterval: cfg.FlushInterval(),
		SinkTimeout:   cfg.SinkTimeout(),
		Logger:        a.Logger,
	},
		sinks.NewLogSink(a.Logger),
		promSink,
		sinks.NewStoreSink(a.Repo, a.Logger),
	)

	a.Runner = runner.New(manager, a.Hub, a.Publisher, system.New(), runner.Config{
		Tick:         cfg.Tick(),
		Concurrency:  cfg.Runner.Concurrency,
		InitialPhase: phase.Phase(cfg.Runner.InitialPhase),
		Topic:        cfg.PubSub.TopicName,
	}, a.Logger)

	for _, p := range cfg.Phases {
		if !p.TrackAssets || len(p.Assets) == 0 {
			continue
		}
		loading := assets.NewLoading(a.Blobs, a.Logger)
		loading.Enqueue(ctx, p.Assets...)
		a.Loadings[phase.Phase(p.Name)] = loading
		if err := a.Runner.Register(phase.Phase(p.Name), loading.Task()); err != nil {
			return fmt.Errorf("register asset task for %q: %w", p.Name, err)
		}
	}
	return nil
}

// Close gracefully shuts down the services in reverse construction
// order, flushing the event hub first so no snapshot is lost.
func (a *App) Close(ctx context.Context) {
	if a.Hub != nil {
		if err := a.Hub.Close(ctx); err != nil {
			a.Logger.Warn("close report hub", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.Logger.Warn("close service", zap.Error(err))
		}
	}
	// Best-effort flush; stderr sync failures are expected on some
	// platforms.
	_ = a.Logger.Sync()
}
