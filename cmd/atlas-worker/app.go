package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/formbricks/atlas/internal/components"
	"github.com/formbricks/atlas/internal/config"
	"github.com/formbricks/atlas/internal/jobs"
	"github.com/formbricks/atlas/internal/observability"
	"github.com/formbricks/atlas/internal/repository"
	"github.com/formbricks/atlas/internal/workers"
	"github.com/formbricks/atlas/pkg/database"
)

const serviceName = "atlas-worker"

var errWorkerNeedsPostgres = errors.New("the atlas worker requires STORE_DRIVER=postgres")

// App holds the worker dependencies and coordinates startup and shutdown.
type App struct {
	cfg            *config.Config
	db             *pgxpool.Pool
	river          *river.Client[pgx.Tx]
	scheduler      *workers.RefreshScheduler
	metricsServer  *http.Server
	meterProvider  observability.MeterProviderShutdown
	tracerProvider *sdktrace.TracerProvider
}

// NewApp migrates (when enabled), connects and wires every component. It does not start River
// or the scheduler; call Run for that.
func NewApp(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	if cfg.StoreDriver != config.StoreDriverPostgres {
		return nil, errWorkerNeedsPostgres
	}

	a := &App{cfg: cfg}

	// Release whatever was already created when a later step fails.
	defer func() {
		if err != nil {
			_ = a.release(context.Background())
		}
	}()

	a.tracerProvider, err = observability.NewTracerProvider(ctx, observability.TracingConfig{
		Exporter:    cfg.TracesExporter,
		SampleRatio: cfg.TraceSampleRatio,
		ServiceName: serviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}

	if a.tracerProvider == nil {
		slog.Warn("tracing not enabled (OTEL_TRACES_EXPORTER empty or unset)")
	}

	// Install TraceContextHandler unconditionally so owner_id and job_id appear in logs.
	slog.SetDefault(slog.New(observability.NewTraceContextHandler(slog.Default().Handler())))

	var metrics observability.AtlasMetrics

	if cfg.MetricsAddr == "" {
		slog.Warn("metrics not enabled (METRICS_ADDR empty)")
	} else {
		var handler http.Handler

		a.meterProvider, handler, metrics, err = observability.NewMeterProvider(ctx, observability.MeterProviderConfig{
			ServiceName: serviceName,
		})
		if err != nil {
			return nil, fmt.Errorf("create meter provider: %w", err)
		}

		a.metricsServer = newMetricsServer(cfg.MetricsAddr, handler)
	}

	if cfg.AutoMigrate {
		if err = repository.Migrate(ctx, cfg.DatabaseURL); err != nil {
			return nil, err
		}

		slog.Info("atlas schema applied")
	}

	a.db, err = database.NewPostgresPool(ctx, cfg.DatabaseURL,
		database.WithVectorTypes(),
		database.WithMaxConns(int32(min(cfg.DatabaseMaxConns, 1<<16))), //nolint:gosec // bounded above
	)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.AutoMigrate {
		if err = migrateRiver(ctx, a.db); err != nil {
			return nil, err
		}
	}

	store := repository.NewStore(a.db)

	comps, err := components.New(cfg, store, metrics, slog.Default())
	if err != nil {
		return nil, err
	}

	var jobMetrics observability.JobMetrics
	if metrics != nil {
		jobMetrics = metrics
	}

	projectWorker := workers.NewProjectOwnerWorker(comps.Projector, nil, jobMetrics, cfg.JobTimeout)

	riverWorkers := river.NewWorkers()
	river.AddWorker(riverWorkers, projectWorker)
	river.AddWorker(riverWorkers, workers.NewLayoutSatellitesWorker(comps.Builder, comps.Resolver, jobMetrics, cfg.JobTimeout))
	river.AddWorker(riverWorkers, workers.NewComputeSimilarityWorker(comps.Similarity, store, jobMetrics, cfg.JobTimeout))
	river.AddWorker(riverWorkers, workers.NewRegenerateClustersWorker(comps.Clusters, jobMetrics, cfg.JobTimeout))

	a.river, err = river.NewClient(riverpgxv5.New(a.db), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.RiverWorkers},
		},
		Workers:      riverWorkers,
		ErrorHandler: &jobs.ErrorHandler{},
		JobTimeout:   cfg.JobTimeout,
		MaxAttempts:  cfg.RiverMaxAttempts,
		Logger:       slog.Default(),
	})
	if err != nil {
		return nil, fmt.Errorf("create River client: %w", err)
	}

	inserter := jobs.NewRiverJobInserter(a.river, cfg.RiverMaxAttempts, jobMetrics)
	projectWorker.SetInserter(inserter)

	a.scheduler = workers.NewRefreshScheduler(store, inserter, cfg.SchedulerPollInterval, cfg.SchedulerBatchSize)

	slog.Info("atlas worker configured",
		"river_workers", cfg.RiverWorkers,
		"max_attempts", cfg.RiverMaxAttempts,
		"job_timeout", cfg.JobTimeout,
		"label_provider", cfg.LabelProvider,
	)

	return a, nil
}

// migrateRiver applies River's own schema so a fresh database can run the worker.
func migrateRiver(ctx context.Context, db *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(db), nil)
	if err != nil {
		return fmt.Errorf("create River migrator: %w", err)
	}

	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("migrate River schema: %w", err)
	}

	slog.Info("River schema applied", "versions", len(res.Versions))

	return nil
}

func newMetricsServer(addr string, handler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", handler)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	const (
		readTimeout  = 5 * time.Second
		writeTimeout = 10 * time.Second
	)

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
}

// Run starts River, the scheduler and the metrics endpoint, then blocks until ctx is cancelled
// or a component fails. Caller should then call Shutdown.
func (a *App) Run(ctx context.Context) error {
	runErr := make(chan error, 1)

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	fail := func(err error) {
		select {
		case runErr <- err:
		default:
		}
	}

	if err := a.river.Start(workCtx); err != nil {
		return fmt.Errorf("river: %w", err)
	}

	go a.scheduler.Start(workCtx)

	if a.metricsServer != nil {
		go func() {
			slog.Info("Serving metrics", "addr", a.metricsServer.Addr)

			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fail(fmt.Errorf("metrics server: %w", err))
			}
		}()
	}

	select {
	case err := <-runErr:
		return err
	case <-ctx.Done():
		return nil
	}
}

// Shutdown stops River (waiting for in-flight jobs), the metrics endpoint and the telemetry
// providers, then closes the pool.
func (a *App) Shutdown(ctx context.Context) error {
	var first error

	if err := a.river.Stop(ctx); err != nil {
		first = fmt.Errorf("river stop: %w", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil && first == nil {
			first = fmt.Errorf("metrics server shutdown: %w", err)
		}
	}

	if err := a.release(ctx); err != nil && first == nil {
		first = err
	}

	return first
}

// release shuts down telemetry and closes the pool. Secondary errors are logged.
func (a *App) release(ctx context.Context) error {
	var first error

	if err := observability.ShutdownTracerProvider(ctx, a.tracerProvider); err != nil {
		first = err
	}

	if a.meterProvider != nil {
		if err := a.meterProvider.Shutdown(ctx); err != nil {
			if first == nil {
				first = fmt.Errorf("meter provider shutdown: %w", err)
			} else {
				slog.Error("shutdown meter provider", "error", err)
			}
		}
	}

	if a.db != nil {
		a.db.Close()
	}

	return first
}
