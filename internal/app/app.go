// Package app wires the metastore, snapshot backend, lineage sources and the
// evolution service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"schemaevo/internal/config"
	internaldb "schemaevo/internal/db"
	"schemaevo/internal/db/badgerstore"
	"schemaevo/internal/db/repository"
	"schemaevo/internal/domain"
	"schemaevo/internal/extract"
	"schemaevo/internal/lineage"
	"schemaevo/internal/metrics"
	"schemaevo/internal/service/evolution"
	"schemaevo/internal/versioning"
)

// badgerGCSchedule and badgerGCDiscardRatio tune value log compaction of the
// badger backend.
const (
	badgerGCSchedule     = "@every 10m"
	badgerGCDiscardRatio = 0.5
)

// App holds the fully wired engine.
type App struct {
	Cfg       *config.Config
	Logger    *slog.Logger
	Pools     *internaldb.Pools
	Snapshots domain.SnapshotRepository
	Lineage   *repository.LineageRepo
	// LineageCache fronts Lineage for evaluations when LINEAGE_CACHE_TTL is
	// set, and is nil otherwise.
	LineageCache *lineage.CachingProvider
	Service      *evolution.Service
	Registry     *prometheus.Registry
	Metrics      *metrics.Metrics

	badger *badgerstore.Store
}

// New opens the metastore, applies migrations and builds the service.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pools, err := internaldb.OpenPools(cfg.MetaDBPath, 0)
	if err != nil {
		return nil, fmt.Errorf("open metastore: %w", err)
	}
	if err := internaldb.Migrate(ctx, pools.Write); err != nil {
		_ = pools.Close()
		return nil, fmt.Errorf("migrate metastore: %w", err)
	}

	a := &App{
		Cfg:      cfg,
		Logger:   logger,
		Pools:    pools,
		Lineage:  repository.NewLineageRepo(pools),
		Registry: prometheus.NewRegistry(),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	if cfg.UsesBadger() {
		store, err := badgerstore.Open(badgerstore.Config{
			Path:       cfg.BadgerPath,
			InMemory:   cfg.BadgerPath == "",
			SyncWrites: cfg.IsProduction(),
			Logger:     logger.With("component", "badger"),
		})
		if err != nil {
			_ = pools.Close()
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		a.badger = store
		a.Snapshots = store
	} else {
		a.Snapshots = repository.NewSnapshotRepo(pools)
	}

	var provider domain.LineageProvider = a.Lineage
	if cfg.LineageCacheTTL > 0 {
		a.LineageCache = lineage.NewCachingProvider(a.Lineage, cfg.LineageCacheTTL)
		provider = a.LineageCache
	}
	a.Service = evolution.NewService(evolution.Deps{
		Snapshots: a.Snapshots,
		Lineage:   provider,
		Datasets:  knownDatasets{lineage: a.Lineage, snapshots: a.Snapshots},
		Versions:  versioning.NewManager(a.Snapshots, cfg.InitialCloudVersion),
		Analyzer: lineage.NewAnalyzer(lineage.Options{
			MaxDepth:    cfg.ImpactMaxDepth,
			DampenAfter: cfg.ImpactDampenAfterHops,
		}, logger.With("component", "impact")),
		Metrics: a.Metrics,
		Logger:  logger.With("component", "evolution"),
		Config: evolution.Config{
			EvaluationTimeout:  cfg.EvaluationTimeout,
			RetryAfter:         cfg.ConcurrencyRetryAfter,
			BatchWorkers:       cfg.BatchWorkers,
			BatchRateLimit:     cfg.BatchRateLimitRPS,
			CloudVersionPrefix: cfg.CloudVersionPrefix,
		},
	})

	logger.Debug("engine ready", "backend", cfg.SnapshotBackend, "metastore", cfg.MetaDBPath)
	return a, nil
}

// NewScheduler builds the drift scheduler for the given manifests. With the
// badger backend it also schedules value log garbage collection.
func (a *App) NewScheduler(manifests []string) *evolution.Scheduler {
	sched := evolution.NewScheduler(a.Service, evolution.ManifestJobs(manifests),
		extract.DefaultRegistry(), a.Metrics, a.Logger.With("component", "scheduler"))
	if a.badger != nil {
		sched.AddMaintenance("badger-gc", badgerGCSchedule, func(context.Context) error {
			return a.badger.CollectGarbage(badgerGCDiscardRatio)
		})
	}
	return sched
}

// InvalidateLineage drops cached edges of datasetID after its lineage
// changed. An empty id drops the whole cache.
func (a *App) InvalidateLineage(datasetID string) {
	switch {
	case a.LineageCache == nil:
	case datasetID == "":
		a.LineageCache.InvalidateAll()
	default:
		a.LineageCache.Invalidate(datasetID)
	}
}

// knownDatasets treats a dataset as existing when lineage mentions it or it
// has snapshot history.
type knownDatasets struct {
	lineage   domain.DatasetExistence
	snapshots domain.SnapshotRepository
}

func (k knownDatasets) Exists(ctx context.Context, datasetID string) (bool, error) {
	ok, err := k.lineage.Exists(ctx, datasetID)
	if err != nil || ok {
		return ok, err
	}
	_, err = k.snapshots.Latest(ctx, datasetID)
	if err == nil {
		return true, nil
	}
	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, err
}

// Close releases the snapshot backend and the metastore.
func (a *App) Close() error {
	var errs []error
	if a.badger != nil {
		errs = append(errs, a.badger.Close())
	}
	errs = append(errs, a.Pools.Close())
	return errors.Join(errs...)
}
