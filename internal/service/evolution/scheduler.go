package evolution

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"schemaevo/internal/domain"
	"schemaevo/internal/extract"
	"schemaevo/internal/metrics"
)

// Job is a named set of sources re-evaluated together on a cron schedule.
type Job struct {
	Name     string
	Schedule string
	Sources  []extract.Source
}

// JobSource supplies the scheduled jobs.
type JobSource interface {
	Jobs(ctx context.Context) ([]Job, error)
}

// ManifestJobs reads one job per manifest file. The job is named after the
// file. Manifests without a schedule are skipped.
type ManifestJobs []string

// Jobs loads every manifest.
func (m ManifestJobs) Jobs(_ context.Context) ([]Job, error) {
	jobs := make([]Job, 0, len(m))
	for _, path := range m {
		man, err := extract.LoadManifest(path)
		if err != nil {
			return nil, err
		}
		if man.Schedule == "" {
			continue
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		jobs = append(jobs, Job{Name: name, Schedule: man.Schedule, Sources: man.Sources})
	}
	return jobs, nil
}

// MaintenanceFunc is a housekeeping task run on its own schedule.
type MaintenanceFunc func(ctx context.Context) error

type maintenance struct {
	name     string
	schedule string
	fn       MaintenanceFunc
}

// Scheduler periodically extracts registered sources and evaluates them as a
// batch.
type Scheduler struct {
	cron     *cron.Cron
	svc      *Service
	jobs     JobSource
	registry extract.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu          sync.Mutex
	entries     map[string]cron.EntryID // job name → cron entry
	maintenance []maintenance
}

// NewScheduler creates a Scheduler.
func NewScheduler(svc *Service, jobs JobSource, registry extract.Registry, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		cron:     cron.New(),
		svc:      svc,
		jobs:     jobs,
		registry: registry,
		metrics:  m,
		logger:   logger,
		entries:  make(map[string]cron.EntryID),
	}
}

// AddMaintenance registers a housekeeping task. It takes effect on the next
// Start or Reload.
func (s *Scheduler) AddMaintenance(name, schedule string, fn MaintenanceFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maintenance = append(s.maintenance, maintenance{name: name, schedule: schedule, fn: fn})
}

// Start loads all jobs and starts the cron scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	err := s.loadSchedules(ctx)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("drift scheduler started")
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("drift scheduler stopped")
}

// Reload clears all cron entries and reloads the jobs.
func (s *Scheduler) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.entries {
		s.cron.Remove(id)
	}
	s.entries = make(map[string]cron.EntryID)

	return s.loadSchedules(ctx)
}

// Entries returns the number of scheduled entries.
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) loadSchedules(ctx context.Context) error {
	jobs, err := s.jobs.Jobs(ctx)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		entryID, err := s.cron.AddFunc(job.Schedule, func() {
			if _, err := s.RunJob(context.Background(), job); err != nil {
				s.logger.Warn("scheduled drift check failed", "job", job.Name, "error", err)
			}
		})
		if err != nil {
			s.logger.Warn("invalid cron schedule", "job", job.Name, "schedule", job.Schedule, "error", err)
			continue
		}
		s.entries[job.Name] = entryID
		s.logger.Info("scheduled drift check", "job", job.Name, "schedule", job.Schedule, "sources", len(job.Sources))
	}

	for _, m := range s.maintenance {
		entryID, err := s.cron.AddFunc(m.schedule, func() {
			result := "ok"
			if err := m.fn(context.Background()); err != nil {
				result = "failed"
				s.logger.Warn("maintenance task failed", "task", m.name, "error", err)
			}
			s.metrics.ScheduledCheck(m.name, result)
		})
		if err != nil {
			s.logger.Warn("invalid cron schedule", "task", m.name, "schedule", m.schedule, "error", err)
			continue
		}
		s.entries["maintenance:"+m.name] = entryID
	}
	return nil
}

// RunJob extracts every source of job and evaluates the schemas as one batch.
// Extraction failures are reported per dataset next to evaluation failures.
func (s *Scheduler) RunJob(ctx context.Context, job Job) (*BatchReport, error) {
	var (
		items           []BatchItem
		extractFailures []BatchResult
	)
	for _, src := range job.Sources {
		schema, err := s.extract(ctx, src)
		if err != nil {
			s.logger.Warn("schema extraction failed", "job", job.Name, "dataset", src.DatasetID, "error", err)
			s.metrics.BatchFailure(ErrorKind(err))
			extractFailures = append(extractFailures, failure(src.DatasetID, err))
			continue
		}
		items = append(items, BatchItem{DatasetID: src.DatasetID, Schema: schema})
	}

	report, err := s.svc.EvaluateBatch(ctx, items, nil)
	if report != nil {
		report.Results = append(report.Results, extractFailures...)
		report.SortByDataset()
	}

	result := "ok"
	switch {
	case err != nil:
		result = "canceled"
	case report.Failed() == len(job.Sources) && len(job.Sources) > 0:
		result = "failed"
	case report.Failed() > 0:
		result = "partial"
	}
	s.metrics.ScheduledCheck(job.Name, result)
	s.logger.Info("drift check finished", "job", job.Name, "result", result, "failed", report.Failed())
	return report, err
}

func (s *Scheduler) extract(ctx context.Context, src extract.Source) (domain.Schema, error) {
	ex, err := s.registry.Build(src)
	if err != nil {
		return domain.Schema{}, err
	}
	schema, err := ex.Extract(ctx)
	if err != nil {
		return domain.Schema{}, fmt.Errorf("extract %q: %w", src.DatasetID, err)
	}
	return schema, nil
}
