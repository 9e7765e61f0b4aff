// Package evolution orchestrates schema evaluations: diffing a new schema
// against the dataset's history, assigning the next version, analysing
// downstream impact and committing the result.
package evolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"schemaevo/internal/domain"
	"schemaevo/internal/lineage"
	"schemaevo/internal/metrics"
	"schemaevo/internal/schemadiff"
	"schemaevo/internal/versioning"
)

// Defaults applied by NewService when Config leaves a value unset.
const (
	DefaultEvaluationTimeout = 30 * time.Second
	DefaultRetryAfter        = time.Second
	DefaultBatchWorkers      = 8
	DefaultCloudPrefix       = "S-"
)

// Config tunes the orchestrator.
type Config struct {
	EvaluationTimeout time.Duration
	// RetryAfter is the backoff suggested to callers that hit a dataset with
	// an evaluation already in flight.
	RetryAfter   time.Duration
	BatchWorkers int
	// BatchRateLimit caps how many evaluations per second a batch starts.
	// 0 means unlimited.
	BatchRateLimit     float64
	CloudVersionPrefix string
}

// Deps holds the collaborators of a Service.
type Deps struct {
	Snapshots domain.SnapshotRepository
	Lineage   domain.LineageProvider
	// Datasets validates impact origins. Optional.
	Datasets domain.DatasetExistence
	// Versions defaults to a manager reading from Snapshots.
	Versions *versioning.Manager
	Analyzer *lineage.Analyzer
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// Now defaults to time.Now.
	Now    func() time.Time
	Config Config
}

// Service is the change orchestrator.
type Service struct {
	snapshots domain.SnapshotRepository
	lineage   domain.LineageProvider
	datasets  domain.DatasetExistence
	versions  *versioning.Manager
	analyzer  *lineage.Analyzer
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	cfg       Config
	inflight  *inflight
}

// NewService creates a Service.
func NewService(d Deps) *Service {
	cfg := d.Config
	if cfg.EvaluationTimeout <= 0 {
		cfg.EvaluationTimeout = DefaultEvaluationTimeout
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = DefaultRetryAfter
	}
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = DefaultBatchWorkers
	}
	if cfg.CloudVersionPrefix == "" {
		cfg.CloudVersionPrefix = DefaultCloudPrefix
	}

	s := &Service{
		snapshots: d.Snapshots,
		lineage:   d.Lineage,
		datasets:  d.Datasets,
		versions:  d.Versions,
		analyzer:  d.Analyzer,
		metrics:   d.Metrics,
		logger:    d.Logger,
		now:       d.Now,
		cfg:       cfg,
		inflight:  newInflight(),
	}
	if s.versions == nil {
		s.versions = versioning.NewManager(d.Snapshots, 0)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.analyzer == nil {
		s.analyzer = lineage.NewAnalyzer(lineage.Options{}, s.logger)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// EvaluateOptions modifies a single evaluation.
type EvaluateOptions struct {
	// Force appends a new snapshot even when the schema is unchanged. The
	// resulting diff is empty and Informational, so only the patch moves.
	Force bool
}

// EvaluationResult is the aggregate produced by one evaluation.
type EvaluationResult struct {
	DatasetID string          `json:"datasetId"`
	Snapshot  domain.Snapshot `json:"snapshot"`
	// Diff is nil for a dataset's first snapshot and for no-op evaluations.
	Diff     *domain.SchemaDiff    `json:"diff,omitempty"`
	Version  domain.VersionRecord  `json:"version"`
	Severity domain.Severity       `json:"overallSeverity"`
	Impact   []domain.ImpactEntry  `json:"impact"`
	Summary  domain.ImpactSummary  `json:"impactSummary"`
	Cycles   []domain.LineageCycle `json:"cycles,omitempty"`
	// Degraded is set when lineage could not be read. The evaluation is still
	// committed, with an empty impact.
	Degraded bool `json:"degraded,omitempty"`
	// NoOp is set when the schema matched the latest snapshot and nothing was
	// persisted.
	NoOp bool `json:"noOp,omitempty"`
}

// Evaluate compares schema with the dataset's latest snapshot and commits the
// result. At most one evaluation per dataset runs at a time; a second caller
// gets a *domain.ConcurrentEvaluationError instead of waiting.
func (s *Service) Evaluate(ctx context.Context, datasetID string, schema domain.Schema, opts EvaluateOptions) (*EvaluationResult, error) {
	return s.evaluate(ctx, datasetID, schema, opts, lineage.NewGraph(s.lineage))
}

func (s *Service) evaluate(ctx context.Context, datasetID string, schema domain.Schema, opts EvaluateOptions, provider domain.LineageProvider) (*EvaluationResult, error) {
	start := time.Now()
	res, err := s.run(ctx, datasetID, schema, opts, provider)
	took := time.Since(start)

	switch {
	case err != nil:
		s.metrics.ObserveEvaluation(outcomeOf(err), domain.SeverityInformational, took)
	case res.NoOp:
		s.metrics.ObserveEvaluation(metrics.OutcomeNoOp, res.Severity, took)
	default:
		s.metrics.ObserveEvaluation(metrics.OutcomeCommitted, res.Severity, took)
	}
	return res, err
}

func (s *Service) run(ctx context.Context, datasetID string, schema domain.Schema, opts EvaluateOptions, provider domain.LineageProvider) (*EvaluationResult, error) {
	if datasetID == "" {
		return nil, domain.ErrValidation("dataset id is required")
	}
	norm, err := schema.Normalize()
	if err != nil {
		return nil, err
	}
	hash, err := norm.ContentHash()
	if err != nil {
		return nil, err
	}

	release, ok := s.inflight.acquire(datasetID)
	if !ok {
		return nil, &domain.ConcurrentEvaluationError{DatasetID: datasetID, RetryAfter: s.cfg.RetryAfter}
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.EvaluationTimeout)
	defer cancel()

	latest, err := s.snapshots.Latest(ctx, datasetID)
	if err != nil {
		var nf *domain.NotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("load latest snapshot: %w", err)
		}
		return s.registerFirst(ctx, datasetID, norm, hash)
	}

	if latest.ContentHash == hash && !opts.Force {
		v, err := s.snapshots.LatestVersion(ctx, datasetID)
		if err != nil {
			return nil, fmt.Errorf("load latest version: %w", err)
		}
		s.logger.Debug("schema unchanged", "dataset", datasetID, "sequence", latest.Sequence)
		return &EvaluationResult{
			DatasetID: datasetID,
			Snapshot:  *latest,
			Version:   *v,
			Severity:  domain.SeverityInformational,
			Summary:   lineage.Summarize(nil),
			NoOp:      true,
		}, nil
	}

	now := s.now().UTC()
	changes := schemadiff.Classify(schemadiff.Compute(latest.Schema, norm))
	diff := domain.SchemaDiff{
		ID:              domain.NewID(),
		DatasetID:       datasetID,
		FromSequence:    latest.Sequence,
		ToSequence:      latest.Sequence + 1,
		Changes:         changes,
		OverallSeverity: schemadiff.Overall(changes),
		CreatedAt:       now,
	}

	version, err := s.versions.ComputeNext(ctx, datasetID, diff)
	if err != nil {
		return nil, err
	}

	res := &EvaluationResult{
		DatasetID: datasetID,
		Snapshot: domain.Snapshot{
			DatasetID:   datasetID,
			Sequence:    diff.ToSequence,
			Schema:      norm,
			ContentHash: hash,
			CreatedAt:   now,
		},
		Diff:     &diff,
		Version:  version,
		Severity: diff.OverallSeverity,
		Summary:  lineage.Summarize(nil),
	}

	if diff.OverallSeverity.Propagates() {
		impact, err := s.analyzer.Analyze(ctx, provider, datasetID, diff.OverallSeverity, 0)
		var unavailable *domain.LineageUnavailableError
		switch {
		case errors.As(err, &unavailable):
			s.logger.Warn("lineage unavailable, committing without impact",
				"dataset", datasetID, "node", unavailable.DatasetID, "error", unavailable.Err)
			s.metrics.ImpactDegraded()
			res.Degraded = true
		case err != nil:
			return nil, fmt.Errorf("impact analysis for %q: %w", datasetID, err)
		default:
			res.Impact = impact.Entries
			res.Summary = impact.Summary
			res.Cycles = impact.Cycles
			s.metrics.ObserveImpact(len(impact.Entries), len(impact.Cycles))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("evaluation of %q aborted before commit: %w", datasetID, err)
	}
	if err := s.snapshots.Commit(ctx, domain.EvaluationCommit{Snapshot: res.Snapshot, Diff: &diff, Version: version}); err != nil {
		return nil, err
	}

	s.logger.Info("schema evaluation committed",
		"dataset", datasetID,
		"sequence", res.Snapshot.Sequence,
		"severity", diff.OverallSeverity.String(),
		"version", version.SemanticVersion.String(),
		"cloud_version", version.CloudLabel(s.cfg.CloudVersionPrefix),
		"impacted", len(res.Impact),
	)
	return res, nil
}

// registerFirst commits sequence 1 of a dataset. There is nothing to diff
// against, so no impact is computed.
func (s *Service) registerFirst(ctx context.Context, datasetID string, schema domain.Schema, hash string) (*EvaluationResult, error) {
	now := s.now().UTC()
	snap := domain.Snapshot{
		DatasetID:   datasetID,
		Sequence:    1,
		Schema:      schema,
		ContentHash: hash,
		CreatedAt:   now,
	}
	version := s.versions.Initial(datasetID, 1, now)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("evaluation of %q aborted before commit: %w", datasetID, err)
	}
	if err := s.snapshots.Commit(ctx, domain.EvaluationCommit{Snapshot: snap, Version: version}); err != nil {
		return nil, err
	}

	s.logger.Info("dataset registered",
		"dataset", datasetID,
		"version", version.SemanticVersion.String(),
		"cloud_version", version.CloudLabel(s.cfg.CloudVersionPrefix),
	)
	return &EvaluationResult{
		DatasetID: datasetID,
		Snapshot:  snap,
		Version:   version,
		Severity:  domain.SeverityInformational,
		Summary:   lineage.Summarize(nil),
	}, nil
}

// GetHistory returns up to limit snapshots with their versions, newest first.
// A dataset that was never evaluated has an empty history.
func (s *Service) GetHistory(ctx context.Context, datasetID string, limit int) ([]domain.HistoryEntry, error) {
	if datasetID == "" {
		return nil, domain.ErrValidation("dataset id is required")
	}
	return s.snapshots.History(ctx, datasetID, limit)
}

// ListDatasets returns a page of evaluated dataset ids.
func (s *Service) ListDatasets(ctx context.Context, page domain.PageRequest) ([]string, int64, error) {
	return s.snapshots.ListDatasets(ctx, page)
}

// ImpactReport is the downstream impact of a dataset's most recent diff.
type ImpactReport struct {
	DatasetID string                `json:"datasetId"`
	Diff      *domain.SchemaDiff    `json:"diff,omitempty"`
	Entries   []domain.ImpactEntry  `json:"impact"`
	Summary   domain.ImpactSummary  `json:"impactSummary"`
	Cycles    []domain.LineageCycle `json:"cycles,omitempty"`
}

// GetImpact analyses the most recent diff on file for datasetID. A dataset
// with only its initial snapshot reports no impact.
func (s *Service) GetImpact(ctx context.Context, datasetID string, maxDepth int) (*ImpactReport, error) {
	if datasetID == "" {
		return nil, domain.ErrValidation("dataset id is required")
	}
	if s.datasets != nil {
		ok, err := s.datasets.Exists(ctx, datasetID)
		if err != nil {
			return nil, fmt.Errorf("check dataset %q: %w", datasetID, err)
		}
		if !ok {
			return nil, domain.ErrNotFound("dataset %q not found", datasetID)
		}
	}

	report := &ImpactReport{DatasetID: datasetID, Summary: lineage.Summarize(nil)}
	diff, err := s.snapshots.LatestDiff(ctx, datasetID)
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return report, nil
		}
		return nil, err
	}
	report.Diff = diff

	res, err := s.analyzer.Analyze(ctx, lineage.NewGraph(s.lineage), datasetID, diff.OverallSeverity, maxDepth)
	if err != nil {
		return nil, err
	}
	report.Entries = res.Entries
	report.Summary = res.Summary
	report.Cycles = res.Cycles
	return report, nil
}

// VersionMapping returns the dataset's cloud label → semantic version map.
func (s *Service) VersionMapping(ctx context.Context, datasetID string) (map[string]string, error) {
	history, err := s.GetHistory(ctx, datasetID, 0)
	if err != nil {
		return nil, err
	}
	return versioning.VersionMapping(history, s.cfg.CloudVersionPrefix), nil
}

// CloudVersionPrefix returns the prefix used to render cloud version labels.
func (s *Service) CloudVersionPrefix() string { return s.cfg.CloudVersionPrefix }

func outcomeOf(err error) string {
	var (
		malformed *domain.MalformedSchemaError
		busy      *domain.ConcurrentEvaluationError
		invalid   *domain.ValidationError
	)
	switch {
	case errors.As(err, &busy):
		return metrics.OutcomeBusy
	case errors.As(err, &malformed), errors.As(err, &invalid):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeFailed
	}
}

// ErrorKind names the class of an evaluation error for reports and metrics.
func ErrorKind(err error) string {
	var (
		malformed   *domain.MalformedSchemaError
		busy        *domain.ConcurrentEvaluationError
		invalid     *domain.ValidationError
		conflict    *domain.ConflictError
		notFound    *domain.NotFoundError
		noPrior     *domain.NoPriorSnapshotError
		unavailable *domain.LineageUnavailableError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &malformed):
		return "malformed"
	case errors.As(err, &busy):
		return "busy"
	case errors.As(err, &invalid):
		return "validation"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &noPrior):
		return "no_prior_snapshot"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &unavailable):
		return "lineage_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}
