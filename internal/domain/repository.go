package domain

import "context"

// SnapshotRepository is the append-only history store of schema snapshots,
// diffs and version records. It is the only mutable shared resource of the
// engine; writers for one dataset are serialized by the caller.
type SnapshotRepository interface {
	// Latest returns the most recent snapshot, or a *NotFoundError.
	Latest(ctx context.Context, datasetID string) (*Snapshot, error)
	// LatestVersion returns the version record of the most recent snapshot,
	// or a *NotFoundError.
	LatestVersion(ctx context.Context, datasetID string) (*VersionRecord, error)
	// VersionForSequence returns the version record produced for a sequence,
	// or a *NotFoundError.
	VersionForSequence(ctx context.Context, datasetID string, sequence int64) (*VersionRecord, error)
	// LatestDiff returns the most recent diff, or a *NotFoundError when the
	// dataset only has its initial snapshot.
	LatestDiff(ctx context.Context, datasetID string) (*SchemaDiff, error)
	// History returns up to limit entries, newest first. limit <= 0 means all.
	History(ctx context.Context, datasetID string, limit int) ([]HistoryEntry, error)
	// ListDatasets returns a page of dataset ids that have at least one snapshot.
	ListDatasets(ctx context.Context, page PageRequest) ([]string, int64, error)
	// Commit persists snapshot, diff and version atomically. A sequence that
	// already exists yields a *ConflictError.
	Commit(ctx context.Context, c EvaluationCommit) error
}

// LineageProvider supplies downstream lineage edges. It may be backed by any
// catalog.
type LineageProvider interface {
	GetDownstreamEdges(ctx context.Context, datasetID string) ([]LineageEdge, error)
}

// DatasetExistence validates dataset identifiers.
type DatasetExistence interface {
	Exists(ctx context.Context, datasetID string) (bool, error)
}

// LineageRepository manages persisted lineage edges.
type LineageRepository interface {
	LineageProvider
	DatasetExistence
	InsertEdge(ctx context.Context, edge *LineageEdge) (*LineageEdge, error)
	DeleteEdge(ctx context.Context, id string) error
	ListEdges(ctx context.Context, page PageRequest) ([]LineageEdge, int64, error)
}
