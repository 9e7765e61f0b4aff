// Package versioning derives semantic and cloud versions for accepted schema
// evaluations.
//
// The semantic version is a state machine over (major, minor, patch) driven by
// the overall severity of a diff:
//
//	Breaking      → (major+1, 0, 0)
//	Additive      → (major, minor+1, 0)
//	Informational → (major, minor, patch+1)
//
// The cloud version is an opaque counter that advances by one on every
// accepted evaluation regardless of severity.
package versioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"schemaevo/internal/domain"
)

// Reader looks up previously committed version records.
type Reader interface {
	LatestVersion(ctx context.Context, datasetID string) (*domain.VersionRecord, error)
	VersionForSequence(ctx context.Context, datasetID string, sequence int64) (*domain.VersionRecord, error)
}

// DefaultInitialCloudVersion is the cloud version of a dataset's first snapshot.
const DefaultInitialCloudVersion int64 = 1

// Manager computes version records. It holds no mutable state of its own:
// idempotence comes from the committed records in the Reader.
type Manager struct {
	versions     Reader
	initialCloud int64
}

// NewManager creates a Manager. initialCloud <= 0 selects
// DefaultInitialCloudVersion.
func NewManager(versions Reader, initialCloud int64) *Manager {
	if initialCloud <= 0 {
		initialCloud = DefaultInitialCloudVersion
	}
	return &Manager{versions: versions, initialCloud: initialCloud}
}

// Next applies one severity transition to a semantic version.
func Next(prev domain.SemanticVersion, sev domain.Severity) domain.SemanticVersion {
	switch sev {
	case domain.SeverityBreaking:
		return domain.SemanticVersion{Major: prev.Major + 1}
	case domain.SeverityAdditive:
		return domain.SemanticVersion{Major: prev.Major, Minor: prev.Minor + 1}
	default:
		return domain.SemanticVersion{Major: prev.Major, Minor: prev.Minor, Patch: prev.Patch + 1}
	}
}

// Initial returns the version record of a dataset's first snapshot. The first
// snapshot is never itself a change, so its severity is Informational.
func (m *Manager) Initial(datasetID string, sequence int64, at time.Time) domain.VersionRecord {
	return domain.VersionRecord{
		DatasetID:       datasetID,
		Sequence:        sequence,
		SemanticVersion: domain.InitialSemanticVersion,
		CloudVersion:    m.initialCloud,
		Severity:        domain.SeverityInformational,
		Timestamp:       at.UTC(),
	}
}

// ComputeNext returns the version record produced by diff. Calling it again
// for a diff whose target sequence already has a committed record returns that
// record unchanged. A dataset without any committed version yields a
// *domain.NoPriorSnapshotError.
func (m *Manager) ComputeNext(ctx context.Context, datasetID string, diff domain.SchemaDiff) (domain.VersionRecord, error) {
	existing, err := m.versions.VersionForSequence(ctx, datasetID, diff.ToSequence)
	if err == nil {
		return *existing, nil
	}
	if !isNotFound(err) {
		return domain.VersionRecord{}, fmt.Errorf("lookup version for sequence %d: %w", diff.ToSequence, err)
	}

	prev, err := m.versions.LatestVersion(ctx, datasetID)
	if err != nil {
		if isNotFound(err) {
			return domain.VersionRecord{}, &domain.NoPriorSnapshotError{DatasetID: datasetID}
		}
		return domain.VersionRecord{}, fmt.Errorf("lookup latest version: %w", err)
	}
	if diff.ToSequence <= prev.Sequence {
		return domain.VersionRecord{}, domain.ErrConflict(
			"diff for %q targets sequence %d but latest committed sequence is %d",
			datasetID, diff.ToSequence, prev.Sequence)
	}

	return domain.VersionRecord{
		DatasetID:       datasetID,
		Sequence:        diff.ToSequence,
		SemanticVersion: Next(prev.SemanticVersion, diff.OverallSeverity),
		CloudVersion:    prev.CloudVersion + 1,
		BasedOnDiff:     diff.ID,
		Severity:        diff.OverallSeverity,
		Timestamp:       diff.CreatedAt.UTC(),
	}, nil
}

// VersionMapping renders a dataset history as cloud label → semantic version, the
// shape catalogs store as a custom property.
func VersionMapping(history []domain.HistoryEntry, prefix string) map[string]string {
	out := make(map[string]string, len(history))
	for _, h := range history {
		out[h.Version.CloudLabel(prefix)] = h.Version.SemanticVersion.String()
	}
	return out
}

func isNotFound(err error) bool {
	var nf *domain.NotFoundError
	return errors.As(err, &nf)
}
