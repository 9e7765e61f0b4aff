package domain

import "time"

// Snapshot is one persisted, sequence-numbered copy of a dataset's schema.
type Snapshot struct {
	DatasetID   string    `json:"datasetId"`
	Sequence    int64     `json:"sequence"`
	Schema      Schema    `json:"schema"`
	ContentHash string    `json:"contentHash"`
	CreatedAt   time.Time `json:"createdAt"`
}

// HistoryEntry pairs a snapshot with the version record produced for it.
type HistoryEntry struct {
	Snapshot Snapshot      `json:"snapshot"`
	Version  VersionRecord `json:"version"`
}

// EvaluationCommit is the unit persisted by one accepted evaluation. The
// snapshot, the diff (nil for a dataset's first snapshot) and the version
// record are written together or not at all.
type EvaluationCommit struct {
	Snapshot Snapshot
	Diff     *SchemaDiff
	Version  VersionRecord
}
