package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"schemaevo/internal/db"
	"schemaevo/internal/domain"
)

// SnapshotRepo implements domain.SnapshotRepository using SQLite. Reads go to
// the read pool; Commit goes through the single-connection write pool.
type SnapshotRepo struct {
	write *sql.DB
	read  *sql.DB
}

// NewSnapshotRepo creates a new SnapshotRepo.
func NewSnapshotRepo(pools *db.Pools) *SnapshotRepo {
	return &SnapshotRepo{write: pools.Write, read: pools.Read}
}

var _ domain.SnapshotRepository = (*SnapshotRepo)(nil)

const snapshotColumns = `dataset_id, sequence, content_hash, schema_json, created_at`

const versionColumns = `dataset_id, sequence, major, minor, patch, cloud_version, diff_id, severity, created_at`

const diffColumns = `id, dataset_id, from_sequence, to_sequence, overall_severity, changes_json, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// Latest returns the newest snapshot of a dataset.
func (r *SnapshotRepo) Latest(ctx context.Context, datasetID string) (*domain.Snapshot, error) {
	row := r.read.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM schema_snapshots
		 WHERE dataset_id = ? ORDER BY sequence DESC LIMIT 1`, datasetID)
	s, err := scanSnapshot(row)
	if err != nil {
		return nil, mapDBError(err, fmt.Sprintf("snapshot for dataset %q", datasetID))
	}
	return s, nil
}

// LatestVersion returns the version record of the newest snapshot.
func (r *SnapshotRepo) LatestVersion(ctx context.Context, datasetID string) (*domain.VersionRecord, error) {
	row := r.read.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM version_records
		 WHERE dataset_id = ? ORDER BY sequence DESC LIMIT 1`, datasetID)
	v, err := scanVersion(row)
	if err != nil {
		return nil, mapDBError(err, fmt.Sprintf("version for dataset %q", datasetID))
	}
	return v, nil
}

// VersionForSequence returns the version record produced for one sequence.
func (r *SnapshotRepo) VersionForSequence(ctx context.Context, datasetID string, sequence int64) (*domain.VersionRecord, error) {
	row := r.read.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM version_records
		 WHERE dataset_id = ? AND sequence = ?`, datasetID, sequence)
	v, err := scanVersion(row)
	if err != nil {
		return nil, mapDBError(err, fmt.Sprintf("version %s@%d", datasetID, sequence))
	}
	return v, nil
}

// LatestDiff returns the newest diff of a dataset.
func (r *SnapshotRepo) LatestDiff(ctx context.Context, datasetID string) (*domain.SchemaDiff, error) {
	row := r.read.QueryRowContext(ctx,
		`SELECT `+diffColumns+` FROM schema_diffs
		 WHERE dataset_id = ? ORDER BY to_sequence DESC LIMIT 1`, datasetID)
	d, err := scanDiff(row)
	if err != nil {
		return nil, mapDBError(err, fmt.Sprintf("diff for dataset %q", datasetID))
	}
	return d, nil
}

// History returns snapshots paired with their versions, newest first.
func (r *SnapshotRepo) History(ctx context.Context, datasetID string, limit int) ([]domain.HistoryEntry, error) {
	rows, err := r.read.QueryContext(ctx, `
		SELECT s.dataset_id, s.sequence, s.content_hash, s.schema_json, s.created_at,
		       v.dataset_id, v.sequence, v.major, v.minor, v.patch, v.cloud_version, v.diff_id, v.severity, v.created_at
		FROM schema_snapshots s
		JOIN version_records v ON v.dataset_id = s.dataset_id AND v.sequence = s.sequence
		WHERE s.dataset_id = ?
		ORDER BY s.sequence DESC
		LIMIT ?`, datasetID, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.HistoryEntry
	for rows.Next() {
		var (
			s                    domain.Snapshot
			schemaJSON, snapTime string
			v                    versionRow
		)
		if err := rows.Scan(
			&s.DatasetID, &s.Sequence, &s.ContentHash, &schemaJSON, &snapTime,
			&v.datasetID, &v.sequence, &v.major, &v.minor, &v.patch, &v.cloud, &v.diffID, &v.severity, &v.createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if err := decodeSnapshot(&s, schemaJSON, snapTime); err != nil {
			return nil, err
		}
		rec, err := v.record()
		if err != nil {
			return nil, err
		}
		out = append(out, domain.HistoryEntry{Snapshot: s, Version: *rec})
	}
	return out, rows.Err()
}

// ListDatasets returns a page of dataset ids with at least one snapshot.
func (r *SnapshotRepo) ListDatasets(ctx context.Context, page domain.PageRequest) ([]string, int64, error) {
	var total int64
	if err := r.read.QueryRowContext(ctx,
		`SELECT count(DISTINCT dataset_id) FROM schema_snapshots`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count datasets: %w", err)
	}

	rows, err := r.read.QueryContext(ctx,
		`SELECT DISTINCT dataset_id FROM schema_snapshots ORDER BY dataset_id LIMIT ? OFFSET ?`,
		page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, 0, err
		}
		ids = append(ids, id)
	}
	return ids, total, rows.Err()
}

// Commit writes snapshot, diff and version in one transaction. The snapshot
// must extend the dataset's history by exactly one sequence.
func (r *SnapshotRepo) Commit(ctx context.Context, c domain.EvaluationCommit) error {
	snap := c.Snapshot
	if snap.DatasetID == "" || snap.Sequence <= 0 {
		return domain.ErrValidation("commit requires a dataset id and a positive sequence")
	}
	if c.Version.Sequence != snap.Sequence {
		return domain.ErrValidation("version sequence %d does not match snapshot sequence %d",
			c.Version.Sequence, snap.Sequence)
	}
	if c.Diff != nil && c.Diff.ToSequence != snap.Sequence {
		return domain.ErrValidation("diff targets sequence %d, snapshot is %d", c.Diff.ToSequence, snap.Sequence)
	}

	schemaJSON, err := json.Marshal(snap.Schema)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}

	tx, err := r.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO datasets (id, created_at) VALUES (?, ?)`,
		snap.DatasetID, formatTime(snap.CreatedAt)); err != nil {
		return fmt.Errorf("register dataset: %w", err)
	}

	var last int64
	if err := tx.QueryRowContext(ctx,
		`SELECT coalesce(max(sequence), 0) FROM schema_snapshots WHERE dataset_id = ?`,
		snap.DatasetID).Scan(&last); err != nil {
		return fmt.Errorf("read last sequence: %w", err)
	}
	if snap.Sequence != last+1 {
		return domain.ErrConflict("snapshot %s@%d does not follow latest sequence %d",
			snap.DatasetID, snap.Sequence, last)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_snapshots (`+snapshotColumns+`) VALUES (?, ?, ?, ?, ?)`,
		snap.DatasetID, snap.Sequence, snap.ContentHash, string(schemaJSON), formatTime(snap.CreatedAt)); err != nil {
		return mapDBError(err, fmt.Sprintf("snapshot %s@%d", snap.DatasetID, snap.Sequence))
	}

	var diffID sql.NullString
	if d := c.Diff; d != nil {
		changes, err := json.Marshal(d.Changes)
		if err != nil {
			return fmt.Errorf("encode changes: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_diffs (`+diffColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			d.ID, snap.DatasetID, d.FromSequence, d.ToSequence, d.OverallSeverity.String(),
			string(changes), formatTime(d.CreatedAt)); err != nil {
			return mapDBError(err, fmt.Sprintf("diff %s", d.ID))
		}
		diffID = sql.NullString{String: d.ID, Valid: true}
	}

	v := c.Version
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO version_records (`+versionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.DatasetID, v.Sequence, v.SemanticVersion.Major, v.SemanticVersion.Minor, v.SemanticVersion.Patch, v.CloudVersion, diffID,
		v.Severity.String(), formatTime(v.Timestamp)); err != nil {
		return mapDBError(err, fmt.Sprintf("version %s@%d", snap.DatasetID, v.Sequence))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit evaluation: %w", err)
	}
	return nil
}

func scanSnapshot(row rowScanner) (*domain.Snapshot, error) {
	var (
		s                        domain.Snapshot
		schemaJSON, createdAtStr string
	)
	if err := row.Scan(&s.DatasetID, &s.Sequence, &s.ContentHash, &schemaJSON, &createdAtStr); err != nil {
		return nil, err
	}
	if err := decodeSnapshot(&s, schemaJSON, createdAtStr); err != nil {
		return nil, err
	}
	return &s, nil
}

func decodeSnapshot(s *domain.Snapshot, schemaJSON, createdAt string) error {
	if err := json.Unmarshal([]byte(schemaJSON), &s.Schema); err != nil {
		return fmt.Errorf("decode schema %s@%d: %w", s.DatasetID, s.Sequence, err)
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return err
	}
	s.CreatedAt = t
	return nil
}

type versionRow struct {
	datasetID           string
	sequence            int64
	major, minor, patch int
	cloud               int64
	diffID              sql.NullString
	severity            string
	createdAt           string
}

func (v versionRow) record() (*domain.VersionRecord, error) {
	sev, err := domain.ParseSeverity(v.severity)
	if err != nil {
		return nil, err
	}
	ts, err := parseTime(v.createdAt)
	if err != nil {
		return nil, err
	}
	return &domain.VersionRecord{
		DatasetID:       v.datasetID,
		Sequence:        v.sequence,
		SemanticVersion: domain.SemanticVersion{Major: v.major, Minor: v.minor, Patch: v.patch},
		CloudVersion:    v.cloud,
		BasedOnDiff:     v.diffID.String,
		Severity:        sev,
		Timestamp:       ts,
	}, nil
}

func scanVersion(row rowScanner) (*domain.VersionRecord, error) {
	var v versionRow
	if err := row.Scan(&v.datasetID, &v.sequence, &v.major, &v.minor, &v.patch,
		&v.cloud, &v.diffID, &v.severity, &v.createdAt); err != nil {
		return nil, err
	}
	return v.record()
}

func scanDiff(row rowScanner) (*domain.SchemaDiff, error) {
	var (
		d                       domain.SchemaDiff
		severity, changes, when string
	)
	if err := row.Scan(&d.ID, &d.DatasetID, &d.FromSequence, &d.ToSequence, &severity, &changes, &when); err != nil {
		return nil, err
	}
	sev, err := domain.ParseSeverity(severity)
	if err != nil {
		return nil, err
	}
	d.OverallSeverity = sev
	if err := json.Unmarshal([]byte(changes), &d.Changes); err != nil {
		return nil, fmt.Errorf("decode changes of diff %s: %w", d.ID, err)
	}
	if d.CreatedAt, err = parseTime(when); err != nil {
		return nil, err
	}
	return &d, nil
}
