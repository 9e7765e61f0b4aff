package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"schemaevo/internal/db"
	"schemaevo/internal/domain"
)

// LineageRepo implements domain.LineageRepository using SQLite.
type LineageRepo struct {
	write *sql.DB
	read  *sql.DB
	now   func() time.Time
}

// NewLineageRepo creates a new LineageRepo.
func NewLineageRepo(pools *db.Pools) *LineageRepo {
	return &LineageRepo{write: pools.Write, read: pools.Read, now: time.Now}
}

var _ domain.LineageRepository = (*LineageRepo)(nil)

const edgeColumns = `id, upstream_id, downstream_id, edge_type, downstream_kind, created_at`

// InsertEdge records a new lineage edge. The same (upstream, downstream, type)
// triple can only be recorded once.
func (r *LineageRepo) InsertEdge(ctx context.Context, edge *domain.LineageEdge) (*domain.LineageEdge, error) {
	if err := edge.Validate(); err != nil {
		return nil, err
	}
	out := *edge
	if out.ID == "" {
		out.ID = domain.NewID()
	}
	if out.DownstreamKind == "" {
		out.DownstreamKind = domain.NodeDataset
	}
	out.CreatedAt = r.now().UTC()

	_, err := r.write.ExecContext(ctx,
		`INSERT INTO lineage_edges (`+edgeColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		out.ID, out.UpstreamID, out.DownstreamID, string(out.EdgeType), string(out.DownstreamKind),
		formatTime(out.CreatedAt))
	if err != nil {
		return nil, mapDBError(err, fmt.Sprintf("lineage edge %s -> %s (%s)", out.UpstreamID, out.DownstreamID, out.EdgeType))
	}
	return &out, nil
}

// DeleteEdge removes a lineage edge by ID.
func (r *LineageRepo) DeleteEdge(ctx context.Context, id string) error {
	res, err := r.write.ExecContext(ctx, `DELETE FROM lineage_edges WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete lineage edge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound("lineage edge %q not found", id)
	}
	return nil
}

// ListEdges returns a page of all edges in insertion order.
func (r *LineageRepo) ListEdges(ctx context.Context, page domain.PageRequest) ([]domain.LineageEdge, int64, error) {
	var total int64
	if err := r.read.QueryRowContext(ctx, `SELECT count(*) FROM lineage_edges`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count lineage edges: %w", err)
	}
	edges, err := r.queryEdges(ctx,
		`SELECT `+edgeColumns+` FROM lineage_edges ORDER BY created_at, id LIMIT ? OFFSET ?`,
		page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	return edges, total, nil
}

// GetDownstreamEdges returns the outgoing edges of a node in insertion order,
// which fixes the discovery order of impact analysis.
func (r *LineageRepo) GetDownstreamEdges(ctx context.Context, datasetID string) ([]domain.LineageEdge, error) {
	return r.queryEdges(ctx,
		`SELECT `+edgeColumns+` FROM lineage_edges WHERE upstream_id = ? ORDER BY created_at, id`,
		datasetID)
}

// Exists reports whether the id is a known dataset: it has a snapshot or
// appears on either end of a lineage edge.
func (r *LineageRepo) Exists(ctx context.Context, datasetID string) (bool, error) {
	var found bool
	err := r.read.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM datasets WHERE id = ?1)
		    OR EXISTS (SELECT 1 FROM lineage_edges WHERE upstream_id = ?1 OR downstream_id = ?1)`,
		datasetID).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check dataset existence: %w", err)
	}
	return found, nil
}

func (r *LineageRepo) queryEdges(ctx context.Context, query string, args ...any) ([]domain.LineageEdge, error) {
	rows, err := r.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query lineage edges: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var edges []domain.LineageEdge
	for rows.Next() {
		var (
			e                    domain.LineageEdge
			edgeType, kind, when string
		)
		if err := rows.Scan(&e.ID, &e.UpstreamID, &e.DownstreamID, &edgeType, &kind, &when); err != nil {
			return nil, fmt.Errorf("scan lineage edge: %w", err)
		}
		e.EdgeType = domain.EdgeType(edgeType)
		e.DownstreamKind = domain.NodeKind(kind)
		if e.CreatedAt, err = parseTime(when); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
