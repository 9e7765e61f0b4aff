package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "schemaevo/internal/db"
	"schemaevo/internal/domain"
)

func setupLineageRepo(t *testing.T) (*LineageRepo, *SnapshotRepo) {
	t.Helper()
	pools := internaldb.OpenTestSQLite(t)
	repo := NewLineageRepo(pools)
	tick := t0
	repo.now = func() time.Time {
		tick = tick.Add(time.Millisecond)
		return tick
	}
	return repo, NewSnapshotRepo(pools)
}

func edge(up, down string) *domain.LineageEdge {
	return &domain.LineageEdge{UpstreamID: up, DownstreamID: down, EdgeType: domain.EdgeTransformed}
}

func TestLineageRepo_InsertAndDownstream(t *testing.T) {
	repo, _ := setupLineageRepo(t)
	ctx := context.Background()

	first, err := repo.InsertEdge(ctx, edge("orders", "revenue"))
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, domain.NodeDataset, first.DownstreamKind)
	assert.False(t, first.CreatedAt.IsZero())

	_, err = repo.InsertEdge(ctx, &domain.LineageEdge{
		UpstreamID: "orders", DownstreamID: "nightly_export", EdgeType: domain.EdgeCopied, DownstreamKind: domain.NodeJob,
	})
	require.NoError(t, err)
	_, err = repo.InsertEdge(ctx, edge("revenue", "dashboard"))
	require.NoError(t, err)

	edges, err := repo.GetDownstreamEdges(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, "revenue", edges[0].DownstreamID, "insertion order")
	assert.Equal(t, first.ID, edges[0].ID)
	assert.Equal(t, "nightly_export", edges[1].DownstreamID)
	assert.Equal(t, domain.NodeJob, edges[1].DownstreamKind)
	assert.Equal(t, domain.EdgeCopied, edges[1].EdgeType)

	none, err := repo.GetDownstreamEdges(ctx, "dashboard")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLineageRepo_InsertRejects(t *testing.T) {
	repo, _ := setupLineageRepo(t)
	ctx := context.Background()

	_, err := repo.InsertEdge(ctx, edge("a", "b"))
	require.NoError(t, err)

	_, err = repo.InsertEdge(ctx, edge("a", "b"))
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)

	_, err = repo.InsertEdge(ctx, edge("a", "a"))
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)

	_, err = repo.InsertEdge(ctx, &domain.LineageEdge{UpstreamID: "a", DownstreamID: "c", EdgeType: "JOINED"})
	require.ErrorAs(t, err, &validation)

	// Same pair with a different edge type is a distinct edge.
	_, err = repo.InsertEdge(ctx, &domain.LineageEdge{UpstreamID: "a", DownstreamID: "b", EdgeType: domain.EdgeView})
	require.NoError(t, err)
}

func TestLineageRepo_DeleteAndList(t *testing.T) {
	repo, _ := setupLineageRepo(t)
	ctx := context.Background()

	ab, err := repo.InsertEdge(ctx, edge("a", "b"))
	require.NoError(t, err)
	_, err = repo.InsertEdge(ctx, edge("b", "c"))
	require.NoError(t, err)

	edges, total, err := repo.ListEdges(ctx, domain.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, edges, 2)

	require.NoError(t, repo.DeleteEdge(ctx, ab.ID))

	err = repo.DeleteEdge(ctx, ab.ID)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)

	edges, total, err = repo.ListEdges(ctx, domain.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "b", edges[0].UpstreamID)
}

func TestLineageRepo_Exists(t *testing.T) {
	repo, snapshots := setupLineageRepo(t)
	ctx := context.Background()

	_, err := repo.InsertEdge(ctx, edge("a", "b"))
	require.NoError(t, err)
	require.NoError(t, snapshots.Commit(ctx, commitAt("users", 1, userSchema())))

	for id, want := range map[string]bool{"a": true, "b": true, "users": true, "ghost": false} {
		got, err := repo.Exists(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got, id)
	}
}
