// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sync"

	"schemaevo/internal/domain"
)

// === Lineage Provider Mock ===

// MockLineageProvider implements domain.LineageProvider for testing.
type MockLineageProvider struct {
	GetDownstreamEdgesFn func(ctx context.Context, datasetID string) ([]domain.LineageEdge, error)

	mu    sync.Mutex
	calls map[string]int
}

// GetDownstreamEdges implements the interface method for testing.
func (m *MockLineageProvider) GetDownstreamEdges(ctx context.Context, datasetID string) ([]domain.LineageEdge, error) {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[datasetID]++
	m.mu.Unlock()

	if m.GetDownstreamEdgesFn != nil {
		return m.GetDownstreamEdgesFn(ctx, datasetID)
	}
	panic("unexpected call to MockLineageProvider.GetDownstreamEdges")
}

// Calls returns how many times edges were requested for datasetID.
func (m *MockLineageProvider) Calls(datasetID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[datasetID]
}

// TotalCalls returns the number of provider calls across all datasets.
func (m *MockLineageProvider) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// StaticLineage returns a provider serving a fixed adjacency list. Each pair is
// "upstream", "downstream"; edges keep the order given.
func StaticLineage(pairs ...[2]string) *MockLineageProvider {
	adj := make(map[string][]domain.LineageEdge)
	for _, p := range pairs {
		adj[p[0]] = append(adj[p[0]], domain.LineageEdge{
			UpstreamID:     p[0],
			DownstreamID:   p[1],
			EdgeType:       domain.EdgeTransformed,
			DownstreamKind: domain.NodeDataset,
		})
	}
	return StaticEdges(adj)
}

// StaticEdges returns a provider serving the given edges per upstream id.
func StaticEdges(adj map[string][]domain.LineageEdge) *MockLineageProvider {
	return &MockLineageProvider{
		GetDownstreamEdgesFn: func(_ context.Context, datasetID string) ([]domain.LineageEdge, error) {
			return adj[datasetID], nil
		},
	}
}

var _ domain.LineageProvider = (*MockLineageProvider)(nil)

// === Dataset Existence Mock ===

// MockDatasetExistence implements domain.DatasetExistence for testing.
type MockDatasetExistence struct {
	ExistsFn func(ctx context.Context, datasetID string) (bool, error)
}

// Exists implements the interface method for testing.
func (m *MockDatasetExistence) Exists(ctx context.Context, datasetID string) (bool, error) {
	if m.ExistsFn != nil {
		return m.ExistsFn(ctx, datasetID)
	}
	panic("unexpected call to MockDatasetExistence.Exists")
}

var _ domain.DatasetExistence = (*MockDatasetExistence)(nil)
