// Package lineage traverses dataset lineage to find what a schema change
// affects downstream.
package lineage

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"schemaevo/internal/domain"
)

// Graph is a lazily loaded, read-only view over a LineageProvider. Each node's
// downstream edges are fetched at most once for the lifetime of the Graph, so
// one analysis (or one batch run) sees a consistent edge set even if the
// provider changes underneath it. Safe for concurrent use.
type Graph struct {
	provider domain.LineageProvider

	mu     sync.RWMutex
	edges  map[string][]domain.LineageEdge
	flight singleflight.Group
}

// NewGraph creates a Graph backed by provider.
func NewGraph(provider domain.LineageProvider) *Graph {
	return &Graph{
		provider: provider,
		edges:    make(map[string][]domain.LineageEdge),
	}
}

var _ domain.LineageProvider = (*Graph)(nil)

// GetDownstreamEdges returns the outgoing edges of datasetID.
func (g *Graph) GetDownstreamEdges(ctx context.Context, datasetID string) ([]domain.LineageEdge, error) {
	g.mu.RLock()
	edges, ok := g.edges[datasetID]
	g.mu.RUnlock()
	if ok {
		return edges, nil
	}

	// The fetch is shared by every waiter, so it must outlive the caller that
	// happened to start it. Each waiter still gives up on its own deadline.
	fetchCtx := context.WithoutCancel(ctx)
	ch := g.flight.DoChan(datasetID, func() (any, error) {
		edges, err := g.provider.GetDownstreamEdges(fetchCtx, datasetID)
		if err != nil {
			return nil, err
		}
		g.mu.Lock()
		g.edges[datasetID] = edges
		g.mu.Unlock()
		return edges, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]domain.LineageEdge), nil
	}
}

// Loaded returns the number of nodes whose edges have been fetched.
func (g *Graph) Loaded() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}
