package lineage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemaevo/internal/domain"
	"schemaevo/internal/testutil"
)

func TestCachingProvider_TTL(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	inner := testutil.StaticLineage([2]string{"A", "B"})
	c := NewCachingProvider(inner, time.Minute, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	edges, err := c.GetDownstreamEdges(ctx, "A")
	require.NoError(t, err)
	require.Len(t, edges, 1)

	_, err = c.GetDownstreamEdges(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.Calls("A"))

	now = now.Add(time.Minute)
	_, err = c.GetDownstreamEdges(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.Calls("A"))
}

func TestCachingProvider_Invalidate(t *testing.T) {
	inner := testutil.StaticLineage([2]string{"A", "B"}, [2]string{"B", "C"})
	c := NewCachingProvider(inner, 0)
	ctx := context.Background()

	for _, id := range []string{"A", "B", "A", "B"} {
		_, err := c.GetDownstreamEdges(ctx, id)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, inner.TotalCalls())

	c.Invalidate("A")
	_, _ = c.GetDownstreamEdges(ctx, "A")
	_, _ = c.GetDownstreamEdges(ctx, "B")
	assert.Equal(t, 2, inner.Calls("A"))
	assert.Equal(t, 1, inner.Calls("B"))

	c.InvalidateAll()
	_, _ = c.GetDownstreamEdges(ctx, "B")
	assert.Equal(t, 2, inner.Calls("B"))
}

func TestCachingProvider_ErrorsAreNotCached(t *testing.T) {
	fail := true
	inner := &testutil.MockLineageProvider{
		GetDownstreamEdgesFn: func(context.Context, string) ([]domain.LineageEdge, error) {
			if fail {
				return nil, assert.AnError
			}
			return nil, nil
		},
	}
	c := NewCachingProvider(inner, 0)

	_, err := c.GetDownstreamEdges(context.Background(), "A")
	require.ErrorIs(t, err, assert.AnError)

	fail = false
	_, err = c.GetDownstreamEdges(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.Calls("A"))
}

func TestGraph_FetchesEachNodeOnce(t *testing.T) {
	inner := testutil.StaticLineage([2]string{"A", "B"})
	g := NewGraph(inner)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			edges, err := g.GetDownstreamEdges(context.Background(), "A")
			assert.NoError(t, err)
			assert.Len(t, edges, 1)
		}()
	}
	wg.Wait()

	_, err := g.GetDownstreamEdges(context.Background(), "A")
	require.NoError(t, err)
	assert.LessOrEqual(t, inner.Calls("A"), 16)
	assert.Equal(t, 1, g.Loaded())

	before := inner.Calls("A")
	_, _ = g.GetDownstreamEdges(context.Background(), "A")
	assert.Equal(t, before, inner.Calls("A"), "loaded nodes are served from memory")
}

func TestSharedFetch_SurvivesStarterDeadline(t *testing.T) {
	tests := []struct {
		name string
		wrap func(domain.LineageProvider) domain.LineageProvider
	}{
		{"graph", func(p domain.LineageProvider) domain.LineageProvider { return NewGraph(p) }},
		{"caching_provider", func(p domain.LineageProvider) domain.LineageProvider { return NewCachingProvider(p, 0) }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			started := make(chan struct{})
			release := make(chan struct{})
			var once sync.Once
			inner := &testutil.MockLineageProvider{
				GetDownstreamEdgesFn: func(ctx context.Context, id string) ([]domain.LineageEdge, error) {
					once.Do(func() { close(started) })
					select {
					case <-ctx.Done():
						return nil, ctx.Err()
					case <-release:
					}
					return []domain.LineageEdge{{UpstreamID: id, DownstreamID: "B"}}, nil
				},
			}
			p := tc.wrap(inner)

			shortCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			firstErr := make(chan error, 1)
			go func() {
				_, err := p.GetDownstreamEdges(shortCtx, "A")
				firstErr <- err
			}()
			<-started

			type result struct {
				edges []domain.LineageEdge
				err   error
			}
			second := make(chan result, 1)
			go func() {
				edges, err := p.GetDownstreamEdges(context.Background(), "A")
				second <- result{edges, err}
			}()

			require.ErrorIs(t, <-firstErr, context.DeadlineExceeded)
			close(release)

			got := <-second
			require.NoError(t, got.err)
			require.Len(t, got.edges, 1)
			assert.Equal(t, "B", got.edges[0].DownstreamID)
			assert.Equal(t, 1, inner.Calls("A"))
		})
	}
}

func TestSharedFetch_AnalyzeIsNotDegradedByOtherCaller(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	inner := &testutil.MockLineageProvider{
		GetDownstreamEdgesFn: func(ctx context.Context, id string) ([]domain.LineageEdge, error) {
			if id != "A" {
				return nil, nil
			}
			once.Do(func() { close(started) })
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-release:
			}
			return []domain.LineageEdge{{UpstreamID: "A", DownstreamID: "B", DownstreamKind: domain.NodeDataset}}, nil
		},
	}
	g := NewGraph(inner)

	shortCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = g.GetDownstreamEdges(shortCtx, "A")
	}()
	<-started

	analyzed := make(chan error, 1)
	var res *Result
	go func() {
		var err error
		res, err = NewAnalyzer(Options{}, nil).Analyze(context.Background(), g, "A", domain.SeverityBreaking, 0)
		analyzed <- err
	}()

	<-done
	close(release)
	require.NoError(t, <-analyzed)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "B", res.Entries[0].AffectedDatasetID)
}
