package lineage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemaevo/internal/domain"
	"schemaevo/internal/testutil"
)

func ids(entries []domain.ImpactEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.AffectedDatasetID
	}
	return out
}

func TestAnalyze_Completeness(t *testing.T) {
	provider := testutil.StaticLineage(
		[2]string{"A", "B"},
		[2]string{"B", "C"},
		[2]string{"A", "D"},
	)
	a := NewAnalyzer(Options{}, nil)

	res, err := a.Analyze(context.Background(), provider, "A", domain.SeverityBreaking, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"B", "D", "C"}, ids(res.Entries))
	byID := map[string]domain.ImpactEntry{}
	for _, e := range res.Entries {
		byID[e.AffectedDatasetID] = e
	}
	assert.Equal(t, 1, byID["B"].Distance)
	assert.Equal(t, 1, byID["D"].Distance)
	assert.Equal(t, 2, byID["C"].Distance)
	assert.Equal(t, []string{"A", "B", "C"}, byID["C"].Path)
	for _, e := range res.Entries {
		assert.Equal(t, domain.SeverityBreaking, e.InheritedSeverity)
	}
	assert.Empty(t, res.Cycles)
}

func TestAnalyze_DiamondVisitsOnce(t *testing.T) {
	provider := testutil.StaticLineage(
		[2]string{"A", "B"},
		[2]string{"A", "C"},
		[2]string{"B", "D"},
		[2]string{"C", "D"},
	)

	res, err := NewAnalyzer(Options{}, nil).Analyze(context.Background(), provider, "A", domain.SeverityAdditive, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"B", "C", "D"}, ids(res.Entries))
	assert.Equal(t, []string{"A", "B", "D"}, res.Entries[2].Path)
	assert.Empty(t, res.Cycles, "a diamond is not a cycle")
	assert.Equal(t, 1, provider.Calls("D"))
}

func TestAnalyze_CycleTerminates(t *testing.T) {
	provider := testutil.StaticLineage(
		[2]string{"A", "B"},
		[2]string{"B", "A"},
	)

	res, err := NewAnalyzer(Options{}, nil).Analyze(context.Background(), provider, "A", domain.SeverityBreaking, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"B"}, ids(res.Entries))
	assert.Equal(t, []domain.LineageCycle{{From: "B", To: "A"}}, res.Cycles)
	assert.Equal(t, 1, provider.Calls("A"))
	assert.Equal(t, 1, provider.Calls("B"))
}

func TestAnalyze_LongerCycle(t *testing.T) {
	provider := testutil.StaticLineage(
		[2]string{"A", "B"},
		[2]string{"B", "C"},
		[2]string{"C", "B"},
	)

	res, err := NewAnalyzer(Options{}, nil).Analyze(context.Background(), provider, "A", domain.SeverityBreaking, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"B", "C"}, ids(res.Entries))
	assert.Equal(t, []domain.LineageCycle{{From: "C", To: "B"}}, res.Cycles)
}

func TestAnalyze_MaxDepth(t *testing.T) {
	provider := testutil.StaticLineage(
		[2]string{"A", "B"},
		[2]string{"B", "C"},
		[2]string{"C", "D"},
	)

	t.Run("configured", func(t *testing.T) {
		res, err := NewAnalyzer(Options{MaxDepth: 2}, nil).Analyze(context.Background(), provider, "A", domain.SeverityBreaking, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"B", "C"}, ids(res.Entries))
	})

	t.Run("per_call_override", func(t *testing.T) {
		res, err := NewAnalyzer(Options{MaxDepth: 2}, nil).Analyze(context.Background(), provider, "A", domain.SeverityBreaking, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"B"}, ids(res.Entries))
	})
}

func TestAnalyze_InformationalShortCircuits(t *testing.T) {
	provider := &testutil.MockLineageProvider{}

	res, err := NewAnalyzer(Options{}, nil).Analyze(context.Background(), provider, "A", domain.SeverityInformational, 0)
	require.NoError(t, err)

	assert.Empty(t, res.Entries)
	assert.Equal(t, domain.ImpactLow, res.Summary.Level)
	assert.Zero(t, provider.TotalCalls())
}

func TestAnalyze_Dampening(t *testing.T) {
	provider := testutil.StaticLineage(
		[2]string{"A", "B"},
		[2]string{"B", "C"},
		[2]string{"C", "D"},
	)
	a := NewAnalyzer(Options{DampenAfter: 1}, nil)

	res, err := a.Analyze(context.Background(), provider, "A", domain.SeverityBreaking, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityBreaking, res.Entries[0].InheritedSeverity)
	assert.Equal(t, domain.SeverityAdditive, res.Entries[1].InheritedSeverity)
	assert.Equal(t, domain.SeverityAdditive, res.Entries[2].InheritedSeverity)

	res, err = a.Analyze(context.Background(), provider, "A", domain.SeverityAdditive, 0)
	require.NoError(t, err)
	for _, e := range res.Entries {
		assert.Equal(t, domain.SeverityAdditive, e.InheritedSeverity)
	}
}

func TestAnalyze_JobsAreReported(t *testing.T) {
	provider := testutil.StaticEdges(map[string][]domain.LineageEdge{
		"A":       {{UpstreamID: "A", DownstreamID: "etl_job", EdgeType: domain.EdgeTransformed, DownstreamKind: domain.NodeJob}},
		"etl_job": {{UpstreamID: "etl_job", DownstreamID: "B", EdgeType: domain.EdgeCopied}},
	})

	res, err := NewAnalyzer(Options{}, nil).Analyze(context.Background(), provider, "A", domain.SeverityBreaking, 0)
	require.NoError(t, err)

	require.Len(t, res.Entries, 2)
	assert.Equal(t, domain.NodeJob, res.Entries[0].Kind)
	assert.Equal(t, domain.NodeDataset, res.Entries[1].Kind)
	assert.Equal(t, domain.EdgeCopied, res.Entries[1].EdgeType)
	assert.Equal(t, 1, res.Summary.Jobs)
	assert.Equal(t, 1, res.Summary.Datasets)
}

func TestAnalyze_ProviderFailure(t *testing.T) {
	boom := errors.New("catalog unreachable")
	provider := &testutil.MockLineageProvider{
		GetDownstreamEdgesFn: func(context.Context, string) ([]domain.LineageEdge, error) {
			return nil, boom
		},
	}

	_, err := NewAnalyzer(Options{}, nil).Analyze(context.Background(), provider, "A", domain.SeverityBreaking, 0)

	var unavailable *domain.LineageUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "A", unavailable.DatasetID)
	assert.ErrorIs(t, err, boom)
}

func TestAnalyze_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewAnalyzer(Options{}, nil).Analyze(ctx, testutil.StaticLineage([2]string{"A", "B"}), "A", domain.SeverityBreaking, 0)

	require.ErrorIs(t, err, context.Canceled)
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name      string
		entries   []domain.ImpactEntry
		wantScore int
		wantLevel domain.ImpactLevel
	}{
		{"empty", nil, 0, domain.ImpactLow},
		{
			"one_direct_dataset_one_job",
			[]domain.ImpactEntry{
				{Kind: domain.NodeDataset, Distance: 1},
				{Kind: domain.NodeJob, Distance: 1},
			},
			5, domain.ImpactMedium,
		},
		{
			"five_direct_datasets",
			[]domain.ImpactEntry{
				{Kind: domain.NodeDataset, Distance: 1},
				{Kind: domain.NodeDataset, Distance: 1},
				{Kind: domain.NodeDataset, Distance: 1},
				{Kind: domain.NodeDataset, Distance: 1},
				{Kind: domain.NodeDataset, Distance: 1},
			},
			15, domain.ImpactHigh,
		},
		{
			"indirect_only",
			[]domain.ImpactEntry{
				{Kind: domain.NodeDataset, Distance: 2},
				{Kind: domain.NodeJob, Distance: 3},
			},
			2, domain.ImpactLow,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := Summarize(tc.entries)
			assert.Equal(t, tc.wantScore, s.Score)
			assert.Equal(t, tc.wantLevel, s.Level)
			assert.Equal(t, len(tc.entries), s.Total)
		})
	}
}
