package lineage

import (
	"context"
	"log/slog"
	"slices"

	"schemaevo/internal/domain"
)

// Impact score weights and level thresholds.
const (
	directDatasetWeight = 3
	directJobWeight     = 2
	indirectWeight      = 1

	highImpactScore   = 15
	mediumImpactScore = 5
)

// Options configures an Analyzer.
type Options struct {
	// MaxDepth bounds traversal in hops. 0 means unlimited.
	MaxDepth int
	// DampenAfter downgrades an inherited Breaking severity to Additive for
	// nodes more than this many hops away. 0 disables dampening.
	DampenAfter int
}

// Result is the outcome of one impact analysis.
type Result struct {
	Entries []domain.ImpactEntry
	Summary domain.ImpactSummary
	// Cycles lists edges that pointed back onto the path being explored.
	// They are reported, never re-traversed.
	Cycles []domain.LineageCycle
}

// Analyzer computes downstream impact by breadth-first traversal.
type Analyzer struct {
	opts   Options
	logger *slog.Logger
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(opts Options, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Analyzer{opts: opts, logger: logger}
}

// Analyze walks downstream of origin and returns every reachable node exactly
// once, ordered by distance and then by discovery order. maxDepth > 0
// overrides the configured cap for this call. An Informational severity
// short-circuits to an empty result without touching the provider.
//
// Provider failures are returned as *domain.LineageUnavailableError; context
// cancellation is returned as is.
func (a *Analyzer) Analyze(ctx context.Context, provider domain.LineageProvider, origin string, sev domain.Severity, maxDepth int) (*Result, error) {
	if !sev.Propagates() {
		return &Result{Summary: Summarize(nil)}, nil
	}
	if maxDepth <= 0 {
		maxDepth = a.opts.MaxDepth
	}

	type node struct {
		id       string
		path     []string
		distance int
	}

	var (
		entries []domain.ImpactEntry
		cycles  []domain.LineageCycle
	)
	visited := map[string]bool{origin: true}
	queue := []node{{id: origin, path: []string{origin}}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := queue[0]
		queue = queue[1:]

		if maxDepth > 0 && cur.distance >= maxDepth {
			continue
		}

		edges, err := provider.GetDownstreamEdges(ctx, cur.id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &domain.LineageUnavailableError{DatasetID: cur.id, Err: err}
		}

		for _, e := range edges {
			next := e.DownstreamID
			if next == "" {
				continue
			}
			if visited[next] {
				if slices.Contains(cur.path, next) {
					cycles = append(cycles, domain.LineageCycle{From: cur.id, To: next})
				}
				continue
			}
			visited[next] = true

			kind := e.DownstreamKind
			if kind == "" {
				kind = domain.NodeDataset
			}
			path := append(slices.Clone(cur.path), next)
			distance := cur.distance + 1

			entries = append(entries, domain.ImpactEntry{
				AffectedDatasetID: next,
				Kind:              kind,
				Distance:          distance,
				Path:              path,
				EdgeType:          e.EdgeType,
				InheritedSeverity: a.inherit(sev, distance),
			})
			queue = append(queue, node{id: next, path: path, distance: distance})
		}
	}

	if len(cycles) > 0 {
		a.logger.Warn("lineage cycle detected", "origin", origin, "cycles", len(cycles))
	}

	return &Result{Entries: entries, Summary: Summarize(entries), Cycles: cycles}, nil
}

// inherit applies the dampening policy. It never raises severity.
func (a *Analyzer) inherit(sev domain.Severity, distance int) domain.Severity {
	if a.opts.DampenAfter > 0 && distance > a.opts.DampenAfter && sev == domain.SeverityBreaking {
		return domain.SeverityAdditive
	}
	return sev
}

// Summarize aggregates impact entries into counts, a score and a level.
// Direct dependants weigh more than indirect ones, and datasets more than
// jobs.
func Summarize(entries []domain.ImpactEntry) domain.ImpactSummary {
	s := domain.ImpactSummary{Total: len(entries)}
	for _, e := range entries {
		if e.Kind == domain.NodeJob {
			s.Jobs++
		} else {
			s.Datasets++
		}
		if e.Distance > s.MaxDistance {
			s.MaxDistance = e.Distance
		}
		switch {
		case e.Distance > 1:
			s.Score += indirectWeight
		case e.Kind == domain.NodeJob:
			s.Score += directJobWeight
		default:
			s.Score += directDatasetWeight
		}
	}
	switch {
	case s.Score >= highImpactScore:
		s.Level = domain.ImpactHigh
	case s.Score >= mediumImpactScore:
		s.Level = domain.ImpactMedium
	default:
		s.Level = domain.ImpactLow
	}
	return s
}
