package evolution

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"schemaevo/internal/domain"
	"schemaevo/internal/lineage"
)

// BatchItem is one dataset evaluation requested as part of a batch.
type BatchItem struct {
	DatasetID string
	Schema    domain.Schema
	Force     bool
}

// BatchResult is the outcome of one batch item. Exactly one of Result and Err
// is set.
type BatchResult struct {
	DatasetID string            `json:"datasetId"`
	Result    *EvaluationResult `json:"result,omitempty"`
	Err       error             `json:"-"`
	ErrorKind string            `json:"errorKind,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// BatchReport collects the results of a batch run in completion order.
type BatchReport struct {
	Results []BatchResult `json:"results"`
	// Skipped lists datasets that were never started because the run was
	// cancelled.
	Skipped []string `json:"skipped,omitempty"`
}

// SortByDataset orders results and skipped ids by dataset id.
func (r *BatchReport) SortByDataset() {
	sort.SliceStable(r.Results, func(i, j int) bool {
		return r.Results[i].DatasetID < r.Results[j].DatasetID
	})
	sort.Strings(r.Skipped)
}

// Failed returns the number of failed items.
func (r *BatchReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

func failure(datasetID string, err error) BatchResult {
	return BatchResult{DatasetID: datasetID, Err: err, ErrorKind: ErrorKind(err), Error: err.Error()}
}

// EvaluateBatch evaluates items concurrently on a bounded worker pool. A
// failing item is reported and never stops the others. All items share one
// lineage view for the whole run. onResult, when non-nil, is called as each
// item completes; calls are serialized.
//
// Cancelling ctx stops scheduling: items not yet started are listed in
// Skipped and ctx.Err() is returned alongside the partial report. Items
// already running finish under their own evaluation deadline.
func (s *Service) EvaluateBatch(ctx context.Context, items []BatchItem, onResult func(BatchResult)) (*BatchReport, error) {
	graph := lineage.NewGraph(s.lineage)

	var limiter *rate.Limiter
	if s.cfg.BatchRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.BatchRateLimit), 1)
	}

	report := &BatchReport{Results: make([]BatchResult, 0, len(items))}
	var mu sync.Mutex
	record := func(r BatchResult) {
		mu.Lock()
		defer mu.Unlock()
		report.Results = append(report.Results, r)
		if onResult != nil {
			onResult(r)
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.BatchWorkers)

	seen := make(map[string]bool, len(items))
	for i, item := range items {
		if ctx.Err() == nil && limiter != nil {
			_ = limiter.Wait(ctx)
		}
		if ctx.Err() != nil {
			for _, rest := range items[i:] {
				report.Skipped = append(report.Skipped, rest.DatasetID)
			}
			break
		}

		if seen[item.DatasetID] {
			err := domain.ErrValidation("dataset %q appears more than once in the batch", item.DatasetID)
			s.metrics.BatchFailure(ErrorKind(err))
			record(failure(item.DatasetID, err))
			continue
		}
		seen[item.DatasetID] = true

		g.Go(func() error {
			res, err := s.evaluate(context.WithoutCancel(ctx), item.DatasetID, item.Schema,
				EvaluateOptions{Force: item.Force}, graph)
			if err != nil {
				kind := ErrorKind(err)
				s.metrics.BatchFailure(kind)
				s.logger.Warn("batch evaluation failed", "dataset", item.DatasetID, "kind", kind, "error", err)
				record(failure(item.DatasetID, err))
				return nil
			}
			record(BatchResult{DatasetID: item.DatasetID, Result: res})
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("batch evaluation finished",
		"items", len(items),
		"failed", report.Failed(),
		"skipped", len(report.Skipped),
		"lineage_nodes", graph.Loaded(),
	)
	return report, ctx.Err()
}
