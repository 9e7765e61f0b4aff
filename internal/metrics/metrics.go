// Package metrics exposes Prometheus instruments for schema evaluations and
// impact analysis.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"schemaevo/internal/domain"
)

const namespace = "schemaevo"

// Evaluation outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeNoOp      = "noop"
	OutcomeRejected  = "rejected"
	OutcomeBusy      = "busy"
	OutcomeFailed    = "failed"
)

// Metrics holds the engine's instruments. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	evaluations     *prometheus.CounterVec
	duration        prometheus.Histogram
	impactEntries   prometheus.Histogram
	lineageCycles   prometheus.Counter
	impactDegraded  prometheus.Counter
	batchFailures   *prometheus.CounterVec
	scheduledChecks *prometheus.CounterVec
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Schema evaluations by outcome and overall severity.",
		}, []string{"outcome", "severity"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Wall time of one schema evaluation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		impactEntries: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "impact_entries",
			Help:      "Downstream nodes reached per impact analysis.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}),
		lineageCycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lineage_cycles_total",
			Help:      "Lineage edges skipped because they closed a cycle.",
		}),
		impactDegraded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "impact_degraded_total",
			Help:      "Evaluations that returned without impact because lineage was unavailable.",
		}),
		batchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_failures_total",
			Help:      "Per-dataset failures inside batch runs, by error kind.",
		}, []string{"kind"}),
		scheduledChecks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_checks_total",
			Help:      "Scheduled drift checks by job and result.",
		}, []string{"job", "result"}),
	}
}

// ObserveEvaluation records one finished evaluation.
func (m *Metrics) ObserveEvaluation(outcome string, sev domain.Severity, took time.Duration) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(outcome, sev.String()).Inc()
	m.duration.Observe(took.Seconds())
}

// ObserveImpact records the size of one impact analysis and its cycles.
func (m *Metrics) ObserveImpact(entries, cycles int) {
	if m == nil {
		return
	}
	m.impactEntries.Observe(float64(entries))
	m.lineageCycles.Add(float64(cycles))
}

// ImpactDegraded counts an evaluation that ran without lineage.
func (m *Metrics) ImpactDegraded() {
	if m == nil {
		return
	}
	m.impactDegraded.Inc()
}

// BatchFailure counts one failed item of a batch.
func (m *Metrics) BatchFailure(kind string) {
	if m == nil {
		return
	}
	m.batchFailures.WithLabelValues(kind).Inc()
}

// ScheduledCheck counts one run of a scheduled job.
func (m *Metrics) ScheduledCheck(job, result string) {
	if m == nil {
		return
	}
	m.scheduledChecks.WithLabelValues(job, result).Inc()
}
