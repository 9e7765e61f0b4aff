package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"schemaevo/internal/domain"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveEvaluation(OutcomeCommitted, domain.SeverityBreaking, 20*time.Millisecond)
	m.ObserveEvaluation(OutcomeCommitted, domain.SeverityBreaking, 5*time.Millisecond)
	m.ObserveEvaluation(OutcomeNoOp, domain.SeverityInformational, time.Millisecond)
	m.ObserveImpact(3, 2)
	m.ImpactDegraded()
	m.BatchFailure("malformed")
	m.ScheduledCheck("orders", "changed")

	assert.InDelta(t, 2, promtest.ToFloat64(m.evaluations.WithLabelValues(OutcomeCommitted, "BREAKING")), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(m.evaluations.WithLabelValues(OutcomeNoOp, "INFORMATIONAL")), 0)
	assert.InDelta(t, 2, promtest.ToFloat64(m.lineageCycles), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(m.impactDegraded), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(m.batchFailures.WithLabelValues("malformed")), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(m.scheduledChecks.WithLabelValues("orders", "changed")), 0)

	n, err := promtest.GatherAndCount(reg, "schemaevo_evaluation_duration_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetrics_NilIsNoOp(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveEvaluation(OutcomeFailed, domain.SeverityAdditive, time.Second)
		m.ObserveImpact(1, 1)
		m.ImpactDegraded()
		m.BatchFailure("x")
		m.ScheduledCheck("j", "ok")
	})
}
