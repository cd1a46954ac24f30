package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/grachmannico95/palette-cheque/internal/domain"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ChequeTransition("", domain.ChequeStatusIssued)
	m.ChequeTransition(domain.ChequeStatusIssued, domain.ChequeStatusDeposited)
	m.ChequeTransition(domain.ChequeStatusIssued, domain.ChequeStatusDeposited)
	m.LedgerAdjusted(domain.PalletTypeEuroEpal)
	m.DisputeEscalated(domain.AuditActorSystem)
	m.DisputeEscalated("company-a")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.chequeTransitions.WithLabelValues("NONE", "ISSUED")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.chequeTransitions.WithLabelValues("ISSUED", "DEPOSITED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerAdjustments.WithLabelValues("EURO_EPAL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.disputesEscalated.WithLabelValues("system")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.disputesEscalated.WithLabelValues("user")))
}

func TestMetrics_Histogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.MatchingCandidates(3)
	m.MatchingCandidates(0)

	assert.Equal(t, 1, testutil.CollectAndCount(m.matchingCandidates))
	families, err := reg.Gather()
	assert.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "palette_matching_candidates" {
			assert.Equal(t, uint64(2), f.GetMetric()[0].GetHistogram().GetSampleCount())
		}
	}
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ChequeTransition(domain.ChequeStatusIssued, domain.ChequeStatusCancelled)
		m.LedgerAdjusted(domain.PalletTypePerdue)
		m.DisputeEscalated("x")
		m.MatchingCandidates(1)
	})
}
